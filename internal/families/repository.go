package families

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cesta-solidaria/cesta/internal/platform/db"
)

const familyColumns = `id, name, responsible_name, cpf, phone, members, cep, street, number, complement,
neighborhood, city, state, status, active, approved_at, approved_by, created_at, updated_at`

// Repository persists families in PostgreSQL.
type Repository struct {
	pool   *pgxpool.Pool
	runner *db.Runner
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, runner *db.Runner) *Repository {
	return &Repository{pool: pool, runner: runner}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a retried transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.runner.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// Get loads a family without locking it.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Family, error) {
	return scanOne(r.pool.QueryRow(ctx, `SELECT `+familyColumns+` FROM families WHERE id = $1`, id), id)
}

// List returns families newest first.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Family, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT `+familyColumns+` FROM families
WHERE ($1 = '' OR status = $1)
ORDER BY created_at DESC, id
LIMIT $2`, string(filter.Status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Family
	for rows.Next() {
		f, err := scanFamily(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// LockForUpdate reads a family under FOR UPDATE inside tx.
func LockForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (Family, error) {
	return scanOne(tx.QueryRow(ctx, `SELECT `+familyColumns+` FROM families WHERE id = $1 FOR UPDATE`, id), id)
}

func (t *txRepo) Insert(ctx context.Context, f Family) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO families (`+familyColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		f.ID, f.Name, f.ResponsibleName, f.CPF, f.Phone, f.Members,
		f.Address.CEP, f.Address.Street, f.Address.Number, f.Address.Complement,
		f.Address.Neighborhood, f.Address.City, f.Address.State,
		string(f.Status), f.Active, f.ApprovedAt, f.ApprovedBy, f.CreatedAt, f.UpdatedAt)
	if db.IsUniqueViolation(err, "families_cpf_key") {
		return ErrDuplicateCPF
	}
	return err
}

func (t *txRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (Family, error) {
	return LockForUpdate(ctx, t.tx, id)
}

func (t *txRepo) UpdateState(ctx context.Context, f Family) error {
	tag, err := t.tx.Exec(ctx, `UPDATE families
SET status = $2, active = $3, approved_at = $4, approved_by = $5, updated_at = $6
WHERE id = $1`, f.ID, string(f.Status), f.Active, f.ApprovedAt, f.ApprovedBy, f.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrFamilyNotFound, f.ID)
	}
	return nil
}

func scanOne(row pgx.Row, id uuid.UUID) (Family, error) {
	f, err := scanFamily(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Family{}, fmt.Errorf("%w: %s", ErrFamilyNotFound, id)
	}
	return f, err
}

func scanFamily(row pgx.Row) (Family, error) {
	var f Family
	var status string
	err := row.Scan(&f.ID, &f.Name, &f.ResponsibleName, &f.CPF, &f.Phone, &f.Members,
		&f.Address.CEP, &f.Address.Street, &f.Address.Number, &f.Address.Complement,
		&f.Address.Neighborhood, &f.Address.City, &f.Address.State,
		&status, &f.Active, &f.ApprovedAt, &f.ApprovedBy, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return Family{}, err
	}
	f.Status = NormalizeStatus(status)
	return f, nil
}
