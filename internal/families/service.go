package families

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/cesta-solidaria/cesta/internal/platform/httpx"
	"github.com/cesta-solidaria/cesta/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id uuid.UUID) (Family, error)
	List(ctx context.Context, filter ListFilter) ([]Family, error)
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	Insert(ctx context.Context, f Family) error
	GetForUpdate(ctx context.Context, id uuid.UUID) (Family, error)
	UpdateState(ctx context.Context, f Family) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service manages family registration and approval.
type Service struct {
	repo      RepositoryPort
	audit     AuditPort
	logger    *slog.Logger
	validator *validator.Validate
	now       func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, validator: NewValidator(), now: time.Now}
}

// Register validates and stores a new family as PENDING and active.
func (s *Service) Register(ctx context.Context, input RegisterInput) (Family, error) {
	if err := httpx.Validate(s.validator, input); err != nil {
		return Family{}, err
	}
	now := s.now().UTC()
	f := Family{
		ID:              uuid.New(),
		Name:            strings.TrimSpace(input.Name),
		ResponsibleName: strings.TrimSpace(input.ResponsibleName),
		CPF:             Digits(input.CPF),
		Phone:           Digits(input.Phone),
		Members:         input.Members,
		Address: Address{
			CEP:          Digits(input.CEP),
			Street:       strings.TrimSpace(input.Street),
			Number:       strings.TrimSpace(input.Number),
			Complement:   strings.TrimSpace(input.Complement),
			Neighborhood: strings.TrimSpace(input.Neighborhood),
			City:         strings.TrimSpace(input.City),
			State:        strings.ToUpper(strings.TrimSpace(input.State)),
		},
		Status:    StatusPending,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.Insert(ctx, f)
	})
	if err != nil {
		return Family{}, err
	}
	s.record(ctx, "families:register", f.ID, map[string]any{"members": f.Members})
	return f, nil
}

// SetStatus moves a family to status; unknown values normalise to PENDING.
func (s *Service) SetStatus(ctx context.Context, id uuid.UUID, raw string) (Family, error) {
	status := NormalizeStatus(raw)
	actorID := shared.ActorID(ctx)
	var f Family
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		f, err = tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		f.ApplyStatus(status, actorID, s.now().UTC())
		return tx.UpdateState(ctx, f)
	})
	if err != nil {
		return Family{}, err
	}
	s.record(ctx, "families:status", id, map[string]any{"status": string(status)})
	return f, nil
}

// SetActive toggles the active flag.
func (s *Service) SetActive(ctx context.Context, id uuid.UUID, active bool) (Family, error) {
	var f Family
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		f, err = tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		f.Active = active
		f.UpdatedAt = s.now().UTC()
		return tx.UpdateState(ctx, f)
	})
	if err != nil {
		return Family{}, err
	}
	s.record(ctx, "families:active", id, map[string]any{"active": active})
	return f, nil
}

// Get loads a family.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Family, error) {
	return s.repo.Get(ctx, id)
}

// List returns families, optionally filtered by status.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Family, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, filter.Status)
	}
	return s.repo.List(ctx, filter)
}

func (s *Service) record(ctx context.Context, action string, id uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  shared.ActorID(ctx),
		Action:   action,
		Entity:   "family",
		EntityID: id.String(),
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("record audit", slog.String("action", action), slog.Any("error", err))
	}
}
