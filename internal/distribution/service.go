package distribution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cesta-solidaria/cesta/internal/families"
	"github.com/cesta-solidaria/cesta/internal/ready"
	"github.com/cesta-solidaria/cesta/internal/shared"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetFamily(ctx context.Context, id uuid.UUID) (families.Family, error)
	ReadyCount(ctx context.Context) (int64, error)
	LatestActiveSince(ctx context.Context, familyID uuid.UUID, since time.Time) (*Delivery, error)
	ActiveSince(ctx context.Context, since time.Time) ([]Delivery, error)
	History(ctx context.Context, familyID uuid.UUID, limit int) ([]Delivery, error)
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	LockFamily(ctx context.Context, id uuid.UUID) (families.Family, error)
	LatestActiveSince(ctx context.Context, familyID uuid.UUID, since time.Time) (*Delivery, error)
	InsertDelivery(ctx context.Context, d Delivery) error
	LockDelivery(ctx context.Context, id uuid.UUID) (Delivery, error)
	MarkReversed(ctx context.Context, d Delivery) error
	LockReady(ctx context.Context) (ready.Counter, error)
	SaveReady(ctx context.Context, counter ready.Counter) (ready.Counter, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Invalidator drops display snapshots that include the ready counter.
type Invalidator interface {
	Bump(ctx context.Context) error
}

// Recorder receives distribution metrics.
type Recorder interface {
	Delivered()
	DeliveryRejected(reason string)
	Reversed()
	ReadySet(qty int64)
}

// Service implements the delivery gate and the reversal engine.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	calendar    Calendar
	metrics     Recorder
	invalidator Invalidator
	logger      *slog.Logger
	now         func() time.Time
}

// NewService builds Service. audit, metrics and invalidator are optional.
func NewService(repo RepositoryPort, audit AuditPort, calendar Calendar, metrics Recorder, invalidator Invalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		audit:       audit,
		calendar:    calendar,
		metrics:     metrics,
		invalidator: invalidator,
		logger:      logger,
		now:         time.Now,
	}
}

// CheckEligibility evaluates the gate outside a transaction for display.
// It must not be used to decide a delivery; Deliver re-checks under locks.
func (s *Service) CheckEligibility(ctx context.Context, familyID uuid.UUID) (Eligibility, error) {
	f, err := s.repo.GetFamily(ctx, familyID)
	if err != nil {
		return Eligibility{}, err
	}
	readyQty, err := s.repo.ReadyCount(ctx)
	if err != nil {
		return Eligibility{}, err
	}
	current, err := s.repo.LatestActiveSince(ctx, familyID, s.calendar.MonthStart(s.now()))
	if err != nil {
		return Eligibility{}, err
	}
	result := Eligibility{FamilyID: familyID, Ready: readyQty, Current: current, Eligible: true}
	if err := Check(f, readyQty, current); err != nil {
		result.Eligible = false
		result.Reason = RejectionCode(err)
		result.Message = err.Error()
	}
	return result, nil
}

// Deliver hands one basket to a family. The eligibility checks and the mutation run in one
// transaction holding the family row and the ready counter.
func (s *Service) Deliver(ctx context.Context, familyID uuid.UUID, note string) (Delivery, error) {
	now := s.now()
	d := Delivery{
		ID:          uuid.New(),
		FamilyID:    familyID,
		DeliveredAt: now.UTC(),
		Month:       s.calendar.MonthKey(now),
		Note:        strings.TrimSpace(note),
		ActorID:     shared.ActorID(ctx),
	}
	monthStart := s.calendar.MonthStart(now)

	var readyQty int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		f, err := tx.LockFamily(ctx, familyID)
		if err != nil {
			return err
		}
		if err := Check(f, 1, nil); err != nil {
			return err
		}
		counter, err := tx.LockReady(ctx)
		if err != nil {
			return err
		}
		current, err := tx.LatestActiveSince(ctx, familyID, monthStart)
		if err != nil {
			return err
		}
		if err := Check(f, counter.Qty, current); err != nil {
			return err
		}
		if err := tx.InsertDelivery(ctx, d); err != nil {
			return err
		}
		if counter, err = counter.Take(); err != nil {
			return err
		}
		if counter, err = tx.SaveReady(ctx, counter); err != nil {
			return err
		}
		readyQty = counter.Qty
		return nil
	})
	if err != nil {
		s.rejected(err, "deliver", slog.String("family_id", familyID.String()))
		return Delivery{}, err
	}
	if s.metrics != nil {
		s.metrics.Delivered()
		s.metrics.ReadySet(readyQty)
	}
	s.afterCommit(ctx, "distribution:deliver", d.ID, map[string]any{
		"family_id": familyID.String(),
		"ready":     readyQty,
		"note":      d.Note,
	})
	return d, nil
}

// Reverse cancels an active delivery and returns its basket to the ready pool. Raw supplies
// consumed by assembly are not restored.
func (s *Service) Reverse(ctx context.Context, deliveryID uuid.UUID, note string) (Delivery, error) {
	actorID := shared.ActorID(ctx)
	trimmed := strings.TrimSpace(note)

	var (
		d        Delivery
		readyQty int64
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		d, err = tx.LockDelivery(ctx, deliveryID)
		if err != nil {
			return err
		}
		if !d.IsActive() {
			return fmt.Errorf("%w: reversed at %s", ErrDeliveryAlreadyReversed, d.ReversedAt.Format(time.RFC3339))
		}
		reversedAt := s.now().UTC()
		d.ReversedAt = &reversedAt
		d.ReversedNote = &trimmed
		d.ReversedBy = &actorID
		if err := tx.MarkReversed(ctx, d); err != nil {
			return err
		}
		counter, err := tx.LockReady(ctx)
		if err != nil {
			return err
		}
		if counter, err = counter.Add(1); err != nil {
			return err
		}
		if counter, err = tx.SaveReady(ctx, counter); err != nil {
			return err
		}
		readyQty = counter.Qty
		return nil
	})
	if err != nil {
		s.rejected(err, "reverse", slog.String("delivery_id", deliveryID.String()))
		return Delivery{}, err
	}
	if s.metrics != nil {
		s.metrics.Reversed()
		s.metrics.ReadySet(readyQty)
	}
	s.afterCommit(ctx, "distribution:reverse", d.ID, map[string]any{
		"family_id": d.FamilyID.String(),
		"ready":     readyQty,
		"note":      trimmed,
	})
	return d, nil
}

// CurrentDeliveriesForMonth maps each family to its latest active delivery of the current month.
func (s *Service) CurrentDeliveriesForMonth(ctx context.Context) (map[uuid.UUID]Delivery, error) {
	deliveries, err := s.repo.ActiveSince(ctx, s.calendar.MonthStart(s.now()))
	if err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]Delivery, len(deliveries))
	for _, d := range deliveries {
		if !d.IsActive() {
			continue
		}
		if prev, ok := out[d.FamilyID]; ok && prev.DeliveredAt.After(d.DeliveredAt) {
			continue
		}
		out[d.FamilyID] = d
	}
	return out, nil
}

// MonthStart returns the start of the current calendar month.
func (s *Service) MonthStart() time.Time {
	return s.calendar.MonthStart(s.now())
}

// FamilyHistory lists a family's deliveries newest first, reversed ones included.
func (s *Service) FamilyHistory(ctx context.Context, familyID uuid.UUID, limit int) ([]Delivery, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return s.repo.History(ctx, familyID, limit)
}

func (s *Service) rejected(err error, op string, attrs ...any) {
	reason := RejectionCode(err)
	if reason == "" {
		s.logger.Error(op+" failed", append(attrs, slog.Any("error", err))...)
		return
	}
	if s.metrics != nil {
		s.metrics.DeliveryRejected(strings.ToLower(reason))
	}
	s.logger.Info(op+" rejected", append(attrs, slog.String("reason", reason))...)
}

func (s *Service) afterCommit(ctx context.Context, action string, id uuid.UUID, meta map[string]any) {
	if s.invalidator != nil {
		if err := s.invalidator.Bump(ctx); err != nil {
			s.logger.Warn("bump stock snapshot", slog.Any("error", err))
		}
	}
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  shared.ActorID(ctx),
		Action:   action,
		Entity:   "delivery",
		EntityID: id.String(),
		Meta:     meta,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("record audit", slog.String("action", action), slog.Any("error", err))
	}
}
