package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/cesta-solidaria/cesta/internal/jobs"
	"github.com/cesta-solidaria/cesta/internal/stock"
)

// Reconciler folds the move ledger and reports disagreeing balances.
type Reconciler interface {
	Reconcile(ctx context.Context) ([]stock.Drift, error)
}

// ReconcileResult is written as the task result.
type ReconcileResult struct {
	CheckedAt time.Time     `json:"checked_at"`
	Drifts    []stock.Drift `json:"drifts"`
}

// LedgerReconcileJob runs the read-only ledger audit.
type LedgerReconcileJob struct {
	Reconciler Reconciler
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
	clock      func() time.Time
}

// NewLedgerReconcileJob initialises the reconcile handler.
func NewLedgerReconcileJob(reconciler Reconciler, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerReconcileJob {
	return &LedgerReconcileJob{
		Reconciler: reconciler,
		Logger:     logger,
		Metrics:    metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the reconcile.
func (j *LedgerReconcileJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Reconciler == nil {
		return errors.New("ledger reconcile: handler not configured")
	}
	var payload ReconcilePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	tracker := j.Metrics.Track(TaskLedgerReconcile)
	defer func() {
		err = tracker.End(err)
	}()

	logger := j.logger().With(slog.String("job", TaskLedgerReconcile))
	if payload.RequestedBy != "" {
		logger = logger.With(slog.String("requested_by", payload.RequestedBy))
	}
	start := j.clock()

	drifts, err := j.Reconciler.Reconcile(ctx)
	if err != nil {
		logger.Error("reconcile failed", slog.Any("error", err))
		return err
	}
	j.Metrics.SetDrift(len(drifts))
	if len(drifts) > 0 {
		logger.Warn("ledger drift detected", slog.Int("items", len(drifts)))
	}
	logger.Info("completed ledger reconcile",
		slog.Int("drift_items", len(drifts)),
		slog.Duration("duration", j.clock().Sub(start)))

	if w := t.ResultWriter(); w != nil {
		body, err := json.Marshal(ReconcileResult{CheckedAt: start, Drifts: drifts})
		if err != nil {
			return err
		}
		if _, err := w.Write(body); err != nil {
			logger.Warn("write reconcile result", slog.Any("error", err))
		}
	}
	return nil
}

func (j *LedgerReconcileJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
