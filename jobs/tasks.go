package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerReconcile compares stored balances with the move ledger.
	TaskLedgerReconcile = "ledger:reconcile"
	// TaskIdempotencyCleanup removes expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// ReconcilePayload carries scheduling metadata. Cron runs leave RequestedAt empty.
type ReconcilePayload struct {
	RequestedBy string     `json:"requested_by,omitempty"`
	RequestedAt *time.Time `json:"requested_at,omitempty"`
}

// CleanupPayload overrides the configured retention when positive.
type CleanupPayload struct {
	Retention time.Duration `json:"retention,omitempty"`
}

// NewReconcileTask constructs an Asynq task for the ledger reconcile.
func NewReconcileTask(requestedBy string, at time.Time) (*asynq.Task, error) {
	payload := ReconcilePayload{RequestedBy: requestedBy}
	if !at.IsZero() {
		at = at.UTC()
		payload.RequestedAt = &at
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerReconcile, body, asynq.Queue(QueueDefault), asynq.Retention(24*time.Hour)), nil
}

// NewCleanupTask constructs an Asynq task for idempotency key cleanup.
func NewCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(CleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
