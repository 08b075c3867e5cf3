package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskStockCountFollowUp delivers the approval follow-up to a finance manager.
	TaskStockCountFollowUp = "stockcount:followup"
	// TaskStockCountFollowUpSweep re-enqueues follow-ups that were never delivered.
	TaskStockCountFollowUpSweep = "stockcount:followup_sweep"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// FollowUpPayload describes one scheduled follow-up activity.
type FollowUpPayload struct {
	ActivityID int64     `json:"activity_id"`
	SessionID  int64     `json:"session_id"`
	UserID     int64     `json:"user_id"`
	Summary    string    `json:"summary"`
	Note       string    `json:"note"`
	DueAt      time.Time `json:"due_at"`
}

// NewFollowUpTask constructs the follow-up task. The task id is derived from the
// activity so an activity is enqueued at most once.
func NewFollowUpTask(payload FollowUpPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockCountFollowUp, data,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(5),
		asynq.TaskID(fmt.Sprintf("stockcount-followup-%d", payload.ActivityID)),
	), nil
}

// FollowUpSweepPayload bounds one sweep run. Activities younger than Grace are
// left to their original task.
type FollowUpSweepPayload struct {
	Grace time.Duration `json:"grace"`
	Limit int           `json:"limit"`
}

// NewFollowUpSweepTask constructs the sweep task.
func NewFollowUpSweepTask(grace time.Duration, limit int) (*asynq.Task, error) {
	data, err := json.Marshal(FollowUpSweepPayload{Grace: grace, Limit: limit})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockCountFollowUpSweep, data, asynq.Queue(QueueDefault)), nil
}

// IdempotencyCleanupPayload carries the retention window.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data, asynq.Queue(QueueDefault)), nil
}
