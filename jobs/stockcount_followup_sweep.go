package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/stockcount/internal/jobs"
	"github.com/odyssey-erp/stockcount/internal/stockcount"
)

const (
	// DefaultFollowUpSweepGrace leaves fresh activities to the task enqueued at validate.
	DefaultFollowUpSweepGrace = 15 * time.Minute
	// DefaultFollowUpSweepLimit caps the activities re-enqueued per run.
	DefaultFollowUpSweepLimit = 200
)

// PendingActivityLister lists follow-up activities that were never delivered.
type PendingActivityLister interface {
	PendingActivities(ctx context.Context, createdBefore time.Time, limit int) ([]stockcount.Activity, error)
}

// FollowUpSweepJob re-enqueues follow-ups whose delivery task never reached the queue.
type FollowUpSweepJob struct {
	Activities PendingActivityLister
	Notifier   stockcount.FollowUpNotifier
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics

	clock func() time.Time
}

// Handle processes TaskStockCountFollowUpSweep tasks.
func (j *FollowUpSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Activities == nil || j.Notifier == nil {
		return errors.New("followup sweep: handler not configured")
	}
	var payload FollowUpSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.Grace <= 0 {
		payload.Grace = DefaultFollowUpSweepGrace
	}
	if payload.Limit <= 0 {
		payload.Limit = DefaultFollowUpSweepLimit
	}
	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracker := metrics.Track(TaskStockCountFollowUpSweep)

	now := time.Now()
	if j.clock != nil {
		now = j.clock()
	}
	pending, err := j.Activities.PendingActivities(ctx, now.Add(-payload.Grace), payload.Limit)
	if err != nil {
		return tracker.End(fmt.Errorf("followup sweep: list pending: %w", err))
	}

	var errs []error
	requeued := 0
	for _, a := range pending {
		if err := j.Notifier.NotifyFollowUp(ctx, a); err != nil {
			logger.Warn("followup sweep enqueue", slog.Int64("activity_id", a.ID), slog.Any("error", err))
			errs = append(errs, fmt.Errorf("activity %d: %w", a.ID, err))
			continue
		}
		requeued++
		metrics.AddFollowUp(jobmetrics.OutcomeRequeued)
	}
	if len(pending) > 0 {
		logger.Info("followup sweep", slog.Int("pending", len(pending)), slog.Int("requeued", requeued))
	}
	return tracker.End(errors.Join(errs...))
}
