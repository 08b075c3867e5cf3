package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	jobmetrics "github.com/odyssey-erp/stockcount/internal/jobs"
	"github.com/odyssey-erp/stockcount/internal/platform/db"
	"github.com/odyssey-erp/stockcount/internal/stockcount"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// ActivityMarker stamps an activity as delivered. It returns stockcount.ErrActivityHandled
// when the activity was delivered before.
type ActivityMarker interface {
	MarkActivityNotified(ctx context.Context, activityID int64, at time.Time) error
}

// Notification is a message placed in a user's inbox.
type Notification struct {
	ActivityID int64
	UserID     int64
	Subject    string
	Body       string
	CreatedAt  time.Time
}

// Inbox receives notifications. Delivering the same activity twice must be a no-op.
type Inbox interface {
	Deliver(ctx context.Context, n Notification) error
}

// NotificationInbox stores notifications in the user_notifications table.
type NotificationInbox struct {
	exec db.Execer
}

// NewNotificationInbox constructs the inbox.
func NewNotificationInbox(exec db.Execer) *NotificationInbox {
	return &NotificationInbox{exec: exec}
}

// Deliver inserts the notification once per activity.
func (i *NotificationInbox) Deliver(ctx context.Context, n Notification) error {
	_, err := i.exec.Exec(ctx, `INSERT INTO user_notifications (activity_id, user_id, subject, body, created_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (activity_id) DO NOTHING`, n.ActivityID, n.UserID, n.Subject, n.Body, n.CreatedAt)
	return err
}

// FollowUpJob delivers stock count approval follow-ups to the assigned finance manager.
type FollowUpJob struct {
	Activities ActivityMarker
	Inbox      Inbox
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
	printer    *message.Printer
	clock      func() time.Time
}

// NewFollowUpJob wires dependencies for the follow-up handler.
func NewFollowUpJob(activities ActivityMarker, inbox Inbox, logger *slog.Logger, metrics *jobmetrics.Metrics) *FollowUpJob {
	return &FollowUpJob{
		Activities: activities,
		Inbox:      inbox,
		Logger:     logger,
		Metrics:    metrics,
		printer:    message.NewPrinter(language.English),
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes TaskStockCountFollowUp tasks.
func (j *FollowUpJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Activities == nil || j.Inbox == nil {
		return errors.New("stockcount follow-up: handler not configured")
	}
	var payload FollowUpPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.ActivityID <= 0 || payload.UserID <= 0 {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskStockCountFollowUp)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(
		slog.Int64("activity_id", payload.ActivityID),
		slog.Int64("session_id", payload.SessionID),
		slog.Int64("user_id", payload.UserID))

	now := j.clock()
	err := j.Inbox.Deliver(ctx, Notification{
		ActivityID: payload.ActivityID,
		UserID:     payload.UserID,
		Subject:    payload.Summary,
		Body:       j.FormatBody(payload, now),
		CreatedAt:  now,
	})
	if err != nil {
		resultErr = err
		logger.Error("deliver follow-up", slog.Any("error", err))
		return resultErr
	}

	if err := j.Activities.MarkActivityNotified(ctx, payload.ActivityID, now); err != nil {
		if errors.Is(err, stockcount.ErrActivityHandled) {
			j.metrics().AddFollowUp(jobmetrics.OutcomeDuplicate)
			logger.Info("follow-up already delivered")
			return resultErr
		}
		resultErr = err
		logger.Error("mark follow-up delivered", slog.Any("error", err))
		return resultErr
	}
	j.metrics().AddFollowUp(jobmetrics.OutcomeDelivered)
	logger.Info("follow-up delivered")
	return resultErr
}

// FormatBody renders the notification text with the remaining time to the deadline.
func (j *FollowUpJob) FormatBody(payload FollowUpPayload, now time.Time) string {
	p := j.printer
	if p == nil {
		p = message.NewPrinter(language.English)
	}
	due := payload.DueAt.UTC().Format("Mon 2 Jan 2006 15:04 MST")
	hours := int64(math.Ceil(payload.DueAt.Sub(now).Hours()))
	if hours <= 0 {
		return p.Sprintf("%s\nOverdue since %s.", payload.Note, due)
	}
	return p.Sprintf("%s\nDue %s (in %d hours).", payload.Note, due, hours)
}

func (j *FollowUpJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *FollowUpJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

// NotifyFollowUp enqueues the follow-up for the worker. A duplicate enqueue of the
// same activity is not an error.
func (c *Client) NotifyFollowUp(ctx context.Context, a stockcount.Activity) error {
	task, err := NewFollowUpTask(FollowUpPayload{
		ActivityID: a.ID,
		SessionID:  a.SessionID,
		UserID:     a.UserID,
		Summary:    a.Summary,
		Note:       a.Note,
		DueAt:      a.DueAt,
	})
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}
