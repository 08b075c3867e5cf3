package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/stockcount/internal/jobs"
	"github.com/odyssey-erp/stockcount/internal/stockcount"
)

type fakePendingLister struct {
	pending []stockcount.Activity
	before  time.Time
	limit   int
	err     error
}

func (l *fakePendingLister) PendingActivities(_ context.Context, createdBefore time.Time, limit int) ([]stockcount.Activity, error) {
	l.before = createdBefore
	l.limit = limit
	if l.err != nil {
		return nil, l.err
	}
	return l.pending, nil
}

type fakeFollowUpQueue struct {
	enqueued []int64
	failFor  map[int64]error
}

func (q *fakeFollowUpQueue) NotifyFollowUp(_ context.Context, a stockcount.Activity) error {
	if err := q.failFor[a.ID]; err != nil {
		return err
	}
	q.enqueued = append(q.enqueued, a.ID)
	return nil
}

func newTestSweepJob(lister *fakePendingLister, queue *fakeFollowUpQueue) *FollowUpSweepJob {
	return &FollowUpSweepJob{
		Activities: lister,
		Notifier:   queue,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:    jobmetrics.NewMetrics(prometheus.NewRegistry()),
		clock:      func() time.Time { return followUpNow },
	}
}

func TestNewFollowUpSweepTask(t *testing.T) {
	task, err := NewFollowUpSweepTask(time.Hour, 50)
	require.NoError(t, err)
	require.Equal(t, TaskStockCountFollowUpSweep, task.Type())

	var payload FollowUpSweepPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, time.Hour, payload.Grace)
	require.Equal(t, 50, payload.Limit)
}

func TestFollowUpSweepRequeuesUndelivered(t *testing.T) {
	lister := &fakePendingLister{pending: []stockcount.Activity{
		{ID: 3, SessionID: 1, UserID: 7, Summary: "Approve Inventory Count"},
		{ID: 5, SessionID: 2, UserID: 8, Summary: "Approve Inventory Count"},
	}}
	queue := &fakeFollowUpQueue{}
	task, err := NewFollowUpSweepTask(0, 0)
	require.NoError(t, err)

	require.NoError(t, newTestSweepJob(lister, queue).Handle(context.Background(), task))
	require.Equal(t, []int64{3, 5}, queue.enqueued)
	require.Equal(t, followUpNow.Add(-DefaultFollowUpSweepGrace), lister.before)
	require.Equal(t, DefaultFollowUpSweepLimit, lister.limit)
}

func TestFollowUpSweepHonoursPayloadBounds(t *testing.T) {
	lister := &fakePendingLister{}
	queue := &fakeFollowUpQueue{}
	task, err := NewFollowUpSweepTask(time.Hour, 10)
	require.NoError(t, err)

	require.NoError(t, newTestSweepJob(lister, queue).Handle(context.Background(), task))
	require.Equal(t, followUpNow.Add(-time.Hour), lister.before)
	require.Equal(t, 10, lister.limit)
	require.Empty(t, queue.enqueued)
}

func TestFollowUpSweepContinuesPastEnqueueFailure(t *testing.T) {
	boom := errors.New("redis down")
	lister := &fakePendingLister{pending: []stockcount.Activity{{ID: 1}, {ID: 2}, {ID: 3}}}
	queue := &fakeFollowUpQueue{failFor: map[int64]error{2: boom}}
	task, err := NewFollowUpSweepTask(0, 0)
	require.NoError(t, err)

	err = newTestSweepJob(lister, queue).Handle(context.Background(), task)
	require.ErrorIs(t, err, boom)
	require.ErrorContains(t, err, "activity 2")
	require.Equal(t, []int64{1, 3}, queue.enqueued)
}

func TestFollowUpSweepListFailure(t *testing.T) {
	boom := errors.New("db down")
	lister := &fakePendingLister{err: boom}
	queue := &fakeFollowUpQueue{}
	task, err := NewFollowUpSweepTask(0, 0)
	require.NoError(t, err)

	err = newTestSweepJob(lister, queue).Handle(context.Background(), task)
	require.ErrorIs(t, err, boom)
	require.Empty(t, queue.enqueued)
}

func TestFollowUpSweepRejectsMalformedPayload(t *testing.T) {
	job := newTestSweepJob(&fakePendingLister{}, &fakeFollowUpQueue{})
	err := job.Handle(context.Background(), asynq.NewTask(TaskStockCountFollowUpSweep, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestFollowUpSweepRequiresDependencies(t *testing.T) {
	task, err := NewFollowUpSweepTask(0, 0)
	require.NoError(t, err)
	require.Error(t, (&FollowUpSweepJob{}).Handle(context.Background(), task))
}
