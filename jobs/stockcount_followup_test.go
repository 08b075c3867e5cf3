package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/stockcount/internal/jobs"
	"github.com/odyssey-erp/stockcount/internal/stockcount"
)

type fakeMarker struct {
	marked map[int64]time.Time
	err    error
}

func (m *fakeMarker) MarkActivityNotified(_ context.Context, id int64, at time.Time) error {
	if m.err != nil {
		return m.err
	}
	if _, ok := m.marked[id]; ok {
		return stockcount.ErrActivityHandled
	}
	m.marked[id] = at
	return nil
}

type fakeInbox struct {
	delivered []Notification
	err       error
}

func (i *fakeInbox) Deliver(_ context.Context, n Notification) error {
	if i.err != nil {
		return i.err
	}
	i.delivered = append(i.delivered, n)
	return nil
}

type recordingExecer struct {
	sql  string
	args []any
}

func (r *recordingExecer) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	r.sql = sql
	r.args = args
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

var followUpNow = time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)

func newTestFollowUpJob(marker *fakeMarker, inbox *fakeInbox) *FollowUpJob {
	job := NewFollowUpJob(marker, inbox, slog.New(slog.NewTextHandler(io.Discard, nil)), jobmetrics.NewMetrics(prometheus.NewRegistry()))
	job.clock = func() time.Time { return followUpNow }
	return job
}

func followUpTask(t *testing.T, payload FollowUpPayload) *asynq.Task {
	t.Helper()
	task, err := NewFollowUpTask(payload)
	require.NoError(t, err)
	return task
}

func TestNewFollowUpTask(t *testing.T) {
	task := followUpTask(t, FollowUpPayload{ActivityID: 42, UserID: 7, Summary: "Approve Inventory Count"})
	require.Equal(t, TaskStockCountFollowUp, task.Type())

	var payload FollowUpPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, int64(42), payload.ActivityID)
}

func TestFollowUpJobDeliversOnce(t *testing.T) {
	marker := &fakeMarker{marked: map[int64]time.Time{}}
	inbox := &fakeInbox{}
	job := newTestFollowUpJob(marker, inbox)

	task := followUpTask(t, FollowUpPayload{
		ActivityID: 3,
		SessionID:  11,
		UserID:     7,
		Summary:    "Approve Inventory Count",
		Note:       "Inventory Count Count-20240305 needs approval.",
		DueAt:      followUpNow.Add(72 * time.Hour),
	})
	require.NoError(t, job.Handle(context.Background(), task))
	require.Len(t, inbox.delivered, 1)
	n := inbox.delivered[0]
	require.Equal(t, int64(7), n.UserID)
	require.Equal(t, "Approve Inventory Count", n.Subject)
	require.Equal(t, "Inventory Count Count-20240305 needs approval.\nDue Fri 8 Mar 2024 12:00 UTC (in 72 hours).", n.Body)
	require.Equal(t, followUpNow, marker.marked[3])

	require.NoError(t, job.Handle(context.Background(), task), "redelivery is acknowledged")
}

func TestFollowUpJobFailures(t *testing.T) {
	job := newTestFollowUpJob(&fakeMarker{marked: map[int64]time.Time{}}, &fakeInbox{})
	err := job.Handle(context.Background(), asynq.NewTask(TaskStockCountFollowUp, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = job.Handle(context.Background(), followUpTask(t, FollowUpPayload{ActivityID: 1}))
	require.ErrorIs(t, err, asynq.SkipRetry)

	boom := errors.New("connection refused")
	job = newTestFollowUpJob(&fakeMarker{marked: map[int64]time.Time{}}, &fakeInbox{err: boom})
	err = job.Handle(context.Background(), followUpTask(t, FollowUpPayload{ActivityID: 1, UserID: 7}))
	require.ErrorIs(t, err, boom)

	marker := &fakeMarker{err: boom}
	job = newTestFollowUpJob(marker, &fakeInbox{})
	err = job.Handle(context.Background(), followUpTask(t, FollowUpPayload{ActivityID: 1, UserID: 7}))
	require.ErrorIs(t, err, boom)
}

func TestFormatBodyOverdue(t *testing.T) {
	job := newTestFollowUpJob(nil, nil)
	body := job.FormatBody(FollowUpPayload{Note: "Check it.", DueAt: followUpNow.Add(-time.Hour)}, followUpNow)
	require.Equal(t, "Check it.\nOverdue since Tue 5 Mar 2024 11:00 UTC.", body)

	body = job.FormatBody(FollowUpPayload{Note: "Check it.", DueAt: followUpNow.Add(1500 * time.Hour)}, followUpNow)
	require.Contains(t, body, "(in 1,500 hours)")
}

func TestNotificationInboxIsIdempotent(t *testing.T) {
	exec := &recordingExecer{}
	inbox := NewNotificationInbox(exec)
	err := inbox.Deliver(context.Background(), Notification{ActivityID: 3, UserID: 7, Subject: "s", Body: "b", CreatedAt: followUpNow})
	require.NoError(t, err)
	require.Contains(t, exec.sql, "ON CONFLICT (activity_id) DO NOTHING")
	require.Equal(t, []any{int64(3), int64(7), "s", "b", followUpNow}, exec.args)
}

type fakeKeys struct {
	retention time.Duration
}

func (k *fakeKeys) Cleanup(_ context.Context, olderThan time.Duration) error {
	k.retention = olderThan
	return nil
}

func TestIdempotencyCleanupDefaultsRetention(t *testing.T) {
	keys := &fakeKeys{}
	job := &IdempotencyCleanupJob{Keys: keys, Metrics: jobmetrics.NewMetrics(prometheus.NewRegistry())}
	task, err := NewIdempotencyCleanupTask(0)
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, DefaultIdempotencyRetention, keys.retention)
}

type fakeInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (f fakeInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return f.info, f.err
}

func TestQueueHealth(t *testing.T) {
	cases := []struct {
		name      string
		inspector QueueInspector
		code      int
		pending   int
	}{
		{"no inspector", nil, http.StatusOK, 0},
		{"queue info", fakeInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 4}}, http.StatusOK, 4},
		{"redis down", fakeInspector{err: errors.New("dial tcp")}, http.StatusServiceUnavailable, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := chi.NewRouter()
			NewHandler(tc.inspector, slog.New(slog.NewTextHandler(io.Discard, nil))).MountRoutes(r)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			require.Equal(t, tc.code, rec.Code)
			if tc.code != http.StatusOK {
				return
			}
			var body queueHealth
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Equal(t, tc.pending, body.Pending)
		})
	}
}
