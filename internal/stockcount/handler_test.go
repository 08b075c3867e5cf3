package stockcount

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockcount/internal/platform/httpx"
	"github.com/odyssey-erp/stockcount/internal/rbac"
	"github.com/odyssey-erp/stockcount/internal/shared"
	_ "github.com/odyssey-erp/stockcount/testing"
)

type staticPermissions map[int64][]string

func (p staticPermissions) EffectivePermissions(_ context.Context, userID int64) ([]string, error) {
	return p[userID], nil
}

type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]string
}

func (m *memoryIdempotency) CheckAndInsert(_ context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = module
	return nil
}

func (m *memoryIdempotency) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

type testServer struct {
	*fixture
	handler http.Handler
	idem    *memoryIdempotency
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	f := newFixture(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	idem := &memoryIdempotency{keys: map[string]string{}}
	all := shared.StockCountScopes()
	perms := staticPermissions{
		ownerID:    all,
		attendeeID: {shared.PermStockCountView, shared.PermStockCountEdit},
		strangerID: {shared.PermStockCountView},
		4:          {shared.PermStockCountView},
	}
	h := NewHandler(logger, f.svc, rbac.Middleware{Service: perms, Logger: logger}, idem)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if user := req.Header.Get("X-Test-User"); user != "" {
				sess := &shared.Session{}
				sess.SetUser(user)
				req = req.WithContext(shared.ContextWithSession(req.Context(), sess))
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Route("/stock-counts", h.MountRoutes)
	return &testServer{fixture: f, handler: r, idem: idem}
}

func (s *testServer) do(t *testing.T, method, path string, user int64, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user > 0 {
		req.Header.Set("X-Test-User", strconv.FormatInt(user, 10))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeSession(t *testing.T, rec *httptest.ResponseRecorder) SessionResponse {
	t.Helper()
	var resp SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) httpx.ProblemDetail {
	t.Helper()
	var p httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p
}

func sessionPath(id int64, suffix string) string {
	return "/stock-counts/" + strconv.FormatInt(id, 10) + suffix
}

func TestHandlerRequiresIdentityAndPermission(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/stock-counts", 0, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/stock-counts", 5, "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/stock-counts", strangerID, `{}`)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandlerLifecycle(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/stock-counts", ownerID, `{"warehouse_id":1,"finance_manager_id":7,"attendee_ids":[2]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeSession(t, rec)
	require.Equal(t, sessionPath(created.ID, ""), rec.Header().Get("Location"))
	require.Equal(t, StateDraft, created.State)
	require.Equal(t, "2024-03-05", created.EffectiveDate)

	rec = s.do(t, http.MethodPost, sessionPath(created.ID, "/generate"), attendeeID, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	generated := decodeSession(t, rec)
	require.Equal(t, StateInProgress, generated.State)
	require.Len(t, generated.Lines, 2)
	require.Contains(t, generated.AllowedActions, ActionSubmit)

	lineID := generated.Lines[0].ID
	rec = s.do(t, http.MethodPatch, sessionPath(created.ID, "/lines/"+strconv.FormatInt(lineID, 10)), attendeeID, `{"qty_counted":"8"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	edited := decodeSession(t, rec)
	require.True(t, edited.Lines[0].QtyCounted.Equal(d("8")))
	require.True(t, edited.Lines[0].QtyDelta.Equal(d("-2")))

	for _, step := range []struct {
		path string
		want State
	}{
		{"/submit", StateReview},
		{"/validate", StateApproval},
		{"/approve", StateDone},
	} {
		rec = s.do(t, http.MethodPost, sessionPath(created.ID, step.path), ownerID, "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		require.Equal(t, step.want, decodeSession(t, rec).State)
	}

	rec = s.do(t, http.MethodGet, sessionPath(created.ID, "/trail"), attendeeID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var trail struct {
		Items []shared.ApprovalLog `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &trail))
	require.Len(t, trail.Items, 3)

	rec = s.do(t, http.MethodDelete, sessionPath(created.ID, ""), ownerID, "")
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandlerValidationErrors(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/stock-counts", ownerID, `{"filter":"weird"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "oneof", decodeProblem(t, rec).Fields["filter"])

	rec = s.do(t, http.MethodPost, "/stock-counts", ownerID, `{"warehouse":1}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/stock-counts", ownerID, `{}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeSession(t, rec).ID

	rec = s.do(t, http.MethodPost, sessionPath(id, "/generate"), ownerID, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "select a warehouse first", decodeProblem(t, rec).Fields["warehouse_id"])

	rec = s.do(t, http.MethodPost, sessionPath(id, "/reject"), ownerID, `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "required", decodeProblem(t, rec).Fields["reason"])

	rec = s.do(t, http.MethodGet, "/stock-counts/abc", ownerID, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, sessionPath(id, "/submit"), ownerID, "")
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandlerHidesForeignSessions(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/stock-counts", ownerID, `{}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeSession(t, rec).ID

	rec = s.do(t, http.MethodGet, sessionPath(id, ""), 4, "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/stock-counts", 4, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Items      []SessionResponse `json:"items"`
		Pagination shared.Pagination `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Empty(t, page.Items)
	require.Zero(t, page.Pagination.Total)
}

func TestHandlerApproveNeedsApprovePermission(t *testing.T) {
	s := newTestServer(t)
	sess := s.generated(t)

	rec := s.do(t, http.MethodPost, sessionPath(sess.ID, "/approve"), attendeeID, "")
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandlerIdempotencyKey(t *testing.T) {
	s := newTestServer(t)
	sess := s.generated(t)

	rec := s.do(t, http.MethodPost, sessionPath(sess.ID, "/submit"), ownerID, "", "Idempotency-Key", "submit-1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "stockcount.submit", s.idem.keys["submit-1"])

	rec = s.do(t, http.MethodPost, sessionPath(sess.ID, "/submit"), ownerID, "", "Idempotency-Key", "submit-1")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, sessionPath(sess.ID, "/approve"), ownerID, "", "Idempotency-Key", "approve-1")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.NotContains(t, s.idem.keys, "approve-1")
}

func TestHandlerTrailRendersEmptyList(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/stock-counts", ownerID, `{"warehouse_id":1}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeSession(t, rec).ID

	rec = s.do(t, http.MethodGet, sessionPath(id, "/trail"), ownerID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"items":[]}`, rec.Body.String())
}
