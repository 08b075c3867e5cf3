package shared

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestSessionManagerRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	sm := NewSessionManager(client, "sc_session", time.Hour, false)
	ctx := context.Background()

	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	_, err = sess.UserID()
	require.ErrorIs(t, err, ErrUnauthenticated)

	sess.SetUser("42")
	rec := httptest.NewRecorder()
	require.NoError(t, sm.Save(ctx, rec, sess))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	loaded, err := sm.Load(ctx, req)
	require.NoError(t, err)
	id, err := loaded.UserID()
	require.NoError(t, err)
	require.Equal(t, int64(42), id)
}

func TestSessionUserIDRejectsGarbage(t *testing.T) {
	sess := &Session{userID: "abc"}
	_, err := sess.UserID()
	require.ErrorIs(t, err, ErrInvalidIdentity)

	var missing *Session
	_, err = missing.UserID()
	require.ErrorIs(t, err, ErrUnauthenticated)
}
