package zulipclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, "bot@example.com", "secret-key", zerolog.Nop())
}

func TestGetProfile(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/users/me", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "bot@example.com", user)
		assert.Equal(t, "secret-key", pass)

		w.Write([]byte(`{"result":"success","msg":"","user_id":42,"email":"bot@example.com","full_name":"Bridge Bot","is_bot":true}`))
	})

	profile, err := c.GetProfile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), profile.UserID)
	assert.True(t, profile.IsBot)
}

func TestSendStreamMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "stream", r.FormValue("type"))
		assert.Equal(t, "general", r.FormValue("to"))
		assert.Equal(t, "hello", r.FormValue("content"))

		w.Write([]byte(`{"result":"success","msg":"","id":1001}`))
	})

	resp, err := c.SendStreamMessage(context.Background(), "general", "topic-1", "hello")
	require.NoError(t, err)
	assert.Equal(t, int64(1001), resp.ID)
}

func TestDo_ErrorEnvelope(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"result":"error","msg":"Invalid API key","code":"BAD_REQUEST"}`))
	})

	_, err := c.GetProfile(context.Background())
	require.Error(t, err)

	var zErr *Error
	require.ErrorAs(t, err, &zErr)
	assert.Equal(t, "BAD_REQUEST", zErr.Code)
}

func TestGetEvents_QueueGone(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":"error","msg":"Bad event queue id","code":"BAD_EVENT_QUEUE_ID"}`))
	})

	_, err := c.GetEvents(context.Background(), "queue-1", 0, false)
	require.Error(t, err)

	var zErr *Error
	require.ErrorAs(t, err, &zErr)
	assert.True(t, zErr.IsQueueGone())
}
