package ghost

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palpo-im/zulipbridge/internal/matrixclient"
)

func newTestManager(t *testing.T, handler http.HandlerFunc) (*Manager, *fakeStore) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := matrixclient.New(srv.URL, "as_token", "bridge.example.org", zerolog.Nop(), matrixclient.RateLimitConfig{})
	fs := newFakeStore()
	return New(client, fs, "bridge.example.org", "", zerolog.Nop()), fs
}

func TestGetOrCreateGhost_ProvisionsAndCaches(t *testing.T) {
	var registerCalls, displayNameCalls int
	m, fs := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/_matrix/client/v3/register":
			registerCalls++
			w.Write([]byte(`{"user_id":"@_zulip_42:bridge.example.org","access_token":"tok"}`))
		case r.Method == http.MethodPut:
			displayNameCalls++
			w.Write([]byte(`{}`))
		}
	})

	name := "Ada Lovelace"
	mxid, err := m.GetOrCreateGhost(context.Background(), 42, &name, nil, false)
	require.NoError(t, err)
	assert.Equal(t, "@_zulip_42:bridge.example.org", mxid)
	assert.Equal(t, 1, registerCalls)
	assert.Equal(t, 1, displayNameCalls)

	mapping, err := fs.users.GetByZulipUserID(context.Background(), 42)
	require.NoError(t, err)
	require.NotNil(t, mapping)
	assert.Equal(t, mxid, mapping.MatrixUserID)

	// Second call is served from cache; no further HTTP calls.
	registerCalls, displayNameCalls = 0, 0
	mxid2, err := m.GetOrCreateGhost(context.Background(), 42, &name, nil, false)
	require.NoError(t, err)
	assert.Equal(t, mxid, mxid2)
	assert.Equal(t, 0, registerCalls)
	assert.Equal(t, 0, displayNameCalls)
}

func TestGetOrCreateGhost_RegistrationFailureIsIgnored(t *testing.T) {
	m, _ := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/_matrix/client/v3/register" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"errcode":"M_USER_IN_USE","error":"already registered"}`))
			return
		}
		w.Write([]byte(`{}`))
	})

	mxid, err := m.GetOrCreateGhost(context.Background(), 7, nil, nil, false)
	require.NoError(t, err)
	assert.Equal(t, "@_zulip_7:bridge.example.org", mxid)
}

func TestIsGhostUser(t *testing.T) {
	m, _ := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {})
	assert.True(t, m.IsGhostUser("@_zulip_99:bridge.example.org"))
	assert.False(t, m.IsGhostUser("@alice:bridge.example.org"))
}

func TestGetZulipUserID_LocalpartFallback(t *testing.T) {
	m, _ := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {})

	zuid, ok, err := m.GetZulipUserID(context.Background(), "@_zulip_123:bridge.example.org")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(123), zuid)
}
