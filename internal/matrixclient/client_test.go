package matrixclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *[]*http.Request) {
	t.Helper()
	var requests []*http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, r)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return New(srv.URL, "as_token_123", "example.org", zerolog.Nop(), RateLimitConfig{}), &requests
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestSendMessage_ImpersonatesSenderAndSetsAuth(t *testing.T) {
	client, requests := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "Bearer as_token_123", r.Header.Get("Authorization"))
		require.Equal(t, "@_zulip_7:example.org", r.URL.Query().Get("user_id"))
		writeJSON(w, SendEventResponse{EventID: "$abc"})
	})

	resp, err := client.SendMessage(context.Background(), "!room:example.org", "@_zulip_7:example.org", "hi", "")
	require.NoError(t, err)
	assert.Equal(t, "$abc", resp.EventID)
	assert.Len(t, *requests, 1)
}

func TestSendMessage_ErrorResponseParsed(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		writeJSON(w, map[string]string{"errcode": "M_FORBIDDEN", "error": "not in room"})
	})

	_, err := client.SendMessage(context.Background(), "!room:example.org", "@alice:example.org", "hi", "")
	require.Error(t, err)

	var mErr *Error
	require.ErrorAs(t, err, &mErr)
	assert.Equal(t, "M_FORBIDDEN", mErr.ErrCode)
	assert.True(t, mErr.IsForbidden())
}

func TestInviteUser_TreatsAlreadyJoinedAsSuccess(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		writeJSON(w, map[string]string{"errcode": "M_BAD_STATE", "error": "already joined"})
	})

	err := client.InviteUser(context.Background(), "!room:example.org", "@alice:example.org")
	assert.NoError(t, err)
}

func TestEnsureBotJoinedRoom_AcceptsPendingInvite(t *testing.T) {
	var joinCalled bool
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			writeJSON(w, map[string]string{"membership": "invite"})
		case r.Method == http.MethodPost:
			joinCalled = true
			writeJSON(w, map[string]any{})
		default:
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	})

	membership, err := client.EnsureBotJoinedRoom(context.Background(), "!room:example.org", "@zulipbridge:example.org")
	require.NoError(t, err)
	assert.Equal(t, BotNewlyJoined, membership)
	assert.True(t, joinCalled)
}

func TestEnsureBotJoinedRoom_NoMembershipState(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		writeJSON(w, map[string]string{"errcode": "M_NOT_FOUND", "error": "no state"})
	})

	membership, err := client.EnsureBotJoinedRoom(context.Background(), "!room:example.org", "@zulipbridge:example.org")
	require.NoError(t, err)
	assert.Equal(t, BotNotInRoom, membership)
}

func TestRegisterGhost_SendsApplicationServiceType(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "m.login.application_service", body["type"])
		assert.Equal(t, "_zulip_7", body["username"])
		writeJSON(w, RegisterResponse{UserID: "@_zulip_7:example.org", AccessToken: "tok"})
	})

	err := client.RegisterGhost(context.Background(), "@_zulip_7:example.org")
	require.NoError(t, err)
}

func TestResolveRoomAlias_PassesThroughRoomIDs(t *testing.T) {
	client, requests := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected request for a bare room ID: %s", r.URL.Path)
	})

	roomID, err := client.ResolveRoomAlias(context.Background(), "!already:example.org")
	require.NoError(t, err)
	assert.Equal(t, "!already:example.org", roomID)
	assert.Empty(t, *requests)
}

func TestCreateRoom_PublicSetsPresetAndVisibility(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "public_chat", body["preset"])
		assert.Equal(t, "public", body["visibility"])
		writeJSON(w, map[string]string{"room_id": "!new:example.org"})
	})

	roomID, err := client.CreateRoom(context.Background(), "general", "general", "", true)
	require.NoError(t, err)
	assert.Equal(t, "!new:example.org", roomID)
}
