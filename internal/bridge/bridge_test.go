package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palpo-im/zulipbridge/internal/ghost"
	"github.com/palpo-im/zulipbridge/internal/matrixclient"
	"github.com/palpo-im/zulipbridge/internal/matrixingest"
	"github.com/palpo-im/zulipbridge/internal/store"
	"github.com/palpo-im/zulipbridge/internal/zulipclient"
)

type testHarness struct {
	bridge  *Bridge
	st      *fakeStore
	calls   []string
}

func newTestHarness(t *testing.T, matrixHandler, zulipHandler http.HandlerFunc) *testHarness {
	t.Helper()

	h := &testHarness{}
	wrap := func(name string, hf http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			h.calls = append(h.calls, name+" "+r.Method+" "+r.URL.Path)
			hf(w, r)
		}
	}

	matrixSrv := httptest.NewServer(wrap("matrix", matrixHandler))
	t.Cleanup(matrixSrv.Close)
	zulipSrv := httptest.NewServer(wrap("zulip", zulipHandler))
	t.Cleanup(zulipSrv.Close)

	matrixClient := matrixclient.New(matrixSrv.URL, "as_token", "example.org", zerolog.Nop(), matrixclient.RateLimitConfig{})
	zulipClient := zulipclient.New(zulipSrv.URL, "bot@example.com", "key", zerolog.Nop())
	st := newFakeStore()
	ghosts := ghost.New(matrixClient, st, "example.org", ghost.DefaultPrefix, zerolog.Nop())

	cfg := Config{
		OrganizationID:  "org1",
		BotMatrixUserID: "@zulipbridge:example.org",
		BotZulipUserID:  1,
	}
	h.bridge = New(matrixClient, zulipClient, st, ghosts, cfg, zerolog.Nop())
	h.st = st
	return h
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestHandleMatrixMessage_RelaysToZulip(t *testing.T) {
	h := newTestHarness(t,
		func(w http.ResponseWriter, r *http.Request) { t.Fatalf("unexpected matrix call: %s", r.URL.Path) },
		func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/api/v1/messages", r.URL.Path)
			writeJSON(w, map[string]any{"result": "success", "msg": "", "id": 99})
		},
	)

	_, err := h.st.rooms.Create(context.Background(), &store.RoomMapping{
		MatrixRoomID:    "!room:example.org",
		OrganizationID:  "org1",
		ZulipStreamID:   9,
		ZulipStreamName: "general",
		RoomType:        store.RoomTypeStream,
	})
	require.NoError(t, err)

	event := matrixingest.MEvent{
		EventID: "$abc",
		Type:    "m.room.message",
		RoomID:  "!room:example.org",
		Sender:  "@alice:example.org",
		Content: map[string]any{"body": "hi"},
	}
	require.NoError(t, h.bridge.HandleMatrixMessage(context.Background(), event, nil))

	mapping, err := h.st.messages.GetByMatrixEventID(context.Background(), "$abc")
	require.NoError(t, err)
	require.NotNil(t, mapping)
	assert.EqualValues(t, 99, mapping.ZulipMessageID)
}

func TestHandleMatrixMessage_DropsGhostEcho(t *testing.T) {
	h := newTestHarness(t,
		func(w http.ResponseWriter, r *http.Request) { t.Fatalf("unexpected matrix call") },
		func(w http.ResponseWriter, r *http.Request) { t.Fatalf("unexpected zulip call") },
	)

	event := matrixingest.MEvent{
		EventID: "$abc",
		Type:    "m.room.message",
		RoomID:  "!room:example.org",
		Sender:  h.bridge.ghosts.MXID(7),
		Content: map[string]any{"body": "hi"},
	}
	require.NoError(t, h.bridge.HandleMatrixMessage(context.Background(), event, nil))
	assert.Empty(t, h.calls)
}

func TestHandleMatrixMessage_EditRelaysAsZulipEdit(t *testing.T) {
	h := newTestHarness(t,
		func(w http.ResponseWriter, r *http.Request) { t.Fatalf("unexpected matrix call: %s", r.URL.Path) },
		func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPatch, r.Method)
			require.Equal(t, "/api/v1/messages/99", r.URL.Path)
			writeJSON(w, map[string]any{"result": "success", "msg": ""})
		},
	)

	_, err := h.st.rooms.Create(context.Background(), &store.RoomMapping{
		MatrixRoomID:    "!room:example.org",
		OrganizationID:  "org1",
		ZulipStreamID:   9,
		ZulipStreamName: "general",
		RoomType:        store.RoomTypeStream,
	})
	require.NoError(t, err)
	_, err = h.st.messages.Create(context.Background(), &store.MessageMapping{
		MatrixEventID:  "$orig",
		ZulipMessageID: 99,
		MatrixRoomID:   "!room:example.org",
	})
	require.NoError(t, err)

	event := matrixingest.MEvent{
		EventID: "$edit1",
		Type:    "m.room.message",
		RoomID:  "!room:example.org",
		Sender:  "@alice:example.org",
		Content: map[string]any{
			"body":          "* hi there",
			"m.new_content": map[string]any{"body": "hi there"},
			"m.relates_to":  map[string]any{"rel_type": "m.replace", "event_id": "$orig"},
		},
	}
	relation := matrixingest.ExtractRelation(event.Content)
	require.NotNil(t, relation)
	require.NoError(t, h.bridge.HandleMatrixMessage(context.Background(), event, relation))

	// no new mapping should be created for a successful native edit
	editMapping, err := h.st.messages.GetByMatrixEventID(context.Background(), "$edit1")
	require.NoError(t, err)
	assert.Nil(t, editMapping)
}

func TestHandleMatrixMessage_EditWithoutMappingFallsBackToNewMessage(t *testing.T) {
	h := newTestHarness(t,
		func(w http.ResponseWriter, r *http.Request) { t.Fatalf("unexpected matrix call: %s", r.URL.Path) },
		func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/api/v1/messages", r.URL.Path)
			writeJSON(w, map[string]any{"result": "success", "msg": "", "id": 150})
		},
	)

	_, err := h.st.rooms.Create(context.Background(), &store.RoomMapping{
		MatrixRoomID:    "!room:example.org",
		OrganizationID:  "org1",
		ZulipStreamID:   9,
		ZulipStreamName: "general",
		RoomType:        store.RoomTypeStream,
	})
	require.NoError(t, err)

	event := matrixingest.MEvent{
		EventID: "$edit2",
		Type:    "m.room.message",
		RoomID:  "!room:example.org",
		Sender:  "@alice:example.org",
		Content: map[string]any{
			"body":          "* hi again",
			"m.new_content": map[string]any{"body": "hi again"},
			"m.relates_to":  map[string]any{"rel_type": "m.replace", "event_id": "$unknown"},
		},
	}
	relation := matrixingest.ExtractRelation(event.Content)
	require.NotNil(t, relation)
	require.NoError(t, h.bridge.HandleMatrixMessage(context.Background(), event, relation))

	mapping, err := h.st.messages.GetByMatrixEventID(context.Background(), "$edit2")
	require.NoError(t, err)
	require.NotNil(t, mapping)
	assert.EqualValues(t, 150, mapping.ZulipMessageID)
}

func TestHandleMatrixRedaction_IsIdempotent(t *testing.T) {
	var deleteCalls int
	h := newTestHarness(t,
		func(w http.ResponseWriter, r *http.Request) { t.Fatalf("unexpected matrix call: %s", r.URL.Path) },
		func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodDelete, r.Method)
			require.Equal(t, "/api/v1/messages/99", r.URL.Path)
			deleteCalls++
			writeJSON(w, map[string]any{"result": "success", "msg": ""})
		},
	)

	_, err := h.st.messages.Create(context.Background(), &store.MessageMapping{
		MatrixEventID:  "$orig",
		ZulipMessageID: 99,
		MatrixRoomID:   "!room:example.org",
	})
	require.NoError(t, err)

	event := matrixingest.MEvent{
		EventID: "$redaction1",
		Type:    "m.room.redaction",
		RoomID:  "!room:example.org",
		Sender:  "@alice:example.org",
		Redacts: "$orig",
	}
	require.NoError(t, h.bridge.HandleMatrixRedaction(context.Background(), event))
	// delivered a second time (appservice transactions are at-least-once)
	require.NoError(t, h.bridge.HandleMatrixRedaction(context.Background(), event))

	assert.Equal(t, 1, deleteCalls)
}

func TestHandleZulipMessage_CreatesRoomAndGhost(t *testing.T) {
	h := newTestHarness(t,
		func(w http.ResponseWriter, r *http.Request) {
			switch {
			case r.Method == http.MethodPost && r.URL.Path == "/_matrix/client/v3/register":
				writeJSON(w, map[string]any{"user_id": "@_zulip_7:example.org", "access_token": "tok"})
			case r.Method == http.MethodPut && r.URL.Path == "/_matrix/client/v3/profile/@_zulip_7:example.org/displayname":
				writeJSON(w, map[string]any{})
			case r.Method == http.MethodPost && r.URL.Path == "/_matrix/client/v3/createRoom":
				writeJSON(w, map[string]any{"room_id": "!new:example.org"})
			case r.Method == http.MethodGet && r.URL.Path == "/_matrix/client/v3/rooms/!new:example.org/state":
				writeJSON(w, []any{})
			case r.Method == http.MethodPost && r.URL.Path == "/_matrix/client/v3/rooms/!new:example.org/invite":
				writeJSON(w, map[string]any{})
			default:
				if r.Method == http.MethodPut {
					writeJSON(w, map[string]any{"event_id": "$new"})
					return
				}
				t.Fatalf("unexpected matrix call: %s %s", r.Method, r.URL.Path)
			}
		},
		func(w http.ResponseWriter, r *http.Request) { t.Fatalf("unexpected zulip call") },
	)

	payload, err := json.Marshal(map[string]any{
		"message": map[string]any{
			"id":                42,
			"sender_id":         7,
			"sender_full_name":  "Bob",
			"type":              "stream",
			"stream_id":         9,
			"display_recipient": "general",
			"subject":           "topic1",
			"content":           "<p>hi</p>",
		},
	})
	require.NoError(t, err)

	event := zulipclient.Event{ID: 100, Type: "message", Data: payload}
	require.NoError(t, h.bridge.HandleZulipMessage(context.Background(), event))

	room, err := h.st.rooms.GetByMatrixRoomID(context.Background(), "!new:example.org")
	require.NoError(t, err)
	require.NotNil(t, room)
	assert.Equal(t, "general", room.ZulipStreamName)

	mapping, err := h.st.messages.GetByZulipMessageID(context.Background(), 42)
	require.NoError(t, err)
	require.NotNil(t, mapping)
	assert.Equal(t, "$new", mapping.MatrixEventID)
}

func TestHandleZulipMessage_DropsBotEcho(t *testing.T) {
	h := newTestHarness(t,
		func(w http.ResponseWriter, r *http.Request) { t.Fatalf("unexpected matrix call") },
		func(w http.ResponseWriter, r *http.Request) { t.Fatalf("unexpected zulip call") },
	)

	payload, err := json.Marshal(map[string]any{
		"message": map[string]any{
			"id":        42,
			"sender_id": 1, // matches BotZulipUserID
			"type":      "stream",
		},
	})
	require.NoError(t, err)

	event := zulipclient.Event{ID: 100, Type: "message", Data: payload}
	require.NoError(t, h.bridge.HandleZulipMessage(context.Background(), event))
	assert.Empty(t, h.calls)
}
