package matrixingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleTransaction_RejectsBadToken(t *testing.T) {
	s := New(Config{HSToken: "correct-token"}, Handlers{}, zerolog.Nop())

	req := httptest.NewRequest(http.MethodPut, "/_matrix/app/v1/transactions/txn1", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer wrong-token")
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandleTransaction_DispatchesMessage(t *testing.T) {
	var received MEvent
	var relationSeen *Relation
	handlers := Handlers{
		OnMessage: func(ctx context.Context, event MEvent, relation *Relation) error {
			received = event
			relationSeen = relation
			return nil
		},
	}
	s := New(Config{HSToken: "tok"}, handlers, zerolog.Nop())

	body := `{"events":[{"event_id":"$1","type":"m.room.message","room_id":"!r:x","sender":"@alice:x","content":{"body":"hi"}}]}`
	req := httptest.NewRequest(http.MethodPut, "/_matrix/app/v1/transactions/txn1", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "$1", received.EventID)
	assert.Nil(t, relationSeen)
}

func TestHandleTransaction_DuplicateIsIgnored(t *testing.T) {
	calls := 0
	handlers := Handlers{
		OnMessage: func(ctx context.Context, event MEvent, relation *Relation) error {
			calls++
			return nil
		},
	}
	s := New(Config{HSToken: "tok"}, handlers, zerolog.Nop())

	body := `{"events":[{"event_id":"$1","type":"m.room.message","room_id":"!r:x","sender":"@alice:x"}]}`
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPut, "/_matrix/app/v1/transactions/txn1", strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer tok")
		w := httptest.NewRecorder()
		s.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
	}

	assert.Equal(t, 1, calls)
}

func TestDispatch_AgeGateDropsOldEvent(t *testing.T) {
	calls := 0
	handlers := Handlers{
		OnMessage: func(ctx context.Context, event MEvent, relation *Relation) error {
			calls++
			return nil
		},
	}
	s := New(Config{HSToken: "tok", AgeLimit: time.Minute}, handlers, zerolog.Nop())

	oldEvent := MEvent{
		Type:           "m.room.message",
		OriginServerTS: time.Now().Add(-time.Hour).UnixMilli(),
	}
	err := s.dispatch(context.Background(), oldEvent)
	require.NoError(t, err)
	assert.Equal(t, 0, calls)
}

func TestExtractRelation(t *testing.T) {
	t.Run("reply", func(t *testing.T) {
		rel := ExtractRelation(map[string]any{
			"m.relates_to": map[string]any{
				"m.in_reply_to": map[string]any{"event_id": "$parent"},
			},
		})
		require.NotNil(t, rel)
		assert.Equal(t, RelationReply, rel.Kind)
		assert.Equal(t, "$parent", rel.TargetEventID)
	})

	t.Run("edit", func(t *testing.T) {
		rel := ExtractRelation(map[string]any{
			"m.relates_to": map[string]any{
				"rel_type": "m.replace",
				"event_id": "$orig",
			},
		})
		require.NotNil(t, rel)
		assert.Equal(t, RelationEdit, rel.Kind)
		assert.Equal(t, "$orig", rel.TargetEventID)
	})

	t.Run("reaction", func(t *testing.T) {
		rel := ExtractRelation(map[string]any{
			"m.relates_to": map[string]any{
				"rel_type": "m.annotation",
				"event_id": "$target",
				"key":      "👍",
			},
		})
		require.NotNil(t, rel)
		assert.Equal(t, RelationReaction, rel.Kind)
		assert.Equal(t, "👍", rel.Key)
	})

	t.Run("none", func(t *testing.T) {
		assert.Nil(t, ExtractRelation(map[string]any{"body": "hi"}))
		assert.Nil(t, ExtractRelation(nil))
	})
}
