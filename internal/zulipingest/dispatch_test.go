package zulipingest

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palpo-im/zulipbridge/internal/zulipclient"
)

func decodeEvent(t *testing.T, raw string) zulipclient.Event {
	t.Helper()
	var ev zulipclient.Event
	require.NoError(t, json.Unmarshal([]byte(raw), &ev))
	return ev
}

func TestDispatch_RoutesKnownTypes(t *testing.T) {
	var gotMessage, gotReaction bool
	h := Handlers{
		OnMessage:  func(ctx context.Context, event zulipclient.Event) error { gotMessage = true; return nil },
		OnReaction: func(ctx context.Context, event zulipclient.Event) error { gotReaction = true; return nil },
	}

	err := Dispatch(context.Background(), h, decodeEvent(t, `{"id":1,"type":"message"}`), zerolog.Nop())
	require.NoError(t, err)
	err = Dispatch(context.Background(), h, decodeEvent(t, `{"id":2,"type":"reaction"}`), zerolog.Nop())
	require.NoError(t, err)

	assert.True(t, gotMessage)
	assert.True(t, gotReaction)
}

func TestDispatch_UnknownTypeIgnored(t *testing.T) {
	err := Dispatch(context.Background(), Handlers{}, decodeEvent(t, `{"id":3,"type":"heartbeat"}`), zerolog.Nop())
	require.NoError(t, err)
}
