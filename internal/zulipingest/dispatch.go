package zulipingest

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/palpo-im/zulipbridge/internal/zulipclient"
)

// Handlers is the set of callbacks the bridge core wires onto dispatched
// Zulip event types. A nil callback means that type is ignored.
type Handlers struct {
	OnMessage       func(ctx context.Context, event zulipclient.Event) error
	OnReaction      func(ctx context.Context, event zulipclient.Event) error
	OnUpdateMessage func(ctx context.Context, event zulipclient.Event) error
	OnDeleteMessage func(ctx context.Context, event zulipclient.Event) error
	OnSubscription  func(ctx context.Context, event zulipclient.Event) error
	OnRealmUser     func(ctx context.Context, event zulipclient.Event) error
}

// Dispatch routes a single event to its handler, logging unsupported types
// at debug rather than treating them as errors.
func Dispatch(ctx context.Context, h Handlers, event zulipclient.Event, log zerolog.Logger) error {
	switch event.Type {
	case "message":
		if h.OnMessage != nil {
			return h.OnMessage(ctx, event)
		}
	case "reaction":
		if h.OnReaction != nil {
			return h.OnReaction(ctx, event)
		}
	case "update_message":
		if h.OnUpdateMessage != nil {
			return h.OnUpdateMessage(ctx, event)
		}
	case "delete_message":
		if h.OnDeleteMessage != nil {
			return h.OnDeleteMessage(ctx, event)
		}
	case "subscription":
		if h.OnSubscription != nil {
			return h.OnSubscription(ctx, event)
		}
	case "realm_user":
		if h.OnRealmUser != nil {
			return h.OnRealmUser(ctx, event)
		}
	default:
		log.Debug().Str("event_type", event.Type).Int64("event_id", event.ID).Msg("ignoring unsupported zulip event type")
	}
	return nil
}

// Run consumes events off in, dispatching each to h, until in is closed or
// ctx is cancelled.
func Run(ctx context.Context, in <-chan zulipclient.Event, h Handlers, log zerolog.Logger) {
	for {
		select {
		case event, ok := <-in:
			if !ok {
				return
			}
			if err := Dispatch(ctx, h, event, log); err != nil {
				log.Error().Err(err).Int64("event_id", event.ID).Str("event_type", event.Type).Msg("failed to process zulip event")
			}
		case <-ctx.Done():
			return
		}
	}
}
