// Package zulipingest pulls realtime events from Zulip over either of two
// transports (long-poll or WebSocket) and feeds them to the bridge core
// over a single channel shape.
package zulipingest

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/palpo-im/zulipbridge/internal/zulipclient"
)

// DefaultEventTypes is the event-type set the bridge registers for.
var DefaultEventTypes = []string{"message", "reaction", "update_message", "delete_message", "subscription", "realm_user"}

// PollerConfig configures the long-poll ingest loop.
type PollerConfig struct {
	PollInterval time.Duration // default 5s
}

func (c PollerConfig) withDefaults() PollerConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	return c
}

// Poller is the default (long-poll) Side-Z ingest transport.
type Poller struct {
	client *zulipclient.Client
	cfg    PollerConfig
	dedup  *dedupSet
	log    zerolog.Logger
}

// NewPoller creates a long-poll ingest source.
func NewPoller(client *zulipclient.Client, cfg PollerConfig, log zerolog.Logger) *Poller {
	return &Poller{
		client: client,
		cfg:    cfg.withDefaults(),
		dedup:  newDedupSet(),
		log:    log.With().Str("component", "zulipingest.poller").Logger(),
	}
}

// Run registers an event queue and feeds events to out until ctx is
// cancelled. A queue invalidated server-side triggers a fresh registration;
// any other transient failure is logged and retried after PollInterval.
func (p *Poller) Run(ctx context.Context, out chan<- zulipclient.Event) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		queue, err := p.client.RegisterEventQueue(ctx, DefaultEventTypes, true, false)
		if err != nil {
			p.log.Warn().Err(err).Msg("failed to register event queue, retrying")
			if !sleepOrDone(ctx, p.cfg.PollInterval) {
				return ctx.Err()
			}
			continue
		}

		if err := p.drainQueue(ctx, queue.QueueID, queue.LastEventID, out); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.log.Warn().Err(err).Msg("event queue invalidated, re-registering")
			continue
		}
	}
}

// drainQueue polls a single registered queue until it is invalidated or ctx
// is cancelled.
func (p *Poller) drainQueue(ctx context.Context, queueID string, lastEventID int64, out chan<- zulipclient.Event) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		events, err := p.client.GetEvents(ctx, queueID, lastEventID, false)
		if err != nil {
			if isQueueGoneErr(err) {
				return err
			}
			p.log.Warn().Err(err).Msg("get_events failed, retrying")
			if !sleepOrDone(ctx, p.cfg.PollInterval) {
				return nil
			}
			continue
		}

		for _, ev := range events {
			if ev.ID > lastEventID {
				lastEventID = ev.ID
			}
			if p.dedup.seenBefore(ev.ID) {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return nil
			}
		}

		if !sleepOrDone(ctx, p.cfg.PollInterval) {
			return nil
		}
	}
}

// isQueueGoneErr reports whether err is, or wraps via pkg/errors, a
// BAD_EVENT_QUEUE_ID response. GetEvents wraps the underlying
// *zulipclient.Error with errors.Wrap, so a bare type assertion never
// matches a real failure; errors.As unwraps the chain to find it.
func isQueueGoneErr(err error) bool {
	var zErr *zulipclient.Error
	return errors.As(err, &zErr) && zErr.IsQueueGone()
}

// sleepOrDone sleeps for d, returning false if ctx is cancelled first.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
