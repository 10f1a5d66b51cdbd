package zulipingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/palpo-im/zulipbridge/internal/zulipclient"
)

const (
	maxReconnectAttempts = 10
	reconnectDelay       = 5 * time.Second
	idlePingInterval     = 30 * time.Second
)

// WSClient is the WebSocket alternative Side-Z ingest transport.
type WSClient struct {
	siteURL string
	apiKey  string
	dedup   *dedupSet
	log     zerolog.Logger
}

// NewWSClient creates a WebSocket ingest source against siteURL, authenticating
// with apiKey via the events endpoint's query parameter.
func NewWSClient(siteURL, apiKey string, log zerolog.Logger) *WSClient {
	return &WSClient{
		siteURL: siteURL,
		apiKey:  apiKey,
		dedup:   newDedupSet(),
		log:     log.With().Str("component", "zulipingest.websocket").Logger(),
	}
}

func (c *WSClient) eventsURL() (string, error) {
	u, err := url.Parse(c.siteURL)
	if err != nil {
		return "", errors.Wrap(err, "invalid zulip site url")
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/v1/events"
	q := u.Query()
	q.Set("api_key", c.apiKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Run connects and reconnects to the events WebSocket until ctx is
// cancelled or the reconnect budget is exhausted, in which case it returns
// a fatal error to the caller.
func (c *WSClient) Run(ctx context.Context, out chan<- zulipclient.Event) error {
	attempts := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := c.runOnce(ctx, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			attempts = 0
			continue
		}

		attempts++
		c.log.Warn().Err(err).Int("attempt", attempts).Msg("websocket connection lost, reconnecting")
		if attempts >= maxReconnectAttempts {
			return fmt.Errorf("exceeded %d reconnect attempts: %w", maxReconnectAttempts, err)
		}
		if !sleepOrDone(ctx, time.Duration(attempts)*reconnectDelay) {
			return ctx.Err()
		}
	}
}

func (c *WSClient) runOnce(ctx context.Context, out chan<- zulipclient.Event) error {
	eventsURL, err := c.eventsURL()
	if err != nil {
		return err
	}

	conn, _, err := websocket.Dial(ctx, eventsURL, nil)
	if err != nil {
		return errors.Wrap(err, "failed to dial events websocket")
	}
	defer conn.CloseNow()

	for {
		readCtx, cancel := context.WithTimeout(ctx, idlePingInterval)
		_, data, err := conn.Read(readCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Idle timeout: send a ping to keep the connection alive and
			// keep waiting rather than treating this as a disconnect.
			if errors.Is(err, context.DeadlineExceeded) {
				pingCtx, pingCancel := context.WithTimeout(ctx, 10*time.Second)
				pingErr := conn.Ping(pingCtx)
				pingCancel()
				if pingErr != nil {
					return errors.Wrap(pingErr, "ping failed")
				}
				continue
			}
			return errors.Wrap(err, "websocket read failed")
		}

		var payload struct {
			Events []zulipclient.Event `json:"events"`
		}
		if err := json.Unmarshal(data, &payload); err != nil {
			c.log.Warn().Err(err).Msg("failed to parse websocket event payload")
			continue
		}

		for _, ev := range payload.Events {
			if c.dedup.seenBefore(ev.ID) {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
