// Package bridge wires the two ingests to the opposite side's outbound
// client, owning mapping lookups and room/ghost creation policy. It is the
// direct analogue of the teacher's MattermostToMatrixBridge /
// MatrixToMattermostBridge pair, renamed onto the Matrix/Zulip domain.
package bridge

import (
	"context"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/palpo-im/zulipbridge/internal/ghost"
	"github.com/palpo-im/zulipbridge/internal/matrixclient"
	"github.com/palpo-im/zulipbridge/internal/store"
	"github.com/palpo-im/zulipbridge/internal/zulipclient"
)

// Config carries the room/authorship policy decisions the bridge core
// makes that are not themselves part of any single client or store.
type Config struct {
	// OrganizationID scopes every RoomMapping this bridge instance creates
	// or looks up; one running bridge serves exactly one Organization.
	OrganizationID string
	// BotMatrixUserID is the appservice's own (non-ghost) user, used to
	// create rooms and to redact messages deleted from the Zulip side.
	BotMatrixUserID string
	// BotZulipUserID is the bridge bot's own Zulip account; messages and
	// reactions it authors on Zulip are recognized as M-origin echoes.
	BotZulipUserID int64
	// SplitByTopic creates one Matrix room per (stream, topic) pair
	// instead of one room per stream. Defaults to false (per-stream).
	SplitByTopic bool
	// DefaultTopic is the Zulip topic used when relaying an M message into
	// a per-stream (not per-topic) room, which carries no topic of its own.
	DefaultTopic string
	// AliasPrefix is prepended to the sanitized room alias localpart.
	AliasPrefix string
}

func (c Config) withDefaults() Config {
	if c.DefaultTopic == "" {
		c.DefaultTopic = "general"
	}
	if c.AliasPrefix == "" {
		c.AliasPrefix = "zulip_"
	}
	return c
}

// Bridge holds the clients and stores shared by both directions. It is
// constructed once at startup and passed explicitly to the two ingest
// loops rather than kept as a process-global singleton.
type Bridge struct {
	matrix *matrixclient.Client
	zulip  *zulipclient.Client
	store  store.Store
	ghosts *ghost.Manager
	cfg    Config
	log    zerolog.Logger

	markdown *md.Converter
}

// New creates a Bridge. Its markdown converter is shared by both translation directions:
// Matrix's formatted_body and Zulip's rendered content are both HTML, so
// the same HTML-to-Markdown converter serves the M->Z body and the Z->M
// plain-text fallback.
func New(matrixClient *matrixclient.Client, zulipClient *zulipclient.Client, st store.Store, ghosts *ghost.Manager, cfg Config, log zerolog.Logger) *Bridge {
	return &Bridge{
		matrix:   matrixClient,
		zulip:    zulipClient,
		store:    st,
		ghosts:   ghosts,
		cfg:      cfg.withDefaults(),
		log:      log.With().Str("component", "bridge").Logger(),
		markdown: md.NewConverter("", true, nil),
	}
}

func (b *Bridge) alreadyProcessed(ctx context.Context, eventID string, source store.EventSource) (bool, error) {
	done, err := b.store.ProcessedEvents().Exists(ctx, eventID, source)
	if err != nil {
		return false, errors.Wrap(err, "failed to check processed event")
	}
	return done, nil
}

func (b *Bridge) markProcessed(ctx context.Context, eventID string, source store.EventSource, eventType string) error {
	_, err := b.store.ProcessedEvents().Create(ctx, &store.ProcessedEvent{
		EventID:   eventID,
		Source:    source,
		EventType: eventType,
	})
	return errors.Wrap(err, "failed to record processed event")
}

// htmlToMarkdown converts an HTML fragment (Matrix formatted_body or Zulip
// rendered content) to Markdown. Falls back to the input unchanged if the
// converter errors, since a best-effort body beats no body at all.
func (b *Bridge) htmlToMarkdown(html string) string {
	out, err := b.markdown.ConvertString(html)
	if err != nil {
		b.log.Debug().Err(err).Msg("html to markdown conversion failed, using raw input")
		return html
	}
	return strings.TrimSpace(out)
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// reactionKey synthesizes a stable int64 identity for a Zulip reaction,
// which (unlike a message) has no ID of its own on the wire: it is
// addressed by the (message, emoji, user) tuple.
func reactionKey(messageID int64, emojiCode string, userID int64) int64 {
	h := uint64(14695981039346656037) // FNV-1a offset basis
	for _, b := range []byte(emojiCode) {
		h ^= uint64(b)
		h *= 1099511628211
	}
	h ^= uint64(messageID)
	h *= 1099511628211
	h ^= uint64(userID)
	h *= 1099511628211
	return int64(h & 0x7fffffffffffffff)
}
