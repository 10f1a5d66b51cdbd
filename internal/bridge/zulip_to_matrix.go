package bridge

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"

	"github.com/palpo-im/zulipbridge/internal/store"
	"github.com/palpo-im/zulipbridge/internal/zulipclient"
)

// HandleZulipMessage relays a stream message into its bridged room,
// creating the room on first use. A message authored by the bridge bot is
// the echo of an M->Z relay (HandleMatrixMessage already persisted its
// MessageMapping) and is dropped.
func (b *Bridge) HandleZulipMessage(ctx context.Context, event zulipclient.Event) error {
	var payload zulipMessageEvent
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		return errors.Wrap(err, "failed to parse zulip message event")
	}
	msg := payload.Message

	if msg.SenderID == b.cfg.BotZulipUserID {
		return nil
	}
	if existing, err := b.store.Messages().GetByZulipMessageID(ctx, msg.ID); err != nil {
		return errors.Wrap(err, "failed to check existing message mapping")
	} else if existing != nil {
		return nil
	}

	eventIDStr := strconv.FormatInt(event.ID, 10)
	if done, err := b.alreadyProcessed(ctx, eventIDStr, store.SourceZulip); err != nil || done {
		return err
	}

	if msg.Type != "stream" {
		b.log.Debug().Int64("message_id", msg.ID).Msg("ignoring non-stream zulip message, direct messages are not bridged")
		return b.markProcessed(ctx, eventIDStr, store.SourceZulip, event.Type)
	}

	streamName := payload.streamName()
	topic := msg.Subject
	lookupTopic := &topic
	if !b.cfg.SplitByTopic {
		lookupTopic = nil
	}

	room, err := b.store.Rooms().GetByStream(ctx, b.cfg.OrganizationID, msg.StreamID, lookupTopic)
	if err != nil {
		return errors.Wrap(err, "failed to look up room mapping")
	}
	if room == nil {
		room, err = b.createRoomForStream(ctx, msg.StreamID, streamName, topic)
		if err != nil {
			return errors.Wrap(err, "failed to create room for stream")
		}
	}

	mxid, err := b.ghosts.GetOrCreateGhost(ctx, msg.SenderID, strPtr(msg.SenderFullName), strPtr(msg.AvatarURL), false)
	if err != nil {
		return errors.Wrap(err, "failed to get or create ghost")
	}
	if err := b.ghosts.EnsureGhostInRoom(ctx, mxid, room.MatrixRoomID); err != nil {
		return errors.Wrap(err, "failed to invite ghost into room")
	}

	body := b.htmlToMarkdown(msg.Content)
	if room.RoomType == store.RoomTypeStream {
		body = topicPrefix(topic) + body
	}

	resp, err := b.matrix.SendMessage(ctx, room.MatrixRoomID, mxid, body, msg.Content)
	if err != nil {
		return errors.Wrap(err, "failed to send matrix message")
	}

	if _, err := b.store.Messages().Create(ctx, &store.MessageMapping{
		MatrixEventID:  resp.EventID,
		ZulipMessageID: msg.ID,
		MatrixRoomID:   room.MatrixRoomID,
		ZulipSenderID:  msg.SenderID,
		MessageType:    string(room.RoomType),
	}); err != nil {
		return errors.Wrap(err, "failed to persist message mapping")
	}

	return b.markProcessed(ctx, eventIDStr, store.SourceZulip, event.Type)
}

// createRoomForStream provisions a new Matrix room for a bridged stream
// (or stream/topic pair, when splitting by topic) and persists its mapping.
func (b *Bridge) createRoomForStream(ctx context.Context, streamID int64, streamName, topic string) (*store.RoomMapping, error) {
	roomType := store.RoomTypeStream
	var topicPtr *string
	displayTopic := ""
	if b.cfg.SplitByTopic {
		roomType = store.RoomTypeTopic
		topicPtr = strPtr(topic)
		displayTopic = topic
	}

	name := roomDisplayName(streamName, displayTopic)
	alias := sanitizeAlias(b.cfg.AliasPrefix + name)

	roomID, err := b.matrix.CreateRoom(ctx, name, alias, "", false)
	if err != nil {
		return nil, err
	}

	return b.store.Rooms().Create(ctx, &store.RoomMapping{
		MatrixRoomID:    roomID,
		OrganizationID:  b.cfg.OrganizationID,
		ZulipStreamID:   streamID,
		ZulipTopic:      topicPtr,
		ZulipStreamName: streamName,
		RoomType:        roomType,
	})
}

// HandleZulipUpdateMessage relays a content edit onto its mapped Matrix
// event. update_message events that only move a topic (no content) and
// updates with no existing MessageMapping are dropped: Zulip has native
// edit support so there is no "deliver as new message" fallback on this
// side, unlike the M->Z direction.
func (b *Bridge) HandleZulipUpdateMessage(ctx context.Context, event zulipclient.Event) error {
	var payload zulipUpdateMessageEvent
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		return errors.Wrap(err, "failed to parse zulip update_message event")
	}
	if payload.Content == "" || payload.UserID == b.cfg.BotZulipUserID {
		return nil
	}

	mapping, err := b.store.Messages().GetByZulipMessageID(ctx, payload.MessageID)
	if err != nil {
		return errors.Wrap(err, "failed to look up message mapping")
	}
	if mapping == nil {
		return nil
	}

	mxid, err := b.ghosts.GetOrCreateGhost(ctx, payload.UserID, nil, nil, false)
	if err != nil {
		return errors.Wrap(err, "failed to resolve ghost for edit")
	}

	body := b.htmlToMarkdown(payload.Content)
	_, err = b.matrix.SendMessageEdit(ctx, mapping.MatrixRoomID, mxid, body, payload.Content, mapping.MatrixEventID)
	return errors.Wrap(err, "failed to send matrix edit")
}

// HandleZulipDeleteMessage redacts the mapped Matrix event. Redaction is
// performed by the bot rather than the original ghost: Zulip's
// delete_message event does not reliably carry the deleting user's ID, and
// the appservice-joined bot is granted enough power level in bridged rooms
// to redact any ghost's message.
func (b *Bridge) HandleZulipDeleteMessage(ctx context.Context, event zulipclient.Event) error {
	var payload zulipDeleteMessageEvent
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		return errors.Wrap(err, "failed to parse zulip delete_message event")
	}

	mapping, err := b.store.Messages().GetByZulipMessageID(ctx, payload.MessageID)
	if err != nil {
		return errors.Wrap(err, "failed to look up message mapping")
	}
	if mapping == nil {
		return nil
	}

	if _, err := b.matrix.RedactEvent(ctx, mapping.MatrixRoomID, b.cfg.BotMatrixUserID, mapping.MatrixEventID, ""); err != nil {
		return errors.Wrap(err, "failed to redact matrix message")
	}
	return errors.Wrap(b.store.Messages().Delete(ctx, mapping.ID), "failed to delete message mapping")
}

// HandleZulipReaction relays a reaction add/remove onto the mapped Matrix
// event, guarding against the bot's own M->Z reaction echo.
func (b *Bridge) HandleZulipReaction(ctx context.Context, event zulipclient.Event) error {
	var payload zulipReactionEvent
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		return errors.Wrap(err, "failed to parse zulip reaction event")
	}
	if payload.UserID == b.cfg.BotZulipUserID {
		return nil
	}

	msg, err := b.store.Messages().GetByZulipMessageID(ctx, payload.MessageID)
	if err != nil {
		return errors.Wrap(err, "failed to look up reacted message")
	}
	if msg == nil {
		return nil
	}

	reactionID := reactionKey(payload.MessageID, payload.EmojiCode, payload.UserID)

	switch payload.Op {
	case "add":
		if existing, err := b.store.Reactions().GetByZulipReactionID(ctx, reactionID); err != nil {
			return errors.Wrap(err, "failed to check existing reaction mapping")
		} else if existing != nil {
			return nil
		}

		mxid, err := b.ghosts.GetOrCreateGhost(ctx, payload.UserID, nil, nil, false)
		if err != nil {
			return errors.Wrap(err, "failed to resolve ghost for reaction")
		}
		if err := b.ghosts.EnsureGhostInRoom(ctx, mxid, msg.MatrixRoomID); err != nil {
			return errors.Wrap(err, "failed to invite ghost into room")
		}

		resp, err := b.matrix.SendReaction(ctx, msg.MatrixRoomID, mxid, msg.MatrixEventID, payload.EmojiName)
		if err != nil {
			return errors.Wrap(err, "failed to send matrix reaction")
		}

		_, err = b.store.Reactions().Create(ctx, &store.ReactionMapping{
			MatrixReactionEventID: resp.EventID,
			ZulipReactionID:       reactionID,
			ZulipMessageID:        payload.MessageID,
			MatrixEventID:         msg.MatrixEventID,
			Emoji:                 payload.EmojiName,
		})
		return errors.Wrap(err, "failed to persist reaction mapping")

	case "remove":
		reaction, err := b.store.Reactions().GetByZulipReactionID(ctx, reactionID)
		if err != nil {
			return errors.Wrap(err, "failed to look up reaction mapping")
		}
		if reaction == nil {
			return nil
		}

		mxid := b.ghosts.MXID(payload.UserID)
		if _, err := b.matrix.RedactEvent(ctx, msg.MatrixRoomID, mxid, reaction.MatrixReactionEventID, ""); err != nil {
			return errors.Wrap(err, "failed to redact matrix reaction")
		}
		return errors.Wrap(b.store.Reactions().DeleteByZulipReactionID(ctx, reactionID), "failed to delete reaction mapping")
	}

	return nil
}

// HandleZulipRealmUser reconciles a ghost's profile when the Zulip user it
// puppets changes name or avatar.
func (b *Bridge) HandleZulipRealmUser(ctx context.Context, event zulipclient.Event) error {
	var payload zulipRealmUserEvent
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		return errors.Wrap(err, "failed to parse zulip realm_user event")
	}
	if payload.Op != "update" {
		return nil
	}
	return b.ghosts.UpdateGhostProfile(ctx, payload.Person.UserID, strPtr(payload.Person.FullName), strPtr(payload.Person.AvatarURL))
}

// HandleZulipSubscription observes stream subscription changes. Room
// creation is driven lazily by the first message in a stream
// (HandleZulipMessage), so there is nothing to provision here yet.
func (b *Bridge) HandleZulipSubscription(ctx context.Context, event zulipclient.Event) error {
	b.log.Debug().Int64("event_id", event.ID).Msg("ignoring subscription event")
	return nil
}
