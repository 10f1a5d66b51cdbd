package bridge

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/palpo-im/zulipbridge/internal/matrixingest"
	"github.com/palpo-im/zulipbridge/internal/store"
)

// editMarker suffixes a Matrix edit that is delivered as a brand new Zulip
// message because no MessageMapping exists for the edit's target event.
const editMarker = "\n\n_(edited)_"

// HandleMatrixMessage relays an m.room.message into its bridged stream.
// A ghost sender means this is the bridge's own echo of a Zulip-originated
// message arriving back over the appservice transaction feed, and is
// dropped rather than re-sent. An m.replace relation is handed to
// handleMatrixEdit, which edits the mapped Zulip message natively or, when
// no mapping exists, sends a new message suffixed with editMarker.
func (b *Bridge) HandleMatrixMessage(ctx context.Context, event matrixingest.MEvent, relation *matrixingest.Relation) error {
	if b.ghosts.IsGhostUser(event.Sender) {
		return nil
	}

	room, err := b.store.Rooms().GetByMatrixRoomID(ctx, event.RoomID)
	if err != nil {
		return errors.Wrap(err, "failed to look up room mapping")
	}
	if room == nil {
		return nil
	}

	if done, err := b.alreadyProcessed(ctx, event.EventID, store.SourceMatrix); err != nil || done {
		return err
	}

	if relation != nil && relation.Kind == matrixingest.RelationEdit {
		return b.handleMatrixEdit(ctx, event, relation, room)
	}

	body, _ := event.Content["body"].(string)
	if body == "" {
		return nil
	}
	if formatted, ok := event.Content["formatted_body"].(string); ok && formatted != "" {
		body = b.htmlToMarkdown(formatted)
	}

	content := authorPrefix(event.Sender) + body
	if relation != nil && relation.Kind == matrixingest.RelationReply {
		if target, err := b.store.Messages().GetByMatrixEventID(ctx, relation.TargetEventID); err == nil && target != nil {
			content = fmt.Sprintf("**In reply to #%d**\n%s", target.ZulipMessageID, content)
		}
	}

	topic := b.cfg.DefaultTopic
	if room.ZulipTopic != nil {
		topic = *room.ZulipTopic
	}

	var zulipMessageID int64
	if room.RoomType == store.RoomTypeDirect {
		resp, err := b.zulip.SendPrivateMessage(ctx, []string{room.ZulipStreamName}, content)
		if err != nil {
			return errors.Wrap(err, "failed to send private message to zulip")
		}
		zulipMessageID = resp.ID
	} else {
		resp, err := b.zulip.SendStreamMessage(ctx, room.ZulipStreamName, topic, content)
		if err != nil {
			return errors.Wrap(err, "failed to send stream message to zulip")
		}
		zulipMessageID = resp.ID
	}

	if _, err := b.store.Messages().Create(ctx, &store.MessageMapping{
		MatrixEventID:  event.EventID,
		ZulipMessageID: zulipMessageID,
		MatrixRoomID:   event.RoomID,
		ZulipSenderID:  b.cfg.BotZulipUserID,
		MessageType:    string(room.RoomType),
	}); err != nil {
		return errors.Wrap(err, "failed to persist message mapping")
	}

	return b.markProcessed(ctx, event.EventID, store.SourceMatrix, event.Type)
}

// handleMatrixEdit applies an m.replace relation to its mapped Zulip
// message via native edit, or, if the original was never bridged (the
// mapping is missing, e.g. it predates the bridge), delivers the edit as a
// new message suffixed with editMarker.
func (b *Bridge) handleMatrixEdit(ctx context.Context, event matrixingest.MEvent, relation *matrixingest.Relation, room *store.RoomMapping) error {
	newContent, _ := event.Content["m.new_content"].(map[string]any)
	if newContent == nil {
		newContent = event.Content
	}

	body, _ := newContent["body"].(string)
	if body == "" {
		return nil
	}
	if formatted, ok := newContent["formatted_body"].(string); ok && formatted != "" {
		body = b.htmlToMarkdown(formatted)
	}

	target, err := b.store.Messages().GetByMatrixEventID(ctx, relation.TargetEventID)
	if err != nil {
		return errors.Wrap(err, "failed to look up edit target message")
	}

	if target != nil {
		content := authorPrefix(event.Sender) + body
		if err := b.zulip.EditMessage(ctx, target.ZulipMessageID, content); err != nil {
			return errors.Wrap(err, "failed to edit zulip message")
		}
		return b.markProcessed(ctx, event.EventID, store.SourceMatrix, event.Type)
	}

	content := authorPrefix(event.Sender) + body + editMarker
	topic := b.cfg.DefaultTopic
	if room.ZulipTopic != nil {
		topic = *room.ZulipTopic
	}

	var zulipMessageID int64
	if room.RoomType == store.RoomTypeDirect {
		resp, err := b.zulip.SendPrivateMessage(ctx, []string{room.ZulipStreamName}, content)
		if err != nil {
			return errors.Wrap(err, "failed to send fallback edit message to zulip")
		}
		zulipMessageID = resp.ID
	} else {
		resp, err := b.zulip.SendStreamMessage(ctx, room.ZulipStreamName, topic, content)
		if err != nil {
			return errors.Wrap(err, "failed to send fallback edit message to zulip")
		}
		zulipMessageID = resp.ID
	}

	if _, err := b.store.Messages().Create(ctx, &store.MessageMapping{
		MatrixEventID:  event.EventID,
		ZulipMessageID: zulipMessageID,
		MatrixRoomID:   event.RoomID,
		ZulipSenderID:  b.cfg.BotZulipUserID,
		MessageType:    string(room.RoomType),
	}); err != nil {
		return errors.Wrap(err, "failed to persist fallback edit message mapping")
	}

	return b.markProcessed(ctx, event.EventID, store.SourceMatrix, event.Type)
}

// HandleMatrixReaction relays an m.reaction annotation onto its mapped
// Zulip message, dropping reactions with no known target.
func (b *Bridge) HandleMatrixReaction(ctx context.Context, event matrixingest.MEvent, relation *matrixingest.Relation) error {
	if b.ghosts.IsGhostUser(event.Sender) || relation == nil || relation.Kind != matrixingest.RelationReaction {
		return nil
	}
	if done, err := b.alreadyProcessed(ctx, event.EventID, store.SourceMatrix); err != nil || done {
		return err
	}

	target, err := b.store.Messages().GetByMatrixEventID(ctx, relation.TargetEventID)
	if err != nil {
		return errors.Wrap(err, "failed to look up reaction target message")
	}
	if target == nil {
		return nil
	}

	emojiName := relation.Key
	if err := b.zulip.AddReaction(ctx, target.ZulipMessageID, emojiName); err != nil {
		return errors.Wrap(err, "failed to add zulip reaction")
	}

	if _, err := b.store.Reactions().Create(ctx, &store.ReactionMapping{
		MatrixReactionEventID: event.EventID,
		ZulipReactionID:       reactionKey(target.ZulipMessageID, emojiName, b.cfg.BotZulipUserID),
		ZulipMessageID:        target.ZulipMessageID,
		MatrixEventID:         relation.TargetEventID,
		Emoji:                 emojiName,
	}); err != nil {
		return errors.Wrap(err, "failed to persist reaction mapping")
	}

	return b.markProcessed(ctx, event.EventID, store.SourceMatrix, event.Type)
}

// HandleMatrixRedaction undoes whichever of message or reaction the
// redacted event turns out to map to.
func (b *Bridge) HandleMatrixRedaction(ctx context.Context, event matrixingest.MEvent) error {
	if b.ghosts.IsGhostUser(event.Sender) {
		return nil
	}

	redacted := event.Redacts
	if redacted == "" {
		redacted, _ = event.Content["redacts"].(string)
	}
	if redacted == "" {
		return nil
	}

	if done, err := b.alreadyProcessed(ctx, event.EventID, store.SourceMatrix); err != nil || done {
		return err
	}

	if msg, err := b.store.Messages().GetByMatrixEventID(ctx, redacted); err != nil {
		return errors.Wrap(err, "failed to look up redacted message")
	} else if msg != nil {
		if err := b.zulip.DeleteMessage(ctx, msg.ZulipMessageID); err != nil {
			return errors.Wrap(err, "failed to delete zulip message")
		}
		if err := b.store.Messages().Delete(ctx, msg.ID); err != nil {
			return errors.Wrap(err, "failed to delete message mapping")
		}
		return b.markProcessed(ctx, event.EventID, store.SourceMatrix, event.Type)
	}

	if reaction, err := b.store.Reactions().GetByMatrixReactionEventID(ctx, redacted); err != nil {
		return errors.Wrap(err, "failed to look up redacted reaction")
	} else if reaction != nil {
		if err := b.zulip.RemoveReaction(ctx, reaction.ZulipMessageID, reaction.Emoji); err != nil {
			return errors.Wrap(err, "failed to remove zulip reaction")
		}
		if err := b.store.Reactions().DeleteByMatrixReactionEventID(ctx, redacted); err != nil {
			return errors.Wrap(err, "failed to delete reaction mapping")
		}
		return b.markProcessed(ctx, event.EventID, store.SourceMatrix, event.Type)
	}

	return nil
}

// HandleMatrixRoomMeta covers m.room.name/topic/avatar: Zulip has no
// per-room metadata analogue to a Matrix room (a stream's name is set on
// Zulip's side and a topic comes from the message, not room state), so
// these are observed but not propagated.
func (b *Bridge) HandleMatrixRoomMeta(ctx context.Context, event matrixingest.MEvent) error {
	b.log.Debug().Str("room_id", event.RoomID).Str("event_type", event.Type).Msg("room metadata change is not bridged to zulip")
	return nil
}
