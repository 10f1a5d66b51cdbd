package bridge

import "encoding/json"

// zulipMessageEvent is the payload of a "message" event.
type zulipMessageEvent struct {
	Message struct {
		ID               int64           `json:"id"`
		SenderID         int64           `json:"sender_id"`
		SenderFullName   string          `json:"sender_full_name"`
		SenderEmail      string          `json:"sender_email"`
		AvatarURL        string          `json:"avatar_url"`
		Type             string          `json:"type"`
		StreamID         int64           `json:"stream_id"`
		DisplayRecipient json.RawMessage `json:"display_recipient"`
		Subject          string          `json:"subject"`
		Content          string          `json:"content"`
	} `json:"message"`
}

// streamName extracts the stream name out of display_recipient, which is a
// bare string for stream messages and a list of recipient objects for
// private messages (ignored here; direct messages are not auto-bridged).
func (e zulipMessageEvent) streamName() string {
	var name string
	if err := json.Unmarshal(e.Message.DisplayRecipient, &name); err == nil {
		return name
	}
	return ""
}

// zulipUpdateMessageEvent is the payload of an "update_message" event.
type zulipUpdateMessageEvent struct {
	MessageID int64  `json:"message_id"`
	UserID    int64  `json:"user_id"`
	Content   string `json:"content"`
	Subject   string `json:"subject"`
}

// zulipDeleteMessageEvent is the payload of a "delete_message" event.
type zulipDeleteMessageEvent struct {
	MessageID   int64  `json:"message_id"`
	MessageType string `json:"message_type"`
}

// zulipReactionEvent is the payload of a "reaction" event.
type zulipReactionEvent struct {
	Op        string `json:"op"`
	MessageID int64  `json:"message_id"`
	EmojiName string `json:"emoji_name"`
	EmojiCode string `json:"emoji_code"`
	UserID    int64  `json:"user_id"`
}

// zulipRealmUserEvent is the payload of a "realm_user" event.
type zulipRealmUserEvent struct {
	Op     string `json:"op"`
	Person struct {
		UserID    int64  `json:"user_id"`
		FullName  string `json:"full_name"`
		AvatarURL string `json:"avatar_url"`
	} `json:"person"`
}
