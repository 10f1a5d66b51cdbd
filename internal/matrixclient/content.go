package matrixclient

// HTMLFormat is the only formatted_body format Matrix clients understand.
const HTMLFormat = "org.matrix.custom.html"

// textContent builds the {msgtype, body[, format, formatted_body]} content
// shape for a plain or HTML-formatted m.room.message.
func textContent(msgtype, body, formattedBody string) map[string]any {
	content := map[string]any{
		"msgtype": msgtype,
		"body":    body,
	}
	if formattedBody != "" {
		content["format"] = HTMLFormat
		content["formatted_body"] = formattedBody
	}
	return content
}

// replyContent adds an m.in_reply_to relation to a message content map.
func replyContent(msgtype, body, formattedBody, replyToEventID string) map[string]any {
	content := textContent(msgtype, body, formattedBody)
	content["m.relates_to"] = map[string]any{
		"m.in_reply_to": map[string]any{
			"event_id": replyToEventID,
		},
	}
	return content
}

// editContent builds the m.replace edit shape: the top-level body is
// prefixed with "* " for clients that don't understand edits, the fresh
// content lives under m.new_content, and m.relates_to points at the
// original event.
func editContent(msgtype, body, formattedBody, editOfEventID string) map[string]any {
	newContent := textContent(msgtype, body, formattedBody)

	content := map[string]any{
		"msgtype": msgtype,
		"body":    "* " + body,
	}
	if formattedBody != "" {
		content["format"] = HTMLFormat
		content["formatted_body"] = "* " + formattedBody
	}
	content["m.new_content"] = newContent
	content["m.relates_to"] = map[string]any{
		"rel_type": "m.replace",
		"event_id": editOfEventID,
	}
	return content
}

// reactionContent builds the m.annotation content for an m.reaction event.
func reactionContent(targetEventID, key string) map[string]any {
	return map[string]any{
		"m.relates_to": map[string]any{
			"rel_type": "m.annotation",
			"event_id": targetEventID,
			"key":      key,
		},
	}
}
