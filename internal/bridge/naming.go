package bridge

import (
	"regexp"
	"strings"
)

var aliasUnsafeChars = regexp.MustCompile(`[^a-z0-9_.-]+`)

// sanitizeAlias lowercases name and replaces anything outside Matrix's
// safe room-alias-localpart character set with '-'.
func sanitizeAlias(name string) string {
	lower := strings.ToLower(name)
	cleaned := aliasUnsafeChars.ReplaceAllString(lower, "-")
	cleaned = strings.Trim(cleaned, "-")
	if cleaned == "" {
		cleaned = "room"
	}
	return cleaned
}

// roomDisplayName builds the Matrix room name for a (stream, topic) pair:
// "<stream>" for a per-stream room, "<stream>/<topic>" for a per-topic one.
func roomDisplayName(stream, topic string) string {
	if topic == "" {
		return stream
	}
	return stream + "/" + topic
}

// topicPrefix formats a Zulip topic as an inline marker for a message
// relayed into a per-stream (not per-topic) Matrix room, where many topics
// share one room and the topic would otherwise be lost.
func topicPrefix(topic string) string {
	if topic == "" {
		return ""
	}
	return "[" + topic + "] "
}

// authorPrefix formats a Matrix sender's MXID as a Zulip message prefix,
// since messages relayed to Zulip are posted by the single bridge bot
// account rather than a per-user puppet.
func authorPrefix(mxid string) string {
	localpart := strings.TrimPrefix(strings.SplitN(mxid, ":", 2)[0], "@")
	return "**" + localpart + "**: "
}
