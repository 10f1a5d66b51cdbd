package zulipclient

import "fmt"

// Error is a Zulip API failure: {result:"error", msg, code?}.
type Error struct {
	Msg        string
	Code       string
	StatusCode int
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("zulip error %s: %s", e.Code, e.Msg)
	}
	return fmt.Sprintf("zulip error: %s", e.Msg)
}

// IsQueueGone reports whether this error indicates the event queue was
// garbage-collected server-side; the ingest loop treats this as
// "re-register from scratch" rather than a transient failure.
func (e *Error) IsQueueGone() bool {
	return e.Code == "BAD_EVENT_QUEUE_ID"
}
