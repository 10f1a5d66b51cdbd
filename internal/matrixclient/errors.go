package matrixclient

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Error represents a Matrix API error response (the M_* errcode family).
type Error struct {
	ErrCode    string `json:"errcode"`
	ErrMsg     string `json:"error"`
	StatusCode int    `json:"-"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("matrix API error: %d %s - %s", e.StatusCode, e.ErrCode, e.ErrMsg)
}

// IsAlreadyJoined reports whether the error indicates the caller is already
// a member of the room it tried to join or was invited to.
func (e *Error) IsAlreadyJoined() bool {
	return e.ErrCode == "M_BAD_STATE" ||
		strings.Contains(strings.ToLower(e.ErrMsg), "already joined") ||
		strings.Contains(strings.ToLower(e.ErrMsg), "already in the room")
}

// IsForbidden reports whether the error is a plain M_FORBIDDEN / not-invited rejection.
func (e *Error) IsForbidden() bool {
	return e.StatusCode == 403 || e.ErrCode == "M_FORBIDDEN" ||
		strings.Contains(strings.ToLower(e.ErrMsg), "not invited")
}

func parseMatrixError(statusCode int, body []byte) *Error {
	var mErr Error
	mErr.StatusCode = statusCode
	if err := json.Unmarshal(body, &mErr); err != nil {
		mErr.ErrCode = "UNKNOWN"
		mErr.ErrMsg = string(body)
	}
	return &mErr
}
