// Package store defines the Mapping Store: the authoritative translation
// layer between Side-M (Matrix) and Side-Z (Zulip) identifiers. It is the
// single long-lived shared mutable resource in the bridge; every other
// component holds only values read from it, never references.
package store

import "time"

// RoomType distinguishes how a RoomMapping's Matrix room was scoped.
type RoomType string

const (
	RoomTypeStream RoomType = "stream"
	RoomTypeDirect RoomType = "direct"
	RoomTypeTopic  RoomType = "topic"
)

// Organization is a bridged Side-Z realm / organization.
type Organization struct {
	ID                int64
	OrgID             string
	DisplayName       string
	ZulipSiteURL      string
	BotEmail          string
	APIKey            string
	Connected         bool
	MaxBackfillAmount int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// RoomMapping translates between a Matrix room and a (organization, stream,
// optional topic) tuple.
type RoomMapping struct {
	ID              int64
	MatrixRoomID    string
	OrganizationID  string
	ZulipStreamID   int64
	ZulipTopic      *string
	ZulipStreamName string
	RoomType        RoomType
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// UserMapping translates between a Matrix ghost user and a Side-Z user.
type UserMapping struct {
	ID            int64
	MatrixUserID  string
	ZulipUserID   int64
	Email         *string
	DisplayName   *string
	AvatarURL     *string
	IsBot         bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// MessageMapping correlates a single message across both sides.
type MessageMapping struct {
	ID             int64
	MatrixEventID  string
	ZulipMessageID int64
	MatrixRoomID   string
	ZulipSenderID  int64
	MessageType    string
	CreatedAt      time.Time
}

// ReactionMapping correlates a single reaction across both sides.
type ReactionMapping struct {
	ID                     int64
	MatrixReactionEventID  string
	ZulipReactionID        int64
	ZulipMessageID         int64
	MatrixEventID          string
	Emoji                  string
	CreatedAt              time.Time
}

// EventSource identifies which side an idempotency record belongs to.
type EventSource string

const (
	SourceMatrix EventSource = "matrix"
	SourceZulip  EventSource = "zulip"
)

// ProcessedEvent is an idempotency record: its presence means the
// corresponding side effect has already been acknowledged as complete.
type ProcessedEvent struct {
	ID          int64
	EventID     string
	Source      EventSource
	EventType   string
	ProcessedAt time.Time
}
