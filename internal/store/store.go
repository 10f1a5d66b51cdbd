package store

import (
	"context"
	"time"
)

// OrganizationStore manages Organization rows.
type OrganizationStore interface {
	Create(ctx context.Context, org *Organization) (*Organization, error)
	Get(ctx context.Context, id int64) (*Organization, error)
	GetByOrgID(ctx context.Context, orgID string) (*Organization, error)
	Update(ctx context.Context, orgID string, changeset OrganizationChangeset) (*Organization, error)
	Delete(ctx context.Context, orgID string) error
	Exists(ctx context.Context, orgID string) (bool, error)
	List(ctx context.Context) ([]*Organization, error)
}

// OrganizationChangeset carries the fields a caller may update; nil fields
// are left untouched.
type OrganizationChangeset struct {
	DisplayName       *string
	ZulipSiteURL      *string
	BotEmail          *string
	APIKey            *string
	Connected         *bool
	MaxBackfillAmount *int
}

// RoomStore manages RoomMapping rows.
type RoomStore interface {
	Create(ctx context.Context, room *RoomMapping) (*RoomMapping, error)
	Get(ctx context.Context, id int64) (*RoomMapping, error)
	GetByMatrixRoomID(ctx context.Context, matrixRoomID string) (*RoomMapping, error)
	GetByStream(ctx context.Context, organizationID string, zulipStreamID int64, zulipTopic *string) (*RoomMapping, error)
	Update(ctx context.Context, id int64, changeset RoomChangeset) (*RoomMapping, error)
	Delete(ctx context.Context, id int64) error
	Exists(ctx context.Context, matrixRoomID string) (bool, error)
	ListByOrganization(ctx context.Context, organizationID string) ([]*RoomMapping, error)
}

// RoomChangeset carries the fields a caller may update on a RoomMapping.
type RoomChangeset struct {
	ZulipStreamName *string
	ZulipTopic      **string
}

// UserStore manages UserMapping rows.
type UserStore interface {
	Create(ctx context.Context, user *UserMapping) (*UserMapping, error)
	Get(ctx context.Context, id int64) (*UserMapping, error)
	GetByMatrixUserID(ctx context.Context, matrixUserID string) (*UserMapping, error)
	GetByZulipUserID(ctx context.Context, zulipUserID int64) (*UserMapping, error)
	Update(ctx context.Context, id int64, changeset UserChangeset) (*UserMapping, error)
	Delete(ctx context.Context, id int64) error
	Exists(ctx context.Context, zulipUserID int64) (bool, error)
}

// UserChangeset carries the fields a caller may update on a UserMapping.
type UserChangeset struct {
	Email       **string
	DisplayName **string
	AvatarURL   **string
	IsBot       *bool
}

// MessageStore manages MessageMapping rows.
type MessageStore interface {
	Create(ctx context.Context, msg *MessageMapping) (*MessageMapping, error)
	Get(ctx context.Context, id int64) (*MessageMapping, error)
	GetByMatrixEventID(ctx context.Context, matrixEventID string) (*MessageMapping, error)
	GetByZulipMessageID(ctx context.Context, zulipMessageID int64) (*MessageMapping, error)
	Delete(ctx context.Context, id int64) error
	ListByRoom(ctx context.Context, matrixRoomID string, limit int) ([]*MessageMapping, error)
}

// ReactionStore manages ReactionMapping rows.
type ReactionStore interface {
	Create(ctx context.Context, reaction *ReactionMapping) (*ReactionMapping, error)
	GetByMatrixReactionEventID(ctx context.Context, eventID string) (*ReactionMapping, error)
	GetByZulipReactionID(ctx context.Context, reactionID int64) (*ReactionMapping, error)
	DeleteByMatrixReactionEventID(ctx context.Context, eventID string) error
	DeleteByZulipReactionID(ctx context.Context, reactionID int64) error
	ListByMessage(ctx context.Context, zulipMessageID int64) ([]*ReactionMapping, error)
}

// ProcessedEventStore manages idempotency records.
type ProcessedEventStore interface {
	Create(ctx context.Context, event *ProcessedEvent) (*ProcessedEvent, error)
	Exists(ctx context.Context, eventID string, source EventSource) (bool, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Store composes the six sub-stores behind a single interface, so the rest
// of the bridge depends on an interface rather than a concrete backend.
// The concrete implementation is selected at startup from configuration
// (see internal/store/postgres).
type Store interface {
	Organizations() OrganizationStore
	Rooms() RoomStore
	Users() UserStore
	Messages() MessageStore
	Reactions() ReactionStore
	ProcessedEvents() ProcessedEventStore

	// Reset deletes every row from all six tables. Used by the --reset CLI flag.
	Reset(ctx context.Context) error

	// Close releases underlying connections.
	Close() error
}
