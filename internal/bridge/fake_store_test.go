package bridge

import (
	"context"
	"time"

	"github.com/palpo-im/zulipbridge/internal/store"
)

// fakeStore is a minimal in-memory store.Store sufficient to exercise the
// bridge core without a database.
type fakeStore struct {
	rooms      *fakeRoomStore
	users      *fakeUserStore
	messages   *fakeMessageStore
	reactions  *fakeReactionStore
	processed  *fakeProcessedEventStore
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rooms:     &fakeRoomStore{byMatrixRoomID: make(map[string]*store.RoomMapping)},
		users:     &fakeUserStore{byZulipID: make(map[int64]*store.UserMapping)},
		messages:  &fakeMessageStore{byMatrixEventID: make(map[string]*store.MessageMapping), byZulipMessageID: make(map[int64]*store.MessageMapping)},
		reactions: &fakeReactionStore{byMatrixEventID: make(map[string]*store.ReactionMapping), byZulipReactionID: make(map[int64]*store.ReactionMapping)},
		processed: &fakeProcessedEventStore{seen: make(map[string]bool)},
	}
}

func (s *fakeStore) Organizations() store.OrganizationStore     { panic("not used") }
func (s *fakeStore) Rooms() store.RoomStore                     { return s.rooms }
func (s *fakeStore) Users() store.UserStore                     { return s.users }
func (s *fakeStore) Messages() store.MessageStore               { return s.messages }
func (s *fakeStore) Reactions() store.ReactionStore              { return s.reactions }
func (s *fakeStore) ProcessedEvents() store.ProcessedEventStore  { return s.processed }
func (s *fakeStore) Reset(ctx context.Context) error             { return nil }
func (s *fakeStore) Close() error                                { return nil }

type fakeRoomStore struct {
	byMatrixRoomID map[string]*store.RoomMapping
	nextID         int64
}

func (s *fakeRoomStore) Create(ctx context.Context, room *store.RoomMapping) (*store.RoomMapping, error) {
	s.nextID++
	copied := *room
	copied.ID = s.nextID
	s.byMatrixRoomID[room.MatrixRoomID] = &copied
	return &copied, nil
}

func (s *fakeRoomStore) Get(ctx context.Context, id int64) (*store.RoomMapping, error) {
	for _, r := range s.byMatrixRoomID {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, nil
}

func (s *fakeRoomStore) GetByMatrixRoomID(ctx context.Context, matrixRoomID string) (*store.RoomMapping, error) {
	return s.byMatrixRoomID[matrixRoomID], nil
}

func (s *fakeRoomStore) GetByStream(ctx context.Context, organizationID string, zulipStreamID int64, zulipTopic *string) (*store.RoomMapping, error) {
	for _, r := range s.byMatrixRoomID {
		if r.OrganizationID != organizationID || r.ZulipStreamID != zulipStreamID {
			continue
		}
		if (r.ZulipTopic == nil) != (zulipTopic == nil) {
			continue
		}
		if r.ZulipTopic != nil && zulipTopic != nil && *r.ZulipTopic != *zulipTopic {
			continue
		}
		return r, nil
	}
	return nil, nil
}

func (s *fakeRoomStore) Update(ctx context.Context, id int64, cs store.RoomChangeset) (*store.RoomMapping, error) {
	panic("not used")
}
func (s *fakeRoomStore) Delete(ctx context.Context, id int64) error { panic("not used") }
func (s *fakeRoomStore) Exists(ctx context.Context, matrixRoomID string) (bool, error) {
	_, ok := s.byMatrixRoomID[matrixRoomID]
	return ok, nil
}
func (s *fakeRoomStore) ListByOrganization(ctx context.Context, organizationID string) ([]*store.RoomMapping, error) {
	panic("not used")
}

type fakeUserStore struct {
	byZulipID map[int64]*store.UserMapping
	nextID    int64
}

func (s *fakeUserStore) Create(ctx context.Context, user *store.UserMapping) (*store.UserMapping, error) {
	s.nextID++
	copied := *user
	copied.ID = s.nextID
	s.byZulipID[user.ZulipUserID] = &copied
	return &copied, nil
}
func (s *fakeUserStore) Get(ctx context.Context, id int64) (*store.UserMapping, error) {
	for _, u := range s.byZulipID {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, nil
}
func (s *fakeUserStore) GetByMatrixUserID(ctx context.Context, matrixUserID string) (*store.UserMapping, error) {
	for _, u := range s.byZulipID {
		if u.MatrixUserID == matrixUserID {
			return u, nil
		}
	}
	return nil, nil
}
func (s *fakeUserStore) GetByZulipUserID(ctx context.Context, zulipUserID int64) (*store.UserMapping, error) {
	return s.byZulipID[zulipUserID], nil
}
func (s *fakeUserStore) Update(ctx context.Context, id int64, cs store.UserChangeset) (*store.UserMapping, error) {
	for _, u := range s.byZulipID {
		if u.ID == id {
			if cs.DisplayName != nil {
				u.DisplayName = *cs.DisplayName
			}
			if cs.AvatarURL != nil {
				u.AvatarURL = *cs.AvatarURL
			}
			return u, nil
		}
	}
	return nil, nil
}
func (s *fakeUserStore) Delete(ctx context.Context, id int64) error { panic("not used") }
func (s *fakeUserStore) Exists(ctx context.Context, zulipUserID int64) (bool, error) {
	_, ok := s.byZulipID[zulipUserID]
	return ok, nil
}

type fakeMessageStore struct {
	byMatrixEventID  map[string]*store.MessageMapping
	byZulipMessageID map[int64]*store.MessageMapping
	nextID           int64
}

func (s *fakeMessageStore) Create(ctx context.Context, msg *store.MessageMapping) (*store.MessageMapping, error) {
	s.nextID++
	copied := *msg
	copied.ID = s.nextID
	copied.CreatedAt = time.Unix(0, 0)
	s.byMatrixEventID[msg.MatrixEventID] = &copied
	s.byZulipMessageID[msg.ZulipMessageID] = &copied
	return &copied, nil
}
func (s *fakeMessageStore) Get(ctx context.Context, id int64) (*store.MessageMapping, error) {
	panic("not used")
}
func (s *fakeMessageStore) GetByMatrixEventID(ctx context.Context, matrixEventID string) (*store.MessageMapping, error) {
	return s.byMatrixEventID[matrixEventID], nil
}
func (s *fakeMessageStore) GetByZulipMessageID(ctx context.Context, zulipMessageID int64) (*store.MessageMapping, error) {
	return s.byZulipMessageID[zulipMessageID], nil
}
func (s *fakeMessageStore) Delete(ctx context.Context, id int64) error { return nil }
func (s *fakeMessageStore) ListByRoom(ctx context.Context, matrixRoomID string, limit int) ([]*store.MessageMapping, error) {
	panic("not used")
}

type fakeReactionStore struct {
	byMatrixEventID   map[string]*store.ReactionMapping
	byZulipReactionID map[int64]*store.ReactionMapping
	nextID            int64
}

func (s *fakeReactionStore) Create(ctx context.Context, r *store.ReactionMapping) (*store.ReactionMapping, error) {
	s.nextID++
	copied := *r
	copied.ID = s.nextID
	s.byMatrixEventID[r.MatrixReactionEventID] = &copied
	s.byZulipReactionID[r.ZulipReactionID] = &copied
	return &copied, nil
}
func (s *fakeReactionStore) GetByMatrixReactionEventID(ctx context.Context, eventID string) (*store.ReactionMapping, error) {
	return s.byMatrixEventID[eventID], nil
}
func (s *fakeReactionStore) GetByZulipReactionID(ctx context.Context, reactionID int64) (*store.ReactionMapping, error) {
	return s.byZulipReactionID[reactionID], nil
}
func (s *fakeReactionStore) DeleteByMatrixReactionEventID(ctx context.Context, eventID string) error {
	if r, ok := s.byMatrixEventID[eventID]; ok {
		delete(s.byZulipReactionID, r.ZulipReactionID)
		delete(s.byMatrixEventID, eventID)
	}
	return nil
}
func (s *fakeReactionStore) DeleteByZulipReactionID(ctx context.Context, reactionID int64) error {
	if r, ok := s.byZulipReactionID[reactionID]; ok {
		delete(s.byMatrixEventID, r.MatrixReactionEventID)
		delete(s.byZulipReactionID, reactionID)
	}
	return nil
}
func (s *fakeReactionStore) ListByMessage(ctx context.Context, zulipMessageID int64) ([]*store.ReactionMapping, error) {
	panic("not used")
}

type fakeProcessedEventStore struct {
	seen map[string]bool
}

func (s *fakeProcessedEventStore) Create(ctx context.Context, event *store.ProcessedEvent) (*store.ProcessedEvent, error) {
	s.seen[string(event.Source)+":"+event.EventID] = true
	return event, nil
}
func (s *fakeProcessedEventStore) Exists(ctx context.Context, eventID string, source store.EventSource) (bool, error) {
	return s.seen[string(source)+":"+eventID], nil
}
func (s *fakeProcessedEventStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}
