package ghost

import (
	"context"

	"github.com/palpo-im/zulipbridge/internal/store"
)

// fakeStore is a minimal in-memory store.Store sufficient to exercise the
// Ghost Manager without a database.
type fakeStore struct {
	users *fakeUserStore
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: &fakeUserStore{byZulipID: make(map[int64]*store.UserMapping)}}
}

func (s *fakeStore) Organizations() store.OrganizationStore     { panic("not used") }
func (s *fakeStore) Rooms() store.RoomStore                     { panic("not used") }
func (s *fakeStore) Users() store.UserStore                     { return s.users }
func (s *fakeStore) Messages() store.MessageStore               { panic("not used") }
func (s *fakeStore) Reactions() store.ReactionStore             { panic("not used") }
func (s *fakeStore) ProcessedEvents() store.ProcessedEventStore { panic("not used") }
func (s *fakeStore) Reset(ctx context.Context) error            { return nil }
func (s *fakeStore) Close() error                                { return nil }

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
			if cs.Email != nil {
				u.Email = *cs.Email
			}
			if cs.IsBot != nil {
				u.IsBot = *cs.IsBot
			}
			return u, nil
		}
	}
	return nil, nil
}

func (s *fakeUserStore) Delete(ctx context.Context, id int64) error {
	for zuid, u := range s.byZulipID {
		if u.ID == id {
			delete(s.byZulipID, zuid)
		}
	}
	return nil
}

func (s *fakeUserStore) Exists(ctx context.Context, zulipUserID int64) (bool, error) {
	_, ok := s.byZulipID[zulipUserID]
	return ok, nil
}
