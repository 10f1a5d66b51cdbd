// Package ghost provisions and tracks the Matrix "ghost" users that
// puppet Zulip accounts on the Matrix side of the bridge.
package ghost

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/palpo-im/zulipbridge/internal/matrixclient"
	"github.com/palpo-im/zulipbridge/internal/store"
)

const defaultCacheCapacity = 1000

// DefaultPrefix is the localpart prefix identifying a ghost MXID.
const DefaultPrefix = "_zulip_"

// Manager provisions ghosts, reconciles their profiles, and manages their
// room membership. A cold cache read falls through to the mapping store,
// and on a miss there provisions a brand new ghost.
type Manager struct {
	matrix *matrixclient.Client
	store  store.Store
	domain string
	prefix string
	cache  *lru
	log    zerolog.Logger
}

// New creates a ghost Manager. domain is the bridge's configured Matrix
// server name; prefix defaults to DefaultPrefix when empty.
func New(matrix *matrixclient.Client, st store.Store, domain, prefix string, log zerolog.Logger) *Manager {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Manager{
		matrix: matrix,
		store:  st,
		domain: domain,
		prefix: prefix,
		cache:  newLRU(defaultCacheCapacity),
		log:    log.With().Str("component", "ghost").Logger(),
	}
}

// MXID returns the Matrix user ID a Zulip user would be puppeted by.
func (m *Manager) MXID(zulipUserID int64) string {
	return fmt.Sprintf("@%s%d:%s", m.prefix, zulipUserID, m.domain)
}

// IsGhostUser reports whether mxid belongs to this bridge's ghost namespace.
func (m *Manager) IsGhostUser(mxid string) bool {
	localpart := strings.TrimPrefix(strings.SplitN(mxid, ":", 2)[0], "@")
	return strings.HasPrefix(localpart, m.prefix)
}

// GetOrCreateGhost returns the MXID puppeting zulipUserID, provisioning it
// on first use. displayName is set on Matrix best-effort; a failure is
// logged, not returned, since the canonical profile data lives in the
// mapping store and converges on a later call. avatarURL is only recorded in
// the mapping store here; it is not set on Matrix.
func (m *Manager) GetOrCreateGhost(ctx context.Context, zulipUserID int64, displayName, avatarURL *string, isBot bool) (string, error) {
	if cached, ok := m.cache.get(zulipUserID); ok {
		return cached.matrixUserID, nil
	}

	mapping, err := m.store.Users().GetByZulipUserID(ctx, zulipUserID)
	if err != nil {
		return "", err
	}
	if mapping != nil {
		m.cache.put(&entry{
			zulipUserID:  zulipUserID,
			matrixUserID: mapping.MatrixUserID,
			displayName:  mapping.DisplayName,
			avatarURL:    mapping.AvatarURL,
		})
		return mapping.MatrixUserID, nil
	}

	mxid := m.MXID(zulipUserID)

	// Registration is treated as idempotent: the ghost may already exist
	// from a previous bridge run, so any failure here is logged and ignored.
	if err := m.matrix.RegisterGhost(ctx, mxid); err != nil {
		m.log.Debug().Err(err).Str("mxid", mxid).Msg("ghost registration failed, assuming already registered")
	}

	if displayName != nil {
		if err := m.matrix.SetDisplayName(ctx, mxid, *displayName); err != nil {
			m.log.Debug().Err(err).Str("mxid", mxid).Msg("failed to set ghost display name")
		}
	}

	created, err := m.store.Users().Create(ctx, &store.UserMapping{
		MatrixUserID: mxid,
		ZulipUserID:  zulipUserID,
		DisplayName:  displayName,
		AvatarURL:    avatarURL,
		IsBot:        isBot,
	})
	if err != nil {
		return "", err
	}

	m.cache.put(&entry{
		zulipUserID:  zulipUserID,
		matrixUserID: created.MatrixUserID,
		displayName:  created.DisplayName,
		avatarURL:    created.AvatarURL,
	})
	return created.MatrixUserID, nil
}

// UpdateGhostProfile reconciles display name and avatar for an existing
// ghost. The store write happens unconditionally; the Matrix write is
// best-effort, since Zulip is the source of truth and a failed Matrix call
// will converge on the next profile update.
func (m *Manager) UpdateGhostProfile(ctx context.Context, zulipUserID int64, displayName, avatarURL *string) error {
	mapping, err := m.store.Users().GetByZulipUserID(ctx, zulipUserID)
	if err != nil {
		return err
	}
	if mapping == nil {
		return nil
	}

	updated, err := m.store.Users().Update(ctx, mapping.ID, store.UserChangeset{
		DisplayName: &displayName,
		AvatarURL:   &avatarURL,
	})
	if err != nil {
		return err
	}

	if displayName != nil {
		if err := m.matrix.SetDisplayName(ctx, mapping.MatrixUserID, *displayName); err != nil {
			m.log.Debug().Err(err).Str("mxid", mapping.MatrixUserID).Msg("failed to reconcile ghost display name")
		}
	}
	if avatarURL != nil {
		if err := m.matrix.SetAvatarURL(ctx, mapping.MatrixUserID, *avatarURL); err != nil {
			m.log.Debug().Err(err).Str("mxid", mapping.MatrixUserID).Msg("failed to reconcile ghost avatar")
		}
	}

	m.cache.put(&entry{
		zulipUserID:  zulipUserID,
		matrixUserID: updated.MatrixUserID,
		displayName:  updated.DisplayName,
		avatarURL:    updated.AvatarURL,
	})
	return nil
}

// EnsureGhostInRoom invites the ghost into roomID from the bot if it is not
// already present. The ghost never joins directly: its impersonated client
// has no power in the room until the bot, which holds the appservice
// namespace's invite power, puts it there.
func (m *Manager) EnsureGhostInRoom(ctx context.Context, mxid, roomID string) error {
	members, err := m.matrix.GetRoomMembers(ctx, roomID)
	if err != nil {
		return err
	}
	for _, member := range members {
		if member.UserID == mxid && (member.Membership == "join" || member.Membership == "invite") {
			return nil
		}
	}
	return m.matrix.InviteUser(ctx, roomID, mxid)
}

// RemoveGhostFromRoom makes the ghost leave roomID, impersonating it directly.
func (m *Manager) RemoveGhostFromRoom(ctx context.Context, mxid, roomID string) error {
	return m.matrix.LeaveRoom(ctx, roomID, mxid)
}

// GetZulipUserID reverse-resolves a ghost MXID to the Zulip user ID it
// puppets: cache, then store, then (only to tolerate a partial-provisioning
// crash that never reached the store write) the trailing integer in the
// localpart itself.
func (m *Manager) GetZulipUserID(ctx context.Context, mxid string) (int64, bool, error) {
	localpart := strings.TrimPrefix(strings.SplitN(mxid, ":", 2)[0], "@")
	if !strings.HasPrefix(localpart, m.prefix) {
		return 0, false, nil
	}
	suffix := strings.TrimPrefix(localpart, m.prefix)

	if zuid, err := strconv.ParseInt(suffix, 10, 64); err == nil {
		if cached, ok := m.cache.get(zuid); ok && cached.matrixUserID == mxid {
			return zuid, true, nil
		}
	}

	mapping, err := m.store.Users().GetByMatrixUserID(ctx, mxid)
	if err != nil {
		return 0, false, err
	}
	if mapping != nil {
		return mapping.ZulipUserID, true, nil
	}

	zuid, err := strconv.ParseInt(suffix, 10, 64)
	if err != nil {
		return 0, false, nil
	}
	m.log.Debug().Str("mxid", mxid).Msg("ghost resolved via localpart fallback, mapping store has no record")
	return zuid, true, nil
}
