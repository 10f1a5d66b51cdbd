// Package postgres is the PostgreSQL-backed implementation of
// internal/store.Store. Per the design's Open Questions, this is the only
// backend implemented; sqlite and mysql are recognized by configuration
// validation but rejected as NotImplemented rather than stubbed out here.
package postgres

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/palpo-im/zulipbridge/internal/bridgeerr"
	"github.com/palpo-im/zulipbridge/internal/store"
)

// Store is the PostgreSQL-backed Mapping Store.
type Store struct {
	db              *sql.DB
	organizations   *organizationStore
	rooms           *roomStore
	users           *userStore
	messages        *messageStore
	reactions       *reactionStore
	processedEvents *processedEventStore
}

// Open connects to dsn, applies the schema, and returns a ready Store.
func Open(ctx context.Context, dsn string, maxOpenConns int) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.Connection, err, "failed to open database")
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.Connection, err, "failed to reach database")
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.Query, err, "failed to apply schema")
	}

	return &Store{
		db:              db,
		organizations:   &organizationStore{db: db},
		rooms:           &roomStore{db: db},
		users:           &userStore{db: db},
		messages:        &messageStore{db: db},
		reactions:       &reactionStore{db: db},
		processedEvents: &processedEventStore{db: db},
	}, nil
}

func (s *Store) Organizations() store.OrganizationStore     { return s.organizations }
func (s *Store) Rooms() store.RoomStore                     { return s.rooms }
func (s *Store) Users() store.UserStore                     { return s.users }
func (s *Store) Messages() store.MessageStore               { return s.messages }
func (s *Store) Reactions() store.ReactionStore             { return s.reactions }
func (s *Store) ProcessedEvents() store.ProcessedEventStore { return s.processedEvents }

// Reset deletes every row from all six tables, in dependency order.
func (s *Store) Reset(ctx context.Context) error {
	tables := []string{
		"reaction_mappings",
		"message_mappings",
		"processed_events",
		"room_mappings",
		"user_mappings",
		"organizations",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return bridgeerr.Wrap(bridgeerr.Query, err, "failed to reset table "+table)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// isNotFound reports whether err is sql.ErrNoRows, the signal that a
// single-row query found nothing — which is not itself an error condition
// for the Mapping Store's optional-returning methods.
func isNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
