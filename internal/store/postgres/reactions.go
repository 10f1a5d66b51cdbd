package postgres

import (
	"context"
	"database/sql"

	"github.com/palpo-im/zulipbridge/internal/bridgeerr"
	"github.com/palpo-im/zulipbridge/internal/store"
)

type reactionStore struct {
	db *sql.DB
}

const reactionColumns = "id, matrix_reaction_event_id, zulip_reaction_id, zulip_message_id, matrix_event_id, emoji, created_at"

func scanReaction(row interface{ Scan(dest ...any) error }) (*store.ReactionMapping, error) {
	var r store.ReactionMapping
	err := row.Scan(&r.ID, &r.MatrixReactionEventID, &r.ZulipReactionID, &r.ZulipMessageID,
		&r.MatrixEventID, &r.Emoji, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *reactionStore) Create(ctx context.Context, reaction *store.ReactionMapping) (*store.ReactionMapping, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO reaction_mappings (matrix_reaction_event_id, zulip_reaction_id, zulip_message_id, matrix_event_id, emoji)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+reactionColumns,
		reaction.MatrixReactionEventID, reaction.ZulipReactionID, reaction.ZulipMessageID, reaction.MatrixEventID, reaction.Emoji)
	result, err := scanReaction(row)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.Query, err, "failed to create reaction mapping")
	}
	return result, nil
}

func (s *reactionStore) GetByMatrixReactionEventID(ctx context.Context, eventID string) (*store.ReactionMapping, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reactionColumns+` FROM reaction_mappings WHERE matrix_reaction_event_id = $1`, eventID)
	result, err := scanReaction(row)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.Query, err, "failed to get reaction mapping by matrix reaction event id")
	}
	return result, nil
}

func (s *reactionStore) GetByZulipReactionID(ctx context.Context, reactionID int64) (*store.ReactionMapping, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reactionColumns+` FROM reaction_mappings WHERE zulip_reaction_id = $1`, reactionID)
	result, err := scanReaction(row)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.Query, err, "failed to get reaction mapping by zulip reaction id")
	}
	return result, nil
}

func (s *reactionStore) DeleteByMatrixReactionEventID(ctx context.Context, eventID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM reaction_mappings WHERE matrix_reaction_event_id = $1`, eventID); err != nil {
		return bridgeerr.Wrap(bridgeerr.Query, err, "failed to delete reaction mapping by matrix reaction event id")
	}
	return nil
}

func (s *reactionStore) DeleteByZulipReactionID(ctx context.Context, reactionID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM reaction_mappings WHERE zulip_reaction_id = $1`, reactionID); err != nil {
		return bridgeerr.Wrap(bridgeerr.Query, err, "failed to delete reaction mapping by zulip reaction id")
	}
	return nil
}

func (s *reactionStore) ListByMessage(ctx context.Context, zulipMessageID int64) ([]*store.ReactionMapping, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+reactionColumns+` FROM reaction_mappings WHERE zulip_message_id = $1 ORDER BY id`, zulipMessageID)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.Query, err, "failed to list reaction mappings")
	}
	defer rows.Close()

	var results []*store.ReactionMapping
	for rows.Next() {
		r, err := scanReaction(rows)
		if err != nil {
			return nil, bridgeerr.Wrap(bridgeerr.Query, err, "failed to scan reaction mapping")
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
