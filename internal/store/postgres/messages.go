package postgres

import (
	"context"
	"database/sql"

	"github.com/palpo-im/zulipbridge/internal/bridgeerr"
	"github.com/palpo-im/zulipbridge/internal/store"
)

type messageStore struct {
	db *sql.DB
}

const messageColumns = "id, matrix_event_id, zulip_message_id, matrix_room_id, zulip_sender_id, message_type, created_at"

func scanMessage(row interface{ Scan(dest ...any) error }) (*store.MessageMapping, error) {
	var m store.MessageMapping
	err := row.Scan(&m.ID, &m.MatrixEventID, &m.ZulipMessageID, &m.MatrixRoomID, &m.ZulipSenderID,
		&m.MessageType, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *messageStore) Create(ctx context.Context, msg *store.MessageMapping) (*store.MessageMapping, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO message_mappings (matrix_event_id, zulip_message_id, matrix_room_id, zulip_sender_id, message_type)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+messageColumns,
		msg.MatrixEventID, msg.ZulipMessageID, msg.MatrixRoomID, msg.ZulipSenderID, msg.MessageType)
	result, err := scanMessage(row)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.Query, err, "failed to create message mapping")
	}
	return result, nil
}

func (s *messageStore) Get(ctx context.Context, id int64) (*store.MessageMapping, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM message_mappings WHERE id = $1`, id)
	result, err := scanMessage(row)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.Query, err, "failed to get message mapping")
	}
	return result, nil
}

func (s *messageStore) GetByMatrixEventID(ctx context.Context, matrixEventID string) (*store.MessageMapping, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM message_mappings WHERE matrix_event_id = $1`, matrixEventID)
	result, err := scanMessage(row)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.Query, err, "failed to get message mapping by matrix event id")
	}
	return result, nil
}

func (s *messageStore) GetByZulipMessageID(ctx context.Context, zulipMessageID int64) (*store.MessageMapping, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM message_mappings WHERE zulip_message_id = $1`, zulipMessageID)
	result, err := scanMessage(row)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.Query, err, "failed to get message mapping by zulip message id")
	}
	return result, nil
}

func (s *messageStore) Delete(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM message_mappings WHERE id = $1`, id); err != nil {
		return bridgeerr.Wrap(bridgeerr.Query, err, "failed to delete message mapping")
	}
	return nil
}

func (s *messageStore) ListByRoom(ctx context.Context, matrixRoomID string, limit int) ([]*store.MessageMapping, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM message_mappings
		WHERE matrix_room_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		matrixRoomID, limit)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.Query, err, "failed to list message mappings")
	}
	defer rows.Close()

	var results []*store.MessageMapping
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, bridgeerr.Wrap(bridgeerr.Query, err, "failed to scan message mapping")
		}
		results = append(results, m)
	}
	return results, rows.Err()
}
