package postgres

import (
	"context"
	"database/sql"

	"github.com/palpo-im/zulipbridge/internal/bridgeerr"
	"github.com/palpo-im/zulipbridge/internal/store"
)

type roomStore struct {
	db *sql.DB
}

const roomColumns = "id, matrix_room_id, organization_id, zulip_stream_id, zulip_topic, zulip_stream_name, room_type, created_at, updated_at"

func scanRoom(row interface{ Scan(dest ...any) error }) (*store.RoomMapping, error) {
	var r store.RoomMapping
	err := row.Scan(&r.ID, &r.MatrixRoomID, &r.OrganizationID, &r.ZulipStreamID, &r.ZulipTopic,
		&r.ZulipStreamName, &r.RoomType, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *roomStore) Create(ctx context.Context, room *store.RoomMapping) (*store.RoomMapping, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO room_mappings (matrix_room_id, organization_id, zulip_stream_id, zulip_topic, zulip_stream_name, room_type)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+roomColumns,
		room.MatrixRoomID, room.OrganizationID, room.ZulipStreamID, room.ZulipTopic, room.ZulipStreamName, room.RoomType)
	result, err := scanRoom(row)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.Query, err, "failed to create room mapping")
	}
	return result, nil
}

func (s *roomStore) Get(ctx context.Context, id int64) (*store.RoomMapping, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+roomColumns+` FROM room_mappings WHERE id = $1`, id)
	result, err := scanRoom(row)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.Query, err, "failed to get room mapping")
	}
	return result, nil
}

func (s *roomStore) GetByMatrixRoomID(ctx context.Context, matrixRoomID string) (*store.RoomMapping, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+roomColumns+` FROM room_mappings WHERE matrix_room_id = $1`, matrixRoomID)
	result, err := scanRoom(row)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.Query, err, "failed to get room mapping by matrix room id")
	}
	return result, nil
}

func (s *roomStore) GetByStream(ctx context.Context, organizationID string, zulipStreamID int64, zulipTopic *string) (*store.RoomMapping, error) {
	// zulip_topic participates in the unique key via NULL-aware comparison:
	// IS NOT DISTINCT FROM treats NULL = NULL as true, matching the
	// (organization_id, zulip_stream_id, zulip_topic) uniqueness invariant.
	row := s.db.QueryRowContext(ctx, `
		SELECT `+roomColumns+` FROM room_mappings
		WHERE organization_id = $1 AND zulip_stream_id = $2 AND zulip_topic IS NOT DISTINCT FROM $3`,
		organizationID, zulipStreamID, zulipTopic)
	result, err := scanRoom(row)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.Query, err, "failed to get room mapping by stream")
	}
	return result, nil
}

func (s *roomStore) Update(ctx context.Context, id int64, cs store.RoomChangeset) (*store.RoomMapping, error) {
	var topicParam any
	if cs.ZulipTopic != nil {
		topicParam = *cs.ZulipTopic
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE room_mappings SET
			zulip_stream_name = COALESCE($2, zulip_stream_name),
			zulip_topic = CASE WHEN $3::boolean THEN $4 ELSE zulip_topic END,
			updated_at = now()
		WHERE id = $1
		RETURNING `+roomColumns,
		id, cs.ZulipStreamName, cs.ZulipTopic != nil, topicParam)
	result, err := scanRoom(row)
	if isNotFound(err) {
		return nil, bridgeerr.New(bridgeerr.NotFound, err)
	}
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.Query, err, "failed to update room mapping")
	}
	return result, nil
}

func (s *roomStore) Delete(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM room_mappings WHERE id = $1`, id); err != nil {
		return bridgeerr.Wrap(bridgeerr.Query, err, "failed to delete room mapping")
	}
	return nil
}

func (s *roomStore) Exists(ctx context.Context, matrixRoomID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM room_mappings WHERE matrix_room_id = $1)`, matrixRoomID).Scan(&exists)
	if err != nil {
		return false, bridgeerr.Wrap(bridgeerr.Query, err, "failed to check room mapping existence")
	}
	return exists, nil
}

func (s *roomStore) ListByOrganization(ctx context.Context, organizationID string) ([]*store.RoomMapping, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+roomColumns+` FROM room_mappings WHERE organization_id = $1 ORDER BY id`, organizationID)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.Query, err, "failed to list room mappings")
	}
	defer rows.Close()

	var results []*store.RoomMapping
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, bridgeerr.Wrap(bridgeerr.Query, err, "failed to scan room mapping")
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
