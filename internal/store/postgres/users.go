package postgres

import (
	"context"
	"database/sql"

	"github.com/palpo-im/zulipbridge/internal/bridgeerr"
	"github.com/palpo-im/zulipbridge/internal/store"
)

type userStore struct {
	db *sql.DB
}

const userColumns = "id, matrix_user_id, zulip_user_id, email, display_name, avatar_url, is_bot, created_at, updated_at"

func scanUser(row interface{ Scan(dest ...any) error }) (*store.UserMapping, error) {
	var u store.UserMapping
	err := row.Scan(&u.ID, &u.MatrixUserID, &u.ZulipUserID, &u.Email, &u.DisplayName, &u.AvatarURL,
		&u.IsBot, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *userStore) Create(ctx context.Context, user *store.UserMapping) (*store.UserMapping, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO user_mappings (matrix_user_id, zulip_user_id, email, display_name, avatar_url, is_bot)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+userColumns,
		user.MatrixUserID, user.ZulipUserID, user.Email, user.DisplayName, user.AvatarURL, user.IsBot)
	result, err := scanUser(row)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.Query, err, "failed to create user mapping")
	}
	return result, nil
}

func (s *userStore) Get(ctx context.Context, id int64) (*store.UserMapping, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM user_mappings WHERE id = $1`, id)
	result, err := scanUser(row)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.Query, err, "failed to get user mapping")
	}
	return result, nil
}

func (s *userStore) GetByMatrixUserID(ctx context.Context, matrixUserID string) (*store.UserMapping, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM user_mappings WHERE matrix_user_id = $1`, matrixUserID)
	result, err := scanUser(row)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.Query, err, "failed to get user mapping by matrix user id")
	}
	return result, nil
}

func (s *userStore) GetByZulipUserID(ctx context.Context, zulipUserID int64) (*store.UserMapping, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM user_mappings WHERE zulip_user_id = $1`, zulipUserID)
	result, err := scanUser(row)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.Query, err, "failed to get user mapping by zulip user id")
	}
	return result, nil
}

func (s *userStore) Update(ctx context.Context, id int64, cs store.UserChangeset) (*store.UserMapping, error) {
	var email, displayName, avatarURL any
	if cs.Email != nil {
		email = *cs.Email
	}
	if cs.DisplayName != nil {
		displayName = *cs.DisplayName
	}
	if cs.AvatarURL != nil {
		avatarURL = *cs.AvatarURL
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE user_mappings SET
			email = CASE WHEN $2::boolean THEN $3 ELSE email END,
			display_name = CASE WHEN $4::boolean THEN $5 ELSE display_name END,
			avatar_url = CASE WHEN $6::boolean THEN $7 ELSE avatar_url END,
			is_bot = COALESCE($8, is_bot),
			updated_at = now()
		WHERE id = $1
		RETURNING `+userColumns,
		id, cs.Email != nil, email, cs.DisplayName != nil, displayName, cs.AvatarURL != nil, avatarURL, cs.IsBot)
	result, err := scanUser(row)
	if isNotFound(err) {
		return nil, bridgeerr.New(bridgeerr.NotFound, err)
	}
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.Query, err, "failed to update user mapping")
	}
	return result, nil
}

func (s *userStore) Delete(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM user_mappings WHERE id = $1`, id); err != nil {
		return bridgeerr.Wrap(bridgeerr.Query, err, "failed to delete user mapping")
	}
	return nil
}

func (s *userStore) Exists(ctx context.Context, zulipUserID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM user_mappings WHERE zulip_user_id = $1)`, zulipUserID).Scan(&exists)
	if err != nil {
		return false, bridgeerr.Wrap(bridgeerr.Query, err, "failed to check user mapping existence")
	}
	return exists, nil
}
