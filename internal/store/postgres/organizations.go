package postgres

import (
	"context"
	"database/sql"

	"github.com/palpo-im/zulipbridge/internal/bridgeerr"
	"github.com/palpo-im/zulipbridge/internal/store"
)

type organizationStore struct {
	db *sql.DB
}

func scanOrganization(row interface {
	Scan(dest ...any) error
}) (*store.Organization, error) {
	var o store.Organization
	err := row.Scan(&o.ID, &o.OrgID, &o.DisplayName, &o.ZulipSiteURL, &o.BotEmail, &o.APIKey,
		&o.Connected, &o.MaxBackfillAmount, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

const orgColumns = "id, org_id, display_name, zulip_site_url, bot_email, api_key, connected, max_backfill_amount, created_at, updated_at"

func (s *organizationStore) Create(ctx context.Context, org *store.Organization) (*store.Organization, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO organizations (org_id, display_name, zulip_site_url, bot_email, api_key, connected, max_backfill_amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+orgColumns,
		org.OrgID, org.DisplayName, org.ZulipSiteURL, org.BotEmail, org.APIKey, org.Connected, org.MaxBackfillAmount)
	result, err := scanOrganization(row)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.Query, err, "failed to create organization")
	}
	return result, nil
}

func (s *organizationStore) Get(ctx context.Context, id int64) (*store.Organization, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orgColumns+` FROM organizations WHERE id = $1`, id)
	result, err := scanOrganization(row)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.Query, err, "failed to get organization")
	}
	return result, nil
}

func (s *organizationStore) GetByOrgID(ctx context.Context, orgID string) (*store.Organization, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orgColumns+` FROM organizations WHERE org_id = $1`, orgID)
	result, err := scanOrganization(row)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.Query, err, "failed to get organization by org_id")
	}
	return result, nil
}

func (s *organizationStore) Update(ctx context.Context, orgID string, cs store.OrganizationChangeset) (*store.Organization, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE organizations SET
			display_name = COALESCE($2, display_name),
			zulip_site_url = COALESCE($3, zulip_site_url),
			bot_email = COALESCE($4, bot_email),
			api_key = COALESCE($5, api_key),
			connected = COALESCE($6, connected),
			max_backfill_amount = COALESCE($7, max_backfill_amount),
			updated_at = now()
		WHERE org_id = $1
		RETURNING `+orgColumns,
		orgID, cs.DisplayName, cs.ZulipSiteURL, cs.BotEmail, cs.APIKey, cs.Connected, cs.MaxBackfillAmount)
	result, err := scanOrganization(row)
	if isNotFound(err) {
		return nil, bridgeerr.New(bridgeerr.NotFound, err)
	}
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.Query, err, "failed to update organization")
	}
	return result, nil
}

func (s *organizationStore) Delete(ctx context.Context, orgID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM organizations WHERE org_id = $1`, orgID); err != nil {
		return bridgeerr.Wrap(bridgeerr.Query, err, "failed to delete organization")
	}
	return nil
}

func (s *organizationStore) Exists(ctx context.Context, orgID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM organizations WHERE org_id = $1)`, orgID).Scan(&exists)
	if err != nil {
		return false, bridgeerr.Wrap(bridgeerr.Query, err, "failed to check organization existence")
	}
	return exists, nil
}

func (s *organizationStore) List(ctx context.Context) ([]*store.Organization, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+orgColumns+` FROM organizations ORDER BY id`)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.Query, err, "failed to list organizations")
	}
	defer rows.Close()

	var results []*store.Organization
	for rows.Next() {
		o, err := scanOrganization(rows)
		if err != nil {
			return nil, bridgeerr.Wrap(bridgeerr.Query, err, "failed to scan organization")
		}
		results = append(results, o)
	}
	return results, rows.Err()
}
