package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/palpo-im/zulipbridge/internal/bridgeerr"
	"github.com/palpo-im/zulipbridge/internal/store"
)

type processedEventStore struct {
	db *sql.DB
}

func scanProcessedEvent(row interface{ Scan(dest ...any) error }) (*store.ProcessedEvent, error) {
	var e store.ProcessedEvent
	err := row.Scan(&e.ID, &e.EventID, &e.Source, &e.EventType, &e.ProcessedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *processedEventStore) Create(ctx context.Context, event *store.ProcessedEvent) (*store.ProcessedEvent, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO processed_events (event_id, source, event_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id, source) DO UPDATE SET event_id = EXCLUDED.event_id
		RETURNING id, event_id, source, event_type, processed_at`,
		event.EventID, event.Source, event.EventType)
	result, err := scanProcessedEvent(row)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.Query, err, "failed to create processed event record")
	}
	return result, nil
}

func (s *processedEventStore) Exists(ctx context.Context, eventID string, source store.EventSource) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1 AND source = $2)`,
		eventID, source).Scan(&exists)
	if err != nil {
		return false, bridgeerr.Wrap(bridgeerr.Query, err, "failed to check processed event existence")
	}
	return exists, nil
}

// DeleteBefore removes idempotency records older than cutoff, reclaiming
// space once the age gate guarantees the originating side will never
// redeliver them. Driven by the retention sweep's periodic cron tick.
func (s *processedEventStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM processed_events WHERE processed_at < $1`, cutoff)
	if err != nil {
		return 0, bridgeerr.Wrap(bridgeerr.Query, err, "failed to delete expired processed events")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, bridgeerr.Wrap(bridgeerr.Query, err, "failed to count deleted processed events")
	}
	return n, nil
}
