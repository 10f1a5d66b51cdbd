// Package retention runs the periodic ProcessedEvent sweep: the bridge's
// only scheduled background job, the standalone-process analogue of the
// teacher's cluster.Schedule background job in server/plugin.go.
package retention

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/palpo-im/zulipbridge/internal/store"
)

// Sweeper periodically deletes ProcessedEvent rows older than a retention
// window, keeping the idempotency table from growing without bound.
type Sweeper struct {
	store     store.Store
	retention time.Duration
	log       zerolog.Logger
	cron      *cron.Cron
}

// New creates a Sweeper. retention is how long a ProcessedEvent row is
// kept before it is eligible for deletion.
func New(st store.Store, retention time.Duration, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		store:     st,
		retention: retention,
		log:       log.With().Str("component", "retention").Logger(),
		cron:      cron.New(),
	}
}

// Start schedules the sweep on the given standard 5-field cron expression
// (cmd/zulipbridge passes "0 3 * * *", daily at 03:00) and begins running
// it in the background. Call Stop to end it.
func (s *Sweeper) Start(ctx context.Context, schedule string) error {
	_, err := s.cron.AddFunc(schedule, func() {
		s.sweep(ctx)
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop ends the scheduled sweep, waiting for any in-flight run to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Sweeper) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.retention)
	deleted, err := s.store.ProcessedEvents().DeleteBefore(ctx, cutoff)
	if err != nil {
		s.log.Error().Err(err).Msg("processed event sweep failed")
		return
	}
	s.log.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("swept processed events")
}
