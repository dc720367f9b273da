package snapshot

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"fx-market-data/internal/store"
	"fx-market-data/internal/stream"
)

// Job copies the currently cached quotes into durable storage. It reads
// whatever the ingestion pipeline has published; symbols with no live
// quote are simply absent from the batch.
type Job struct {
	cache  store.Store
	writer Writer
	logger zerolog.Logger
	now    func() time.Time
}

// NewJob wires a snapshot job.
func NewJob(cache store.Store, writer Writer, logger zerolog.Logger) *Job {
	return &Job{
		cache:  cache,
		writer: writer,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock overrides the time source, used by tests.
func (j *Job) SetClock(now func() time.Time) { j.now = now }

// Run collects every live cached quote and persists the batch. It is shaped
// as a scheduler TickFunc.
func (j *Job) Run(ctx context.Context, bucket time.Time) error {
	keys, err := j.cache.Scan(ctx, store.TickPrefix)
	if err != nil {
		return err
	}

	capturedAt := j.now().UTC()
	batch := make([]Snapshot, 0, len(keys))
	for _, key := range keys {
		raw, err := j.cache.Get(ctx, key)
		if err != nil {
			// Quotes may expire between Scan and Get.
			continue
		}
		tick, err := stream.DecodeTick(raw)
		if err != nil {
			j.logger.Warn().Str("key", key).Err(err).Msg("skipping corrupted cached quote")
			continue
		}
		batch = append(batch, Snapshot{
			Symbol:     tick.Symbol,
			Bid:        tick.Bid,
			Ask:        tick.Ask,
			Mid:        tick.Mid,
			Spread:     tick.Spread,
			SourceTS:   tick.Timestamp,
			CapturedAt: capturedAt,
		})
	}

	if len(batch) == 0 {
		j.logger.Debug().Time("bucket", bucket).Msg("no live quotes to snapshot")
		return nil
	}

	if err := j.writer.InsertSnapshots(ctx, batch); err != nil {
		return err
	}
	j.logger.Info().Int("count", len(batch)).Time("bucket", bucket).Msg("persisted quote snapshots")
	return nil
}
