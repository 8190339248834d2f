// Package cleaner implements the retention garbage collector described
// in spec §4.G: on an interval, delete results older than the
// retention period in bounded batches, stopping once a batch comes back
// shorter than batch_size, and yielding between batches so the cleaner
// never starves live writes against the same database.
package cleaner

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nyxmon-go/agent/store"
)

// Defaults mirror spec §6 (Configuration).
const (
	DefaultCleanupInterval = time.Hour
	DefaultRetentionPeriod = 24 * time.Hour
	DefaultBatchSize       = 1000
)

// Cleaner periodically deletes results older than RetentionPeriod,
// never reducing any check below its single most recent result (the
// store implementation enforces that invariant; the cleaner only
// supplies the cutoff and the batch size).
type Cleaner struct {
	store           store.Store
	cleanupInterval time.Duration
	retentionPeriod time.Duration
	batchSize       int
	logger          *zap.Logger
}

// New builds a Cleaner; zero-value durations/batchSize are replaced by
// their package defaults.
func New(st store.Store, cleanupInterval, retentionPeriod time.Duration, batchSize int, logger *zap.Logger) *Cleaner {
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}
	if retentionPeriod <= 0 {
		retentionPeriod = DefaultRetentionPeriod
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Cleaner{
		store:           st,
		cleanupInterval: cleanupInterval,
		retentionPeriod: retentionPeriod,
		batchSize:       batchSize,
		logger:          logger,
	}
}

// Run blocks, running a cleanup pass every cleanup_interval until ctx
// is cancelled.
func (c *Cleaner) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.runOnce(ctx)
		}
	}
}

// runOnce deletes in batches until a batch comes back short of
// batchSize (meaning there was nothing more to reclaim) or ctx is
// cancelled. It yields to the scheduler between batches via a one-
// millisecond sleep select, so a long cleanup pass cannot monopolize the
// database connection against concurrent scheduler/runner writes.
func (c *Cleaner) runOnce(ctx context.Context) {
	cutoff := time.Now().Add(-c.retentionPeriod).Unix()
	totalDeleted := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		deleted, err := c.store.DeleteResultsOlderThan(ctx, cutoff, c.batchSize)
		if err != nil {
			c.logger.Error("cleaner: batch delete failed", zap.Error(err))
			return
		}
		totalDeleted += deleted

		if deleted < c.batchSize {
			break
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Millisecond):
		}
	}

	if totalDeleted > 0 {
		c.logger.Info("cleaner: retention pass complete", zap.Int("deleted", totalDeleted))
	}
}
