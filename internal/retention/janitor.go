// Package retention implements data retention for the engine. The
// janitor periodically evicts stale lead contexts from working memory
// and archives then purges old interaction records from the store.
//
// Archival is fail-safe: interactions are NOT deleted if the archive
// write fails.
package retention

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/caselane/caselane/internal/contextstore"
	"github.com/caselane/caselane/internal/store"
	"github.com/caselane/caselane/pkg/models"
)

// DefaultContextTTL is how long an untouched lead context stays in
// working memory.
const DefaultContextTTL = 24 * time.Hour

// DefaultInteractionRetention is how long interaction records stay in
// the hot store.
const DefaultInteractionRetention = 30 * 24 * time.Hour

// DefaultArchiveBatchSize is the max records per archive write.
const DefaultArchiveBatchSize = 5000

// Archiver writes expired interactions to durable cold storage.
type Archiver interface {
	ArchiveInteractions(ctx context.Context, interactions []models.Interaction) error
}

// CycleStats tracks what happened in a single retention cycle.
type CycleStats struct {
	ContextsEvicted    int
	InteractionsPurged int64
	InteractionsSaved  int
	ArchiveFailed      bool
}

// Janitor runs retention sweeps on an interval.
type Janitor struct {
	store    store.Store
	contexts *contextstore.Store
	interval time.Duration

	contextTTL           time.Duration
	interactionRetention time.Duration
	archiveBatch         int

	// archiver is optional; nil means purge without archiving.
	archiver Archiver
}

// NewJanitor creates a retention janitor running on the given interval.
func NewJanitor(s store.Store, contexts *contextstore.Store, interval time.Duration) *Janitor {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Janitor{
		store:                s,
		contexts:             contexts,
		interval:             interval,
		contextTTL:           DefaultContextTTL,
		interactionRetention: DefaultInteractionRetention,
		archiveBatch:         DefaultArchiveBatchSize,
	}
}

// SetContextTTL overrides the working-memory TTL.
func (j *Janitor) SetContextTTL(ttl time.Duration) {
	if ttl > 0 {
		j.contextTTL = ttl
	}
}

// SetInteractionRetention overrides the hot-store retention window.
func (j *Janitor) SetInteractionRetention(d time.Duration) {
	if d > 0 {
		j.interactionRetention = d
	}
}

// SetArchiver installs a cold-storage backend for purged interactions.
func (j *Janitor) SetArchiver(a Archiver) { j.archiver = a }

// SetArchiveBatchSize overrides the max records per archive write.
func (j *Janitor) SetArchiveBatchSize(n int) {
	if n > 0 {
		j.archiveBatch = n
	}
}

// Start runs the janitor in the calling goroutine until ctx is
// canceled. Run it with go.
func (j *Janitor) Start(ctx context.Context) {
	log.Info().
		Dur("interval", j.interval).
		Dur("context_ttl", j.contextTTL).
		Dur("interaction_retention", j.interactionRetention).
		Bool("archiving", j.archiver != nil).
		Msg("Retention janitor started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	// Run once immediately on startup
	j.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Retention janitor stopped")
			return
		case <-ticker.C:
			j.RunCycle(ctx)
		}
	}
}

// RunCycle performs one retention sweep.
func (j *Janitor) RunCycle(ctx context.Context) CycleStats {
	start := time.Now()
	var stats CycleStats

	stats.ContextsEvicted = j.contexts.Sweep(start.Add(-j.contextTTL))

	cutoff := start.Add(-j.interactionRetention)
	if j.archiver != nil {
		j.archiveAndPurge(ctx, cutoff, &stats)
	} else {
		purged, err := j.store.PurgeInteractionsBefore(ctx, cutoff)
		if err != nil {
			log.Warn().Err(err).Msg("Retention janitor: purge failed")
			return stats
		}
		stats.InteractionsPurged = purged
	}

	if stats.ContextsEvicted > 0 || stats.InteractionsPurged > 0 {
		log.Info().
			Int("contexts_evicted", stats.ContextsEvicted).
			Int64("interactions_purged", stats.InteractionsPurged).
			Int("interactions_archived", stats.InteractionsSaved).
			Dur("took", time.Since(start)).
			Msg("Retention cycle complete")
	}
	return stats
}

// archiveAndPurge walks the expired records in archive-sized batches,
// purging only what the archiver has accepted. Records are never
// deleted ahead of their batch: an archive failure stops the cycle
// with the remaining records still in the hot store.
func (j *Janitor) archiveAndPurge(ctx context.Context, cutoff time.Time, stats *CycleStats) {
	for {
		batch, err := j.store.ListInteractionsBefore(ctx, cutoff, j.archiveBatch)
		if err != nil {
			log.Warn().Err(err).Msg("Retention janitor: failed to list expired interactions")
			stats.ArchiveFailed = true
			return
		}
		if len(batch) == 0 {
			return
		}

		full := len(batch) == j.archiveBatch
		purgeBefore := cutoff
		if full {
			// Records stamped like the batch boundary may continue past
			// the cut; hold them back for the next pass. A run of
			// identically stamped records filling the whole batch is
			// archived and purged through the next nanosecond in one go.
			boundary := batch[len(batch)-1].CreatedAt
			i := len(batch)
			for i > 0 && batch[i-1].CreatedAt.Equal(boundary) {
				i--
			}
			if i > 0 {
				batch = batch[:i]
				purgeBefore = boundary
			} else {
				purgeBefore = boundary.Add(time.Nanosecond)
			}
		}

		if err := j.archiver.ArchiveInteractions(ctx, batch); err != nil {
			log.Warn().Err(err).Msg("Retention janitor: archive failed, skipping purge")
			stats.ArchiveFailed = true
			return
		}
		stats.InteractionsSaved += len(batch)

		purged, err := j.store.PurgeInteractionsBefore(ctx, purgeBefore)
		if err != nil {
			log.Warn().Err(err).Msg("Retention janitor: purge failed")
			return
		}
		stats.InteractionsPurged += purged

		if !full {
			return
		}
		if purged == 0 {
			// The store did not delete anything at this boundary;
			// re-listing would yield the same batch again.
			log.Warn().Time("boundary", purgeBefore).Msg("Retention janitor: purge made no progress, deferring to next cycle")
			return
		}
	}
}
