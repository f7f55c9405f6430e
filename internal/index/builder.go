package index

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/supportal/kbsearch/internal/analysis"
	"github.com/supportal/kbsearch/internal/domain"
	"github.com/supportal/kbsearch/internal/mapper"
	"github.com/supportal/kbsearch/internal/metrics"
)

// MappingFunc builds the index mapping for a new generation from the
// current synonym table. Evaluated at rebuild start so each generation
// pins one ruleset version.
type MappingFunc func() (mapping.IndexMapping, error)

// BuilderConfig holds write-path tuning.
type BuilderConfig struct {
	BatchSize     int
	RetryAttempts int
	RetryBackoff  time.Duration
	QueueCapacity int
}

func (c *BuilderConfig) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 100 * time.Millisecond
	}
}

// RebuildStats summarizes a full rebuild.
type RebuildStats struct {
	Indexed int
	Skipped int
	Took    time.Duration
}

// Builder orchestrates full rebuilds and incremental updates. It never
// flips the alias: a successful rebuild returns the generation handle and
// the caller decides when to publish, keeping build and publish separately
// testable and separately retryable.
type Builder struct {
	store     *Store
	alias     *AliasManager
	mappingFn MappingFunc
	cfg       BuilderConfig
	logger    *zap.Logger

	pending *pendingQueue

	// building guards the single-rebuild invariant; capturing keeps the
	// pending queue active from rebuild start until replay completes, so
	// updates arriving between build and cutover land in both worlds.
	building  atomic.Bool
	capturing atomic.Bool
}

// NewBuilder creates a builder writing through the given store and
// targeting incremental updates at the alias manager's live generation.
func NewBuilder(store *Store, alias *AliasManager, mappingFn MappingFunc, cfg BuilderConfig, logger *zap.Logger) *Builder {
	cfg.applyDefaults()
	return &Builder{
		store:     store,
		alias:     alias,
		mappingFn: mappingFn,
		cfg:       cfg,
		logger:    logger,
		pending:   newPendingQueue(cfg.QueueCapacity),
	}
}

// Building reports whether a full rebuild is in flight.
func (b *Builder) Building() bool { return b.building.Load() }

// PendingDepth returns the number of updates queued for replay.
func (b *Builder) PendingDepth() int { return b.pending.depth() }

// Rebuild streams every content record into a freshly created generation.
// Per-document mapping failures are counted and skipped; any index write
// failure (or cancellation) discards the partial generation and surfaces a
// BuildError, leaving the live alias untouched. On success the caller owns
// the returned generation until it is published or discarded.
func (b *Builder) Rebuild(ctx context.Context, source domain.ContentSource) (*Generation, RebuildStats, error) {
	if !b.building.CompareAndSwap(false, true) {
		return nil, RebuildStats{}, domain.ErrRebuildInProgress
	}
	// Drop any straggler queued after a previous capture window closed;
	// this rebuild only replays ops captured during its own window.
	b.pending.discard()
	b.capturing.Store(true)
	defer b.building.Store(false)

	start := time.Now()

	im, err := b.mappingFn()
	if err != nil {
		b.deactivateCapture()
		return nil, RebuildStats{}, fmt.Errorf("%w: build mapping: %w", domain.ErrBuild, err)
	}

	gen, err := b.store.Create(im)
	if err != nil {
		b.deactivateCapture()
		return nil, RebuildStats{}, fmt.Errorf("%w: %w", domain.ErrBuild, err)
	}

	stats := RebuildStats{}
	records := make(chan domain.ContentRecord, b.cfg.BatchSize)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(records)
		return source.Enumerate(gctx, func(rec domain.ContentRecord) error {
			select {
			case records <- rec:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	})
	g.Go(func() error {
		batch := gen.idx.NewBatch()
		for rec := range records {
			doc, err := mapper.Map(rec)
			if err != nil {
				stats.Skipped++
				metrics.DocumentsSkippedTotal.Inc()
				b.logger.Warn("document skipped during rebuild",
					zap.String("type", string(rec.Type)),
					zap.String("id", rec.ID),
					zap.Error(err),
				)
				continue
			}
			if err := batch.Index(doc.DocID(), docFields(doc)); err != nil {
				return fmt.Errorf("batch document %s: %w", doc.DocID(), err)
			}
			stats.Indexed++
			if batch.Size() >= b.cfg.BatchSize {
				if err := b.flush(gctx, gen, batch); err != nil {
					return err
				}
				batch.Reset()
			}
		}
		if batch.Size() > 0 {
			return b.flush(gctx, gen, batch)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		b.deactivateCapture()
		if derr := b.store.Destroy(gen); derr != nil {
			b.logger.Error("failed to discard partial generation",
				zap.String("generation", gen.id),
				zap.Error(derr),
			)
		}
		return nil, RebuildStats{}, fmt.Errorf("%w: %w", domain.ErrBuild, err)
	}

	stats.Took = time.Since(start)
	metrics.RebuildDuration.Observe(stats.Took.Seconds())
	metrics.DocumentsIndexedTotal.WithLabelValues("rebuild").Add(float64(stats.Indexed))
	b.logger.Info("rebuild complete",
		zap.String("generation", gen.id),
		zap.Int("indexed", stats.Indexed),
		zap.Int("skipped", stats.Skipped),
		zap.Duration("took", stats.Took),
	)
	return gen, stats, nil
}

func (b *Builder) flush(ctx context.Context, gen *Generation, batch *bleve.Batch) error {
	return withRetry(ctx, b.logger, "rebuild batch", b.cfg.RetryAttempts, b.cfg.RetryBackoff, func() error {
		return gen.idx.Batch(batch)
	})
}

// Discard destroys a built-but-unpublished generation (publish refused,
// operator cancel) and deactivates the pending queue capture.
func (b *Builder) Discard(gen *Generation) error {
	b.deactivateCapture()
	return b.store.Destroy(gen)
}

// deactivateCapture turns queue capture off and empties the queue. The
// live generation already received every captured op directly, and an op
// held over from an aborted rebuild must never replay into a later
// generation: the content layer may have changed the document in between.
func (b *Builder) deactivateCapture() {
	b.capturing.Store(false)
	b.pending.discard()
}

// Upsert applies an incremental update to the live generation. While a
// rebuild or cutover is in flight the update is also queued for replay, so
// it cannot be lost to the generation being built. Stale revisions are
// no-ops (see indexedRevision).
func (b *Builder) Upsert(ctx context.Context, doc domain.Document) error {
	if b.capturing.Load() {
		if err := b.pending.add(ctx, pendingOp{doc: &doc}); err != nil {
			return err
		}
	}
	gen := b.alias.Live()
	if gen == nil {
		if b.capturing.Load() {
			// No live generation yet; the queued copy lands in the one
			// being built.
			return nil
		}
		return domain.ErrNoLiveGeneration
	}
	return b.apply(ctx, gen, doc, "incremental")
}

// Delete removes a document from the live generation. Deleting a missing
// id is a no-op, not an error.
func (b *Builder) Delete(ctx context.Context, t domain.DocType, id string) error {
	docID := domain.DocID(t, id)
	if b.capturing.Load() {
		if err := b.pending.add(ctx, pendingOp{deleteID: docID}); err != nil {
			return err
		}
	}
	gen := b.alias.Live()
	if gen == nil {
		return nil
	}
	err := withRetry(ctx, b.logger, "delete", b.cfg.RetryAttempts, b.cfg.RetryBackoff, func() error {
		return gen.idx.Delete(docID)
	})
	if err != nil {
		return fmt.Errorf("%w: delete %s: %w", domain.ErrDegradedIndex, docID, err)
	}
	metrics.DocumentsDeletedTotal.Inc()
	return nil
}

// ReplayPending drains the updates captured during rebuild into the (now
// live) new generation, then deactivates capture. The revision guard makes
// the replay idempotent against documents the rebuild already picked up.
func (b *Builder) ReplayPending(ctx context.Context) error {
	gen := b.alias.Live()
	if gen == nil {
		return domain.ErrNoLiveGeneration
	}
	err := b.pending.drain(func(op pendingOp) error {
		if op.doc != nil {
			return b.apply(ctx, gen, *op.doc, "replay")
		}
		return withRetry(ctx, b.logger, "replay delete", b.cfg.RetryAttempts, b.cfg.RetryBackoff, func() error {
			return gen.idx.Delete(op.deleteID)
		})
	})
	if err != nil {
		return fmt.Errorf("%w: replay: %w", domain.ErrDegradedIndex, err)
	}
	b.capturing.Store(false)
	return nil
}

// apply writes one document, guarded by the revision check: an update
// carrying a revision <= the indexed one is discarded, which serializes
// concurrent updates to the same id without a lock.
func (b *Builder) apply(ctx context.Context, gen *Generation, doc domain.Document, path string) error {
	current, found, err := b.indexedRevision(ctx, gen, doc.DocID())
	if err != nil {
		return fmt.Errorf("%w: revision check %s: %w", domain.ErrDegradedIndex, doc.DocID(), err)
	}
	if found && doc.Revision <= current {
		metrics.StaleUpdatesTotal.Inc()
		b.logger.Debug("stale update discarded",
			zap.String("doc", doc.DocID()),
			zap.Uint64("revision", doc.Revision),
			zap.Uint64("indexed_revision", current),
		)
		return nil
	}

	err = withRetry(ctx, b.logger, "upsert", b.cfg.RetryAttempts, b.cfg.RetryBackoff, func() error {
		return gen.idx.Index(doc.DocID(), docFields(doc))
	})
	if err != nil {
		b.logger.Error("incremental update failed",
			zap.String("doc", doc.DocID()),
			zap.Error(err),
		)
		return fmt.Errorf("%w: upsert %s: %w", domain.ErrDegradedIndex, doc.DocID(), err)
	}
	metrics.DocumentsIndexedTotal.WithLabelValues(path).Inc()
	return nil
}

// indexedRevision reads the stored revision of a document in gen, if any.
func (b *Builder) indexedRevision(ctx context.Context, gen *Generation, docID string) (uint64, bool, error) {
	q := bleve.NewDocIDQuery([]string{docID})
	req := bleve.NewSearchRequestOptions(q, 1, 0, false)
	req.Fields = []string{analysis.FieldRevision}
	res, err := gen.idx.SearchInContext(ctx, req)
	if err != nil {
		return 0, false, err
	}
	if len(res.Hits) == 0 {
		return 0, false, nil
	}
	rev, ok := res.Hits[0].Fields[analysis.FieldRevision].(float64)
	if !ok {
		return 0, false, fmt.Errorf("document %s has no readable revision field", docID)
	}
	return uint64(rev), true, nil
}
