package index

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"go.uber.org/zap"

	"github.com/supportal/kbsearch/internal/domain"
	"github.com/supportal/kbsearch/internal/metrics"
)

// AliasConfig holds cutover validation and retention settings.
type AliasConfig struct {
	// MinDocCount refuses a cutover to a generation smaller than this.
	MinDocCount uint64
	// RetentionGrace delays deletion of a replaced generation so queries
	// that started against it can finish.
	RetentionGrace time.Duration
}

// AliasManager owns the stable logical index name. Exactly one generation
// is live at any time; Publish validates a candidate, swaps the alias
// atomically, and schedules the replaced generation for deferred deletion.
type AliasManager struct {
	store  *Store
	cfg    AliasConfig
	logger *zap.Logger

	alias bleve.IndexAlias

	mu       sync.Mutex // guards live and gcTimers; publishMu serializes cutovers
	live     *Generation
	gcTimers []*time.Timer

	publishMu sync.Mutex
}

// NewAliasManager creates an alias manager with no live generation.
func NewAliasManager(store *Store, cfg AliasConfig, logger *zap.Logger) *AliasManager {
	return &AliasManager{
		store:  store,
		cfg:    cfg,
		logger: logger,
		alias:  bleve.NewIndexAlias(),
	}
}

// Recover reopens the generation recorded in the manifest and sweeps any
// orphaned generation directories left by an unclean shutdown.
func (m *AliasManager) Recover() error {
	liveID, err := m.store.LoadManifest()
	if err != nil {
		return err
	}
	keep := map[string]bool{}
	if liveID != "" {
		gen, err := m.store.Open(liveID)
		if err != nil {
			return fmt.Errorf("recover live generation: %w", err)
		}
		m.alias.Add(gen.idx)
		m.mu.Lock()
		m.live = gen
		m.mu.Unlock()
		keep[liveID] = true
		m.logger.Info("live generation recovered", zap.String("generation", liveID))
	}
	return m.store.Sweep(keep)
}

// Live returns the current live generation, or nil before the first
// publish. Used by the builder to target incremental updates; queries go
// through Search.
func (m *AliasManager) Live() *Generation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live
}

// Publish validates gen and atomically repoints the alias at it. At most
// one publish may be in flight; a concurrent attempt is refused, not
// queued. A refused cutover leaves the previous state authoritative and
// the candidate generation intact for a retry.
func (m *AliasManager) Publish(ctx context.Context, gen *Generation) error {
	if !m.publishMu.TryLock() {
		metrics.PublishTotal.WithLabelValues("refused").Inc()
		return domain.ErrPublishInProgress
	}
	defer m.publishMu.Unlock()

	if err := m.validate(ctx, gen); err != nil {
		metrics.PublishTotal.WithLabelValues("refused").Inc()
		return fmt.Errorf("%w: %w", domain.ErrPublish, err)
	}

	m.mu.Lock()
	old := m.live
	if old != nil {
		m.alias.Swap([]bleve.Index{gen.idx}, []bleve.Index{old.idx})
	} else {
		m.alias.Swap([]bleve.Index{gen.idx}, nil)
	}
	m.live = gen
	m.mu.Unlock()

	if err := m.store.SaveManifest(gen.id); err != nil {
		// Cutover already happened; a stale manifest only costs a sweep
		// plus rebuild after a restart.
		m.logger.Warn("manifest update failed", zap.Error(err))
	}

	if old != nil {
		m.scheduleDestroy(old)
	}

	metrics.PublishTotal.WithLabelValues("ok").Inc()
	m.logger.Info("alias cutover complete",
		zap.String("generation", gen.id),
		zap.String("replaced", genID(old)),
	)
	return nil
}

// validate runs the post-build checks: minimum document count and a smoke
// query against the candidate generation.
func (m *AliasManager) validate(ctx context.Context, gen *Generation) error {
	count, err := gen.DocCount()
	if err != nil {
		return fmt.Errorf("validation: %w", err)
	}
	if count < m.cfg.MinDocCount {
		return fmt.Errorf("validation: generation %s holds %d documents, expected at least %d",
			gen.id, count, m.cfg.MinDocCount)
	}

	smoke := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), 1, 0, false)
	if _, err := gen.idx.SearchInContext(ctx, smoke); err != nil {
		return fmt.Errorf("validation: smoke query: %w", err)
	}
	return nil
}

func (m *AliasManager) scheduleDestroy(old *Generation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var timer *time.Timer
	timer = time.AfterFunc(m.cfg.RetentionGrace, func() {
		if err := m.store.Destroy(old); err != nil {
			m.logger.Error("deferred generation deletion failed",
				zap.String("generation", old.id),
				zap.Error(err),
			)
		}
		m.mu.Lock()
		for i, t := range m.gcTimers {
			if t == timer {
				m.gcTimers = append(m.gcTimers[:i], m.gcTimers[i+1:]...)
				break
			}
		}
		m.mu.Unlock()
	})
	m.gcTimers = append(m.gcTimers, timer)
}

// Search executes a query through the alias. Callers never see a
// generation id; an in-flight cutover is invisible to them.
func (m *AliasManager) Search(ctx context.Context, req *bleve.SearchRequest) (*bleve.SearchResult, error) {
	m.mu.Lock()
	live := m.live
	m.mu.Unlock()
	if live == nil {
		return nil, domain.ErrNoLiveGeneration
	}
	res, err := m.alias.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("alias search: %w", err)
	}
	return res, nil
}

// Close stops pending deletions and closes the live generation. Replaced
// generations still awaiting their grace period are destroyed immediately;
// no query can be in flight during shutdown.
func (m *AliasManager) Close() error {
	m.mu.Lock()
	timers := m.gcTimers
	m.gcTimers = nil
	live := m.live
	m.live = nil
	m.mu.Unlock()

	for _, t := range timers {
		t.Stop()
	}
	keep := map[string]bool{}
	if live != nil {
		keep[live.id] = true
		if err := live.Close(); err != nil {
			return err
		}
	}
	// Anything not live is garbage after shutdown.
	return m.store.Sweep(keep)
}

func genID(g *Generation) string {
	if g == nil {
		return ""
	}
	return g.id
}
