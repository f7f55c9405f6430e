// Package indexing orchestrates the index lifecycle: change-feed events
// into incremental updates, full rebuilds into alias cutovers, and the
// synonym reload trigger.
package indexing

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/supportal/kbsearch/internal/domain"
	"github.com/supportal/kbsearch/internal/mapper"
	"github.com/supportal/kbsearch/internal/metrics"
)

// Service wires the builder, alias manager, content layer, and synonym
// loader together behind the operations the transport exposes.
type Service struct {
	builder  Rebuilder
	alias    Publisher
	content  domain.ContentSource
	synonyms SynonymReloader
	logger   *zap.Logger
}

// New creates an indexing service.
func New(builder Rebuilder, alias Publisher, content domain.ContentSource, synonyms SynonymReloader, logger *zap.Logger) *Service {
	return &Service{
		builder:  builder,
		alias:    alias,
		content:  content,
		synonyms: synonyms,
		logger:   logger,
	}
}

// Upsert maps a content record and applies it incrementally.
func (s *Service) Upsert(ctx context.Context, rec domain.ContentRecord) error {
	doc, err := mapper.Map(rec)
	if err != nil {
		return err
	}
	return s.builder.Upsert(ctx, doc)
}

// Delete removes a document from the live index.
func (s *Service) Delete(ctx context.Context, t domain.DocType, id string) error {
	if !t.Valid() {
		return &domain.MissingFieldError{Field: "type"}
	}
	if id == "" {
		return &domain.MissingFieldError{Field: "id"}
	}
	return s.builder.Delete(ctx, t, id)
}

// HandleEvent processes one change-feed entry. Create/update events fetch
// the full record through the bulk-read API; the event itself carries only
// the identifier and revision.
func (s *Service) HandleEvent(ctx context.Context, ev domain.ChangeEvent) error {
	var err error
	switch ev.Op {
	case domain.OpDelete:
		err = s.Delete(ctx, ev.Type, ev.ID)
	case domain.OpCreate, domain.OpUpdate:
		var rec domain.ContentRecord
		rec, err = s.content.Fetch(ctx, ev.Type, ev.ID)
		if err == nil {
			err = s.builderUpsert(ctx, rec)
		}
	default:
		err = fmt.Errorf("unknown change op %q", ev.Op)
	}

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.FeedEventsTotal.WithLabelValues(string(ev.Op), status).Inc()
	return err
}

func (s *Service) builderUpsert(ctx context.Context, rec domain.ContentRecord) error {
	doc, err := mapper.Map(rec)
	if err != nil {
		return err
	}
	return s.builder.Upsert(ctx, doc)
}

// Rebuild runs the full pipeline: stream all content into a new
// generation, publish it, and replay the updates captured while building.
// A failed publish discards the candidate so a later rebuild starts clean.
func (s *Service) Rebuild(ctx context.Context) error {
	gen, stats, err := s.builder.Rebuild(ctx, s.content)
	if err != nil {
		return err
	}

	if err := s.alias.Publish(ctx, gen); err != nil {
		if derr := s.builder.Discard(gen); derr != nil {
			s.logger.Error("failed to discard unpublished generation",
				zap.String("generation", gen.ID()),
				zap.Error(derr),
			)
		}
		return err
	}

	if err := s.builder.ReplayPending(ctx); err != nil {
		// The cutover already happened; a failed replay degrades the new
		// generation but must not unwind it.
		s.logger.Error("pending update replay failed", zap.Error(err))
		return err
	}

	if stats.Skipped > 0 {
		s.logger.Warn("rebuild skipped documents",
			zap.Int("skipped", stats.Skipped),
		)
	}
	return nil
}

// StartRebuild launches Rebuild in the background, detached from the
// caller's cancellation. Returns false without starting when a rebuild is
// already running. Two concurrent callers can both observe an idle
// builder; the loser's rebuild collapses into ErrRebuildInProgress and is
// logged.
func (s *Service) StartRebuild(ctx context.Context) (bool, error) {
	if s.builder.Building() {
		return false, nil
	}
	bg := context.WithoutCancel(ctx)
	go func() {
		if err := s.Rebuild(bg); err != nil {
			s.logger.Error("background rebuild failed", zap.Error(err))
		}
	}()
	return true, nil
}

// RunPeriodic triggers a full rebuild every interval until ctx is
// cancelled. Overlapping triggers collapse into ErrRebuildInProgress,
// which is logged and dropped.
func (s *Service) RunPeriodic(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Rebuild(ctx); err != nil {
				s.logger.Error("periodic rebuild failed", zap.Error(err))
			}
		}
	}
}

// ReloadSynonyms atomically swaps every locale's ruleset. New rules apply
// to incremental analysis immediately for unindexed text, but the
// generation's baked-in analyzers only change on the next full rebuild.
func (s *Service) ReloadSynonyms(_ context.Context) error {
	return s.synonyms.LoadAll()
}

// Status describes the current index state.
type Status struct {
	GenerationID string
	DocCount     uint64
	Building     bool
	PendingDepth int
}

// Status reports the live generation and builder state.
func (s *Service) Status(_ context.Context) (Status, error) {
	st := Status{
		Building:     s.builder.Building(),
		PendingDepth: s.builder.PendingDepth(),
	}
	if gen := s.alias.Live(); gen != nil {
		st.GenerationID = gen.ID()
		count, err := gen.DocCount()
		if err != nil {
			return Status{}, err
		}
		st.DocCount = count
	}
	return st, nil
}
