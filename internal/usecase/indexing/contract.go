package indexing

import (
	"context"

	"github.com/supportal/kbsearch/internal/domain"
	"github.com/supportal/kbsearch/internal/index"
)

// Rebuilder is the index builder's write surface.
type Rebuilder interface {
	Rebuild(ctx context.Context, source domain.ContentSource) (*index.Generation, index.RebuildStats, error)
	ReplayPending(ctx context.Context) error
	Discard(gen *index.Generation) error
	Upsert(ctx context.Context, doc domain.Document) error
	Delete(ctx context.Context, t domain.DocType, id string) error
	Building() bool
	PendingDepth() int
}

// Publisher performs the alias cutover and reports the live generation.
type Publisher interface {
	Publish(ctx context.Context, gen *index.Generation) error
	Live() *index.Generation
}

// SynonymReloader reloads every locale's dictionary in one atomic swap.
type SynonymReloader interface {
	LoadAll() error
}
