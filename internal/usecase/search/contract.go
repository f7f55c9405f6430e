package search

import (
	"context"

	"github.com/blevesearch/bleve/v2"
)

// Searcher executes a search request through the live index alias. The
// query service never names a generation directly.
type Searcher interface {
	Search(ctx context.Context, req *bleve.SearchRequest) (*bleve.SearchResult, error)
}
