// Package search is the query service: it turns a user query plus filters
// into a ranked request against the live alias and maps hits back to
// content references.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
	"go.uber.org/zap"

	"github.com/supportal/kbsearch/internal/analysis"
	"github.com/supportal/kbsearch/internal/domain"
	"github.com/supportal/kbsearch/internal/metrics"
)

// Boost weights. Title matches outrank body matches; an exact phrase
// outranks scattered terms; a recent update nudges the score without
// overriding relevance.
const (
	titleBoost         = 4.0
	contentBoost       = 1.0
	answerBoost        = 2.0
	phraseTitleBoost   = 8.0
	phraseContentBoost = 2.0
	recencyBoost       = 0.5
)

// Service ranks and filters documents through the live alias. Query text
// is analyzed inside the index with the same per-locale analyzer used at
// index time, so there is no second analysis code path here.
type Service struct {
	idx           Searcher
	logger        *zap.Logger
	defaultSize   int
	maxSize       int
	recencyWindow time.Duration
	now           func() time.Time
}

// New creates a query service.
func New(idx Searcher, logger *zap.Logger) *Service {
	return &Service{
		idx:           idx,
		logger:        logger,
		defaultSize:   20,
		maxSize:       100,
		recencyWindow: 90 * 24 * time.Hour,
		now:           time.Now,
	}
}

// WithPagination configures result page limits.
func (s *Service) WithPagination(defaultSize, maxSize int) *Service {
	if defaultSize > 0 {
		s.defaultSize = defaultSize
	}
	if maxSize > 0 {
		s.maxSize = maxSize
	}
	return s
}

// WithRecencyWindow configures how far back the recency boost reaches.
func (s *Service) WithRecencyWindow(window time.Duration) *Service {
	if window > 0 {
		s.recencyWindow = window
	}
	return s
}

// Search executes a ranked, filtered query. Filters are hard constraints;
// ranking combines term matches, an exact-phrase boost, and a recency
// boost, with ties broken by document id for deterministic pagination.
// A store failure or timeout surfaces as a QueryError, never as an empty
// success.
func (s *Service) Search(ctx context.Context, q domain.Query) (domain.QueryResult, error) {
	if strings.TrimSpace(q.Text) == "" {
		return domain.QueryResult{}, fmt.Errorf("%w: empty query text", domain.ErrInvalidQuery)
	}
	if strings.TrimSpace(q.Locale) == "" {
		return domain.QueryResult{}, fmt.Errorf("%w: locale is required", domain.ErrInvalidQuery)
	}

	size := q.Size
	if size <= 0 {
		size = s.defaultSize
	}
	if size > s.maxSize {
		size = s.maxSize
	}
	from := q.From
	if from < 0 {
		from = 0
	}

	req := bleve.NewSearchRequestOptions(s.buildQuery(q), size, from, false)
	req.SortBy([]string{"-_score", "_id"})

	start := time.Now()
	res, err := s.idx.Search(ctx, req)
	metrics.QueryDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.QueryErrorsTotal.Inc()
		s.logger.Warn("query degraded",
			zap.String("locale", q.Locale),
			zap.Error(err),
		)
		if errors.Is(err, domain.ErrNoLiveGeneration) {
			return domain.QueryResult{}, fmt.Errorf("%w: %w", domain.ErrQuery, err)
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return domain.QueryResult{}, fmt.Errorf("%w: timeout: %w", domain.ErrQuery, err)
		}
		return domain.QueryResult{}, fmt.Errorf("%w: %w", domain.ErrQuery, err)
	}

	refs := make([]domain.Reference, 0, len(res.Hits))
	for _, hit := range res.Hits {
		t, id, ok := splitDocID(hit.ID)
		if !ok {
			continue
		}
		refs = append(refs, domain.Reference{Type: t, ID: id, Score: hit.Score})
	}
	return domain.QueryResult{References: refs, Total: res.Total}, nil
}

// buildQuery assembles the ranked request: a must-clause for the text
// match, must-clauses for each filter, and should-clauses for the phrase
// and recency boosts.
func (s *Service) buildQuery(q domain.Query) query.Query {
	bq := bleve.NewBooleanQuery()

	text := bleve.NewDisjunctionQuery(
		matchField(q.Text, analysis.FieldTitle, titleBoost),
		matchField(q.Text, analysis.FieldContent, contentBoost),
		matchField(q.Text, analysis.FieldAnswer, answerBoost),
	)
	bq.AddMust(text)

	bq.AddShould(phraseField(q.Text, analysis.FieldTitle, phraseTitleBoost))
	bq.AddShould(phraseField(q.Text, analysis.FieldContent, phraseContentBoost))

	now := s.now()
	recent := bleve.NewDateRangeQuery(now.Add(-s.recencyWindow), now)
	recent.SetField(analysis.FieldUpdatedAt)
	recent.SetBoost(recencyBoost)
	bq.AddShould(recent)

	bq.AddMust(termFilter(analysis.FieldLocale, q.Locale))
	if len(q.Filters.Products) > 0 {
		bq.AddMust(anyTermFilter(analysis.FieldProducts, q.Filters.Products))
	}
	if len(q.Filters.Topics) > 0 {
		bq.AddMust(anyTermFilter(analysis.FieldTopics, q.Filters.Topics))
	}
	if q.Filters.Solved != nil {
		solved := bleve.NewBoolFieldQuery(*q.Filters.Solved)
		solved.SetField(analysis.FieldSolved)
		bq.AddMust(solved)
	}

	return bq
}

func matchField(text, field string, boost float64) query.Query {
	m := bleve.NewMatchQuery(text)
	m.SetField(field)
	m.SetBoost(boost)
	return m
}

func phraseField(text, field string, boost float64) query.Query {
	p := bleve.NewMatchPhraseQuery(text)
	p.SetField(field)
	p.SetBoost(boost)
	return p
}

func termFilter(field, value string) query.Query {
	t := bleve.NewTermQuery(value)
	t.SetField(field)
	return t
}

// anyTermFilter matches documents carrying any of the values (OR within
// one filter field; filters on different fields AND together).
func anyTermFilter(field string, values []string) query.Query {
	terms := make([]query.Query, 0, len(values))
	for _, v := range values {
		terms = append(terms, termFilter(field, v))
	}
	return bleve.NewDisjunctionQuery(terms...)
}

func splitDocID(docID string) (domain.DocType, string, bool) {
	t, id, ok := strings.Cut(docID, ":")
	if !ok || id == "" {
		return "", "", false
	}
	dt := domain.DocType(t)
	if !dt.Valid() {
		return "", "", false
	}
	return dt, id, true
}
