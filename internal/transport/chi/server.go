// Package chi exposes the search and indexing services over HTTP.
package chi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/supportal/kbsearch/internal/analysis"
	"github.com/supportal/kbsearch/internal/domain"
	healthuc "github.com/supportal/kbsearch/internal/usecase/health"
	indexinguc "github.com/supportal/kbsearch/internal/usecase/indexing"
	searchuc "github.com/supportal/kbsearch/internal/usecase/search"
)

// ErrorResponse is the JSON error body returned by every endpoint.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes returned to clients.
const (
	CodeBadRequest        = "bad_request"
	CodeValidationFailed  = "validation_failed"
	CodeInvalidQuery      = "invalid_query"
	CodeQueryFailed       = "query_failed"
	CodeNoLiveIndex       = "no_live_index"
	CodeRebuildInProgress = "rebuild_in_progress"
	CodePublishInProgress = "publish_in_progress"
	CodeBuildFailed       = "build_failed"
	CodeInternalError     = "internal_error"
)

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server carries the use case services behind the HTTP API.
type Server struct {
	search        *searchuc.Service
	indexing      *indexinguc.Service
	analyzers     *analysis.Registry
	health        *healthuc.Service
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	search *searchuc.Service,
	indexing *indexinguc.Service,
	analyzers *analysis.Registry,
	health *healthuc.Service,
	logger *zap.Logger,
) *Server {
	s := &Server{
		search:    search,
		indexing:  indexing,
		analyzers: analyzers,
		health:    health,
		logger:    logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrInvalidQuery, http.StatusBadRequest, CodeInvalidQuery),
		sentinelHandler(domain.ErrMapping, http.StatusBadRequest, CodeValidationFailed),
		sentinelHandler(domain.ErrRebuildInProgress, http.StatusConflict, CodeRebuildInProgress),
		sentinelHandler(domain.ErrPublishInProgress, http.StatusConflict, CodePublishInProgress),
		sentinelHandler(domain.ErrNoLiveGeneration, http.StatusServiceUnavailable, CodeNoLiveIndex),
		sentinelHandler(domain.ErrBuild, http.StatusInternalServerError, CodeBuildFailed),
		sentinelHandler(domain.ErrQuery, http.StatusServiceUnavailable, CodeQueryFailed),
	}
	return s
}

// Register mounts all routes on the router.
func (s *Server) Register(r chi.Router) {
	r.Post("/api/search", s.SearchDocuments)
	r.Put("/api/documents", s.UpsertDocument)
	r.Delete("/api/documents/{type}/{id}", s.DeleteDocument)
	r.Post("/api/rebuild", s.Rebuild)
	r.Post("/api/synonyms/reload", s.ReloadSynonyms)
	r.Get("/api/index", s.IndexStatus)
	r.Post("/api/analyze", s.Analyze)
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
}

// SearchRequest is the POST /api/search body.
type SearchRequest struct {
	Text     string   `json:"text"`
	Locale   string   `json:"locale"`
	Products []string `json:"products,omitempty"`
	Topics   []string `json:"topics,omitempty"`
	Solved   *bool    `json:"solved,omitempty"`
	Size     int      `json:"size,omitempty"`
	From     int      `json:"from,omitempty"`
}

// SearchResultItem is one ranked reference in a search response.
type SearchResultItem struct {
	Type  string  `json:"type"`
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// SearchResponse is the POST /api/search response body.
type SearchResponse struct {
	Items []SearchResultItem `json:"items"`
	Total uint64             `json:"total"`
	Size  int                `json:"size"`
	From  int                `json:"from"`
}

// SearchDocuments handles POST /api/search.
func (s *Server) SearchDocuments(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	result, err := s.search.Search(r.Context(), domain.Query{
		Text:   req.Text,
		Locale: req.Locale,
		Filters: domain.Filters{
			Products: req.Products,
			Topics:   req.Topics,
			Solved:   req.Solved,
		},
		Size: req.Size,
		From: req.From,
	})
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	items := make([]SearchResultItem, len(result.References))
	for i, ref := range result.References {
		items[i] = SearchResultItem{
			Type:  string(ref.Type),
			ID:    ref.ID,
			Score: ref.Score,
		}
	}

	writeJSON(w, http.StatusOK, SearchResponse{
		Items: items,
		Total: result.Total,
		Size:  req.Size,
		From:  req.From,
	})
}

// UpsertDocument handles PUT /api/documents. The body is a full content
// record; stale revisions are absorbed as no-ops.
func (s *Server) UpsertDocument(w http.ResponseWriter, r *http.Request) {
	var rec domain.ContentRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if err := s.indexing.Upsert(r.Context(), rec); err != nil {
		s.handleDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeleteDocument handles DELETE /api/documents/{type}/{id}. Deleting an
// absent document succeeds.
func (s *Server) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	t := domain.DocType(chi.URLParam(r, "type"))
	id := chi.URLParam(r, "id")

	if !t.Valid() {
		writeError(w, http.StatusBadRequest, CodeValidationFailed,
			"document type must be \"article\" or \"question\"")
		return
	}
	if id == "" {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "document id is required")
		return
	}

	if err := s.indexing.Delete(r.Context(), t, id); err != nil {
		s.handleDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RebuildResponse is the POST /api/rebuild response body.
type RebuildResponse struct {
	Status string `json:"status"`
}

// Rebuild handles POST /api/rebuild. The rebuild runs in the background;
// the response only acknowledges that it started.
func (s *Server) Rebuild(w http.ResponseWriter, r *http.Request) {
	started, err := s.indexing.StartRebuild(r.Context())
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	if !started {
		writeError(w, http.StatusConflict, CodeRebuildInProgress, domain.ErrRebuildInProgress.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, RebuildResponse{Status: "rebuilding"})
}

// ReloadSynonyms handles POST /api/synonyms/reload. Dictionaries are
// reloaded for query-time analysis immediately; indexed documents pick up
// the new rules on the next rebuild.
func (s *Server) ReloadSynonyms(w http.ResponseWriter, r *http.Request) {
	if err := s.indexing.ReloadSynonyms(r.Context()); err != nil {
		s.handleDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// IndexStatusResponse is the GET /api/index response body.
type IndexStatusResponse struct {
	GenerationID string `json:"generation_id,omitempty"`
	DocCount     uint64 `json:"doc_count"`
	Building     bool   `json:"building"`
	PendingDepth int    `json:"pending_depth"`
}

// IndexStatus handles GET /api/index.
func (s *Server) IndexStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.indexing.Status(r.Context())
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, IndexStatusResponse{
		GenerationID: st.GenerationID,
		DocCount:     st.DocCount,
		Building:     st.Building,
		PendingDepth: st.PendingDepth,
	})
}

// AnalyzeRequest is the POST /api/analyze body.
type AnalyzeRequest struct {
	Locale string `json:"locale"`
	Text   string `json:"text"`
}

// AnalyzeTerm is one analyzed token in an analyze response.
type AnalyzeTerm struct {
	Text     string `json:"text"`
	Position int    `json:"position"`
}

// AnalyzeResponse is the POST /api/analyze response body.
type AnalyzeResponse struct {
	Locale     string        `json:"locale"`
	Configured bool          `json:"configured"`
	Terms      []AnalyzeTerm `json:"terms"`
}

// Analyze handles POST /api/analyze. It runs the locale's analyzer over
// the given text, a debugging aid for dictionary authors.
func (s *Server) Analyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Locale == "" {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "locale is required")
		return
	}

	terms := s.analyzers.Analyze(req.Locale, req.Text)
	out := make([]AnalyzeTerm, len(terms))
	for i, t := range terms {
		out[i] = AnalyzeTerm{Text: t.Text, Position: t.Position}
	}

	writeJSON(w, http.StatusOK, AnalyzeResponse{
		Locale:     req.Locale,
		Configured: s.analyzers.Configured(req.Locale),
		Terms:      out,
	})
}

// HealthResponse is the GET /health response body.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, HealthResponse{
		Status: string(report.Status),
		Checks: checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrInvalidQuery,
		domain.ErrMapping,
		domain.ErrRebuildInProgress,
		domain.ErrPublishInProgress,
		domain.ErrNoLiveGeneration,
		domain.ErrBuild,
		domain.ErrPublish,
		domain.ErrQuery,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
}
