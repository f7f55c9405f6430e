package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/supportal/kbsearch/internal/analysis"
	"github.com/supportal/kbsearch/internal/config"
	"github.com/supportal/kbsearch/internal/content"
	"github.com/supportal/kbsearch/internal/feed"
	feedKafka "github.com/supportal/kbsearch/internal/feed/kafka"
	feedRedis "github.com/supportal/kbsearch/internal/feed/redis"
	"github.com/supportal/kbsearch/internal/index"
	logpkg "github.com/supportal/kbsearch/internal/logger"
	"github.com/supportal/kbsearch/internal/metrics"
	"github.com/supportal/kbsearch/internal/synonym"
	chiTransport "github.com/supportal/kbsearch/internal/transport/chi"
	healthuc "github.com/supportal/kbsearch/internal/usecase/health"
	indexinguc "github.com/supportal/kbsearch/internal/usecase/indexing"
	searchuc "github.com/supportal/kbsearch/internal/usecase/search"
	"github.com/supportal/kbsearch/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting kbsearch API server",
		zap.String("version", version.String()),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("feed_driver", cfg.Feed.Driver),
		zap.String("index_path", cfg.Index.Path),
		zap.Strings("locales", cfg.Synonyms.Locales),
	)

	// Register search metrics explicitly (no init())
	metrics.RegisterSearchMetrics()

	// Synonym dictionaries. A bad dictionary degrades its locale to the
	// generic analyzer; the process still starts.
	loader := synonym.NewLoader(cfg.Synonyms.Dir, cfg.Synonyms.Locales, logger)
	if err := loader.LoadAll(); err != nil {
		logger.Warn("some synonym dictionaries failed to load", zap.Error(err))
	}

	// Generation store and live alias
	store := index.NewStore(cfg.Index.Path, logger)
	aliasMgr := index.NewAliasManager(store, index.AliasConfig{
		MinDocCount:    cfg.Index.MinDocCount,
		RetentionGrace: time.Duration(cfg.Index.RetentionGraceSec) * time.Second,
	}, logger)
	if err := aliasMgr.Recover(); err != nil {
		logger.Fatal("Failed to recover index state", zap.Error(err))
	}
	defer func() { _ = aliasMgr.Close() }()
	if gen := aliasMgr.Live(); gen != nil {
		logger.Info("Recovered live index generation", zap.String("generation", gen.ID()))
	} else {
		logger.Info("No live index generation, waiting for first rebuild")
	}

	// The mapping function is evaluated at each rebuild, so a generation
	// pins the synonym rules current at its build time.
	locales := cfg.Synonyms.Locales
	mappingFn := func() (mapping.IndexMapping, error) {
		return analysis.BuildIndexMapping(analysis.LocaleConfigs(locales, loader.Table()))
	}

	builder := index.NewBuilder(store, aliasMgr, mappingFn, index.BuilderConfig{
		BatchSize:     cfg.Index.BatchSize,
		RetryAttempts: cfg.Index.RetryAttempts,
		RetryBackoff:  time.Duration(cfg.Index.RetryBackoffMillis) * time.Millisecond,
		QueueCapacity: cfg.Index.QueueCapacity,
	}, logger)

	contentClient := content.NewClient(content.Config{
		BaseURL:  cfg.Content.BaseURL,
		PageSize: cfg.Content.PageSize,
		Timeout:  time.Duration(cfg.Content.TimeoutSec) * time.Second,
	})

	// Create use case services
	searchSvc := searchuc.New(aliasMgr, logger).
		WithPagination(cfg.Index.DefaultPageSize, cfg.Index.MaxPageSize).
		WithRecencyWindow(time.Duration(cfg.Index.RecencyWindowDays) * 24 * time.Hour)
	indexingSvc := indexinguc.New(builder, aliasMgr, contentClient, loader, logger)

	// Query-time analyzer registry, used by the analyze debug endpoint
	analyzers := analysis.NewRegistry(analysis.LocaleConfigs(locales, loader.Table()))

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Change feed consumer (optional)
	var consumer feed.Consumer
	switch cfg.Feed.Driver {
	case "redis":
		consumer, err = feedRedis.NewConsumer(feedRedis.Config{
			Addrs:       cfg.Feed.Addrs,
			Password:    cfg.Feed.Password,
			Stream:      cfg.Feed.Stream,
			Group:       cfg.Feed.Group,
			Consumer:    cfg.Feed.Consumer,
			BlockMillis: cfg.Feed.BlockMillis,
			Count:       cfg.Feed.Count,
		}, indexingSvc.HandleEvent, logger)
	case "kafka":
		consumer, err = feedKafka.NewConsumer(feedKafka.Config{
			Brokers: cfg.Feed.Brokers,
			Topic:   cfg.Feed.Topic,
			GroupID: cfg.Feed.GroupID,
		}, indexingSvc.HandleEvent, logger)
	case "none":
		// incremental updates arrive over HTTP only
	default:
		logger.Fatal("Unknown feed driver", zap.String("driver", cfg.Feed.Driver))
	}
	if err != nil {
		logger.Fatal("Failed to create feed consumer", zap.Error(err))
	}
	if consumer != nil {
		defer func() { _ = consumer.Close() }()
		go func() {
			if err := consumer.Run(rootCtx); err != nil {
				logger.Error("feed consumer stopped", zap.Error(err))
			}
		}()
	}

	// Periodic full rebuild (optional)
	if cfg.Index.RebuildIntervalMin > 0 {
		go indexingSvc.RunPeriodic(rootCtx, time.Duration(cfg.Index.RebuildIntervalMin)*time.Minute)
	}

	// Health service
	healthSvc := healthuc.New(newIndexHealthChecker(aliasMgr), consumer)

	// Create chi server
	server := chiTransport.NewServer(searchSvc, indexingSvc, analyzers, healthSvc, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Register(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-rootCtx.Done()
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// indexHealthChecker probes the live alias with a match-none query.
type indexHealthChecker struct {
	alias *index.AliasManager
}

func newIndexHealthChecker(alias *index.AliasManager) *indexHealthChecker {
	return &indexHealthChecker{alias: alias}
}

func (h *indexHealthChecker) HealthCheck(ctx context.Context) error {
	req := bleve.NewSearchRequestOptions(bleve.NewMatchNoneQuery(), 0, 0, false)
	if _, err := h.alias.Search(ctx, req); err != nil {
		return fmt.Errorf("index health check: %w", err)
	}
	return nil
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())

			// Set X-Request-ID in response header
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line — one line per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
