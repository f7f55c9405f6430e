package metrics

import "github.com/prometheus/client_golang/prometheus"

// Search engine Prometheus metrics.
var (
	DocumentsIndexedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kbsearch",
			Name:      "documents_indexed_total",
			Help:      "Total number of documents written to the index",
		},
		[]string{"path"}, // "incremental" / "rebuild" / "replay"
	)

	DocumentsDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kbsearch",
			Name:      "documents_deleted_total",
			Help:      "Total number of documents deleted from the index",
		},
	)

	DocumentsSkippedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kbsearch",
			Name:      "documents_skipped_total",
			Help:      "Total number of documents skipped due to mapping errors",
		},
	)

	StaleUpdatesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kbsearch",
			Name:      "stale_updates_total",
			Help:      "Total number of incremental updates discarded by the revision guard",
		},
	)

	RebuildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "kbsearch",
			Name:      "rebuild_duration_seconds",
			Help:      "Full index rebuild duration in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	PublishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kbsearch",
			Name:      "publish_total",
			Help:      "Total number of alias cutover attempts",
		},
		[]string{"status"}, // "ok" / "refused"
	)

	QueryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "kbsearch",
			Name:      "query_duration_seconds",
			Help:      "Search query duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)

	QueryErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kbsearch",
			Name:      "query_errors_total",
			Help:      "Total number of degraded (failed) queries",
		},
	)

	SynonymRulesLoaded = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "kbsearch",
			Name:      "synonym_rules_loaded",
			Help:      "Number of synonym groups loaded per locale",
		},
		[]string{"locale"},
	)

	PendingUpdatesDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "kbsearch",
			Name:      "pending_updates_depth",
			Help:      "Incremental updates queued for replay after cutover",
		},
	)

	FeedEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kbsearch",
			Name:      "feed_events_total",
			Help:      "Change feed events consumed",
		},
		[]string{"op", "status"},
	)
)

var searchMetricsRegistered bool

// RegisterSearchMetrics registers the search engine metrics. Must be called
// once from main (no init()).
func RegisterSearchMetrics() {
	if searchMetricsRegistered {
		return
	}
	prometheus.MustRegister(DocumentsIndexedTotal)
	prometheus.MustRegister(DocumentsDeletedTotal)
	prometheus.MustRegister(DocumentsSkippedTotal)
	prometheus.MustRegister(StaleUpdatesTotal)
	prometheus.MustRegister(RebuildDuration)
	prometheus.MustRegister(PublishTotal)
	prometheus.MustRegister(QueryDuration)
	prometheus.MustRegister(QueryErrorsTotal)
	prometheus.MustRegister(SynonymRulesLoaded)
	prometheus.MustRegister(PendingUpdatesDepth)
	prometheus.MustRegister(FeedEventsTotal)
	searchMetricsRegistered = true
}
