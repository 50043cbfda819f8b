package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_library_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "photo_library_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photo_library_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Database metrics
var (
	DBQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_library_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "photo_library_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	DBTransactionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "photo_library_db_transaction_duration_seconds",
			Help:    "Database transaction duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		},
		[]string{"result"}, // "commit" or "rollback"
	)

	DBConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photo_library_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	DBSchemaVersion = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photo_library_db_schema_version",
			Help: "Applied schema migration version",
		},
	)
)

// Job metrics
var (
	JobsStartedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_library_jobs_started_total",
			Help: "Total number of jobs created, by type",
		},
		[]string{"type"},
	)

	JobsDeduplicatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_library_jobs_deduplicated_total",
			Help: "Start requests that returned an already active job, by type",
		},
		[]string{"type"},
	)

	JobsFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_library_jobs_finished_total",
			Help: "Total number of jobs reaching a terminal state",
		},
		[]string{"type", "status"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "photo_library_job_duration_seconds",
			Help:    "Job execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 3600},
		},
		[]string{"type"},
	)

	JobItemErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_library_job_item_errors_total",
			Help: "Per-item failures skipped inside jobs",
		},
		[]string{"type"},
	)

	JobsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photo_library_jobs_running",
			Help: "Number of jobs currently executing in this process",
		},
	)

	JobsQueued = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photo_library_jobs_queued",
			Help: "Number of jobs waiting for a runner worker",
		},
	)

	JobsForceKilledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_library_jobs_force_killed_total",
			Help: "Jobs force-killed, by reason",
		},
		[]string{"reason"}, // "manual" or "stalled"
	)
)

// Fingerprint and duplicate metrics
var (
	PhashComputeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_library_phash_compute_total",
			Help: "Perceptual hash computations by status",
		},
		[]string{"status"},
	)

	PhashComputeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "photo_library_phash_compute_duration_seconds",
			Help:    "Perceptual hash computation duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)

	DuplicateSearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "photo_library_duplicate_search_duration_seconds",
			Help:    "Duration of duplicate cluster searches in seconds",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		},
	)

	DuplicateComparisons = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "photo_library_duplicate_comparisons",
			Help:    "Pairwise fingerprint comparisons per duplicate search",
			Buckets: prometheus.ExponentialBuckets(10, 4, 10),
		},
	)

	DuplicateClustersFound = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photo_library_duplicate_clusters_last",
			Help: "Number of clusters returned by the last duplicate search",
		},
	)

	DuplicateMergesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_library_duplicate_merges_total",
			Help: "Duplicate records merged into a keeper, by status",
		},
		[]string{"status"},
	)
)

// Scanner metrics
var (
	ScannerFilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_library_scanner_files_total",
			Help: "Files seen by the library scanner, by outcome",
		},
		[]string{"outcome"}, // added, updated, skipped, blacklisted, error
	)

	ScannerLastRunTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photo_library_scanner_last_run_timestamp",
			Help: "Unix timestamp of the last completed library scan",
		},
	)

	BlacklistHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_library_blacklist_hits_total",
			Help: "Discovered files rejected by the purge blacklist, by match kind",
		},
		[]string{"match"}, // "hash" or "name_size"
	)
)

// Thumbnail metrics
var (
	ThumbnailGenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_library_thumbnail_generations_total",
			Help: "Total number of thumbnail generations",
		},
		[]string{"status"},
	)

	ThumbnailGenerationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "photo_library_thumbnail_generation_duration_seconds",
			Help:    "Thumbnail generation duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)
)

// Filesystem metrics
var (
	FilesystemOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "photo_library_filesystem_operation_duration_seconds",
			Help:    "Filesystem operation duration in seconds",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"volume", "operation"},
	)

	FilesystemOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_library_filesystem_operation_errors_total",
			Help: "Filesystem operation errors",
		},
		[]string{"volume", "operation"},
	)

	FilesystemRetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_library_filesystem_retry_attempts_total",
			Help: "Retries issued after a stale file handle",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetrySuccess = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_library_filesystem_retry_success_total",
			Help: "Operations that succeeded after at least one retry",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_library_filesystem_retry_failures_total",
			Help: "Operations that exhausted their retries",
		},
		[]string{"operation", "volume"},
	)

	FilesystemStaleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_library_filesystem_stale_errors_total",
			Help: "ESTALE errors observed",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "photo_library_filesystem_retry_duration_seconds",
			Help:    "Total time spent in retried filesystem operations",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
		[]string{"operation", "volume"},
	)
)

// Library metrics, refreshed by the Collector
var (
	LibraryImagesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photo_library_images_total",
			Help: "Total number of images in the library",
		},
	)

	LibraryImagesWithPhash = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photo_library_images_with_phash",
			Help: "Images that have a perceptual hash",
		},
	)

	LibraryTagsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photo_library_tags_total",
			Help: "Total number of tags",
		},
	)

	LibraryCategoriesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photo_library_categories_total",
			Help: "Total number of categories",
		},
	)

	LibraryFavoritesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photo_library_favorites_total",
			Help: "Total number of favorite images",
		},
	)

	BlacklistEntriesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photo_library_blacklist_entries",
			Help: "Number of purged-fingerprint blacklist entries",
		},
	)

	IgnoredPairsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photo_library_ignored_pairs",
			Help: "Number of ignored duplicate pairs",
		},
	)
)

// Memory metrics
var (
	MemoryUsageRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photo_library_memory_usage_ratio",
			Help: "Heap allocation as a fraction of the memory limit",
		},
	)

	MemoryPaused = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photo_library_memory_paused",
			Help: "1 while job item processing is paused for memory pressure",
		},
	)

	MemoryPausesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "photo_library_memory_pauses_total",
			Help: "Number of times job processing paused for memory pressure",
		},
	)
)

// Application info metric
var (
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "photo_library_app_info",
			Help: "Application information",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// SetAppInfo sets the application info metric
func SetAppInfo(version, commit, goVersion string) {
	AppInfo.WithLabelValues(version, commit, goVersion).Set(1)
}
