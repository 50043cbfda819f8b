// Package metrics provides Prometheus instrumentation for the photo library.
//
// All metrics are registered with the default registry through promauto and
// are prefixed with "photo_library_". They are grouped by subsystem:
//
//   - HTTP: request counts, latency and in-flight requests
//   - Database: query counts and latency, transaction duration, schema version
//   - Jobs: started, deduplicated, finished and force-killed jobs, per-item
//     errors, queue depth and execution duration
//   - Fingerprints: perceptual hash computations, duplicate searches,
//     comparisons per search and merge outcomes
//   - Scanner: files seen by outcome and blacklist hits
//   - Thumbnails: generations and generation latency
//   - Filesystem: stale-handle retries per volume
//   - Library: gauges refreshed by the [Collector]
//
// # Collector
//
// The [Collector] periodically pulls a [Stats] snapshot from a
// [StatsProvider] (the database) and copies it into the library gauges:
//
//	collector := metrics.NewCollector(db, time.Minute)
//	collector.Start()
//	defer collector.Stop()
//
// # Prometheus Queries
//
// Job failure rate by type:
//
//	sum(rate(photo_library_jobs_finished_total{status="failed"}[1h])) by (type)
//
// Fingerprint coverage:
//
//	photo_library_images_with_phash / photo_library_images_total
//
// P95 duplicate search latency:
//
//	histogram_quantile(0.95, sum(rate(photo_library_duplicate_search_duration_seconds_bucket[5m])) by (le))
package metrics
