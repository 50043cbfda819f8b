// Package startup handles application configuration loading and
// startup/shutdown logging.
//
// # Configuration
//
// Configuration is read from environment variables by [LoadConfig]. A .env
// file in the working directory is loaded first and never overrides
// variables that are already set.
//
//   - DATABASE_URL / DB_URL: sqlite:///path, a plain file path or postgres://... (default: sqlite:///./app.db)
//   - LIBRARY_PATHS: comma-separated scan roots (default: /library)
//   - LIBRARY_HOST_PATH / LIBRARY_CONTAINER_PATH: host to container path prefix mapping
//   - PATH_MAPPINGS_FILE: optional YAML file with extra prefix mappings
//   - THUMBNAILS_DIR: thumbnail output directory (default: /thumbnails)
//   - DOWNLOADS_DIR: zip export directory (default: /downloads)
//   - MEDIA_DIR: root of local copies; files outside it are never deleted (default: /data/media)
//   - THUMBNAIL_SIZE: longest thumbnail edge in pixels (default: 256)
//   - EXCLUDE_RAW_FILES: skip RAW formats while scanning (default: false)
//   - PORT / METRICS_PORT / METRICS_ENABLED: listeners (default: 8000 / 9090 / true)
//   - STALL_WINDOW: age after which a running job counts as stalled (default: 5m)
//   - STALL_SWEEP_INTERVAL: periodic stalled sweep, 0 disables (default: 0)
//   - JOB_WORKERS / INDEX_WORKERS / PHASH_WORKERS: pool sizes for jobs, the directory walk and the phash command (default: CPU-derived)
//   - AUTO_MIGRATE: apply schema migrations on start (default: true)
//   - MEMORY_LIMIT / MEMORY_RATIO: container limit in bytes and the heap share used for GOMEMLIMIT (default ratio: 0.85)
//   - LOG_LEVEL / DEBUG: logging level
//   - LOG_STATIC_FILES / LOG_HEALTH_CHECKS: access log filters
//
// Thumbnail and download directories are created when missing; when they are
// not writable the matching feature is reported as disabled.
//
// # Build Information
//
// Build-time variables are injected via ldflags and exposed via [GetBuildInfo].
//
// # Lifecycle Logging
//
//   - [LogDatabaseInit]: dialect, schema version and capabilities
//   - [LogRunnerInit]: job runner pool and registered job types
//   - [LogHTTPRoutes]: registered HTTP routes (debug level)
//   - [LogServerStarted]: server endpoints and startup duration
//   - [LogShutdownInitiated], [LogShutdownStep], [LogShutdownComplete]
package startup
