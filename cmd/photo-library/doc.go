// Command photo-library runs the photo library server and its maintenance
// commands.
//
// # Commands
//
//   - serve: HTTP API, background job runner and Prometheus metrics listener
//   - migrate: apply pending schema migrations
//   - phash: compute perceptual fingerprints in the foreground
//   - duplicates: print clusters of visually similar images
//   - jobs list|cancel|force-kill|kill-stalled: inspect and manage jobs
//   - version: print build information
//
// Every command accepts --db to override DATABASE_URL and --log-level to
// override LOG_LEVEL. A .env file in the working directory is loaded first.
//
// # Server Lifecycle
//
// serve initializes components in order:
//
//  1. Configuration: environment variables, directory checks
//  2. Database: open, migrate when AUTO_MIGRATE is set, log capabilities
//  3. Job runner: register job types, fail jobs interrupted by a previous
//     process and requeue pending ones
//  4. HTTP: routes with metrics, access log and gzip middleware
//  5. Metrics: library gauges refreshed every minute on METRICS_PORT
//
// On SIGINT or SIGTERM the HTTP listeners stop first, then the runner
// context is cancelled and the process waits for workers to return.
//
// # Build Information
//
// Version information is injected at build time:
//
//	go build -ldflags "-X github.com/esprusso/photo-library/internal/startup.Version=1.0.0 \
//	  -X github.com/esprusso/photo-library/internal/startup.Commit=abc123 \
//	  -X github.com/esprusso/photo-library/internal/startup.BuildTime=2026-01-01T00:00:00Z" \
//	  ./cmd/photo-library
package main
