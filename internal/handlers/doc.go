// Package handlers provides the HTTP API of the photo library.
//
// It includes handlers for:
//   - Duplicate search, ignore registry and merge-delete
//   - Image listing, favorites, ratings and deletion
//   - Background jobs: start, inspect, cancel and force-kill
//   - Tags and auto-tagging, categories, category membership and zip exports
//   - Library stats, the purged-fingerprint blacklist and one-star purge
//   - Health, readiness and version probes
//
// Errors are returned as {"detail": message} with 400 for invalid input
// or state, 404 for missing resources and 500 otherwise.
package handlers
