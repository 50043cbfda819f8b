// Package database stores the photo library in SQLite (default) or
// PostgreSQL.
//
// It holds:
//   - Image records, including the perceptual hash column
//   - Tags and categories with their image associations
//   - The job ledger
//   - Ignored duplicate pairs
//   - The purged-file blacklist
//
// The schema is versioned. Each migration records its version in
// schema_version, and the optional features a version provides are exposed
// once at startup as Capabilities. SQLite databases run in WAL mode with a
// busy timeout, and writers are serialized by an in-process lock.
package database
