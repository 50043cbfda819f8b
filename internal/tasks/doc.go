// Package tasks implements the background job types run by the jobs
// runner: library indexing, orphan cleanup, thumbnail generation,
// heuristic tagging, perceptual hashing, EXIF refresh and category zip
// export.
//
// Each task prepares its item list from the database when the job starts
// and processes items one at a time. Per-item failures are counted in the
// job result and never fail the job.
package tasks
