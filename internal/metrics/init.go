package metrics

// JobTypes lists the job types whose label combinations are pre-populated.
var JobTypes = []string{
	"indexing",
	"thumbnailing",
	"tagging",
	"phash",
	"refresh-exif",
	"cleanup_orphaned",
	"category-zip",
}

// InitializeMetrics pre-populates all expected label combinations so that
// every metric is exported from the first Prometheus scrape.
// Call this once at startup after metric registration.
func InitializeMetrics() {
	// --- Jobs per type ---
	for _, jobType := range JobTypes {
		JobsStartedTotal.WithLabelValues(jobType)
		JobsDeduplicatedTotal.WithLabelValues(jobType)
		JobItemErrors.WithLabelValues(jobType)
		JobDuration.WithLabelValues(jobType)
		for _, status := range []string{"completed", "failed", "cancelled"} {
			JobsFinishedTotal.WithLabelValues(jobType, status)
		}
	}

	for _, reason := range []string{"manual", "stalled"} {
		JobsForceKilledTotal.WithLabelValues(reason)
	}

	// --- Fingerprints and duplicates ---
	for _, status := range []string{"success", "error"} {
		PhashComputeTotal.WithLabelValues(status)
		DuplicateMergesTotal.WithLabelValues(status)
		ThumbnailGenerationsTotal.WithLabelValues(status)
	}
	ThumbnailGenerationsTotal.WithLabelValues("skipped")

	// --- Scanner ---
	for _, outcome := range []string{"added", "updated", "skipped", "blacklisted", "error"} {
		ScannerFilesTotal.WithLabelValues(outcome)
	}
	for _, match := range []string{"hash", "name_size"} {
		BlacklistHitsTotal.WithLabelValues(match)
	}

	// --- Filesystem operation metrics (per volume × operation) ---
	volumes := []string{"library", "thumbnails", "downloads", "media", "unknown"}
	fsOps := []string{"stat", "open", "readdir", "remove"}

	for _, vol := range volumes {
		for _, op := range fsOps {
			FilesystemOperationDuration.WithLabelValues(vol, op)
			FilesystemOperationErrors.WithLabelValues(vol, op)
			FilesystemRetryAttempts.WithLabelValues(op, vol)
			FilesystemRetrySuccess.WithLabelValues(op, vol)
			FilesystemRetryFailures.WithLabelValues(op, vol)
			FilesystemStaleErrors.WithLabelValues(op, vol)
			FilesystemRetryDuration.WithLabelValues(op, vol)
		}
	}

	// --- Transactions ---
	DBTransactionDuration.WithLabelValues("commit")
	DBTransactionDuration.WithLabelValues("rollback")
}
