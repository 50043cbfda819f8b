package metrics

import "github.com/esprusso/photo-library/internal/filesystem"

type filesystemObserver struct{}

// NewFilesystemObserver records filesystem events into the Filesystem*
// collectors.
func NewFilesystemObserver() filesystem.Observer {
	return filesystemObserver{}
}

func (filesystemObserver) Observe(e filesystem.Event) {
	switch e.Kind {
	case filesystem.EventDone:
		FilesystemOperationDuration.WithLabelValues(e.Volume, e.Op).Observe(e.Seconds)
		FilesystemRetryDuration.WithLabelValues(e.Op, e.Volume).Observe(e.Seconds)
		if e.Err != nil {
			FilesystemOperationErrors.WithLabelValues(e.Volume, e.Op).Inc()
		}
	case filesystem.EventStale:
		FilesystemStaleErrors.WithLabelValues(e.Op, e.Volume).Inc()
	case filesystem.EventRetry:
		FilesystemRetryAttempts.WithLabelValues(e.Op, e.Volume).Inc()
	case filesystem.EventRecovered:
		FilesystemRetrySuccess.WithLabelValues(e.Op, e.Volume).Inc()
	case filesystem.EventGaveUp:
		FilesystemRetryFailures.WithLabelValues(e.Op, e.Volume).Inc()
	}
}
