package filesystem

// EventKind says what happened during a retried filesystem operation.
type EventKind int

const (
	// EventDone ends every operation. Err and Seconds are set.
	EventDone EventKind = iota
	// EventStale is one ESTALE result.
	EventStale
	// EventRetry is a scheduled retry after EventStale.
	EventRetry
	// EventRecovered is a success after at least one retry.
	EventRecovered
	// EventGaveUp means the retry budget ran out.
	EventGaveUp
)

// Event describes one step of an operation on a library, thumbnail, media
// or downloads volume.
type Event struct {
	Kind    EventKind
	Volume  string
	Op      string // stat, open, readdir, remove
	Seconds float64
	Err     error
}

// Observer receives filesystem events. The metrics package provides the
// Prometheus implementation; filesystem cannot import it directly.
type Observer interface {
	Observe(Event)
}

var defaultObserver Observer

// SetObserver installs the process-wide observer. Call it once at startup.
func SetObserver(o Observer) {
	defaultObserver = o
}

func emit(e Event) {
	if defaultObserver != nil {
		defaultObserver.Observe(e)
	}
}
