package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/esprusso/photo-library/internal/database"
	"github.com/esprusso/photo-library/internal/logging"
	"github.com/esprusso/photo-library/internal/metrics"
)

var (
	// ErrNotFound is returned when a job id does not exist.
	ErrNotFound = errors.New("Job not found")

	// ErrInvalidState is returned when an operation is not legal for the
	// job's current status. It is wrapped with a detail message.
	ErrInvalidState = errors.New("invalid job state")
)

const (
	// StalledMessage is recorded on jobs failed by the stalled sweep.
	StalledMessage = "Job was killed due to being stalled/unresponsive"

	// ForceKilledMessage is recorded on jobs failed by a manual force-kill.
	ForceKilledMessage = "Job was force-killed by user"

	// DefaultStallWindow is how long a job may run before the sweep fails it.
	DefaultStallWindow = 5 * time.Minute
)

// StateError carries the user-facing reason an operation was refused.
type StateError struct {
	Detail string
}

func (e *StateError) Error() string { return e.Detail }

// Unwrap lets errors.Is match ErrInvalidState.
func (e *StateError) Unwrap() error { return ErrInvalidState }

func invalidState(detail string) error {
	return &StateError{Detail: detail}
}

// Ledger is the persisted record of background jobs. It owns the status
// transitions that callers outside the runner may request.
type Ledger struct {
	db          *database.Database
	stallWindow time.Duration

	// startMu serializes the check-then-create in Start.
	startMu sync.Mutex
}

// NewLedger creates a ledger. A non-positive stallWindow uses
// DefaultStallWindow.
func NewLedger(db *database.Database, stallWindow time.Duration) *Ledger {
	if stallWindow <= 0 {
		stallWindow = DefaultStallWindow
	}
	return &Ledger{db: db, stallWindow: stallWindow}
}

// StallWindow returns the configured staleness window.
func (l *Ledger) StallWindow() time.Duration {
	return l.stallWindow
}

// Start returns the active job of jobType if there is one, otherwise it
// creates a pending job with params. created reports which happened.
func (l *Ledger) Start(ctx context.Context, jobType string, params any) (job *database.Job, created bool, err error) {
	raw, err := encodeParams(params)
	if err != nil {
		return nil, false, err
	}

	l.startMu.Lock()
	defer l.startMu.Unlock()

	existing, err := l.db.FindActiveJob(ctx, jobType)
	switch {
	case err == nil:
		metrics.JobsDeduplicatedTotal.WithLabelValues(jobType).Inc()
		logging.Debug("Job %d (%s) already %s", existing.ID, jobType, existing.Status)
		return existing, false, nil
	case !errors.Is(err, database.ErrNotFound):
		return nil, false, fmt.Errorf("failed to look up active %s job: %w", jobType, err)
	}

	job, err = l.db.CreateJob(ctx, jobType, raw)
	if err != nil {
		return nil, false, err
	}
	metrics.JobsStartedTotal.WithLabelValues(jobType).Inc()
	logging.Info("Created %s job %d", jobType, job.ID)
	return job, true, nil
}

func encodeParams(params any) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job parameters: %w", err)
	}
	return raw, nil
}

// Get returns a job or ErrNotFound.
func (l *Ledger) Get(ctx context.Context, id int64) (*database.Job, error) {
	job, err := l.db.GetJob(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrNotFound
	}
	return job, err
}

// List returns jobs newest first.
func (l *Ledger) List(ctx context.Context, f database.JobFilter) ([]database.Job, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, invalidState(fmt.Sprintf("Unknown job status %q", f.Status))
	}
	return l.db.ListJobs(ctx, f)
}

// Cancel moves a pending job to cancelled. Running jobs must be
// force-killed instead; finished jobs cannot change.
func (l *Ledger) Cancel(ctx context.Context, id int64) error {
	job, err := l.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := cancellable(job.Status); err != nil {
		return err
	}

	ok, err := l.db.CancelJob(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		// The runner claimed it between the read and the update.
		job, err := l.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := cancellable(job.Status); err != nil {
			return err
		}
		return invalidState("Job could not be cancelled")
	}

	metrics.JobsFinishedTotal.WithLabelValues(job.Type, string(database.JobCancelled)).Inc()
	logging.Info("Cancelled %s job %d", job.Type, id)
	return nil
}

func cancellable(s database.JobStatus) error {
	switch {
	case s == database.JobRunning:
		return invalidState("Cannot cancel running job")
	case s.Terminal():
		return invalidState("Job already finished")
	}
	return nil
}

// ForceKill marks a running job failed. The executing task is not
// interrupted: it may keep writing progress to the failed record, and its
// completion write is ignored.
func (l *Ledger) ForceKill(ctx context.Context, id int64) (*database.Job, error) {
	job, err := l.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != database.JobRunning {
		return nil, invalidState(fmt.Sprintf("Job is not running (status: %s)", job.Status))
	}

	ok, err := l.db.FailJob(ctx, id, ForceKilledMessage, database.JobRunning)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, invalidState("Job is no longer running")
	}

	metrics.JobsForceKilledTotal.WithLabelValues("manual").Inc()
	metrics.JobsFinishedTotal.WithLabelValues(job.Type, string(database.JobFailed)).Inc()
	logging.Warn("Force-killed %s job %d", job.Type, id)
	return l.Get(ctx, id)
}

// ForceKillStalled fails every running job started longer ago than the
// stall window and returns the jobs as they were before the sweep. Only
// started_at is considered, so a healthy job running past the window is
// killed too.
func (l *Ledger) ForceKillStalled(ctx context.Context) ([]database.Job, error) {
	cutoff := time.Now().Add(-l.stallWindow)
	killed, err := l.db.FailRunningJobsStartedBefore(ctx, cutoff, StalledMessage)
	if err != nil {
		return nil, err
	}
	for _, j := range killed {
		metrics.JobsForceKilledTotal.WithLabelValues("stalled").Inc()
		metrics.JobsFinishedTotal.WithLabelValues(j.Type, string(database.JobFailed)).Inc()
		logging.Warn("Force-killed stalled %s job %d (%d/%d)", j.Type, j.ID, j.ProcessedItems, j.TotalItems)
	}
	return killed, nil
}

// Pending lists jobs still waiting to run, oldest first.
func (l *Ledger) Pending(ctx context.Context) ([]database.Job, error) {
	return l.db.ListJobsByStatus(ctx, database.JobPending)
}
