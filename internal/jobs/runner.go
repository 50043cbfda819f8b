package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/esprusso/photo-library/internal/database"
	"github.com/esprusso/photo-library/internal/logging"
	"github.com/esprusso/photo-library/internal/metrics"
	"github.com/esprusso/photo-library/internal/workers"
)

// InterruptedMessage is recorded on jobs left running by a previous process.
const InterruptedMessage = "Job was interrupted by a server restart"

// ErrUnknownType is returned when no task is registered for a job type.
var ErrUnknownType = errors.New("unknown job type")

// ErrQueueFull is returned when the runner cannot accept another job.
var ErrQueueFull = errors.New("job queue is full")

// Summary is the item accounting the runner hands to Work.Result.
type Summary struct {
	Total     int
	Processed int
	Errors    int
}

// Work is one prepared execution of a task: a fixed list of items processed
// in order.
type Work interface {
	// Len is the number of items. It becomes total_items.
	Len() int
	// Process handles item i. An error is counted and logged; it never
	// stops the job.
	Process(ctx context.Context, i int) error
	// Result builds the job's result payload once every item was attempted.
	Result(s Summary) any
}

// Finisher is implemented by Work that needs a final step after the item
// loop. An error from Finish fails the job.
type Finisher interface {
	Finish(ctx context.Context) error
}

// Aborter is implemented by Work holding resources that must be released
// when the job fails after Prepare.
type Aborter interface {
	Abort()
}

// Gate delays item processing, for example under memory pressure.
type Gate interface {
	Wait(ctx context.Context) error
}

// Task builds the work list for one job type.
type Task interface {
	Type() string
	Prepare(ctx context.Context, job *database.Job) (Work, error)
}

// RunnerConfig holds runner tuning.
type RunnerConfig struct {
	Workers       int
	QueueSize     int
	FlushEvery    int           // persist progress after this many items
	FlushInterval time.Duration // or after this much time, whichever first
	SweepInterval time.Duration // 0 disables the periodic stalled sweep
	Gate          Gate          // optional, consulted before every item
}

// DefaultRunnerConfig returns the standard runner settings.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Workers:       workers.ForJobs(),
		QueueSize:     64,
		FlushEvery:    10,
		FlushInterval: 2 * time.Second,
	}
}

// Runner executes queued jobs on a fixed pool of goroutines. Each job id is
// executed by at most one goroutine, and only after it was moved from
// pending to running.
type Runner struct {
	ledger *Ledger
	config RunnerConfig
	tasks  map[string]Task
	queue  chan int64

	mu     sync.Mutex
	active map[int64]struct{}

	wg sync.WaitGroup
}

// NewRunner creates a runner. Register tasks before calling Start.
func NewRunner(ledger *Ledger, config RunnerConfig) *Runner {
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.QueueSize < 1 {
		config.QueueSize = 64
	}
	if config.FlushEvery < 1 {
		config.FlushEvery = 10
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 2 * time.Second
	}
	return &Runner{
		ledger: ledger,
		config: config,
		tasks:  make(map[string]Task),
		queue:  make(chan int64, config.QueueSize),
		active: make(map[int64]struct{}),
	}
}

// Ledger returns the ledger the runner writes to.
func (r *Runner) Ledger() *Ledger {
	return r.ledger
}

// Register adds a task. A later registration for the same type wins.
func (r *Runner) Register(tasks ...Task) {
	for _, t := range tasks {
		r.tasks[t.Type()] = t
	}
}

// Types lists the registered job types, sorted.
func (r *Runner) Types() []string {
	types := make([]string, 0, len(r.tasks))
	for t := range r.tasks {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Start launches the worker pool and the optional stalled sweep. Jobs left
// running by a previous process are failed; pending ones are queued again.
// Workers stop when ctx is cancelled; call Wait to block until they exit.
func (r *Runner) Start(ctx context.Context) error {
	if err := r.resume(ctx); err != nil {
		return err
	}

	logging.Info("Starting job runner with %d worker(s)", r.config.Workers)
	for i := 0; i < r.config.Workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx)
	}

	if r.config.SweepInterval > 0 {
		r.wg.Add(1)
		go r.sweep(ctx)
	}
	return nil
}

// Wait blocks until every worker has returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) resume(ctx context.Context) error {
	running, err := r.ledger.db.ListJobsByStatus(ctx, database.JobRunning)
	if err != nil {
		return fmt.Errorf("failed to list running jobs: %w", err)
	}
	for _, j := range running {
		if ok, err := r.ledger.db.FailJob(ctx, j.ID, InterruptedMessage, database.JobRunning); err != nil {
			logging.Warn("Failed to mark interrupted job %d: %v", j.ID, err)
		} else if ok {
			metrics.JobsFinishedTotal.WithLabelValues(j.Type, string(database.JobFailed)).Inc()
			logging.Warn("Marked interrupted %s job %d as failed", j.Type, j.ID)
		}
	}

	pending, err := r.ledger.Pending(ctx)
	if err != nil {
		return fmt.Errorf("failed to list pending jobs: %w", err)
	}
	for _, j := range pending {
		if err := r.Enqueue(ctx, j.ID); err != nil {
			logging.Warn("Failed to requeue job %d: %v", j.ID, err)
			continue
		}
		logging.Info("Requeued pending %s job %d", j.Type, j.ID)
	}
	return nil
}

func (r *Runner) worker(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-r.queue:
			metrics.JobsQueued.Dec()
			if err := r.Run(ctx, id); err != nil {
				logging.Error("Job %d failed: %v", id, err)
			}
		}
	}
}

func (r *Runner) sweep(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.config.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.ledger.ForceKillStalled(ctx); err != nil {
				logging.Warn("Stalled job sweep failed: %v", err)
			}
		}
	}
}

// Submit starts a job of jobType through the ledger and queues it when it
// was newly created. An already active job of the same type is returned
// with created false.
func (r *Runner) Submit(ctx context.Context, jobType string, params any) (job *database.Job, created bool, err error) {
	if _, ok := r.tasks[jobType]; !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrUnknownType, jobType)
	}
	job, created, err = r.ledger.Start(ctx, jobType, params)
	if err != nil || !created {
		return job, created, err
	}
	if err := r.Enqueue(ctx, job.ID); err != nil {
		return nil, false, err
	}
	return job, true, nil
}

// Enqueue hands a pending job to the worker pool. A full queue fails the
// job rather than blocking the caller.
func (r *Runner) Enqueue(ctx context.Context, id int64) error {
	select {
	case r.queue <- id:
		metrics.JobsQueued.Inc()
		return nil
	default:
		if _, err := r.ledger.db.FailJob(ctx, id, ErrQueueFull.Error(), database.JobPending); err != nil {
			logging.Warn("Failed to fail unqueued job %d: %v", id, err)
		}
		return ErrQueueFull
	}
}

func (r *Runner) claim(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.active[id]; busy {
		return false
	}
	r.active[id] = struct{}{}
	return true
}

func (r *Runner) release(id int64) {
	r.mu.Lock()
	delete(r.active, id)
	r.mu.Unlock()
}

// Run executes a pending job on the calling goroutine. A job that is no
// longer pending (cancelled, or claimed elsewhere) is skipped. Fatal errors
// and panics are recorded on the job and also returned.
func (r *Runner) Run(ctx context.Context, id int64) (err error) {
	if !r.claim(id) {
		return invalidState(fmt.Sprintf("Job %d is already executing", id))
	}
	defer r.release(id)

	job, err := r.ledger.Get(ctx, id)
	if err != nil {
		return err
	}

	task, ok := r.tasks[job.Type]
	if !ok {
		err = fmt.Errorf("%w: %s", ErrUnknownType, job.Type)
		r.fail(ctx, job, err.Error(), database.JobPending)
		return err
	}

	started, err := r.ledger.db.MarkJobRunning(ctx, id)
	if err != nil {
		return err
	}
	if !started {
		logging.Info("Skipping %s job %d: no longer pending", job.Type, id)
		return nil
	}
	job.Status = database.JobRunning

	metrics.JobsRunning.Inc()
	start := time.Now()
	logging.Info("Running %s job %d", job.Type, id)

	defer func() {
		metrics.JobsRunning.Dec()
		metrics.JobDuration.WithLabelValues(job.Type).Observe(time.Since(start).Seconds())
	}()

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in %s job: %v", job.Type, rec)
			logging.Error("%v\nStack trace: %s", err, debug.Stack())
			r.fail(ctx, job, err.Error(), database.JobRunning)
		}
	}()

	total, result, err := r.execute(ctx, job, task)
	if err != nil {
		r.fail(ctx, job, err.Error(), database.JobRunning)
		return err
	}

	raw, err := json.Marshal(result)
	if err != nil {
		err = fmt.Errorf("failed to encode %s job result: %w", job.Type, err)
		r.fail(ctx, job, err.Error(), database.JobRunning)
		return err
	}

	completed, err := r.ledger.db.CompleteJob(context.WithoutCancel(ctx), id, total, raw)
	if err != nil {
		return fmt.Errorf("failed to complete job %d: %w", id, err)
	}
	if !completed {
		logging.Warn("%s job %d finished after it was force-killed; result discarded", job.Type, id)
		return nil
	}

	metrics.JobsFinishedTotal.WithLabelValues(job.Type, string(database.JobCompleted)).Inc()
	logging.Info("Completed %s job %d in %v", job.Type, id, time.Since(start).Round(time.Millisecond))
	return nil
}

func (r *Runner) execute(ctx context.Context, job *database.Job, task Task) (total int, result any, err error) {
	work, err := task.Prepare(ctx, job)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to prepare %s job: %w", job.Type, err)
	}
	if a, ok := work.(Aborter); ok {
		defer func() {
			if rec := recover(); rec != nil {
				a.Abort()
				panic(rec)
			}
			if err != nil {
				a.Abort()
			}
		}()
	}

	s := Summary{Total: work.Len()}
	progress := newProgressWriter(r.ledger.db, job.ID, s.Total, r.config)
	progress.write(ctx, 0)

	for i := 0; i < s.Total; i++ {
		if err := r.wait(ctx); err != nil {
			progress.write(context.WithoutCancel(ctx), s.Processed)
			return 0, nil, fmt.Errorf("job interrupted after %d/%d items: %w", s.Processed, s.Total, err)
		}
		if err := processItem(ctx, work, i); err != nil {
			s.Errors++
			metrics.JobItemErrors.WithLabelValues(job.Type).Inc()
			logging.Warn("%s job %d: item %d failed: %v", job.Type, job.ID, i, err)
		}
		s.Processed++
		progress.advance(ctx, s.Processed)
	}

	if f, ok := work.(Finisher); ok {
		if err := f.Finish(ctx); err != nil {
			return 0, nil, err
		}
	}

	return s.Total, work.Result(s), nil
}

// wait returns ctx.Err() or, with a gate configured, blocks until the gate
// lets the next item through.
func (r *Runner) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.config.Gate == nil {
		return nil
	}
	return r.config.Gate.Wait(ctx)
}

func processItem(ctx context.Context, w Work, i int) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
			logging.Debug("Recovered item panic: %v\nStack trace: %s", rec, debug.Stack())
		}
	}()
	return w.Process(ctx, i)
}

func (r *Runner) fail(ctx context.Context, job *database.Job, message string, from database.JobStatus) {
	ok, err := r.ledger.db.FailJob(context.WithoutCancel(ctx), job.ID, message, from)
	if err != nil {
		logging.Error("Failed to record failure of job %d: %v", job.ID, err)
		return
	}
	if ok {
		metrics.JobsFinishedTotal.WithLabelValues(job.Type, string(database.JobFailed)).Inc()
	}
}

// progressWriter persists counters every FlushEvery items or FlushInterval,
// whichever comes first.
type progressWriter struct {
	db       *database.Database
	id       int64
	total    int
	every    int
	interval time.Duration

	sinceFlush int
	lastFlush  time.Time
}

func newProgressWriter(db *database.Database, id int64, total int, cfg RunnerConfig) *progressWriter {
	return &progressWriter{
		db:       db,
		id:       id,
		total:    total,
		every:    cfg.FlushEvery,
		interval: cfg.FlushInterval,
	}
}

func (p *progressWriter) advance(ctx context.Context, processed int) {
	p.sinceFlush++
	if p.sinceFlush >= p.every || time.Since(p.lastFlush) >= p.interval || processed == p.total {
		p.write(ctx, processed)
	}
}

// write caps progress at 99: only completion reports 100.
func (p *progressWriter) write(ctx context.Context, processed int) {
	err := p.db.UpdateJobProgress(ctx, p.id, database.JobProgress{
		Progress:       min(Percent(processed, p.total), 99),
		TotalItems:     p.total,
		ProcessedItems: processed,
	})
	if err != nil {
		logging.Warn("Failed to update progress of job %d: %v", p.id, err)
	}
	p.sinceFlush = 0
	p.lastFlush = time.Now()
}

// Percent is floor(processed*100/total), 0 while total is unknown.
func Percent(processed, total int) int {
	if total <= 0 {
		return 0
	}
	if processed >= total {
		return 100
	}
	return processed * 100 / total
}
