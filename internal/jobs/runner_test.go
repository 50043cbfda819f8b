package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/esprusso/photo-library/internal/database"
)

// fakeTask processes n items, failing the indexes in fail.
type fakeTask struct {
	name        string
	n           int
	fail        map[int]bool
	panicAt     int
	prepareErr  error
	finishErr   error
	finishPanic bool
	onItem      func(i int)

	mu        sync.Mutex
	processed []int
	aborted   bool
}

type fakeWork struct{ t *fakeTask }

func (t *fakeTask) Type() string { return t.name }

func (t *fakeTask) Prepare(ctx context.Context, job *database.Job) (Work, error) {
	if t.prepareErr != nil {
		return nil, t.prepareErr
	}
	return fakeWork{t}, nil
}

func (w fakeWork) Len() int { return w.t.n }

func (w fakeWork) Process(ctx context.Context, i int) error {
	if w.t.onItem != nil {
		w.t.onItem(i)
	}
	w.t.mu.Lock()
	w.t.processed = append(w.t.processed, i)
	w.t.mu.Unlock()
	if w.t.panicAt == i+1 {
		panic("boom")
	}
	if w.t.fail[i] {
		return fmt.Errorf("item %d broke", i)
	}
	return nil
}

func (w fakeWork) Result(s Summary) any {
	return map[string]int{"processed": s.Processed, "errors": s.Errors}
}

func (w fakeWork) Finish(ctx context.Context) error {
	if w.t.finishPanic {
		panic("finish exploded")
	}
	return w.t.finishErr
}

func (w fakeWork) Abort() {
	w.t.mu.Lock()
	w.t.aborted = true
	w.t.mu.Unlock()
}

// fakeGate lets open items through, then fails with err.
type fakeGate struct {
	mu    sync.Mutex
	calls int
	open  int
	err   error
}

func (g *fakeGate) Wait(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil && g.calls > g.open {
		return g.err
	}
	return nil
}

func newTestRunner(t *testing.T, tasks ...Task) (*Runner, *database.Database) {
	t.Helper()
	db := setupTestDB(t)
	r := NewRunner(NewLedger(db, 0), RunnerConfig{Workers: 2, FlushEvery: 10, FlushInterval: time.Hour})
	r.Register(tasks...)
	return r, db
}

func decodeResult(t *testing.T, job *database.Job) map[string]int {
	t.Helper()
	var m map[string]int
	if err := json.Unmarshal(job.Result, &m); err != nil {
		t.Fatalf("invalid result %s: %v", job.Result, err)
	}
	return m
}

func TestRunCompletesWithPartialFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	task := &fakeTask{name: "phash", n: 25, fail: map[int]bool{3: true, 17: true}}
	r, _ := newTestRunner(t, task)

	job, created, err := r.Ledger().Start(ctx, "phash", nil)
	if err != nil || !created {
		t.Fatal(err)
	}
	if err := r.Run(ctx, job.ID); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	got, _ := r.Ledger().Get(ctx, job.ID)
	if got.Status != database.JobCompleted || got.Progress != 100 {
		t.Errorf("job = %+v", got)
	}
	if got.TotalItems != 25 || got.ProcessedItems != 25 || got.StartedAt == nil || got.CompletedAt == nil {
		t.Errorf("counters = %d/%d started=%v completed=%v", got.ProcessedItems, got.TotalItems, got.StartedAt, got.CompletedAt)
	}
	if res := decodeResult(t, got); res["processed"] != 25 || res["errors"] != 2 {
		t.Errorf("result = %v", res)
	}

	// Items run in enumeration order.
	for i, idx := range task.processed {
		if idx != i {
			t.Fatalf("processed order = %v", task.processed)
		}
	}
}

func TestRunFlushesProgressPeriodically(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var db *database.Database
	var jobID int64
	var snapshots []database.Job
	task := &fakeTask{name: "tagging", n: 35}
	task.onItem = func(i int) {
		if i == 12 || i == 25 {
			j, err := db.GetJob(ctx, jobID)
			if err == nil {
				snapshots = append(snapshots, *j)
			}
		}
	}
	r, d := newTestRunner(t, task)
	db = d

	job, _, _ := r.Ledger().Start(ctx, "tagging", nil)
	jobID = job.ID
	if err := r.Run(ctx, job.ID); err != nil {
		t.Fatal(err)
	}

	if len(snapshots) != 2 {
		t.Fatalf("snapshots = %d", len(snapshots))
	}
	// Before item 12 runs, items 0..11 are done and the last flush was at 10.
	if s := snapshots[0]; s.ProcessedItems != 10 || s.TotalItems != 35 || s.Progress != 28 || s.Status != database.JobRunning {
		t.Errorf("snapshot at item 12 = %d/%d %d%% %s", s.ProcessedItems, s.TotalItems, s.Progress, s.Status)
	}
	if s := snapshots[1]; s.ProcessedItems != 20 || s.Progress != 57 {
		t.Errorf("snapshot at item 25 = %d/%d %d%%", s.ProcessedItems, s.TotalItems, s.Progress)
	}
}

func TestRunPrepareFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, _ := newTestRunner(t, &fakeTask{name: "indexing", prepareErr: errors.New("library unavailable")})

	job, _, _ := r.Ledger().Start(ctx, "indexing", nil)
	if err := r.Run(ctx, job.ID); err == nil {
		t.Fatal("Run() should return the prepare error")
	}

	got, _ := r.Ledger().Get(ctx, job.ID)
	if got.Status != database.JobFailed || got.ErrorMessage == nil || got.CompletedAt == nil || got.Result != nil {
		t.Errorf("failed job = %+v", got)
	}
}

func TestRunFinishFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, _ := newTestRunner(t, &fakeTask{name: "category-zip", n: 2, finishErr: errors.New("disk full")})

	job, _, _ := r.Ledger().Start(ctx, "category-zip", nil)
	if err := r.Run(ctx, job.ID); err == nil {
		t.Fatal("Run() should fail")
	}
	got, _ := r.Ledger().Get(ctx, job.ID)
	if got.Status != database.JobFailed || got.Progress == 100 {
		t.Errorf("job = %+v", got)
	}
}

func TestRunAbortsWorkOnFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	failing := &fakeTask{name: "category-zip", n: 2, finishErr: errors.New("disk full")}
	ok := &fakeTask{name: "phash", n: 2}
	r, _ := newTestRunner(t, failing, ok)

	for _, task := range []*fakeTask{failing, ok} {
		job, _, _ := r.Ledger().Start(ctx, task.name, nil)
		_ = r.Run(ctx, job.ID)
	}
	if !failing.aborted {
		t.Error("failed job work was not aborted")
	}
	if ok.aborted {
		t.Error("completed job work was aborted")
	}
}

func TestRunAbortsWorkOnFinishPanic(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	task := &fakeTask{name: "category-zip", n: 2, finishPanic: true}
	r, _ := newTestRunner(t, task)

	job, _, _ := r.Ledger().Start(ctx, "category-zip", nil)
	if err := r.Run(ctx, job.ID); err == nil {
		t.Fatal("Run() should report the panic")
	}
	if !task.aborted {
		t.Error("work was not aborted after a panic in Finish")
	}
	got, _ := r.Ledger().Get(ctx, job.ID)
	if got.Status != database.JobFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
}

func TestRunConsultsGate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	task := &fakeTask{name: "tagging", n: 6}
	gate := &fakeGate{}
	db := setupTestDB(t)
	r := NewRunner(NewLedger(db, 0), RunnerConfig{Workers: 1, FlushEvery: 10, FlushInterval: time.Hour, Gate: gate})
	r.Register(task)

	job, _, _ := r.Ledger().Start(ctx, "tagging", nil)
	if err := r.Run(ctx, job.ID); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if gate.calls != 6 {
		t.Errorf("gate consulted %d times, want 6", gate.calls)
	}
}

func TestRunGateErrorInterruptsJob(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	task := &fakeTask{name: "thumbnailing", n: 5}
	gate := &fakeGate{open: 2, err: context.Canceled}
	db := setupTestDB(t)
	r := NewRunner(NewLedger(db, 0), RunnerConfig{Workers: 1, FlushEvery: 10, FlushInterval: time.Hour, Gate: gate})
	r.Register(task)

	job, _, _ := r.Ledger().Start(ctx, "thumbnailing", nil)
	err := r.Run(ctx, job.ID)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if len(task.processed) != 2 || !task.aborted {
		t.Errorf("processed = %v aborted = %v", task.processed, task.aborted)
	}
	got, _ := r.Ledger().Get(ctx, job.ID)
	if got.Status != database.JobFailed || got.ProcessedItems != 2 {
		t.Errorf("job = %s %d/%d", got.Status, got.ProcessedItems, got.TotalItems)
	}
}

func TestRunRecoversItemPanic(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, _ := newTestRunner(t, &fakeTask{name: "thumbnailing", n: 3, panicAt: 2})

	job, _, _ := r.Ledger().Start(ctx, "thumbnailing", nil)
	if err := r.Run(ctx, job.ID); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	got, _ := r.Ledger().Get(ctx, job.ID)
	if got.Status != database.JobCompleted {
		t.Fatalf("status = %s", got.Status)
	}
	if res := decodeResult(t, got); res["errors"] != 1 || res["processed"] != 3 {
		t.Errorf("result = %v", res)
	}
}

type panicTask struct{}

func (panicTask) Type() string { return "refresh-exif" }
func (panicTask) Prepare(ctx context.Context, job *database.Job) (Work, error) {
	panic("nil map")
}

func TestRunRecoversTaskPanic(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, _ := newTestRunner(t, panicTask{})

	job, _, _ := r.Ledger().Start(ctx, "refresh-exif", nil)
	if err := r.Run(ctx, job.ID); err == nil {
		t.Fatal("Run() should report the panic")
	}
	got, _ := r.Ledger().Get(ctx, job.ID)
	if got.Status != database.JobFailed || got.ErrorMessage == nil {
		t.Errorf("job = %+v", got)
	}
}

func TestRunSkipsCancelledJob(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	task := &fakeTask{name: "indexing", n: 5}
	r, _ := newTestRunner(t, task)

	job, _, _ := r.Ledger().Start(ctx, "indexing", nil)
	if err := r.Ledger().Cancel(ctx, job.ID); err != nil {
		t.Fatal(err)
	}
	if err := r.Run(ctx, job.ID); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if len(task.processed) != 0 {
		t.Errorf("cancelled job processed %d items", len(task.processed))
	}
	got, _ := r.Ledger().Get(ctx, job.ID)
	if got.Status != database.JobCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
}

func TestRunUnknownType(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, _ := newTestRunner(t)

	job, _, _ := r.Ledger().Start(ctx, "mystery", nil)
	if err := r.Run(ctx, job.ID); !errors.Is(err, ErrUnknownType) {
		t.Errorf("Run() error = %v, want ErrUnknownType", err)
	}
	got, _ := r.Ledger().Get(ctx, job.ID)
	if got.Status != database.JobFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}

	if _, _, err := r.Submit(ctx, "mystery", nil); !errors.Is(err, ErrUnknownType) {
		t.Errorf("Submit() error = %v, want ErrUnknownType", err)
	}
}

func TestForceKilledJobKeepsRunningButIsNotCompleted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var r *Runner
	var jobID int64
	task := &fakeTask{name: "indexing", n: 20}
	task.onItem = func(i int) {
		if i == 5 {
			if _, err := r.Ledger().ForceKill(ctx, jobID); err != nil {
				t.Errorf("ForceKill() failed: %v", err)
			}
		}
	}
	r, _ = newTestRunner(t, task)

	job, _, _ := r.Ledger().Start(ctx, "indexing", nil)
	jobID = job.ID
	if err := r.Run(ctx, job.ID); err != nil {
		t.Fatalf("Run() = %v", err)
	}

	if len(task.processed) != 20 {
		t.Errorf("processed %d items, want all 20", len(task.processed))
	}
	got, _ := r.Ledger().Get(ctx, job.ID)
	if got.Status != database.JobFailed || *got.ErrorMessage != ForceKilledMessage || got.Result != nil {
		t.Errorf("job = %+v", got)
	}
	// Stale progress keeps landing on the failed record.
	if got.ProcessedItems != 20 {
		t.Errorf("ProcessedItems = %d, want 20", got.ProcessedItems)
	}
}

func TestRunnerStartSubmitAndResume(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	ledger := NewLedger(db, 0)
	ctx := context.Background()

	// Left over from a previous process.
	stuck, _, _ := ledger.Start(ctx, "thumbnailing", nil)
	if _, err := db.MarkJobRunning(ctx, stuck.ID); err != nil {
		t.Fatal(err)
	}
	queued, _, _ := ledger.Start(ctx, "phash", nil)

	r := NewRunner(ledger, RunnerConfig{Workers: 2})
	r.Register(&fakeTask{name: "phash", n: 3}, &fakeTask{name: "indexing", n: 4})

	runCtx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		r.Wait()
	}()
	if err := r.Start(runCtx); err != nil {
		t.Fatal(err)
	}

	submitted, created, err := r.Submit(ctx, "indexing", nil)
	if err != nil || !created {
		t.Fatalf("Submit() = %v, %v", created, err)
	}

	for _, id := range []int64{queued.ID, submitted.ID} {
		waitForStatus(t, ledger, id, database.JobCompleted)
	}

	got, _ := ledger.Get(ctx, stuck.ID)
	if got.Status != database.JobFailed || *got.ErrorMessage != InterruptedMessage {
		t.Errorf("interrupted job = %+v", got)
	}
}

func TestRunnerPeriodicSweep(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	ledger := NewLedger(db, time.Minute)
	ctx := context.Background()

	r := NewRunner(ledger, RunnerConfig{Workers: 1, SweepInterval: 20 * time.Millisecond})
	runCtx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		r.Wait()
	}()
	if err := r.Start(runCtx); err != nil {
		t.Fatal(err)
	}

	// Started after Start, so resume does not touch it.
	job, _, _ := ledger.Start(ctx, "indexing", nil)
	if _, err := db.MarkJobRunning(ctx, job.ID); err != nil {
		t.Fatal(err)
	}
	if err := db.SetJobStartedAt(ctx, job.ID, time.Now().Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, ledger, job.ID, database.JobFailed)
}

func waitForStatus(t *testing.T, ledger *Ledger, id int64, want database.JobStatus) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := ledger.Get(context.Background(), id)
		if err == nil && job.Status == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	job, _ := ledger.Get(context.Background(), id)
	t.Fatalf("job %d status = %s, want %s", id, job.Status, want)
}

func TestPercent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		processed, total, want int
	}{
		{0, 0, 0},
		{0, 10, 0},
		{1, 3, 33},
		{2, 3, 66},
		{3, 3, 100},
		{5, 3, 100},
	}
	for _, tt := range tests {
		if got := Percent(tt.processed, tt.total); got != tt.want {
			t.Errorf("Percent(%d, %d) = %d, want %d", tt.processed, tt.total, got, tt.want)
		}
	}
}
