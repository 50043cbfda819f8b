package jobs

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/esprusso/photo-library/internal/database"
)

func setupTestDB(t *testing.T) *database.Database {
	t.Helper()
	db, err := database.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), database.DefaultOptions())
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestLedgerStartDeduplicates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ledger := NewLedger(setupTestDB(t), 0)

	first, created, err := ledger.Start(ctx, "indexing", nil)
	if err != nil || !created {
		t.Fatalf("Start() = %v, %v, %v", first, created, err)
	}
	second, created, err := ledger.Start(ctx, "indexing", map[string]bool{"ignored": true})
	if err != nil || created || second.ID != first.ID {
		t.Errorf("second Start() = %+v, created=%v, err=%v; want job %d", second, created, err, first.ID)
	}

	other, created, err := ledger.Start(ctx, "phash", map[string]bool{"recompute": true})
	if err != nil || !created || other.ID == first.ID {
		t.Errorf("Start(phash) = %+v, %v, %v", other, created, err)
	}
	if string(other.Parameters) != `{"recompute":true}` {
		t.Errorf("Parameters = %s", other.Parameters)
	}
}

func TestLedgerStartConcurrent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ledger := NewLedger(setupTestDB(t), 0)

	const n = 8
	ids := make([]int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			job, _, err := ledger.Start(ctx, "thumbnailing", nil)
			if err != nil {
				t.Errorf("Start() failed: %v", err)
				return
			}
			ids[i] = job.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		if id != ids[0] {
			t.Fatalf("concurrent starts created different jobs: %v", ids)
		}
	}
}

func TestLedgerStartAfterFinish(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ledger := NewLedger(setupTestDB(t), 0)

	first, _, _ := ledger.Start(ctx, "tagging", nil)
	if err := ledger.Cancel(ctx, first.ID); err != nil {
		t.Fatal(err)
	}
	second, created, err := ledger.Start(ctx, "tagging", nil)
	if err != nil || !created || second.ID == first.ID {
		t.Errorf("Start() after cancel = %+v, %v, %v", second, created, err)
	}
}

func TestLedgerGetNotFound(t *testing.T) {
	t.Parallel()
	ledger := NewLedger(setupTestDB(t), 0)

	if _, err := ledger.Get(context.Background(), 404); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestLedgerCancel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := setupTestDB(t)
	ledger := NewLedger(db, 0)

	pending, _, _ := ledger.Start(ctx, "pending-type", nil)
	running, _, _ := ledger.Start(ctx, "running-type", nil)
	done, _, _ := ledger.Start(ctx, "done-type", nil)
	if _, err := db.MarkJobRunning(ctx, running.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := db.MarkJobRunning(ctx, done.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := db.CompleteJob(ctx, done.ID, 0, nil); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		id     int64
		want   error
		detail string
	}{
		{"pending", pending.ID, nil, ""},
		{"already cancelled", pending.ID, ErrInvalidState, "Job already finished"},
		{"running", running.ID, ErrInvalidState, "Cannot cancel running job"},
		{"completed", done.ID, ErrInvalidState, "Job already finished"},
		{"missing", 9999, ErrNotFound, "Job not found"},
	}
	for _, tt := range tests {
		err := ledger.Cancel(ctx, tt.id)
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: Cancel() error = %v, want %v", tt.name, err, tt.want)
			continue
		}
		if err != nil && err.Error() != tt.detail {
			t.Errorf("%s: Cancel() message = %q, want %q", tt.name, err.Error(), tt.detail)
		}
	}

	got, _ := ledger.Get(ctx, pending.ID)
	if got.Status != database.JobCancelled || got.CompletedAt == nil {
		t.Errorf("cancelled job = %+v", got)
	}
}

func TestLedgerForceKill(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := setupTestDB(t)
	ledger := NewLedger(db, 0)

	job, _, _ := ledger.Start(ctx, "indexing", nil)
	if _, err := ledger.ForceKill(ctx, job.ID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("ForceKill(pending) error = %v, want ErrInvalidState", err)
	}

	if _, err := db.MarkJobRunning(ctx, job.ID); err != nil {
		t.Fatal(err)
	}
	killed, err := ledger.ForceKill(ctx, job.ID)
	if err != nil {
		t.Fatalf("ForceKill() failed: %v", err)
	}
	if killed.Status != database.JobFailed || killed.ErrorMessage == nil || *killed.ErrorMessage != ForceKilledMessage {
		t.Errorf("killed job = %+v", killed)
	}

	// The executing task is not interrupted; its progress writes still land.
	if err := db.UpdateJobProgress(ctx, job.ID, database.JobProgress{Progress: 50, TotalItems: 4, ProcessedItems: 2}); err != nil {
		t.Fatal(err)
	}
	after, _ := ledger.Get(ctx, job.ID)
	if after.Status != database.JobFailed || after.ProcessedItems != 2 {
		t.Errorf("job after stale progress write = %+v", after)
	}

	if _, err := ledger.ForceKill(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("ForceKill(missing) error = %v, want ErrNotFound", err)
	}
}

func TestLedgerForceKillStalled(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := setupTestDB(t)
	ledger := NewLedger(db, 5*time.Minute)

	stale, _, _ := ledger.Start(ctx, "indexing", nil)
	fresh, _, _ := ledger.Start(ctx, "phash", nil)
	waiting, _, _ := ledger.Start(ctx, "tagging", nil)
	for _, id := range []int64{stale.ID, fresh.ID} {
		if _, err := db.MarkJobRunning(ctx, id); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.SetJobStartedAt(ctx, stale.ID, time.Now().Add(-10*time.Minute)); err != nil {
		t.Fatal(err)
	}
	if err := db.SetJobStartedAt(ctx, fresh.ID, time.Now().Add(-time.Second)); err != nil {
		t.Fatal(err)
	}

	killed, err := ledger.ForceKillStalled(ctx)
	if err != nil {
		t.Fatalf("ForceKillStalled() failed: %v", err)
	}
	if len(killed) != 1 || killed[0].ID != stale.ID {
		t.Fatalf("ForceKillStalled() = %+v, want only job %d", killed, stale.ID)
	}

	wantStatus := map[int64]database.JobStatus{
		stale.ID:   database.JobFailed,
		fresh.ID:   database.JobRunning,
		waiting.ID: database.JobPending,
	}
	for id, want := range wantStatus {
		got, _ := ledger.Get(ctx, id)
		if got.Status != want {
			t.Errorf("job %d status = %s, want %s", id, got.Status, want)
		}
	}
	got, _ := ledger.Get(ctx, stale.ID)
	if got.ErrorMessage == nil || *got.ErrorMessage != StalledMessage || got.CompletedAt == nil {
		t.Errorf("stalled job = %+v", got)
	}

	again, err := ledger.ForceKillStalled(ctx)
	if err != nil || len(again) != 0 {
		t.Errorf("second sweep = %v, %v", again, err)
	}
}

func TestLedgerListRejectsUnknownStatus(t *testing.T) {
	t.Parallel()
	ledger := NewLedger(setupTestDB(t), 0)

	_, err := ledger.List(context.Background(), database.JobFilter{Status: "bogus"})
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("List() error = %v, want ErrInvalidState", err)
	}
}
