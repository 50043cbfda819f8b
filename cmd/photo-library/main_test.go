package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/esprusso/photo-library/internal/database"
	"github.com/esprusso/photo-library/internal/duplicates"
	"github.com/esprusso/photo-library/internal/jobs"
)

// execute runs the root command with args against the database at dbPath
// and returns its standard output.
func execute(t *testing.T, dbPath string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--db", dbPath, "--log-level", "error"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func openTestDB(t *testing.T, path string) *database.Database {
	t.Helper()
	db, err := database.Open(context.Background(), path, database.DefaultOptions())
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	return db
}

func insertImage(t *testing.T, db *database.Database, path, phash string) *database.Image {
	t.Helper()
	ctx := context.Background()
	img := &database.Image{Path: path, Filename: filepath.Base(path), FileSize: 1, Width: 4, Height: 3, Format: "PNG"}
	if _, err := db.InsertImage(ctx, img); err != nil {
		t.Fatal(err)
	}
	if phash != "" {
		if err := db.SetPhash(ctx, img.ID, phash); err != nil {
			t.Fatal(err)
		}
	}
	return img
}

func fp(tail string) string {
	return strings.Repeat("0", 64-len(tail)) + tail
}

func TestMigrateCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "app.db")

	out, err := execute(t, dbPath, "migrate")
	if err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	if !strings.Contains(out, "Migrated schema from version 0 to") || !strings.Contains(out, "Fingerprints:    true") {
		t.Errorf("first migrate output:\n%s", out)
	}

	out, err = execute(t, dbPath, "migrate")
	if err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
	if !strings.Contains(out, "Schema is up to date") {
		t.Errorf("second migrate output:\n%s", out)
	}
}

func TestDuplicatesCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "app.db")
	db := openTestDB(t, dbPath)
	a := insertImage(t, db, "/library/a.png", fp("1"))
	insertImage(t, db, "/library/b.png", fp("1"))
	insertImage(t, db, "/library/c.png", fp("ffff"))
	db.Close()

	out, err := execute(t, dbPath, "duplicates", "--threshold", "0")
	if err != nil {
		t.Fatalf("duplicates failed: %v", err)
	}
	if !strings.Contains(out, "Cluster 1 (2 images") || !strings.Contains(out, "Clusters: 1") || !strings.Contains(out, "/library/b.png") {
		t.Errorf("duplicates output:\n%s", out)
	}

	out, err = execute(t, dbPath, "duplicates", "--json")
	if err != nil {
		t.Fatalf("duplicates --json failed: %v", err)
	}
	var clusters []duplicates.ClusterView
	if err := json.Unmarshal([]byte(out), &clusters); err != nil {
		t.Fatalf("invalid JSON output %q: %v", out, err)
	}
	if len(clusters) != 1 || clusters[0].ImageIDs[0] != a.ID {
		t.Errorf("clusters = %+v", clusters)
	}

	if _, err := execute(t, dbPath, "duplicates", "--threshold", "-1"); err == nil {
		t.Error("negative threshold should be rejected")
	}
}

func TestDuplicatesCommandSingleBucket(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "app.db")
	db := openTestDB(t, dbPath)
	// One bit apart, in the first hex digit.
	insertImage(t, db, "/library/a.png", "1"+strings.Repeat("0", 63))
	insertImage(t, db, "/library/b.png", strings.Repeat("0", 64))
	db.Close()

	out, err := execute(t, dbPath, "duplicates", "--threshold", "1")
	if err != nil || !strings.Contains(out, "No duplicate clusters found.") {
		t.Errorf("default prefix: %v\n%s", err, out)
	}
	out, err = execute(t, dbPath, "duplicates", "--threshold", "1", "--prefix-bits", "0")
	if err != nil || !strings.Contains(out, "Clusters: 1") {
		t.Errorf("prefix-bits 0: %v\n%s", err, out)
	}
}

func TestDuplicatesCommandEmpty(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "app.db")

	out, err := execute(t, dbPath, "duplicates")
	if err != nil {
		t.Fatalf("duplicates failed: %v", err)
	}
	if !strings.Contains(out, "No duplicate clusters found.") {
		t.Errorf("output:\n%s", out)
	}
}

func TestJobsCommands(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "app.db")
	db := openTestDB(t, dbPath)
	ledger := jobs.NewLedger(db, time.Minute)
	pending, _, _ := ledger.Start(ctx, "indexing", nil)
	stale, _, _ := ledger.Start(ctx, "phash", nil)
	if _, err := db.MarkJobRunning(ctx, stale.ID); err != nil {
		t.Fatal(err)
	}
	if err := db.SetJobStartedAt(ctx, stale.ID, time.Now().Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}
	db.Close()

	out, err := execute(t, dbPath, "jobs", "list")
	if err != nil {
		t.Fatalf("jobs list failed: %v", err)
	}
	if !strings.Contains(out, "indexing") || !strings.Contains(out, "running") {
		t.Errorf("jobs list output:\n%s", out)
	}

	out, err = execute(t, dbPath, "jobs", "list", "--status", "pending")
	if err != nil || strings.Contains(out, "phash") {
		t.Errorf("filtered list = %q, %v", out, err)
	}

	if _, err := execute(t, dbPath, "jobs", "cancel", itoa(stale.ID)); err == nil || !strings.Contains(err.Error(), "Cannot cancel running job") {
		t.Errorf("cancel running error = %v", err)
	}
	out, err = execute(t, dbPath, "jobs", "cancel", itoa(pending.ID))
	if err != nil || !strings.Contains(out, "cancelled") {
		t.Errorf("cancel = %q, %v", out, err)
	}

	out, err = execute(t, dbPath, "jobs", "kill-stalled", "--window", "30m")
	if err != nil {
		t.Fatalf("kill-stalled failed: %v", err)
	}
	if !strings.Contains(out, "Force-killed 1 stalled jobs") {
		t.Errorf("kill-stalled output:\n%s", out)
	}
	out, _ = execute(t, dbPath, "jobs", "kill-stalled")
	if !strings.Contains(out, "No stalled jobs found") {
		t.Errorf("second sweep output:\n%s", out)
	}

	if _, err := execute(t, dbPath, "jobs", "cancel", "abc"); err == nil {
		t.Error("invalid job id should be rejected")
	}
}

func TestPhashCommand(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(t.TempDir(), "app.db")

	src := filepath.Join(dir, "a.png")
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 8), G: uint8(y * 8), B: 40, A: 255})
		}
	}
	f, err := os.Create(src)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	f.Close()

	db := openTestDB(t, dbPath)
	insertImage(t, db, src, "")
	insertImage(t, db, filepath.Join(dir, "missing.png"), "")
	db.Close()

	out, err := execute(t, dbPath, "phash", "--workers", "2")
	if err != nil {
		t.Fatalf("phash failed: %v", err)
	}
	if !strings.Contains(out, "Computed:  1") || !strings.Contains(out, "Errors:    1") {
		t.Errorf("phash output:\n%s", out)
	}

	ctx := context.Background()
	db = openTestDB(t, dbPath)
	defer db.Close()
	fps, err := db.ListFingerprints(ctx, 0)
	if err != nil || len(fps) != 1 {
		t.Errorf("fingerprints = %+v, %v", fps, err)
	}

	ledger := jobs.NewLedger(db, 0)
	list, err := ledger.List(ctx, database.JobFilter{Type: "phash"})
	if err != nil || len(list) != 1 {
		t.Fatalf("phash jobs = %+v, %v", list, err)
	}
	if j := list[0]; j.Status != database.JobCompleted || j.TotalItems != 2 || j.ProcessedItems != 2 || j.Progress != 100 {
		t.Errorf("phash job = %+v", j)
	}

	active, created, err := ledger.Start(ctx, "phash", nil)
	if err != nil || !created {
		t.Fatalf("Start = %v, %v", created, err)
	}
	out, err = execute(t, dbPath, "phash", "--recompute")
	if err != nil {
		t.Fatalf("phash with an active job failed: %v", err)
	}
	if want := "already pending (job " + strconv.FormatInt(active.ID, 10) + ")"; !strings.Contains(out, want) {
		t.Errorf("phash output = %q, want %q", out, want)
	}
	if got, _ := ledger.Get(ctx, active.ID); got.Status != database.JobPending {
		t.Errorf("active job status = %s", got.Status)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, filepath.Join(t.TempDir(), "app.db"), "version")
	if err != nil || !strings.HasPrefix(out, "photo-library dev") {
		t.Errorf("version = %q, %v", out, err)
	}
}

func TestInvalidLogLevel(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--log-level", "loud", "version"})
	if err := cmd.Execute(); err == nil {
		t.Error("unknown log level should fail")
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
