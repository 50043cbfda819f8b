//go:build integration

package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPostgres(t *testing.T) *Database {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "photos",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil || container == nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	url := fmt.Sprintf("postgres://test:test@%s:%s/photos?sslmode=disable", host, port.Port())
	db, err := Open(ctx, url, DefaultOptions())
	if err != nil {
		t.Fatalf("Open(postgres) failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPostgresStore(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()

	if db.Dialect() != DialectPostgres || db.SchemaVersion() != LatestVersion {
		t.Fatalf("dialect %v schema %d", db.Dialect(), db.SchemaVersion())
	}

	a := insertTestImage(t, db, "/library/a.jpg")
	b := insertTestImage(t, db, "/library/b.jpg")

	if err := db.SetPhash(ctx, a, "00"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetPhash(ctx, b, "00"); err != nil {
		t.Fatal(err)
	}
	fps, err := db.ListFingerprints(ctx, 10)
	if err != nil || len(fps) != 2 {
		t.Fatalf("ListFingerprints() = %v, %v", fps, err)
	}

	if n, err := db.IgnorePairs(ctx, [][2]int64{{b, a}, {a, b}}); err != nil || n != 1 {
		t.Errorf("IgnorePairs() = %d, %v", n, err)
	}

	if _, err := db.AddTagsToImage(ctx, b, []string{"sunset"}); err != nil {
		t.Fatal(err)
	}
	entry := &PurgedImage{Filename: "b.jpg", OriginalPath: "/library/b.jpg", Reason: "duplicate merge"}
	if err := db.MergeAndPurge(ctx, a, b, entry); err != nil {
		t.Fatalf("MergeAndPurge() failed: %v", err)
	}
	img, err := db.GetImage(ctx, a)
	if err != nil || len(img.Tags) != 1 {
		t.Errorf("keeper = %+v, %v", img, err)
	}

	job, err := db.CreateJob(ctx, "phash", json.RawMessage(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.MarkJobRunning(ctx, job.ID); err != nil {
		t.Fatal(err)
	}
	if ok, err := db.CompleteJob(ctx, job.ID, 2, json.RawMessage(`{"computed":2}`)); err != nil || !ok {
		t.Errorf("CompleteJob() = %v, %v", ok, err)
	}
	if _, err := db.FindActiveJob(ctx, "phash"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FindActiveJob() error = %v", err)
	}

	stats, err := db.LibraryStats(ctx)
	if err != nil || stats.TotalImages != 1 || stats.BlacklistSize != 1 {
		t.Errorf("LibraryStats() = %+v, %v", stats, err)
	}
}
