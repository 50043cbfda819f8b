package duplicates

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"testing"

	"github.com/esprusso/photo-library/internal/database"
	"github.com/esprusso/photo-library/internal/media"
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

// addImage writes content to dir/name, inserts a record for it and stores
// phash when set.
func addImage(t *testing.T, db *database.Database, dir, name, content, phash string) *database.Image {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	img := &database.Image{Path: path, Filename: name, FileSize: int64(len(content)), Width: 4, Height: 3, Format: "JPEG"}
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

func TestServiceFindClusters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := setupTestDB(t)
	dir := t.TempDir()
	svc := NewService(db)

	a := addImage(t, db, dir, "a.jpg", "same", fp("1"))
	b := addImage(t, db, dir, "b.jpg", "same", fp("1"))
	addImage(t, db, dir, "c.jpg", "other", fp("ffff"))
	addImage(t, db, dir, "d.jpg", "none", "")

	opts := DefaultSearchOptions()
	opts.Threshold = 0
	clusters, err := svc.FindClusters(ctx, opts)
	if err != nil {
		t.Fatalf("FindClusters() failed: %v", err)
	}
	if len(clusters) != 1 {
		t.Fatalf("clusters = %+v, want one", clusters)
	}
	c := clusters[0]
	if !reflect.DeepEqual(c.ImageIDs, []int64{a.ID, b.ID}) || !reflect.DeepEqual(c.Distances, []int{0, 0}) {
		t.Errorf("cluster = ids %v distances %v", c.ImageIDs, c.Distances)
	}
	if len(c.Images) != 2 || c.Images[0].ID != a.ID || c.Images[1].Filename != "b.jpg" {
		t.Errorf("cluster images = %+v", c.Images)
	}

	added, err := svc.IgnorePairs(ctx, [][2]int64{{b.ID, a.ID}})
	if err != nil || added != 1 {
		t.Fatalf("IgnorePairs() = %d, %v", added, err)
	}
	clusters, err = svc.FindClusters(ctx, opts)
	if err != nil || len(clusters) != 0 {
		t.Errorf("FindClusters() after ignore = %+v, %v", clusters, err)
	}

	removed, err := svc.UnignorePairs(ctx, [][2]int64{{a.ID, b.ID}})
	if err != nil || removed != 1 {
		t.Fatalf("UnignorePairs() = %d, %v", removed, err)
	}
	clusters, _ = svc.FindClusters(ctx, opts)
	if len(clusters) != 1 {
		t.Errorf("FindClusters() after unignore = %+v", clusters)
	}
}

func TestServiceFindClustersSingleBucket(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := setupTestDB(t)
	dir := t.TempDir()
	svc := NewService(db)

	zeros := strings.Repeat("0", 63)
	a := addImage(t, db, dir, "a.jpg", "a", "1"+zeros)
	b := addImage(t, db, dir, "b.jpg", "b", "0"+zeros)

	tests := []struct {
		prefixBits int
		want       int
	}{
		{0, 1},
		{4, 0},
		{-1, 0}, // default prefix
	}
	for _, tt := range tests {
		clusters, err := svc.FindClusters(ctx, SearchOptions{Threshold: 1, PrefixBits: tt.prefixBits, Limit: 100})
		if err != nil {
			t.Fatalf("FindClusters(prefix %d) failed: %v", tt.prefixBits, err)
		}
		if len(clusters) != tt.want {
			t.Errorf("FindClusters(prefix %d) = %d clusters, want %d", tt.prefixBits, len(clusters), tt.want)
		}
		if tt.want == 1 && !reflect.DeepEqual(sortedIDs(clusters[0].ImageIDs), []int64{a.ID, b.ID}) {
			t.Errorf("cluster ids = %v", clusters[0].ImageIDs)
		}
	}
}

func sortedIDs(in []int64) []int64 {
	out := append([]int64(nil), in...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func TestServiceIgnoreCluster(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := NewService(setupTestDB(t))

	n, err := svc.IgnoreCluster(ctx, []int64{3, 1, 2})
	if err != nil || n != 3 {
		t.Fatalf("IgnoreCluster() = %d, %v; want 3", n, err)
	}
	n, err = svc.IgnoreCluster(ctx, []int64{1, 2, 4})
	if err != nil || n != 2 {
		t.Errorf("IgnoreCluster() overlap = %d, %v; want 2", n, err)
	}

	tooMany := make([]int64, MaxClusterIDs+1)
	for i := range tooMany {
		tooMany[i] = int64(i + 1)
	}
	if _, err := svc.IgnoreCluster(ctx, tooMany); !errors.Is(err, ErrClusterTooLarge) {
		t.Errorf("IgnoreCluster(%d ids) error = %v, want ErrClusterTooLarge", len(tooMany), err)
	}

	pairs, err := svc.ListIgnored(ctx, 0)
	if err != nil || len(pairs) != 5 {
		t.Fatalf("ListIgnored() = %v, %v", pairs, err)
	}
	for _, p := range pairs {
		if p.A >= p.B {
			t.Errorf("pair %+v not normalized", p)
		}
	}
}

func TestServiceMergeDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := setupTestDB(t)
	dir := t.TempDir()
	thumbs := media.NewThumbnailGenerator(t.TempDir(), 32)
	svc := NewService(db, WithThumbnails(thumbs))

	keeper := addImage(t, db, dir, "keeper.jpg", "pixels", fp("1"))
	dup := addImage(t, db, dir, "dup.jpg", "pixels-copy", fp("1"))
	if _, err := db.AddTagsToImage(ctx, keeper.ID, []string{"beach"}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.AddTagsToImage(ctx, dup.ID, []string{"sunset"}); err != nil {
		t.Fatal(err)
	}
	if err := db.SetRating(ctx, dup.ID, 4); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(thumbs.Path(dup.ID), []byte("thumb"), 0o644); err != nil {
		t.Fatal(err)
	}

	result, err := svc.MergeDelete(ctx, keeper.ID, []int64{dup.ID, 999, keeper.ID, dup.ID})
	if err != nil {
		t.Fatalf("MergeDelete() failed: %v", err)
	}
	if !reflect.DeepEqual(result.Deleted, []int64{dup.ID}) {
		t.Errorf("Deleted = %v", result.Deleted)
	}
	if len(result.Failed) != 2 || result.Failed[0].ID != 999 || result.Failed[1].ID != keeper.ID {
		t.Errorf("Failed = %+v", result.Failed)
	}

	if _, err := db.GetImage(ctx, dup.ID); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("duplicate still present: %v", err)
	}
	got, err := db.GetImage(ctx, keeper.ID)
	if err != nil {
		t.Fatal(err)
	}
	tags := append([]string(nil), got.Tags...)
	sort.Strings(tags)
	if !reflect.DeepEqual(tags, []string{"beach", "sunset"}) || got.Rating != 4 {
		t.Errorf("keeper = tags %v rating %d", got.Tags, got.Rating)
	}

	entries, err := db.ListPurged(ctx, "dup.jpg", 10)
	if err != nil || len(entries) != 1 {
		t.Fatalf("ListPurged() = %v, %v", entries, err)
	}
	sum := sha256.Sum256([]byte("pixels-copy"))
	e := entries[0]
	if e.FileHash != hex.EncodeToString(sum[:]) || e.FileSize == nil || *e.FileSize != int64(len("pixels-copy")) || e.Reason != MergeReason {
		t.Errorf("blacklist entry = %+v", e)
	}

	// The source file stays on disk.
	if _, err := os.Stat(dup.Path); err != nil {
		t.Errorf("duplicate source file removed: %v", err)
	}
	if thumbs.Exists(dup.ID) {
		t.Error("duplicate thumbnail not removed")
	}
}

func TestServiceMergeDeleteMissingKeeper(t *testing.T) {
	t.Parallel()
	svc := NewService(setupTestDB(t))

	_, err := svc.MergeDelete(context.Background(), 42, []int64{1})
	if !errors.Is(err, database.ErrNotFound) {
		t.Errorf("MergeDelete() error = %v, want ErrNotFound", err)
	}
}

func TestServiceDeleteImage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := setupTestDB(t)
	library := t.TempDir()
	mediaDir := t.TempDir()
	elsewhere := t.TempDir()
	svc := NewService(db, WithMediaDir(mediaDir))

	writeCopy := func(dir, name string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("copy"), 0o644); err != nil {
			t.Fatal(err)
		}
		return path
	}

	inside := &database.Image{Path: filepath.Join(library, "inside.jpg"), Filename: "inside.jpg", LocalPath: writeCopy(mediaDir, "inside.jpg")}
	outside := &database.Image{Path: filepath.Join(library, "outside.jpg"), Filename: "outside.jpg", LocalPath: writeCopy(elsewhere, "outside.jpg")}
	for _, img := range []*database.Image{inside, outside} {
		if err := os.WriteFile(img.Path, []byte("original"), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := db.InsertImage(ctx, img); err != nil {
			t.Fatal(err)
		}
	}

	got, err := svc.DeleteImage(ctx, inside.ID, false)
	if want := (DeleteResult{ID: inside.ID, DeletedLocalCopy: true}); err != nil || got != want {
		t.Errorf("DeleteImage(inside) = %+v, %v; want %+v", got, err, want)
	}
	if _, err := os.Stat(inside.Path); err != nil {
		t.Errorf("original removed without delete_original: %v", err)
	}

	got, err = svc.DeleteImage(ctx, outside.ID, true)
	if want := (DeleteResult{ID: outside.ID, DeletedOriginal: true}); err != nil || got != want {
		t.Errorf("DeleteImage(outside) = %+v, %v; want %+v", got, err, want)
	}
	if _, err := os.Stat(outside.LocalPath); err != nil {
		t.Errorf("local copy outside the media dir was removed: %v", err)
	}
	if _, err := os.Stat(outside.Path); !os.IsNotExist(err) {
		t.Errorf("original not removed: %v", err)
	}

	// Both deletions were blacklisted with a content hash.
	for _, name := range []string{"inside.jpg", "outside.jpg"} {
		entries, _ := db.ListPurged(ctx, name, 10)
		if len(entries) != 1 || entries[0].Reason != DeleteReason || entries[0].FileHash == "" {
			t.Errorf("blacklist for %s = %+v", name, entries)
		}
	}

	if _, err := svc.DeleteImage(ctx, 999, false); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("DeleteImage(missing) error = %v", err)
	}
}

func TestServicePurgeOneStar(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := setupTestDB(t)
	dir := t.TempDir()
	svc := NewService(db)

	res, err := svc.PurgeOneStar(ctx)
	if err != nil || res.PurgedCount != 0 || res.Message != "No 1-star images found" {
		t.Errorf("PurgeOneStar() on empty library = %+v, %v", res, err)
	}

	bad := addImage(t, db, dir, "bad.jpg", "bad", "")
	good := addImage(t, db, dir, "good.jpg", "good", "")
	if err := db.SetRating(ctx, bad.ID, 1); err != nil {
		t.Fatal(err)
	}
	if err := db.SetRating(ctx, good.ID, 5); err != nil {
		t.Fatal(err)
	}

	res, err = svc.PurgeOneStar(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := PurgeResult{Message: "Purged 1 1-star images and added 1 to blacklist", PurgedCount: 1, BlacklistedCount: 1}
	if res != want {
		t.Errorf("PurgeOneStar() = %+v, want %+v", res, want)
	}
	if _, err := db.GetImage(ctx, good.ID); err != nil {
		t.Errorf("5-star image removed: %v", err)
	}
	if entries, _ := db.ListPurged(ctx, "bad.jpg", 10); len(entries) != 1 || entries[0].Reason != OneStarReason {
		t.Errorf("blacklist = %+v", entries)
	}
	if _, err := os.Stat(bad.Path); err != nil {
		t.Errorf("purge removed the file: %v", err)
	}
}
