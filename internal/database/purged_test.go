package database

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

func int64Ptr(v int64) *int64 { return &v }
func intPtr(v int) *int       { return &v }

func TestPurgedImageMatches(t *testing.T) {
	t.Parallel()

	entry := PurgedImage{
		Filename: "beach.jpg",
		FileSize: int64Ptr(2048),
		FileHash: "abc",
		Width:    intPtr(640),
		Height:   intPtr(480),
	}
	noHash := entry
	noHash.FileHash = ""
	anySize := noHash
	anySize.FileSize = nil

	tests := []struct {
		name   string
		entry  PurgedImage
		file   string
		size   int64
		w, h   int
		hash   string
		expect bool
	}{
		{"hash match wins over name", entry, "renamed.jpg", 1, 0, 0, "abc", true},
		{"hash mismatch", entry, "beach.jpg", 2048, 640, 480, "def", false},
		{"name and size", noHash, "beach.jpg", 2048, 0, 0, "", true},
		{"name and size and dims", noHash, "beach.jpg", 2048, 640, 480, "", true},
		{"dims differ", noHash, "beach.jpg", 2048, 800, 600, "", false},
		{"size differs", noHash, "beach.jpg", 4096, 0, 0, "", false},
		{"name differs", noHash, "other.jpg", 2048, 0, 0, "", false},
		{"unknown size matches any size", anySize, "beach.jpg", 99, 0, 0, "", true},
		{"caller without hash falls back", entry, "beach.jpg", 2048, 0, 0, "", true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.entry.Matches(tt.file, tt.size, tt.w, tt.h, tt.hash); got != tt.expect {
				t.Errorf("Matches() = %v, want %v", got, tt.expect)
			}
		})
	}
}

func TestPurgedLookups(t *testing.T) {
	t.Parallel()

	db := setupTestDB(t)
	ctx := context.Background()

	entries := []*PurgedImage{
		{Filename: "a.jpg", FileSize: int64Ptr(100), FileHash: "h1", OriginalPath: "/library/a.jpg", Reason: "manual"},
		{Filename: "a.jpg", OriginalPath: "/library/old/a.jpg", Reason: "1-star rating"},
		{Filename: "b.jpg", FileSize: int64Ptr(200), Width: intPtr(10), Height: intPtr(20), Reason: "duplicate"},
	}
	for _, e := range entries {
		if err := db.AddPurged(ctx, e); err != nil {
			t.Fatalf("AddPurged() failed: %v", err)
		}
		if e.ID == 0 {
			t.Error("AddPurged() did not set ID")
		}
	}

	byName, err := db.FindPurgedByNameSize(ctx, "a.jpg", 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(byName) != 2 {
		t.Errorf("FindPurgedByNameSize(a.jpg, 100) = %d entries, want 2 (sized and unsized)", len(byName))
	}
	byName, _ = db.FindPurgedByNameSize(ctx, "a.jpg", 555)
	if len(byName) != 1 || byName[0].FileSize != nil {
		t.Errorf("FindPurgedByNameSize(a.jpg, 555) = %v, want the unsized entry", byName)
	}

	byHash, err := db.FindPurgedByHash(ctx, "h1")
	if err != nil || len(byHash) != 1 || byHash[0].OriginalPath != "/library/a.jpg" {
		t.Errorf("FindPurgedByHash() = %v, %v", byHash, err)
	}
	if none, _ := db.FindPurgedByHash(ctx, ""); len(none) != 0 {
		t.Errorf("FindPurgedByHash(\"\") = %v", none)
	}

	all, _ := db.ListPurged(ctx, "", 0)
	if len(all) != 3 || all[0].Filename != "b.jpg" {
		t.Errorf("ListPurged() = %v, want newest first", all)
	}
	if *all[0].Width != 10 || *all[0].Height != 20 {
		t.Errorf("dimensions = %v x %v", *all[0].Width, *all[0].Height)
	}
	filtered, _ := db.ListPurged(ctx, "a.jpg", 1)
	if len(filtered) != 1 || filtered[0].Reason != "1-star rating" {
		t.Errorf("ListPurged(a.jpg, 1) = %v", filtered)
	}
}

func TestPurgeImage(t *testing.T) {
	t.Parallel()

	db := setupTestDB(t)
	ctx := context.Background()
	id := insertTestImage(t, db, "/library/a.jpg")

	entry := &PurgedImage{Filename: "a.jpg", FileSize: int64Ptr(1024), OriginalPath: "/library/a.jpg", Reason: "manual"}
	if err := db.PurgeImage(ctx, id, entry); err != nil {
		t.Fatalf("PurgeImage() failed: %v", err)
	}
	if _, err := db.GetImage(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("image still present after purge: %v", err)
	}

	// A missing image rolls back the blacklist insert.
	if err := db.PurgeImage(ctx, 999, &PurgedImage{Filename: "ghost.jpg"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("PurgeImage(missing) error = %v, want ErrNotFound", err)
	}
	all, _ := db.ListPurged(ctx, "", 0)
	if len(all) != 1 {
		t.Errorf("blacklist has %d entries, want 1", len(all))
	}
}

func TestMergeAndPurge(t *testing.T) {
	t.Parallel()

	db := setupTestDB(t)
	ctx := context.Background()

	keeper := insertTestImage(t, db, "/library/keep.jpg")
	taken := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	dupImg := &Image{Path: "/library/dup.jpg", Filename: "dup.jpg", DateTaken: &taken}
	dup, err := db.InsertImage(ctx, dupImg)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := db.AddTagsToImage(ctx, keeper, []string{"beach"}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.AddTagsToImage(ctx, dup, []string{"beach", "sunset"}); err != nil {
		t.Fatal(err)
	}
	if err := db.AddImageToCategory(ctx, dup, "trip"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetFavorite(ctx, dup, true); err != nil {
		t.Fatal(err)
	}
	if err := db.SetRating(ctx, keeper, 2); err != nil {
		t.Fatal(err)
	}
	if err := db.SetRating(ctx, dup, 4); err != nil {
		t.Fatal(err)
	}

	entry := &PurgedImage{Filename: "dup.jpg", FileHash: "feed", OriginalPath: "/library/dup.jpg", Reason: "duplicate merge"}
	if err := db.MergeAndPurge(ctx, keeper, dup, entry); err != nil {
		t.Fatalf("MergeAndPurge() failed: %v", err)
	}

	got, err := db.GetImage(ctx, keeper)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got.Tags, []string{"beach", "sunset"}) {
		t.Errorf("Tags = %v, want union", got.Tags)
	}
	if !reflect.DeepEqual(got.Categories, []string{"trip"}) {
		t.Errorf("Categories = %v", got.Categories)
	}
	if !got.Favorite || got.Rating != 4 {
		t.Errorf("favorite/rating = %v/%d, want true/4", got.Favorite, got.Rating)
	}
	if got.DateTaken == nil || !got.DateTaken.Equal(taken) {
		t.Errorf("DateTaken = %v, want %v from the duplicate", got.DateTaken, taken)
	}

	if _, err := db.GetImage(ctx, dup); !errors.Is(err, ErrNotFound) {
		t.Errorf("duplicate still present: %v", err)
	}
	byHash, _ := db.FindPurgedByHash(ctx, "feed")
	if len(byHash) != 1 {
		t.Errorf("blacklist by hash = %v", byHash)
	}

	if err := db.MergeAndPurge(ctx, keeper, keeper, entry); err == nil {
		t.Error("merging an image into itself should fail")
	}
	if err := db.MergeAndPurge(ctx, keeper, 999, entry); !errors.Is(err, ErrNotFound) {
		t.Errorf("MergeAndPurge(missing dup) error = %v, want ErrNotFound", err)
	}
}
