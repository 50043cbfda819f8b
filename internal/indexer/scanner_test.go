package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/esprusso/photo-library/internal/database"
	"github.com/esprusso/photo-library/internal/filesystem"
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

func writePNG(t *testing.T, path string, w, h int, shade uint8) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: shade, G: uint8(x), B: uint8(y), A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func discovered(t *testing.T, root, path string) DiscoveredFile {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	return DiscoveredFile{Path: path, Root: root, Size: info.Size(), ModTime: info.ModTime()}
}

func TestScanFile_AddSkipUpdate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := setupTestDB(t)
	root := t.TempDir()
	thumbs := media.NewThumbnailGenerator(filepath.Join(t.TempDir(), "thumbs"), 64)
	s := NewScanner(db, []string{root}, false, WithThumbnails(thumbs))

	path := filepath.Join(root, "Vacation_Photos", "2023", "beach.png")
	writePNG(t, path, 120, 80, 10)

	outcome, err := s.ScanFile(ctx, discovered(t, root, path))
	if err != nil || outcome != OutcomeAdded {
		t.Fatalf("ScanFile() = %s, %v, want added", outcome, err)
	}

	img, err := db.GetImageByPath(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if img.Width != 120 || img.Height != 80 || img.Format != "PNG" || img.AspectRatio != 1.5 {
		t.Errorf("stored image = %+v", img)
	}
	full, err := db.GetImage(ctx, img.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(full.Categories) != 1 || full.Categories[0] != "Vacation Photos" {
		t.Errorf("Categories = %v, want [Vacation Photos]", full.Categories)
	}
	if !thumbs.Exists(img.ID) || full.ThumbnailPath != thumbs.Path(img.ID) {
		t.Errorf("thumbnail not recorded: %q", full.ThumbnailPath)
	}

	outcome, err = s.ScanFile(ctx, discovered(t, root, path))
	if err != nil || outcome != OutcomeSkipped {
		t.Errorf("ScanFile(unchanged) = %s, %v, want skipped", outcome, err)
	}

	writePNG(t, path, 60, 60, 20)
	later := time.Now().Add(time.Hour)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatal(err)
	}
	outcome, err = s.ScanFile(ctx, discovered(t, root, path))
	if err != nil || outcome != OutcomeUpdated {
		t.Fatalf("ScanFile(modified) = %s, %v, want updated", outcome, err)
	}
	img, _ = db.GetImageByPath(ctx, path)
	if img.Width != 60 || img.AspectRatio != 1 {
		t.Errorf("updated image = %+v", img)
	}
}

func TestScanFile_Blacklist(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := setupTestDB(t)
	root := t.TempDir()
	s := NewScanner(db, []string{root}, false)

	byName := filepath.Join(root, "purged.png")
	writePNG(t, byName, 10, 10, 1)
	info, _ := os.Stat(byName)
	size := info.Size()
	if err := db.AddPurged(ctx, &database.PurgedImage{Filename: "purged.png", FileSize: &size, Reason: "test"}); err != nil {
		t.Fatal(err)
	}

	renamed := filepath.Join(root, "renamed.png")
	writePNG(t, renamed, 10, 10, 2)
	data, _ := os.ReadFile(renamed)
	sum := sha256.Sum256(data)
	if err := db.AddPurged(ctx, &database.PurgedImage{Filename: "original.png", FileHash: hex.EncodeToString(sum[:]), Reason: "test"}); err != nil {
		t.Fatal(err)
	}

	fresh := filepath.Join(root, "purged-but-different-name.png")
	writePNG(t, fresh, 10, 10, 1)

	tests := []struct {
		path string
		want Outcome
	}{
		{byName, OutcomeBlacklisted},
		{renamed, OutcomeBlacklisted},
		{fresh, OutcomeAdded},
	}
	for _, tt := range tests {
		got, err := s.ScanFile(ctx, discovered(t, root, tt.path))
		if err != nil || got != tt.want {
			t.Errorf("ScanFile(%s) = %s, %v, want %s", filepath.Base(tt.path), got, err, tt.want)
		}
	}

	if _, err := db.GetImageByPath(ctx, byName); err == nil {
		t.Error("blacklisted file was indexed")
	}
}

func TestScanFile_Errors(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	root := t.TempDir()
	s := NewScanner(db, []string{root}, false)

	missing := DiscoveredFile{Path: filepath.Join(root, "gone.jpg"), Root: root}
	if outcome, err := s.ScanFile(context.Background(), missing); err == nil || outcome != OutcomeError {
		t.Errorf("ScanFile(missing) = %s, %v", outcome, err)
	}
}

func TestScanAndRemoveOrphans(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := setupTestDB(t)
	root := t.TempDir()
	s := NewScanner(db, []string{root}, false)

	keep := filepath.Join(root, "keep.png")
	gone := filepath.Join(root, "gone.png")
	writePNG(t, keep, 10, 10, 1)
	writePNG(t, gone, 12, 12, 2)
	writeFile(t, filepath.Join(root, "readme.txt"), "not an image")

	result, err := s.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan() failed: %v", err)
	}
	if result.Processed != 2 || result.Added != 2 || result.OrphanedRemoved != 0 {
		t.Errorf("first Scan() = %+v", result)
	}

	if err := os.Remove(gone); err != nil {
		t.Fatal(err)
	}
	result, err = s.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan() failed: %v", err)
	}
	if result.Processed != 1 || result.Skipped != 1 || result.OrphanedRemoved != 1 {
		t.Errorf("second Scan() = %+v", result)
	}
	if _, err := db.GetImageByPath(ctx, gone); err == nil {
		t.Error("orphan record still present")
	}

	// Orphans are not blacklisted.
	if entries, _ := db.ListPurged(ctx, "gone.png", 10); len(entries) != 0 {
		t.Errorf("orphan removal created blacklist entries: %+v", entries)
	}
}

func TestIsOrphan_UsesPathMapperAndLocalCopy(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	container := t.TempDir()
	local := filepath.Join(t.TempDir(), "copy.png")
	writePNG(t, filepath.Join(container, "a.png"), 4, 4, 1)
	writePNG(t, local, 4, 4, 1)

	s := NewScanner(db, []string{container}, false,
		WithPathMapper(filesystem.NewPathMapper(filesystem.Mapping{From: "/volume1/photos", To: container})))

	tests := []struct {
		name string
		file database.ImageFile
		want bool
	}{
		{"direct", database.ImageFile{Path: filepath.Join(container, "a.png")}, false},
		{"mapped host path", database.ImageFile{Path: "/volume1/photos/a.png"}, false},
		{"local copy only", database.ImageFile{Path: "/volume1/photos/missing.png", LocalPath: local}, false},
		{"gone", database.ImageFile{Path: "/volume1/photos/missing.png"}, true},
	}
	for _, tt := range tests {
		if got := s.IsOrphan(tt.file); got != tt.want {
			t.Errorf("%s: IsOrphan() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestResultRecord(t *testing.T) {
	t.Parallel()

	var r Result
	for _, o := range []Outcome{OutcomeAdded, OutcomeAdded, OutcomeUpdated, OutcomeSkipped, OutcomeBlacklisted, OutcomeError} {
		r.Record(o)
	}
	want := Result{Processed: 6, Added: 2, Updated: 1, Skipped: 1, Blacklisted: 1, Errors: 1}
	if r != want {
		t.Errorf("Result = %+v, want %+v", r, want)
	}
}
