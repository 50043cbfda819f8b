package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/esprusso/photo-library/internal/database"
	"github.com/esprusso/photo-library/internal/filesystem"
	"github.com/esprusso/photo-library/internal/logging"
	"github.com/esprusso/photo-library/internal/media"
	"github.com/esprusso/photo-library/internal/metrics"
)

// Outcome is what the scanner did with one discovered file.
type Outcome string

const (
	OutcomeAdded       Outcome = "added"
	OutcomeUpdated     Outcome = "updated"
	OutcomeSkipped     Outcome = "skipped"
	OutcomeBlacklisted Outcome = "blacklisted"
	OutcomeError       Outcome = "error"
)

// Scanner indexes library files into the database.
type Scanner struct {
	db         *database.Database
	roots      []string
	walker     ParallelWalkerConfig
	thumbnails *media.ThumbnailGenerator
	paths      *filesystem.PathMapper
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithThumbnails generates a thumbnail for every added or updated image.
func WithThumbnails(gen *media.ThumbnailGenerator) Option {
	return func(s *Scanner) { s.thumbnails = gen }
}

// WithPathMapper resolves stored paths during orphan checks.
func WithPathMapper(pm *filesystem.PathMapper) Option {
	return func(s *Scanner) { s.paths = pm }
}

// WithWalkerConfig overrides the directory walker settings.
func WithWalkerConfig(cfg ParallelWalkerConfig) Option {
	return func(s *Scanner) { s.walker = cfg }
}

// NewScanner creates a scanner over the given library roots.
func NewScanner(db *database.Database, roots []string, excludeRaw bool, opts ...Option) *Scanner {
	s := &Scanner{
		db:     db,
		roots:  roots,
		walker: DefaultParallelWalkerConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.walker.ExcludeRaw = excludeRaw
	return s
}

// Discover lists every supported file under the library roots.
func (s *Scanner) Discover(ctx context.Context) ([]DiscoveredFile, error) {
	return NewParallelWalker(s.roots, s.walker).Walk(ctx)
}

// ScanFile adds, refreshes or skips a single file. Known files are skipped
// when the stored modification time is not older than the file's. New files
// are checked against the purge blacklist before anything is written.
func (s *Scanner) ScanFile(ctx context.Context, f DiscoveredFile) (Outcome, error) {
	outcome, err := s.scanFile(ctx, f)
	metrics.ScannerFilesTotal.WithLabelValues(string(outcome)).Inc()
	return outcome, err
}

func (s *Scanner) scanFile(ctx context.Context, f DiscoveredFile) (Outcome, error) {
	stat, err := filesystem.StatWithRetry(f.Path, filesystem.DefaultRetryConfig())
	if err != nil {
		return OutcomeError, fmt.Errorf("failed to stat %s: %w", f.Path, err)
	}
	mtime := stat.ModTime().Truncate(time.Second)

	existing, err := s.db.GetImageByPath(ctx, f.Path)
	switch {
	case errors.Is(err, database.ErrNotFound):
		existing = nil
	case err != nil:
		return OutcomeError, err
	}

	if existing == nil {
		match, err := s.blacklisted(ctx, stat.Name(), stat.Size(), f.Path)
		if err != nil {
			return OutcomeError, err
		}
		if match != "" {
			metrics.BlacklistHitsTotal.WithLabelValues(match).Inc()
			logging.Info("Skipping blacklisted file (%s match): %s", match, f.Path)
			return OutcomeBlacklisted, nil
		}
	} else if !existing.ModifiedAt.Before(mtime) {
		return OutcomeSkipped, nil
	}

	img, err := s.describe(f.Path, mtime)
	if err != nil {
		return OutcomeError, err
	}

	outcome := OutcomeAdded
	if existing != nil {
		img.ID = existing.ID
		if err := s.db.UpdateImageFile(ctx, img); err != nil {
			return OutcomeError, err
		}
		outcome = OutcomeUpdated
	} else if _, err := s.db.InsertImage(ctx, img); err != nil {
		return OutcomeError, err
	}

	root := f.Root
	if root == "" {
		root = s.rootFor(f.Path)
	}
	for _, name := range FolderCategories(root, f.Path) {
		if err := s.db.AddImageToCategory(ctx, img.ID, name); err != nil {
			logging.Warn("Failed to assign category %q to image %d: %v", name, img.ID, err)
		}
	}

	s.thumbnail(ctx, img.ID, f.Path, outcome == OutcomeUpdated)
	return outcome, nil
}

// blacklisted returns the match kind ("name_size" or "hash") when a purge
// entry covers the file. The cheap name and size lookup runs first; the
// content hash is computed only when it misses.
func (s *Scanner) blacklisted(ctx context.Context, filename string, size int64, path string) (string, error) {
	entries, err := s.db.FindPurgedByNameSize(ctx, filename, size)
	if err != nil {
		return "", err
	}
	for i := range entries {
		if entries[i].Matches(filename, size, 0, 0, "") {
			return "name_size", nil
		}
	}

	hash, err := filesystem.HashFile(path)
	if err != nil {
		logging.Debug("Could not hash %s for blacklist check: %v", path, err)
		return "", nil
	}
	entries, err = s.db.FindPurgedByHash(ctx, hash)
	if err != nil {
		return "", err
	}
	if len(entries) > 0 {
		return "hash", nil
	}
	return "", nil
}

func (s *Scanner) describe(path string, mtime time.Time) (*database.Image, error) {
	info, err := media.Probe(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	img := &database.Image{
		Path:        path,
		Filename:    info.Filename,
		FileSize:    info.FileSize,
		Width:       info.Width,
		Height:      info.Height,
		AspectRatio: info.AspectRatio,
		Format:      info.Format,
		ModifiedAt:  mtime,
	}

	meta, err := media.ReadCameraMetadata(path)
	if err != nil {
		logging.Debug("No camera metadata for %s: %v", path, err)
		return img, nil
	}
	img.CameraMake = meta.CameraMake
	img.CameraModel = meta.CameraModel
	img.LensModel = meta.LensModel
	img.FocalLength = meta.FocalLength
	img.Aperture = meta.Aperture
	img.ShutterSpeed = meta.ShutterSpeed
	img.ISO = meta.ISO
	img.FlashUsed = meta.FlashUsed
	img.DateTaken = meta.DateTaken
	return img, nil
}

func (s *Scanner) thumbnail(ctx context.Context, id int64, path string, force bool) {
	if s.thumbnails == nil {
		return
	}
	thumb, generated, err := s.thumbnails.Generate(ctx, id, path, force)
	if err != nil {
		logging.Warn("Thumbnail generation failed for image %d: %v", id, err)
		return
	}
	if generated {
		if err := s.db.SetThumbnailPath(ctx, id, thumb); err != nil {
			logging.Warn("Failed to record thumbnail for image %d: %v", id, err)
		}
	}
}

func (s *Scanner) rootFor(path string) string {
	for _, root := range s.roots {
		if filesystem.IsWithin(root, path) {
			return root
		}
	}
	return ""
}

// OrphanReport summarizes an orphan cleanup pass.
type OrphanReport struct {
	TotalChecked    int      `json:"total_checked"`
	OrphanedRemoved int      `json:"orphaned_removed"`
	OrphanedPaths   []string `json:"orphaned_paths"`
}

// maxReportedOrphans bounds OrphanReport.OrphanedPaths.
const maxReportedOrphans = 100

// IsOrphan reports whether neither the stored path (directly or mapped) nor
// the local copy of an image exists any more.
func (s *Scanner) IsOrphan(f database.ImageFile) bool {
	if _, ok := s.paths.Resolve(f.Path); ok {
		return false
	}
	if f.LocalPath != "" && filesystem.Exists(f.LocalPath) {
		return false
	}
	return true
}

// RemoveOrphans deletes records whose file is gone, along with their
// thumbnails. Orphans are not blacklisted: the file may come back.
func (s *Scanner) RemoveOrphans(ctx context.Context, files []database.ImageFile) (OrphanReport, error) {
	report := OrphanReport{TotalChecked: len(files), OrphanedPaths: []string{}}

	var orphans []int64
	for _, f := range files {
		if !s.IsOrphan(f) {
			continue
		}
		orphans = append(orphans, f.ID)
		if len(report.OrphanedPaths) < maxReportedOrphans {
			report.OrphanedPaths = append(report.OrphanedPaths, f.Path)
		}
	}
	if len(orphans) == 0 {
		return report, nil
	}

	removed, err := s.db.DeleteImagesByID(ctx, orphans)
	report.OrphanedRemoved = removed
	if err != nil {
		return report, err
	}

	if s.thumbnails != nil {
		for _, id := range orphans {
			if _, err := s.thumbnails.Remove(id); err != nil {
				logging.Debug("Failed to remove thumbnail for orphan %d: %v", id, err)
			}
		}
	}

	logging.Info("Removed %d orphaned image record(s)", removed)
	return report, nil
}

// Result summarizes a full scan.
type Result struct {
	Processed       int `json:"processed"`
	Added           int `json:"added"`
	Updated         int `json:"updated"`
	Skipped         int `json:"skipped"`
	Blacklisted     int `json:"blacklisted"`
	Errors          int `json:"errors"`
	OrphanedRemoved int `json:"orphaned_removed"`
}

// Record counts one outcome.
func (r *Result) Record(o Outcome) {
	r.Processed++
	switch o {
	case OutcomeAdded:
		r.Added++
	case OutcomeUpdated:
		r.Updated++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeBlacklisted:
		r.Blacklisted++
	case OutcomeError:
		r.Errors++
	}
}

// Scan runs discovery, per-file indexing and orphan removal in one call.
// The indexing job drives the same steps through the job runner.
func (s *Scanner) Scan(ctx context.Context) (Result, error) {
	var result Result

	files, err := s.Discover(ctx)
	if err != nil {
		return result, err
	}
	for _, f := range files {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		outcome, err := s.ScanFile(ctx, f)
		if err != nil {
			logging.Warn("Error processing %s: %v", f.Path, err)
		}
		result.Record(outcome)
	}

	known, err := s.db.ListImageFiles(ctx)
	if err != nil {
		return result, err
	}
	report, err := s.RemoveOrphans(ctx, known)
	result.OrphanedRemoved = report.OrphanedRemoved
	if err != nil {
		return result, err
	}

	metrics.ScannerLastRunTimestamp.Set(float64(time.Now().Unix()))
	return result, nil
}
