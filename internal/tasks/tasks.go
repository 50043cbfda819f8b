package tasks

import (
	"encoding/json"
	"fmt"

	"github.com/esprusso/photo-library/internal/database"
	"github.com/esprusso/photo-library/internal/filesystem"
	"github.com/esprusso/photo-library/internal/indexer"
	"github.com/esprusso/photo-library/internal/jobs"
	"github.com/esprusso/photo-library/internal/media"
	"github.com/esprusso/photo-library/internal/tagger"
)

// Job types.
const (
	TypeIndexing        = "indexing"
	TypeThumbnails      = "thumbnailing"
	TypeTagging         = "tagging"
	TypePhash           = "phash"
	TypeRefreshExif     = "refresh-exif"
	TypeCleanupOrphaned = "cleanup_orphaned"
	TypeCategoryZip     = "category-zip"
)

// Deps are the services tasks work against.
type Deps struct {
	DB           *database.Database
	Scanner      *indexer.Scanner
	Thumbnails   *media.ThumbnailGenerator
	Tagger       *tagger.Tagger
	Paths        *filesystem.PathMapper
	DownloadsDir string
}

// All returns one task per job type.
func All(d Deps) []jobs.Task {
	return []jobs.Task{
		&Indexing{deps: d},
		&Thumbnails{deps: d},
		&Tagging{deps: d},
		&Phash{deps: d},
		&RefreshExif{deps: d},
		&CleanupOrphaned{deps: d},
		&CategoryZip{deps: d},
	}
}

// Register adds every task to r.
func Register(r *jobs.Runner, d Deps) {
	r.Register(All(d)...)
}

// decodeParams unmarshals job parameters into v. Empty parameters leave v
// unchanged.
func decodeParams(job *database.Job, v any) error {
	if len(job.Parameters) == 0 || string(job.Parameters) == "null" {
		return nil
	}
	if err := json.Unmarshal(job.Parameters, v); err != nil {
		return fmt.Errorf("invalid %s job parameters: %w", job.Type, err)
	}
	return nil
}

// resolve returns a readable path for an image: the stored path, its
// mapped form, or the local copy.
func resolve(paths *filesystem.PathMapper, f database.ImageFile) (string, error) {
	if p, ok := paths.Resolve(f.Path); ok {
		return p, nil
	}
	if f.LocalPath != "" && filesystem.Exists(f.LocalPath) {
		return f.LocalPath, nil
	}
	return "", fmt.Errorf("image %d: no readable file for %s", f.ID, f.Path)
}
