package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/esprusso/photo-library/internal/database"
	"github.com/esprusso/photo-library/internal/jobs"
	"github.com/esprusso/photo-library/internal/logging"
	"github.com/esprusso/photo-library/internal/media"
	"github.com/esprusso/photo-library/internal/phash"
	"github.com/esprusso/photo-library/internal/workers"

	"golang.org/x/sync/errgroup"
)

// ThumbnailParams are the parameters of a thumbnailing job.
type ThumbnailParams struct {
	ForceRegenerate bool `json:"force_regenerate"`
}

// ThumbnailResult is the result of a thumbnailing job.
type ThumbnailResult struct {
	Processed int `json:"processed"`
	Generated int `json:"generated"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// Thumbnails (re)generates thumbnails for every image.
type Thumbnails struct{ deps Deps }

func (t *Thumbnails) Type() string { return TypeThumbnails }

func (t *Thumbnails) Prepare(ctx context.Context, job *database.Job) (jobs.Work, error) {
	if t.deps.Thumbnails == nil {
		return nil, errors.New("no thumbnail directory configured")
	}
	var params ThumbnailParams
	if err := decodeParams(job, &params); err != nil {
		return nil, err
	}
	files, err := t.deps.DB.ListImageFiles(ctx)
	if err != nil {
		return nil, err
	}
	return &thumbnailWork{deps: t.deps, force: params.ForceRegenerate, files: files}, nil
}

type thumbnailWork struct {
	deps   Deps
	force  bool
	files  []database.ImageFile
	result ThumbnailResult
}

func (w *thumbnailWork) Len() int { return len(w.files) }

func (w *thumbnailWork) Process(ctx context.Context, i int) error {
	f := w.files[i]
	src, err := resolve(w.deps.Paths, f)
	if err != nil {
		return err
	}
	path, generated, err := w.deps.Thumbnails.Generate(ctx, f.ID, src, w.force)
	if err != nil {
		return err
	}
	if !generated {
		w.result.Skipped++
		return nil
	}
	w.result.Generated++
	return w.deps.DB.SetThumbnailPath(ctx, f.ID, path)
}

func (w *thumbnailWork) Result(s jobs.Summary) any {
	w.result.Processed = s.Processed
	w.result.Errors = s.Errors
	return w.result
}

// TaggingParams are the parameters of a tagging job. Without ids every
// untagged image is tagged.
type TaggingParams struct {
	ImageIDs    []int64 `json:"image_ids,omitempty"`
	AllUntagged bool    `json:"all_untagged,omitempty"`
}

// TaggingResult is the result of a tagging job.
type TaggingResult struct {
	ProcessedImages  int `json:"processed_images"`
	TotalTagsApplied int `json:"total_tags_applied"`
	Errors           int `json:"errors"`
}

// Tagging applies heuristic tags derived from file names and image
// properties.
type Tagging struct{ deps Deps }

func (t *Tagging) Type() string { return TypeTagging }

func (t *Tagging) Prepare(ctx context.Context, job *database.Job) (jobs.Work, error) {
	if t.deps.Tagger == nil {
		return nil, errors.New("no tagger configured")
	}
	var params TaggingParams
	if err := decodeParams(job, &params); err != nil {
		return nil, err
	}
	ids := params.ImageIDs
	if len(ids) == 0 {
		var err error
		ids, err = t.deps.DB.ListImageIDs(ctx, database.ImageFilter{Untagged: true})
		if err != nil {
			return nil, err
		}
	}
	return &taggingWork{deps: t.deps, ids: ids}, nil
}

type taggingWork struct {
	deps   Deps
	ids    []int64
	result TaggingResult
}

func (w *taggingWork) Len() int { return len(w.ids) }

func (w *taggingWork) Process(ctx context.Context, i int) error {
	img, err := w.deps.DB.GetImage(ctx, w.ids[i])
	if err != nil {
		return err
	}
	src, err := resolve(w.deps.Paths, database.ImageFile{ID: img.ID, Path: img.Path, LocalPath: img.LocalPath})
	if err != nil {
		return err
	}
	tags := w.deps.Tagger.Tags(src)
	if len(tags) == 0 {
		return nil
	}
	added, err := w.deps.DB.AddTagsToImage(ctx, img.ID, tags)
	w.result.TotalTagsApplied += added
	return err
}

func (w *taggingWork) Result(s jobs.Summary) any {
	w.result.ProcessedImages = s.Processed - s.Errors
	w.result.Errors = s.Errors
	return w.result
}

// PhashParams are the parameters of a phash job. Workers bounds how many
// images are decoded at once; 0 uses the PHASH_WORKERS sizing.
type PhashParams struct {
	Recompute bool `json:"recompute"`
	Workers   int  `json:"workers,omitempty"`
}

// PhashResult is the result of a phash job.
type PhashResult struct {
	Processed int `json:"processed"`
	Computed  int `json:"computed"`
	Errors    int `json:"errors"`
}

// Phash computes perceptual fingerprints for images without one, or for
// every image when recompute is set.
type Phash struct{ deps Deps }

func (t *Phash) Type() string { return TypePhash }

func (t *Phash) Prepare(ctx context.Context, job *database.Job) (jobs.Work, error) {
	var params PhashParams
	if err := decodeParams(job, &params); err != nil {
		return nil, err
	}
	files, err := t.deps.DB.ListImagesForPhash(ctx, params.Recompute)
	if err != nil {
		return nil, err
	}
	n := params.Workers
	if n < 1 {
		n = workers.Hashing.Size()
	}
	return &phashWork{deps: t.deps, files: files, workers: n}, nil
}

type phashOutcome struct {
	fp  string
	err error
}

// phashWork decodes images a window at a time, workers wide, and stores
// the fingerprints item by item so progress stays per image.
type phashWork struct {
	deps    Deps
	files   []database.ImageFile
	workers int
	base    int
	window  []phashOutcome
	result  PhashResult
}

func (w *phashWork) Len() int { return len(w.files) }

func (w *phashWork) Process(ctx context.Context, i int) error {
	if i < w.base || i >= w.base+len(w.window) {
		if err := w.compute(ctx, i); err != nil {
			return err
		}
	}
	out := w.window[i-w.base]
	if out.err != nil {
		return out.err
	}
	if err := w.deps.DB.SetPhash(ctx, w.files[i].ID, out.fp); err != nil {
		return err
	}
	w.result.Computed++
	return nil
}

// compute fingerprints files[i:i+workers] concurrently. Per-image failures
// are kept in the window, not returned.
func (w *phashWork) compute(ctx context.Context, i int) error {
	end := min(i+w.workers, len(w.files))
	w.base = i
	w.window = make([]phashOutcome, end-i)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.workers)
	for j := i; j < end; j++ {
		j := j
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out := &w.window[j-i]
			src, err := resolve(w.deps.Paths, w.files[j])
			if err != nil {
				out.err = err
				return nil
			}
			out.fp, out.err = phash.ComputeFile(src)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		w.window = nil
		return err
	}
	return nil
}

func (w *phashWork) Result(s jobs.Summary) any {
	w.result.Processed = s.Processed
	w.result.Errors = s.Errors
	return w.result
}

// ExifResult is the result of a refresh-exif job.
type ExifResult struct {
	Processed int `json:"processed"`
	Updated   int `json:"updated"`
	Errors    int `json:"errors"`
}

// RefreshExif re-reads camera metadata for every image.
type RefreshExif struct{ deps Deps }

func (t *RefreshExif) Type() string { return TypeRefreshExif }

func (t *RefreshExif) Prepare(ctx context.Context, job *database.Job) (jobs.Work, error) {
	files, err := t.deps.DB.ListImageFiles(ctx)
	if err != nil {
		return nil, err
	}
	return &exifWork{deps: t.deps, files: files}, nil
}

type exifWork struct {
	deps   Deps
	files  []database.ImageFile
	result ExifResult
}

func (w *exifWork) Len() int { return len(w.files) }

func (w *exifWork) Process(ctx context.Context, i int) error {
	f := w.files[i]
	src, err := resolve(w.deps.Paths, f)
	if err != nil {
		return err
	}
	meta, err := media.ReadCameraMetadata(src)
	if errors.Is(err, media.ErrNoExif) {
		logging.Debug("No EXIF in %s", src)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read EXIF from %s: %w", src, err)
	}
	if err := w.deps.DB.UpdateCameraMetadata(ctx, f.ID, meta); err != nil {
		return err
	}
	w.result.Updated++
	return nil
}

func (w *exifWork) Result(s jobs.Summary) any {
	w.result.Processed = s.Processed
	w.result.Errors = s.Errors
	return w.result
}
