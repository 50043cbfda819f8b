package tasks

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/esprusso/photo-library/internal/database"
	"github.com/esprusso/photo-library/internal/export"
	"github.com/esprusso/photo-library/internal/jobs"
	"github.com/esprusso/photo-library/internal/logging"
)

// CategoryZipParams are the parameters of a category-zip job.
type CategoryZipParams struct {
	CategoryID int64 `json:"category_id"`
}

// CategoryZipResult is the result of a category-zip job.
type CategoryZipResult struct {
	Processed   int    `json:"processed"`
	Added       int    `json:"added"`
	Missing     int    `json:"missing"`
	DownloadURL string `json:"download_url"`
}

// CategoryZip packs a category's original files into a zip archive in the
// downloads directory. Images whose file cannot be found are counted as
// missing.
type CategoryZip struct{ deps Deps }

func (t *CategoryZip) Type() string { return TypeCategoryZip }

func (t *CategoryZip) Prepare(ctx context.Context, job *database.Job) (jobs.Work, error) {
	if t.deps.DownloadsDir == "" {
		return nil, errors.New("no downloads directory configured")
	}
	var params CategoryZipParams
	if err := decodeParams(job, &params); err != nil {
		return nil, err
	}
	if _, err := t.deps.DB.GetCategory(ctx, params.CategoryID); err != nil {
		return nil, err
	}
	files, err := t.deps.DB.CategoryImages(ctx, params.CategoryID)
	if err != nil {
		return nil, err
	}
	archive, err := export.CategoryArchive(t.deps.DownloadsDir, params.CategoryID)
	if err != nil {
		return nil, err
	}
	return &zipWork{deps: t.deps, files: files, archive: archive}, nil
}

type zipWork struct {
	deps    Deps
	files   []database.ImageFile
	archive *export.Archive
	result  CategoryZipResult
}

func (w *zipWork) Len() int { return len(w.files) }

func (w *zipWork) Process(ctx context.Context, i int) error {
	f := w.files[i]
	src, err := resolve(w.deps.Paths, f)
	if err != nil {
		logging.Debug("Skipping missing file for image %d: %v", f.ID, err)
		w.result.Missing++
		return nil
	}
	if err := w.archive.AddFile(src, filepath.Base(f.Path)); err != nil {
		return err
	}
	w.result.Added++
	return nil
}

func (w *zipWork) Finish(ctx context.Context) error {
	if _, err := w.archive.Close(); err != nil {
		return err
	}
	w.result.DownloadURL = w.archive.DownloadURL()
	return nil
}

// Abort drops the partial archive when the job fails or is interrupted.
func (w *zipWork) Abort() { w.archive.Abort() }

func (w *zipWork) Result(s jobs.Summary) any {
	w.result.Processed = s.Processed
	return w.result
}
