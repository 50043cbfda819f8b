package tasks

import (
	"context"
	"errors"
	"time"

	"github.com/esprusso/photo-library/internal/database"
	"github.com/esprusso/photo-library/internal/indexer"
	"github.com/esprusso/photo-library/internal/jobs"
	"github.com/esprusso/photo-library/internal/metrics"
)

// Indexing walks the library roots, indexes every discovered file and then
// removes records whose file disappeared.
type Indexing struct{ deps Deps }

func (t *Indexing) Type() string { return TypeIndexing }

func (t *Indexing) Prepare(ctx context.Context, job *database.Job) (jobs.Work, error) {
	if t.deps.Scanner == nil {
		return nil, errors.New("no library scanner configured")
	}
	files, err := t.deps.Scanner.Discover(ctx)
	if err != nil {
		return nil, err
	}
	return &indexingWork{scanner: t.deps.Scanner, db: t.deps.DB, files: files}, nil
}

type indexingWork struct {
	scanner *indexer.Scanner
	db      *database.Database
	files   []indexer.DiscoveredFile
	result  indexer.Result
}

func (w *indexingWork) Len() int { return len(w.files) }

func (w *indexingWork) Process(ctx context.Context, i int) error {
	outcome, err := w.scanner.ScanFile(ctx, w.files[i])
	w.result.Record(outcome)
	return err
}

func (w *indexingWork) Finish(ctx context.Context) error {
	known, err := w.db.ListImageFiles(ctx)
	if err != nil {
		return err
	}
	report, err := w.scanner.RemoveOrphans(ctx, known)
	w.result.OrphanedRemoved = report.OrphanedRemoved
	if err != nil {
		return err
	}
	metrics.ScannerLastRunTimestamp.Set(float64(time.Now().Unix()))
	return nil
}

func (w *indexingWork) Result(jobs.Summary) any { return w.result }

// CleanupOrphaned removes records whose original and local copy are both
// gone. Orphans are not blacklisted.
type CleanupOrphaned struct{ deps Deps }

func (t *CleanupOrphaned) Type() string { return TypeCleanupOrphaned }

func (t *CleanupOrphaned) Prepare(ctx context.Context, job *database.Job) (jobs.Work, error) {
	if t.deps.Scanner == nil {
		return nil, errors.New("no library scanner configured")
	}
	files, err := t.deps.DB.ListImageFiles(ctx)
	if err != nil {
		return nil, err
	}
	return &orphanWork{scanner: t.deps.Scanner, files: files}, nil
}

type orphanWork struct {
	scanner *indexer.Scanner
	files   []database.ImageFile
	orphans []database.ImageFile
	report  indexer.OrphanReport
}

func (w *orphanWork) Len() int { return len(w.files) }

func (w *orphanWork) Process(ctx context.Context, i int) error {
	if w.scanner.IsOrphan(w.files[i]) {
		w.orphans = append(w.orphans, w.files[i])
	}
	return nil
}

func (w *orphanWork) Finish(ctx context.Context) error {
	report, err := w.scanner.RemoveOrphans(ctx, w.orphans)
	report.TotalChecked = len(w.files)
	w.report = report
	return err
}

func (w *orphanWork) Result(jobs.Summary) any { return w.report }
