package indexer

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/esprusso/photo-library/internal/logging"
	"github.com/esprusso/photo-library/internal/mediatypes"
	"github.com/esprusso/photo-library/internal/workers"
)

// ParallelWalkerConfig configures the parallel directory walker
type ParallelWalkerConfig struct {
	// NumWorkers is the number of goroutines stat-ing and filtering entries
	NumWorkers int
	// ChannelBuffer is the size of the work channel buffer
	ChannelBuffer int
	// SkipHidden skips files and directories starting with "."
	SkipHidden bool
	// ExcludeRaw drops camera RAW files
	ExcludeRaw bool
}

// DefaultParallelWalkerConfig returns defaults safe for NFS-mounted libraries.
func DefaultParallelWalkerConfig() ParallelWalkerConfig {
	return ParallelWalkerConfig{
		NumWorkers:    workers.Walk.Size(),
		ChannelBuffer: 1000,
		SkipHidden:    true,
	}
}

// DiscoveredFile is a supported image found on disk.
type DiscoveredFile struct {
	Path    string
	Root    string
	Size    int64
	ModTime time.Time
}

type fileJob struct {
	path string
	root string
	d    fs.DirEntry
}

// ParallelWalker walks library roots, filtering and stat-ing entries on a
// small worker pool.
type ParallelWalker struct {
	config ParallelWalkerConfig
	roots  []string

	jobs    chan fileJob
	results chan DiscoveredFile
	wg      sync.WaitGroup

	filesFound   atomic.Int64
	filesSkipped atomic.Int64
	errorsCount  atomic.Int64
}

// NewParallelWalker creates a walker over roots.
func NewParallelWalker(roots []string, config ParallelWalkerConfig) *ParallelWalker {
	if config.NumWorkers <= 0 {
		config.NumWorkers = 1
	}
	return &ParallelWalker{
		config:  config,
		roots:   roots,
		jobs:    make(chan fileJob, config.ChannelBuffer),
		results: make(chan DiscoveredFile, config.ChannelBuffer),
	}
}

// Walk returns every supported file under the roots, sorted by path so the
// work list order is reproducible. Missing roots are logged and skipped.
func (pw *ParallelWalker) Walk(ctx context.Context) ([]DiscoveredFile, error) {
	logging.Info("Starting parallel directory walk of %d root(s) with %d workers", len(pw.roots), pw.config.NumWorkers)
	startTime := time.Now()

	for i := 0; i < pw.config.NumWorkers; i++ {
		pw.wg.Add(1)
		go pw.worker(ctx)
	}

	var files []DiscoveredFile
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for f := range pw.results {
			files = append(files, f)
		}
	}()

	err := pw.walkAndEnqueue(ctx)
	close(pw.jobs)
	pw.wg.Wait()
	close(pw.results)
	<-collected

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	logging.Info("Parallel walk complete: %d files (%d skipped, %d errors) in %v",
		pw.filesFound.Load(), pw.filesSkipped.Load(), pw.errorsCount.Load(), time.Since(startTime))

	if err != nil {
		return files, err
	}
	return files, ctx.Err()
}

func (pw *ParallelWalker) walkAndEnqueue(ctx context.Context) error {
	for _, root := range pw.roots {
		if _, err := os.Stat(root); err != nil {
			logging.Warn("Library path %s is not accessible: %v", root, err)
			continue
		}

		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if ctx.Err() != nil {
				return fs.SkipAll
			}
			if err != nil {
				pw.errorsCount.Add(1)
				logging.Warn("Error accessing path %s: %v", path, err)
				return nil
			}
			if path == root {
				return nil
			}

			if pw.config.SkipHidden && strings.HasPrefix(d.Name(), ".") {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return nil
			}

			select {
			case pw.jobs <- fileJob{path: path, root: root, d: d}:
			case <-ctx.Done():
				return fs.SkipAll
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (pw *ParallelWalker) worker(ctx context.Context) {
	defer pw.wg.Done()

	for job := range pw.jobs {
		if ctx.Err() != nil {
			continue
		}
		f, ok := pw.processFile(job)
		if !ok {
			continue
		}
		pw.results <- f
	}
}

func (pw *ParallelWalker) processFile(job fileJob) (DiscoveredFile, bool) {
	if !mediatypes.Supported(job.path, pw.config.ExcludeRaw) {
		pw.filesSkipped.Add(1)
		return DiscoveredFile{}, false
	}

	info, err := job.d.Info()
	if err != nil {
		pw.errorsCount.Add(1)
		logging.Warn("Error getting info for %s: %v", job.path, err)
		return DiscoveredFile{}, false
	}
	if !info.Mode().IsRegular() {
		pw.filesSkipped.Add(1)
		return DiscoveredFile{}, false
	}

	pw.filesFound.Add(1)
	return DiscoveredFile{
		Path:    job.path,
		Root:    job.root,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, true
}

// Stats returns current processing statistics
func (pw *ParallelWalker) Stats() (found, skipped, errors int64) {
	return pw.filesFound.Load(), pw.filesSkipped.Load(), pw.errorsCount.Load()
}
