package media

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/esprusso/photo-library/internal/filesystem"
	"github.com/esprusso/photo-library/internal/logging"
	"github.com/esprusso/photo-library/internal/metrics"

	"github.com/disintegration/imaging"
)

const (
	// DefaultThumbnailSize is the longest edge of a generated thumbnail.
	DefaultThumbnailSize = 256

	// ThumbnailQuality is the JPEG quality used for thumbnails.
	ThumbnailQuality = 85
)

// ThumbnailGenerator writes one JPEG per image id into a flat directory.
type ThumbnailGenerator struct {
	dir   string
	size  int
	locks sync.Map // int64 -> *sync.Mutex
}

func NewThumbnailGenerator(dir string, size int) *ThumbnailGenerator {
	if size <= 0 {
		size = DefaultThumbnailSize
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logging.Warn("ThumbnailGenerator: failed to create dir %s: %v", dir, err)
	}
	logging.Debug("ThumbnailGenerator: dir %s, size %d", dir, size)
	return &ThumbnailGenerator{dir: dir, size: size}
}

// Dir returns the thumbnail directory.
func (t *ThumbnailGenerator) Dir() string {
	return t.dir
}

// Path returns where the thumbnail for id lives, whether or not it exists.
func (t *ThumbnailGenerator) Path(id int64) string {
	return filepath.Join(t.dir, strconv.FormatInt(id, 10)+".jpg")
}

// Exists reports whether a thumbnail for id is on disk.
func (t *ThumbnailGenerator) Exists(id int64) bool {
	return filesystem.Exists(t.Path(id))
}

// Generate renders the thumbnail for image id from src. An existing
// thumbnail is kept unless force is set; generated reports which happened.
func (t *ThumbnailGenerator) Generate(ctx context.Context, id int64, src string, force bool) (path string, generated bool, err error) {
	path = t.Path(id)

	lock := t.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	if !force && filesystem.Exists(path) {
		metrics.ThumbnailGenerationsTotal.WithLabelValues("skipped").Inc()
		return path, false, nil
	}
	if err := ctx.Err(); err != nil {
		return path, false, err
	}

	start := time.Now()
	data, err := t.render(src)
	metrics.ThumbnailGenerationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ThumbnailGenerationsTotal.WithLabelValues("error").Inc()
		return path, false, err
	}

	if err := writeFileAtomic(path, data); err != nil {
		metrics.ThumbnailGenerationsTotal.WithLabelValues("error").Inc()
		return path, false, err
	}

	metrics.ThumbnailGenerationsTotal.WithLabelValues("success").Inc()
	logging.Debug("Thumbnail written: %s (%d bytes)", path, len(data))
	return path, true, nil
}

// Remove deletes the thumbnail for id. It reports whether a file was there.
func (t *ThumbnailGenerator) Remove(id int64) (bool, error) {
	path := t.Path(id)
	if !filesystem.Exists(path) {
		return false, nil
	}
	if err := filesystem.RemoveWithRetry(path, filesystem.DefaultRetryConfig()); err != nil {
		return false, err
	}
	return true, nil
}

func (t *ThumbnailGenerator) render(src string) ([]byte, error) {
	img, err := LoadImageConstrained(src, MaxImageDimension, MaxImagePixels)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", src, err)
	}

	thumb := imaging.Fit(img, t.size, t.size, imaging.Lanczos)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: ThumbnailQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

func (t *ThumbnailGenerator) lockFor(id int64) *sync.Mutex {
	lock, _ := t.locks.LoadOrStore(id, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// writeFileAtomic writes to a temp file in the target directory and renames
// it into place, so readers never see a partial JPEG.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".thumb-*")
	if err != nil {
		return fmt.Errorf("failed to create temp thumbnail: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write thumbnail: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close thumbnail: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		logging.Debug("failed to chmod %s: %v", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to move thumbnail into place: %w", err)
	}
	return nil
}
