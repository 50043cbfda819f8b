package export

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/esprusso/photo-library/internal/filesystem"
	"github.com/esprusso/photo-library/internal/logging"
)

// ErrInvalidName is returned by Lookup for names that are not archives
// written by this package.
var ErrInvalidName = errors.New("invalid archive name")

// DownloadPrefix is the URL path finished archives are served under.
const DownloadPrefix = "/download/"

// Archive is a zip file being written into a downloads directory. Entries
// go to a temporary file that Close renames into place, so a partially
// written archive is never served.
type Archive struct {
	dir   string
	name  string
	tmp   *os.File
	zw    *zip.Writer
	names map[string]int
}

// Create starts an archive named <prefix>-<uuid>.zip in dir.
func Create(dir, prefix string) (*Archive, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create downloads directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".export-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create archive: %w", err)
	}
	return &Archive{
		dir:   dir,
		name:  fmt.Sprintf("%s-%s.zip", prefix, uuid.NewString()),
		tmp:   tmp,
		zw:    zip.NewWriter(tmp),
		names: make(map[string]int),
	}, nil
}

// CategoryArchive starts the export archive for a category.
func CategoryArchive(dir string, categoryID int64) (*Archive, error) {
	return Create(dir, fmt.Sprintf("category-%d", categoryID))
}

// Name is the archive's final file name.
func (a *Archive) Name() string { return a.name }

// DownloadURL is the URL the archive is served at once closed.
func (a *Archive) DownloadURL() string { return DownloadPrefix + a.name }

// AddFile copies src into the archive as name. Repeated names get a
// " (n)" suffix before the extension.
func (a *Archive) AddFile(src, name string) error {
	f, err := filesystem.OpenWithRetry(src, filesystem.DefaultRetryConfig())
	if err != nil {
		return err
	}
	defer func() {
		if err := f.Close(); err != nil {
			logging.Debug("failed to close %s: %v", src, err)
		}
	}()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", src, err)
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = a.entryName(name)
	header.Method = zip.Store

	w, err := a.zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("failed to add %s: %w", name, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return nil
}

func (a *Archive) entryName(name string) string {
	name = filepath.Base(filepath.Clean(name))
	n := a.names[name]
	a.names[name] = n + 1
	if n == 0 {
		return name
	}
	ext := filepath.Ext(name)
	return fmt.Sprintf("%s (%d)%s", strings.TrimSuffix(name, ext), n+1, ext)
}

// Close finishes the archive and moves it to its final name. It returns
// the final path.
func (a *Archive) Close() (string, error) {
	if err := a.zw.Close(); err != nil {
		a.Abort()
		return "", fmt.Errorf("failed to finish archive: %w", err)
	}
	if err := a.tmp.Close(); err != nil {
		_ = os.Remove(a.tmp.Name())
		return "", fmt.Errorf("failed to close archive: %w", err)
	}
	final := filepath.Join(a.dir, a.name)
	if err := os.Rename(a.tmp.Name(), final); err != nil {
		_ = os.Remove(a.tmp.Name())
		return "", fmt.Errorf("failed to publish archive: %w", err)
	}
	logging.Info("Wrote export archive %s", final)
	return final, nil
}

// Abort discards the archive.
func (a *Archive) Abort() {
	_ = a.tmp.Close()
	if err := os.Remove(a.tmp.Name()); err != nil && !os.IsNotExist(err) {
		logging.Debug("failed to remove partial archive %s: %v", a.tmp.Name(), err)
	}
}

// Lookup returns the path of a finished archive in dir. Names with path
// elements, hidden names and non-zip names are rejected.
func Lookup(dir, name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".zip") {
		return "", ErrInvalidName
	}
	path := filepath.Join(dir, name)
	if !filesystem.Exists(path) {
		return "", os.ErrNotExist
	}
	return path, nil
}
