package filesystem

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/esprusso/photo-library/internal/logging"
)

const hashChunkSize = 1 << 20

// HashFile returns the hex SHA-256 of a file's content, read in 1 MiB chunks.
func HashFile(path string) (string, error) {
	f, err := OpenWithRetry(path, DefaultRetryConfig())
	if err != nil {
		return "", err
	}
	defer func() {
		if err := f.Close(); err != nil {
			logging.Debug("failed to close %s: %v", path, err)
		}
	}()

	h := sha256.New()
	buf := make([]byte, hashChunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Fingerprint identifies file content for the purge blacklist.
type Fingerprint struct {
	Size *int64
	Hash string
}

// FingerprintFirst hashes the first readable candidate. knownSize, when set,
// is kept; otherwise the size of the first existing candidate is used.
func FingerprintFirst(knownSize *int64, candidates ...string) Fingerprint {
	fp := Fingerprint{Size: knownSize}
	for _, path := range candidates {
		if path == "" {
			continue
		}
		info, err := StatWithRetry(path, DefaultRetryConfig())
		if err != nil {
			continue
		}
		if fp.Size == nil {
			size := info.Size()
			fp.Size = &size
		}
		hash, err := HashFile(path)
		if err != nil {
			logging.Debug("Could not hash %s: %v", path, err)
			continue
		}
		fp.Hash = hash
		break
	}
	return fp
}
