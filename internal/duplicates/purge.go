package duplicates

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/esprusso/photo-library/internal/database"
	"github.com/esprusso/photo-library/internal/filesystem"
	"github.com/esprusso/photo-library/internal/logging"
)

// Blacklist reasons.
const (
	DeleteReason  = "deleted by user"
	OneStarReason = "1-star rating"
)

// BlacklistEntry builds the purge record for img. Size and content hash
// come from the first readable copy: the local copy, then the original
// (directly or through the path mapper). The stored size wins when known.
func (s *Service) BlacklistEntry(img *database.Image, reason string) *database.PurgedImage {
	var size *int64
	if img.FileSize > 0 {
		fs := img.FileSize
		size = &fs
	}

	original, _ := s.paths.Resolve(img.Path)
	fp := filesystem.FingerprintFirst(size, img.LocalPath, original)

	entry := &database.PurgedImage{
		Filename:     img.Filename,
		FileSize:     fp.Size,
		FileHash:     fp.Hash,
		OriginalPath: img.Path,
		Reason:       reason,
	}
	if img.Width > 0 && img.Height > 0 {
		w, h := img.Width, img.Height
		entry.Width = &w
		entry.Height = &h
	}
	return entry
}

// DeleteResult reports what DeleteImage removed besides the record.
type DeleteResult struct {
	ID               int64 `json:"id"`
	DeletedThumbnail bool  `json:"deleted_thumbnail"`
	DeletedLocalCopy bool  `json:"deleted_local_copy"`
	DeletedOriginal  bool  `json:"deleted_original"`
}

// DeleteImage blacklists an image and deletes its record and thumbnail.
// The local copy is removed only when it lies inside the media directory.
// The original file is removed only when deleteOriginal is set; failures to
// remove files are reported as false, not as errors.
func (s *Service) DeleteImage(ctx context.Context, id int64, deleteOriginal bool) (DeleteResult, error) {
	result := DeleteResult{ID: id}

	img, err := s.db.GetImage(ctx, id)
	if err != nil {
		return result, err
	}

	// Fingerprint before any file disappears.
	entry := s.BlacklistEntry(img, DeleteReason)

	result.DeletedThumbnail = s.removeThumbnail(id)

	if img.LocalPath != "" && s.mediaDir != "" && filesystem.IsWithin(s.mediaDir, img.LocalPath) {
		result.DeletedLocalCopy = removeFile(img.LocalPath)
	}

	if deleteOriginal {
		if original, ok := s.paths.Resolve(img.Path); ok {
			result.DeletedOriginal = removeFile(original)
		}
	}

	if err := s.db.PurgeImage(ctx, id, entry); err != nil {
		return result, fmt.Errorf("failed to delete image: %w", err)
	}
	logging.Info("Deleted image %d (%s)", id, img.Filename)
	return result, nil
}

func removeFile(path string) bool {
	if err := filesystem.RemoveWithRetry(filepath.Clean(path), filesystem.DefaultRetryConfig()); err != nil {
		logging.Warn("Failed to remove %s: %v", path, err)
		return false
	}
	return true
}

// PurgeResult summarizes PurgeOneStar.
type PurgeResult struct {
	Message          string `json:"message"`
	PurgedCount      int    `json:"purged_count"`
	BlacklistedCount int    `json:"blacklisted_count"`
}

// PurgeOneStar blacklists and deletes every image rated one star. Files are
// left on disk; the blacklist keeps them out of later scans.
func (s *Service) PurgeOneStar(ctx context.Context) (PurgeResult, error) {
	one := 1
	images, err := s.db.ListImages(ctx, database.ImageFilter{Rating: &one})
	if err != nil {
		return PurgeResult{}, err
	}
	if len(images) == 0 {
		return PurgeResult{Message: "No 1-star images found"}, nil
	}

	var result PurgeResult
	for _, img := range images {
		if err := s.db.PurgeImage(ctx, img.ID, s.BlacklistEntry(img, OneStarReason)); err != nil {
			return result, fmt.Errorf("failed to purge 1-star images: %w", err)
		}
		s.removeThumbnail(img.ID)
		result.BlacklistedCount++
		result.PurgedCount++
	}
	result.Message = fmt.Sprintf("Purged %d 1-star images and added %d to blacklist", result.PurgedCount, result.BlacklistedCount)
	logging.Info("%s", result.Message)
	return result, nil
}
