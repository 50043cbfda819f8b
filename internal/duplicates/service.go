package duplicates

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

// Service finds duplicate clusters and manages ignored pairs, merges and
// purges against the database.
type Service struct {
	db         *database.Database
	caps       database.Capabilities
	paths      *filesystem.PathMapper
	thumbnails *media.ThumbnailGenerator
	mediaDir   string
}

// Option configures a Service.
type Option func(*Service)

// WithPathMapper resolves stored paths when fingerprinting files for the
// blacklist or deleting originals.
func WithPathMapper(pm *filesystem.PathMapper) Option {
	return func(s *Service) { s.paths = pm }
}

// WithThumbnails removes thumbnails of deleted images.
func WithThumbnails(gen *media.ThumbnailGenerator) Option {
	return func(s *Service) { s.thumbnails = gen }
}

// WithMediaDir sets the directory local copies must live in to be deleted.
func WithMediaDir(dir string) Option {
	return func(s *Service) { s.mediaDir = dir }
}

// NewService creates a service. Schema capabilities are read once here.
func NewService(db *database.Database, opts ...Option) *Service {
	s := &Service{db: db, caps: db.Capabilities()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SearchOptions parameterizes FindClusters. A threshold of 0 matches only
// identical fingerprints. PrefixBits 0 puts every fingerprint in one bucket.
// Negative Threshold or PrefixBits and a non-positive Limit take the default.
type SearchOptions struct {
	Threshold  int
	PrefixBits int
	Limit      int
}

// DefaultSearchOptions returns the standard search parameters.
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{Threshold: DefaultThreshold, PrefixBits: DefaultPrefixBits, Limit: DefaultLimit}
}

func (o SearchOptions) withDefaults() SearchOptions {
	if o.Threshold < 0 {
		o.Threshold = DefaultThreshold
	}
	if o.PrefixBits < 0 {
		o.PrefixBits = DefaultPrefixBits
	}
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	return o
}

// ClusterView is a cluster with its image records, as served over HTTP.
// Images, ImageIDs and Distances are index-aligned, seed first.
type ClusterView struct {
	Phash     string            `json:"phash"`
	Images    []*database.Image `json:"images"`
	ImageIDs  []int64           `json:"image_ids"`
	Distances []int             `json:"distances"`
}

// FindClusters loads up to opts.Limit fingerprints and the ignore registry
// and returns the resulting clusters, largest first. A schema without the
// fingerprint column yields no clusters.
func (s *Service) FindClusters(ctx context.Context, opts SearchOptions) ([]ClusterView, error) {
	opts = opts.withDefaults()
	if !s.caps.SupportsFingerprint {
		return []ClusterView{}, nil
	}

	start := time.Now()
	fps, err := s.db.ListFingerprints(ctx, opts.Limit)
	if err != nil {
		return nil, err
	}
	pairs, err := s.db.ListIgnored(ctx, 0)
	if err != nil {
		return nil, err
	}

	clusters, comparisons := FindClusters(fps, NewIgnoreSet(pairs), opts.Threshold, opts.PrefixBits)
	metrics.DuplicateSearchDuration.Observe(time.Since(start).Seconds())
	metrics.DuplicateComparisons.Observe(float64(comparisons))
	metrics.DuplicateClustersFound.Set(float64(len(clusters)))
	logging.Debug("Duplicate search: %d fingerprints, %d comparisons, %d clusters in %v",
		len(fps), comparisons, len(clusters), time.Since(start))

	return s.views(ctx, clusters)
}

func (s *Service) views(ctx context.Context, clusters []Cluster) ([]ClusterView, error) {
	views := make([]ClusterView, 0, len(clusters))
	if len(clusters) == 0 {
		return views, nil
	}

	var ids []int64
	for _, c := range clusters {
		ids = append(ids, c.IDs()...)
	}
	images, err := s.db.ListImages(ctx, database.ImageFilter{IDs: ids})
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]*database.Image, len(images))
	for _, img := range images {
		byID[img.ID] = img
	}

	for _, c := range clusters {
		v := ClusterView{Phash: c.Phash, Images: make([]*database.Image, 0, len(c.Members))}
		for _, m := range c.Members {
			img, ok := byID[m.ImageID]
			if !ok {
				continue
			}
			v.Images = append(v.Images, img)
			v.ImageIDs = append(v.ImageIDs, m.ImageID)
			v.Distances = append(v.Distances, m.Distance)
		}
		if len(v.Images) >= 2 {
			views = append(views, v)
		}
	}
	return views, nil
}

// IgnorePairs records pairs as not-duplicates and returns how many were new.
func (s *Service) IgnorePairs(ctx context.Context, pairs [][2]int64) (int, error) {
	return s.db.IgnorePairs(ctx, pairs)
}

// IgnoreCluster ignores every pair among ids and returns how many were new.
func (s *Service) IgnoreCluster(ctx context.Context, ids []int64) (int, error) {
	if len(ids) > MaxClusterIDs {
		return 0, fmt.Errorf("%w: %d ids, at most %d", ErrClusterTooLarge, len(ids), MaxClusterIDs)
	}
	return s.db.IgnorePairs(ctx, ClusterPairs(ids))
}

// UnignorePairs removes pairs from the registry and returns how many existed.
func (s *Service) UnignorePairs(ctx context.Context, pairs [][2]int64) (int, error) {
	return s.db.UnignorePairs(ctx, pairs)
}

// ListIgnored returns ignored pairs, most recent first.
func (s *Service) ListIgnored(ctx context.Context, limit int) ([]database.IgnoredPair, error) {
	return s.db.ListIgnored(ctx, limit)
}

// MergeFailure names a duplicate that could not be merged.
type MergeFailure struct {
	ID    int64  `json:"id"`
	Error string `json:"error"`
}

// MergeResult lists which duplicates were merged and which were not.
type MergeResult struct {
	Deleted []int64        `json:"deleted"`
	Failed  []MergeFailure `json:"failed"`
}

// MergeReason is recorded on blacklist entries written by MergeDelete.
const MergeReason = "duplicate merged"

// MergeDelete folds each duplicate's tags, categories, favorite flag,
// rating and date into the keeper, then blacklists and deletes the
// duplicate's record. Source files are never touched. Each duplicate is
// handled on its own, so one failure does not stop the others.
func (s *Service) MergeDelete(ctx context.Context, keeperID int64, duplicateIDs []int64) (MergeResult, error) {
	result := MergeResult{Deleted: []int64{}, Failed: []MergeFailure{}}
	if _, err := s.db.GetImage(ctx, keeperID); err != nil {
		return result, fmt.Errorf("keeper image %d: %w", keeperID, err)
	}

	seen := make(map[int64]bool, len(duplicateIDs))
	for _, id := range duplicateIDs {
		if seen[id] {
			continue
		}
		seen[id] = true

		if err := s.mergeOne(ctx, keeperID, id); err != nil {
			metrics.DuplicateMergesTotal.WithLabelValues("failed").Inc()
			logging.Warn("Failed to merge image %d into %d: %v", id, keeperID, err)
			result.Failed = append(result.Failed, MergeFailure{ID: id, Error: err.Error()})
			continue
		}
		metrics.DuplicateMergesTotal.WithLabelValues("success").Inc()
		result.Deleted = append(result.Deleted, id)
	}

	logging.Info("Merged %d duplicate(s) into image %d (%d failed)", len(result.Deleted), keeperID, len(result.Failed))
	return result, nil
}

func (s *Service) mergeOne(ctx context.Context, keeperID, id int64) error {
	if id == keeperID {
		return errors.New("duplicate is the keeper")
	}
	img, err := s.db.GetImage(ctx, id)
	if err != nil {
		return err
	}
	if err := s.db.MergeAndPurge(ctx, keeperID, id, s.BlacklistEntry(img, MergeReason)); err != nil {
		return err
	}
	s.removeThumbnail(id)
	return nil
}

func (s *Service) removeThumbnail(id int64) bool {
	if s.thumbnails == nil {
		return false
	}
	removed, err := s.thumbnails.Remove(id)
	if err != nil {
		logging.Debug("Failed to remove thumbnail for image %d: %v", id, err)
	}
	return removed
}
