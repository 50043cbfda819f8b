package database

import (
	"context"
	"fmt"

	"github.com/esprusso/photo-library/internal/metrics"
)

// LibraryStats returns library totals. It satisfies metrics.StatsProvider.
func (d *Database) LibraryStats(ctx context.Context) (metrics.Stats, error) {
	done := observeQuery("library_stats")

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var s metrics.Stats
	counts := []struct {
		dest  *int
		query string
	}{
		{&s.TotalImages, "SELECT COUNT(*) FROM images"},
		{&s.TotalTags, "SELECT COUNT(*) FROM tags"},
		{&s.TotalCategories, "SELECT COUNT(*) FROM categories"},
		{&s.TotalFavorites, "SELECT COUNT(*) FROM images WHERE favorite = 1"},
		{&s.BlacklistSize, "SELECT COUNT(*) FROM purged_images"},
		{&s.IgnoredPairs, "SELECT COUNT(*) FROM duplicate_ignores"},
	}
	if d.caps.SupportsFingerprint {
		counts = append(counts, struct {
			dest  *int
			query string
		}{&s.ImagesWithPhash, "SELECT COUNT(*) FROM images WHERE phash IS NOT NULL AND phash <> ''"})
	}

	for _, c := range counts {
		if err := d.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			done(err)
			return s, fmt.Errorf("failed to collect library stats: %w", err)
		}
	}

	done(nil)
	return s, nil
}
