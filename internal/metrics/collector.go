package metrics

import (
	"context"
	"time"

	"github.com/esprusso/photo-library/internal/logging"
)

// StatsProvider interface for collecting stats
type StatsProvider interface {
	LibraryStats(ctx context.Context) (Stats, error)
}

// Stats holds the current library statistics
type Stats struct {
	TotalImages     int `json:"total_images"`
	ImagesWithPhash int `json:"images_with_phash"`
	TotalTags       int `json:"total_tags"`
	TotalCategories int `json:"total_categories"`
	TotalFavorites  int `json:"total_favorites"`
	BlacklistSize   int `json:"blacklist_entries"`
	IgnoredPairs    int `json:"ignored_pairs"`
}

// Collector periodically collects and updates metrics
type Collector struct {
	statsProvider StatsProvider
	interval      time.Duration
	stopChan      chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(provider StatsProvider, interval time.Duration) *Collector {
	return &Collector{
		statsProvider: provider,
		interval:      interval,
		stopChan:      make(chan struct{}),
	}
}

// Start begins the metrics collection loop
func (c *Collector) Start() {
	go c.collectLoop()
}

// Stop stops the metrics collection
func (c *Collector) Stop() {
	close(c.stopChan)
}

func (c *Collector) collectLoop() {
	// Collect immediately on start
	c.collect()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.collect()
		case <-c.stopChan:
			return
		}
	}
}

func (c *Collector) collect() {
	if c.statsProvider == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stats, err := c.statsProvider.LibraryStats(ctx)
	if err != nil {
		logging.Warn("Metrics collection failed: %v", err)
		return
	}

	Record(stats)

	logging.Debug("Metrics collected: images=%d, phash=%d, tags=%d, categories=%d",
		stats.TotalImages, stats.ImagesWithPhash, stats.TotalTags, stats.TotalCategories)
}

// Record copies a stats snapshot into the library gauges.
func Record(stats Stats) {
	LibraryImagesTotal.Set(float64(stats.TotalImages))
	LibraryImagesWithPhash.Set(float64(stats.ImagesWithPhash))
	LibraryTagsTotal.Set(float64(stats.TotalTags))
	LibraryCategoriesTotal.Set(float64(stats.TotalCategories))
	LibraryFavoritesTotal.Set(float64(stats.TotalFavorites))
	BlacklistEntriesTotal.Set(float64(stats.BlacklistSize))
	IgnoredPairsTotal.Set(float64(stats.IgnoredPairs))
}
