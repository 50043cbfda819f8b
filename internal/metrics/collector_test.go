package metrics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type mockStatsProvider struct {
	mu    sync.Mutex
	stats Stats
	err   error
	calls int
}

func (m *mockStatsProvider) LibraryStats(_ context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.stats, m.err
}

func (m *mockStatsProvider) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func TestCollectorRecordsStats(t *testing.T) {
	provider := &mockStatsProvider{
		stats: Stats{
			TotalImages:     120,
			ImagesWithPhash: 90,
			TotalTags:       14,
			TotalCategories: 6,
			TotalFavorites:  3,
			BlacklistSize:   2,
			IgnoredPairs:    5,
		},
	}

	collector := NewCollector(provider, time.Hour)
	collector.collect()

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"images", testutil.ToFloat64(LibraryImagesTotal), 120},
		{"phash", testutil.ToFloat64(LibraryImagesWithPhash), 90},
		{"tags", testutil.ToFloat64(LibraryTagsTotal), 14},
		{"categories", testutil.ToFloat64(LibraryCategoriesTotal), 6},
		{"favorites", testutil.ToFloat64(LibraryFavoritesTotal), 3},
		{"blacklist", testutil.ToFloat64(BlacklistEntriesTotal), 2},
		{"ignored", testutil.ToFloat64(IgnoredPairsTotal), 5},
	}

	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s gauge = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestCollectorKeepsGaugesOnError(t *testing.T) {
	Record(Stats{TotalImages: 7})

	provider := &mockStatsProvider{err: errors.New("database unavailable")}
	collector := NewCollector(provider, time.Hour)
	collector.collect()

	if got := testutil.ToFloat64(LibraryImagesTotal); got != 7 {
		t.Errorf("LibraryImagesTotal = %v, want previous value 7", got)
	}
}

func TestCollectorNilProvider(t *testing.T) {
	collector := NewCollector(nil, time.Hour)
	collector.collect() // must not panic
}

func TestCollectorStartStop(t *testing.T) {
	provider := &mockStatsProvider{}
	collector := NewCollector(provider, 10*time.Millisecond)
	collector.Start()

	deadline := time.Now().Add(2 * time.Second)
	for provider.callCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	collector.Stop()

	if provider.callCount() < 2 {
		t.Errorf("expected at least 2 collections, got %d", provider.callCount())
	}
}
