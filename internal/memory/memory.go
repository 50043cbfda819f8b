package memory

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/esprusso/photo-library/internal/logging"
	"github.com/esprusso/photo-library/internal/metrics"
)

// Config holds the thresholds of a Monitor.
type Config struct {
	// LimitBytes is the reference limit; 0 uses GOMEMLIMIT.
	LimitBytes int64
	// ResumeAt is the usage ratio below which paused work resumes.
	ResumeAt float64
	// PauseAt is the usage ratio at which job items stop being processed.
	PauseAt float64
	// CheckInterval is how often usage is sampled.
	CheckInterval time.Duration
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		ResumeAt:      0.7,
		PauseAt:       0.85,
		CheckInterval: 5 * time.Second,
	}
}

// Monitor samples heap usage against the memory limit and pauses job item
// processing while usage stays above PauseAt. Without a limit it never
// pauses.
type Monitor struct {
	config Config
	limit  int64
	read   func() uint64

	mu      sync.Mutex
	current uint64
	paused  bool
	resume  chan struct{}
}

// NewMonitor creates a monitor. Call Start to begin sampling.
func NewMonitor(config Config) *Monitor {
	limit := config.LimitBytes
	if limit == 0 {
		limit = currentLimit()
	}
	if limit == 0 {
		logging.Debug("Memory monitor: no memory limit configured, job backpressure disabled")
	} else {
		logging.Info("Memory monitor limit: %s (pause at %.0f%%, resume below %.0f%%)",
			formatBytes(limit), config.PauseAt*100, config.ResumeAt*100)
	}
	return &Monitor{
		config: config,
		limit:  limit,
		read:   heapAlloc,
		resume: make(chan struct{}),
	}
}

func heapAlloc() uint64 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return stats.Alloc
}

// Start samples usage until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	if m.limit == 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(m.config.CheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.check()
			case <-ctx.Done():
				m.release()
				return
			}
		}
	}()
}

func (m *Monitor) check() {
	alloc := m.read()
	usage := float64(alloc) / float64(m.limit)
	metrics.MemoryUsageRatio.Set(usage)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = alloc

	switch {
	case !m.paused && usage >= m.config.PauseAt:
		logging.Warn("Memory critical (%.1f%% of limit), pausing job processing", usage*100)
		m.paused = true
		metrics.MemoryPaused.Set(1)
		metrics.MemoryPausesTotal.Inc()
		go runtime.GC()
	case m.paused && usage < m.config.ResumeAt:
		logging.Info("Memory recovered (%.1f%% of limit), resuming job processing", usage*100)
		m.unpauseLocked()
	}
}

func (m *Monitor) release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.paused {
		m.unpauseLocked()
	}
}

func (m *Monitor) unpauseLocked() {
	m.paused = false
	metrics.MemoryPaused.Set(0)
	close(m.resume)
	m.resume = make(chan struct{})
}

// Wait blocks while processing is paused. It returns ctx.Err() when ctx is
// cancelled first.
func (m *Monitor) Wait(ctx context.Context) error {
	m.mu.Lock()
	if !m.paused {
		m.mu.Unlock()
		return nil
	}
	resume := m.resume
	m.mu.Unlock()

	select {
	case <-resume:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Paused reports whether processing is currently paused.
func (m *Monitor) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// Usage returns the last sampled heap allocation and its ratio to the
// limit. The ratio is 0 without a limit.
func (m *Monitor) Usage() (alloc uint64, ratio float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.limit == 0 {
		return m.current, 0
	}
	return m.current, float64(m.current) / float64(m.limit)
}
