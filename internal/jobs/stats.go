package jobs

import (
	"sync"
	"time"
)

// Stats keeps a rolling window of recent processing durations. The average
// seeds the time-based progress estimate for the next job.
type Stats struct {
	mu        sync.Mutex
	window    int
	durations []time.Duration
	fallback  time.Duration
}

// NewStats creates a stats tracker keeping the last window durations.
// Before any job has finished, Average returns fallback.
func NewStats(window int, fallback time.Duration) *Stats {
	if window <= 0 {
		window = 20
	}
	if fallback <= 0 {
		fallback = 4 * time.Minute
	}
	return &Stats{window: window, fallback: fallback}
}

// Record adds one completed job duration to the window.
func (s *Stats) Record(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.durations = append(s.durations, d)
	if len(s.durations) > s.window {
		s.durations = append([]time.Duration(nil), s.durations[len(s.durations)-s.window:]...)
	}
}

// Average returns the mean of the recorded window, or the fallback when no
// durations have been recorded yet.
func (s *Stats) Average() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.durations) == 0 {
		return s.fallback
	}

	var total time.Duration
	for _, d := range s.durations {
		total += d
	}
	return total / time.Duration(len(s.durations))
}
