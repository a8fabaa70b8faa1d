package progress

import (
	"fmt"
	"sync"
	"time"
)

// Status is a point-in-time view of a run
type Status struct {
	Total          int64 // records in the input
	Skipped        int64 // already settled by an earlier run
	Processed      int64 // settled during this run
	Resolved       int64
	Failed         int64
	StartTime      time.Time
	LastUpdateTime time.Time
	CurrentRate    float64 // records per minute over the recent window
	AverageRate    float64 // records per minute since start
	ETA            time.Duration
}

// Remaining returns the records neither skipped nor processed.
func (s Status) Remaining() int64 {
	r := s.Total - s.Skipped - s.Processed
	if r < 0 {
		return 0
	}
	return r
}

// Tracker tracks run progress
type Tracker struct {
	mu         sync.RWMutex
	status     Status
	samples    []time.Time // completion times for the current rate
	maxSamples int
	window     time.Duration
	now        func() time.Time
}

// NewTracker creates a new progress tracker
func NewTracker() *Tracker {
	return newTracker(time.Now)
}

func newTracker(now func() time.Time) *Tracker {
	start := now()
	return &Tracker{
		status: Status{
			StartTime:      start,
			LastUpdateTime: start,
		},
		samples:    make([]time.Time, 0, 60),
		maxSamples: 60,
		window:     5 * time.Minute,
		now:        now,
	}
}

// SetTotal sets the record total and how many were settled before this run
func (t *Tracker) SetTotal(total, skipped int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.Total = total
	t.status.Skipped = skipped
}

// AddResolved counts one record resolved during this run
func (t *Tracker) AddResolved() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.Resolved++
	t.status.Processed++
	t.update()
}

// AddFailed counts one record failed during this run
func (t *Tracker) AddFailed() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.Failed++
	t.status.Processed++
	t.update()
}

// update refreshes rates and ETA (must be called with lock held)
func (t *Tracker) update() {
	now := t.now()

	t.samples = append(t.samples, now)
	if len(t.samples) > t.maxSamples {
		t.samples = t.samples[1:]
	}

	t.calculateCurrentRate(now)
	t.calculateAverageRate(now)
	t.calculateETA()

	t.status.LastUpdateTime = now
}

func (t *Tracker) calculateCurrentRate(now time.Time) {
	cutoff := now.Add(-t.window)
	var n int
	var first time.Time
	for i := len(t.samples) - 1; i >= 0; i-- {
		if t.samples[i].Before(cutoff) {
			break
		}
		n++
		first = t.samples[i]
	}

	t.status.CurrentRate = 0
	if n >= 2 {
		if d := now.Sub(first); d > 0 {
			t.status.CurrentRate = float64(n-1) / d.Minutes()
		}
	}
}

func (t *Tracker) calculateAverageRate(now time.Time) {
	elapsed := now.Sub(t.status.StartTime)
	if elapsed > 0 {
		t.status.AverageRate = float64(t.status.Processed) / elapsed.Minutes()
	}
}

func (t *Tracker) calculateETA() {
	remaining := t.status.Remaining()
	if remaining == 0 || t.status.AverageRate == 0 {
		t.status.ETA = 0
		return
	}
	t.status.ETA = time.Duration(float64(remaining) / t.status.AverageRate * float64(time.Minute))
}

// GetStatus returns the current status (thread-safe)
func (t *Tracker) GetStatus() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.status
}

// GetProgressPercent returns settled records, skipped included, as a percentage of the total
func (t *Tracker) GetProgressPercent() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.status.Total == 0 {
		return 0
	}
	return float64(t.status.Skipped+t.status.Processed) / float64(t.status.Total) * 100
}

// FormatRate formats a records-per-minute rate
func FormatRate(perMinute float64) string {
	if perMinute < 1 && perMinute > 0 {
		return fmt.Sprintf("%.1f/h", perMinute*60)
	}
	return fmt.Sprintf("%.1f/min", perMinute)
}

// FormatDuration formats duration in human readable format
func FormatDuration(d time.Duration) string {
	if d == 0 {
		return "calculating..."
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
