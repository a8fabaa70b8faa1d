package worker

import (
	"time"

	"golang.org/x/time/rate"

	"profile2site/internal/extract"
	"profile2site/internal/record"
)

// Task is one record handed to a worker
type Task struct {
	Record record.Record
}

// Result is what a worker learned about one task
type Result struct {
	Record   record.Record
	Value    string
	Attempts int
	Err      error
	Duration time.Duration
	WorkerID int
}

// Config contains worker configuration
type Config struct {
	Extract extract.Options
	// PaceRecords inserts a jittered delay in [SleepMin, SleepMax] between a worker's records.
	PaceRecords bool
	SleepMin    time.Duration
	SleepMax    time.Duration
	// Limiter, when non-nil, is shared by every worker.
	Limiter *rate.Limiter
}

// NewLimiter returns a limiter for perMinute page visits, or nil when perMinute is not positive.
func NewLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
}
