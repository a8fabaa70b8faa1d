package worker

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"profile2site/internal/extract"
)

// pacer spaces out one worker's page visits
type pacer struct {
	enabled  bool
	min, max time.Duration
	limiter  *rate.Limiter
	started  bool

	jitter func(min, max time.Duration) time.Duration
	sleep  func(ctx context.Context, d time.Duration) error
}

func newPacer(cfg Config) *pacer {
	return &pacer{
		enabled: cfg.PaceRecords,
		min:     cfg.SleepMin,
		max:     cfg.SleepMax,
		limiter: cfg.Limiter,
		jitter:  extract.Jitter,
		sleep:   extract.Sleep,
	}
}

// Wait blocks before every visit except a worker's first.
func (p *pacer) Wait(ctx context.Context) error {
	if p.started && p.enabled {
		if err := p.sleep(ctx, p.jitter(p.min, p.max)); err != nil {
			return err
		}
	}
	p.started = true

	if p.limiter != nil {
		return p.limiter.Wait(ctx)
	}
	return nil
}
