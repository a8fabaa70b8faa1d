package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"profile2site/internal/extract"
	"profile2site/internal/metrics"
)

// TaskProcessor extracts one record at a time on its worker's page
type TaskProcessor struct {
	id        int
	extractor *extract.Extractor
	pacer     *pacer
	metrics   *metrics.Collector
	logger    *zap.Logger
	attempts  int
}

func newTaskProcessor(id int, extractor *extract.Extractor, pacer *pacer, m *metrics.Collector, logger *zap.Logger) *TaskProcessor {
	p := &TaskProcessor{
		id:        id,
		extractor: extractor,
		pacer:     pacer,
		metrics:   m,
		logger:    logger,
	}
	extractor.OnAttempt = func(_ string, _ int, err error) {
		p.attempts++
		if p.metrics != nil {
			p.metrics.IncAttempt(err != nil)
		}
	}
	return p
}

// Process runs the extractor for task. It never fails; the error travels in the Result.
func (p *TaskProcessor) Process(ctx context.Context, task Task) Result {
	rec := task.Record
	result := Result{Record: rec, WorkerID: p.id}

	if err := p.pacer.Wait(ctx); err != nil {
		result.Err = err
		return result
	}

	startTime := time.Now()
	if p.metrics != nil {
		p.metrics.WorkerBusy(1)
		defer p.metrics.WorkerBusy(-1)
	}

	p.attempts = 0
	p.logger.Debug("Processing record", zap.String("identifier", rec.ID), zap.String("target", rec.Target))

	value, err := p.extractor.Extract(ctx, rec.Target)

	result.Value = value
	result.Err = err
	result.Attempts = p.attempts
	result.Duration = time.Since(startTime)

	if p.metrics != nil && ctx.Err() == nil {
		p.metrics.ObserveDuration(result.Duration)
	}
	return result
}
