package worker

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"profile2site/internal/browser"
	"profile2site/internal/extract"
	"profile2site/internal/metrics"
)

// Pool manages a pool of workers sharing one browser
type Pool struct {
	size    int
	config  Config
	browser browser.Browser
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewPool creates a new worker pool
func NewPool(
	size int,
	config Config,
	b browser.Browser,
	metricsCollector *metrics.Collector,
	logger *zap.Logger,
) *Pool {
	return &Pool{
		size:    size,
		config:  config,
		browser: b,
		metrics: metricsCollector,
		logger:  logger,
	}
}

// Start opens one page per worker and launches the workers. If any page cannot be opened
// the pages already opened are closed and no worker starts. Results are sent on results
// until tasks is closed or ctx is done.
func (p *Pool) Start(ctx context.Context, tasks <-chan Task, results chan<- Result, wg *sync.WaitGroup) error {
	pages := make([]browser.Page, 0, p.size)
	for i := 0; i < p.size; i++ {
		page, err := p.browser.NewPage(ctx)
		if err != nil {
			for _, opened := range pages {
				opened.Close()
			}
			return fmt.Errorf("worker %d: %w", i, err)
		}
		pages = append(pages, page)
	}

	for i, page := range pages {
		wg.Add(1)
		go p.worker(ctx, i, page, tasks, results, wg)
	}
	return nil
}

func (p *Pool) worker(ctx context.Context, id int, page browser.Page, tasks <-chan Task, results chan<- Result, wg *sync.WaitGroup) {
	defer wg.Done()
	defer page.Close()

	logger := p.logger.With(zap.Int("worker_id", id))
	logger.Info("Worker started")

	processor := newTaskProcessor(
		id,
		extract.New(page, p.config.Extract, logger),
		newPacer(p.config),
		p.metrics,
		logger,
	)

	for {
		select {
		case task, ok := <-tasks:
			if !ok {
				logger.Info("Worker finished - no more tasks")
				return
			}

			result := processor.Process(ctx, task)
			// The collector reads results until every worker has exited.
			results <- result

		case <-ctx.Done():
			logger.Info("Worker stopped - context cancelled")
			return
		}
	}
}
