package app

import (
	"context"

	"go.uber.org/zap"

	"profile2site/internal/record"
	"profile2site/internal/worker"
)

// RecordDispatcher feeds pending records to the worker pool
type RecordDispatcher struct {
	store  *record.Store
	logger *zap.Logger
}

// Enqueue sends pending records on tasks until none remain, halt is closed, or ctx is
// done. A record claimed but not handed over stays pending. It returns how many records
// were handed over.
func (d *RecordDispatcher) Enqueue(ctx context.Context, halt <-chan struct{}, tasks chan<- worker.Task) (int, error) {
	var dispatched int
	for {
		select {
		case <-halt:
			return dispatched, nil
		case <-ctx.Done():
			return dispatched, ctx.Err()
		default:
		}

		rec, ok := d.store.NextPending()
		if !ok {
			d.logger.Info("Finished dispatching records", zap.Int("dispatched", dispatched))
			return dispatched, nil
		}

		select {
		case tasks <- worker.Task{Record: rec}:
			dispatched++
			d.logger.Debug("Enqueued record", zap.String("identifier", rec.ID))
		case <-halt:
			return dispatched, nil
		case <-ctx.Done():
			return dispatched, ctx.Err()
		}
	}
}
