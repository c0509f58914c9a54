// Package dispatcher manages worker fan-out over the scan queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/jobrover/jobrover/internal/scan"
)

// Runner executes one queued scan. The engine satisfies this interface.
type Runner interface {
	Run(ctx context.Context, req scan.ScanRequest) error
}

// Dispatcher fans out queued scans to a pool of workers.
type Dispatcher struct {
	queue   scan.Queue
	runner  Runner
	workers int
	logger  *zap.Logger
}

// New creates a Dispatcher with the given worker count.
func New(queue scan.Queue, runner Runner, workers int, logger *zap.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   queue,
		runner:  runner,
		workers: workers,
		logger:  logger,
	}
}

// Run starts the worker pool and blocks until the context finishes and
// every worker has drained.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			d.loop(ctx, id)
		}(i)
	}
	<-ctx.Done()
	wg.Wait()
}

func (d *Dispatcher) loop(ctx context.Context, id int) {
	logger := d.logger.With(zap.Int("worker", id))
	for {
		req, err := d.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		logger.Debug("dequeued scan", zap.String("plan_id", req.PlanID))
		if err := d.runner.Run(ctx, req); err != nil {
			logger.Warn("scan run finished with error",
				zap.String("plan_id", req.PlanID), zap.Error(err))
		}
	}
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, req scan.ScanRequest) error {
	if err := d.queue.Enqueue(ctx, req); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
