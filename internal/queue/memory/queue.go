// Package memory provides queue implementations for local development.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jobrover/jobrover/internal/scan"
)

// Queue is a bounded in-memory scan queue with context-aware
// operations.
type Queue struct {
	ch      chan scan.ScanRequest
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch: make(chan scan.ScanRequest, capacity),
	}
}

// Enqueue pushes a scan request or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, req scan.ScanRequest) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- req:
		return nil
	}
}

// Dequeue pops the next scan request, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (scan.ScanRequest, error) {
	select {
	case <-ctx.Done():
		return scan.ScanRequest{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case req, ok := <-q.ch:
		if !ok {
			return scan.ScanRequest{}, errors.New("queue closed")
		}
		return req, nil
	}
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
