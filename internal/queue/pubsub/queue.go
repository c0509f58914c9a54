// Package pubsub implements the scan queue on Google Cloud Pub/Sub so
// submission and execution can run in separate processes.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/jobrover/jobrover/internal/scan"
)

// Queue bridges Pub/Sub's push-style Receive into the pull-style
// scan.Queue contract. The first Dequeue starts a background receiver
// that feeds an internal channel.
type Queue struct {
	client       *pubsub.Client
	topic        string
	subscription string
	logger       *zap.Logger

	msgs      chan scan.ScanRequest
	recvCtx   context.Context
	recvStop  context.CancelFunc
	startOnce sync.Once
}

// New validates the wiring and builds a Queue. The topic and
// subscription must already exist.
func New(client *pubsub.Client, topic, subscription string, logger *zap.Logger) (*Queue, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub queue: client is required")
	}
	if topic == "" || subscription == "" {
		return nil, fmt.Errorf("pubsub queue: topic and subscription are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	recvCtx, recvStop := context.WithCancel(context.Background())
	return &Queue{
		client:       client,
		topic:        topic,
		subscription: subscription,
		logger:       logger,
		msgs:         make(chan scan.ScanRequest),
		recvCtx:      recvCtx,
		recvStop:     recvStop,
	}, nil
}

// Enqueue publishes the request and waits for the server ack.
func (q *Queue) Enqueue(ctx context.Context, req scan.ScanRequest) error {
	data, err := marshalRequest(req)
	if err != nil {
		return err
	}
	result := q.client.Topic(q.topic).Publish(ctx, &pubsub.Message{Data: data})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("pubsub queue: publish scan %s: %w", req.PlanID, err)
	}
	return nil
}

// Dequeue blocks until a request arrives or the context ends.
func (q *Queue) Dequeue(ctx context.Context) (scan.ScanRequest, error) {
	q.startOnce.Do(func() {
		go q.receive()
	})
	select {
	case <-ctx.Done():
		return scan.ScanRequest{}, fmt.Errorf("pubsub queue: dequeue canceled: %w", ctx.Err())
	case <-q.recvCtx.Done():
		return scan.ScanRequest{}, fmt.Errorf("pubsub queue: closed")
	case req := <-q.msgs:
		return req, nil
	}
}

func (q *Queue) receive() {
	sub := q.client.Subscription(q.subscription)
	err := sub.Receive(q.recvCtx, func(ctx context.Context, m *pubsub.Message) {
		req, err := unmarshalRequest(m.Data)
		if err != nil {
			// A malformed message would redeliver forever; drop it.
			q.logger.Warn("discarding malformed scan message", zap.Error(err))
			m.Ack()
			return
		}
		select {
		case q.msgs <- req:
			m.Ack()
		case <-ctx.Done():
			m.Nack()
		}
	})
	if err != nil && q.recvCtx.Err() == nil {
		q.logger.Error("pubsub receive stopped", zap.Error(err))
	}
	q.recvStop()
}

// Close stops the background receiver.
func (q *Queue) Close() {
	q.recvStop()
}

func marshalRequest(req scan.ScanRequest) ([]byte, error) {
	if req.PlanID == "" {
		return nil, fmt.Errorf("pubsub queue: plan id is required")
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("pubsub queue: marshal scan %s: %w", req.PlanID, err)
	}
	return data, nil
}

func unmarshalRequest(data []byte) (scan.ScanRequest, error) {
	var req scan.ScanRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return scan.ScanRequest{}, fmt.Errorf("unmarshal scan request: %w", err)
	}
	if req.PlanID == "" {
		return scan.ScanRequest{}, fmt.Errorf("scan request missing plan id")
	}
	return req, nil
}
