// Package jobqueue is an unbounded multi-producer, single-consumer work queue.
//
// The queue is held in process memory only. Jobs still queued when the
// process exits are lost; callers needing durability must persist work
// elsewhere before pushing it.
package jobqueue

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/xenking/kart-fulfillment/internal/jobqueue"

// Handler processes one job. A returned error is logged and the consumer
// moves on to the next job; jobs are never retried.
type Handler[T any] func(ctx context.Context, job T) error

// Queue buffers jobs for a single consumer.
type Queue[T any] struct {
	lg     *zap.Logger
	signal chan struct{}

	mu    sync.Mutex
	items []T

	depth     metric.Int64UpDownCounter
	processed metric.Int64Counter
}

// New creates an empty queue. A nil provider selects the global one.
func New[T any](lg *zap.Logger, mp metric.MeterProvider) (*Queue[T], error) {
	if lg == nil {
		lg = zap.NewNop()
	}
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)

	depth, err := meter.Int64UpDownCounter("jobqueue.depth",
		metric.WithDescription("Jobs waiting for the consumer"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "jobqueue.depth")
	}
	processed, err := meter.Int64Counter("jobqueue.processed",
		metric.WithDescription("Jobs handled by result"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "jobqueue.processed")
	}

	return &Queue[T]{
		lg:        lg,
		signal:    make(chan struct{}, 1),
		depth:     depth,
		processed: processed,
	}, nil
}

// Push appends job and returns immediately.
func (q *Queue[T]) Push(job T) {
	q.mu.Lock()
	q.items = append(q.items, job)
	q.mu.Unlock()

	q.depth.Add(context.Background(), 1)
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Len returns the number of jobs waiting.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue[T]) pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	job := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return job, true
}

// Run drains the queue one job at a time until ctx is done. It must be
// called by at most one goroutine. A job in flight when ctx is cancelled
// sees the cancelled context; remaining jobs stay queued and are dropped
// with the process.
func (q *Queue[T]) Run(ctx context.Context, h Handler[T]) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		job, ok := q.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-q.signal:
				continue
			}
		}
		q.depth.Add(ctx, -1)
		q.handle(ctx, h, job)
	}
}

func (q *Queue[T]) handle(ctx context.Context, h Handler[T], job T) {
	result := "ok"
	defer func() {
		if r := recover(); r != nil {
			result = "panic"
			q.lg.Error("Job panicked", zap.String("panic", fmt.Sprint(r)), zap.Stack("stack"))
		}
		q.processed.Add(context.WithoutCancel(ctx), 1,
			metric.WithAttributes(attribute.String("result", result)))
	}()

	if err := h(ctx, job); err != nil {
		result = "error"
		q.lg.Error("Job failed", zap.Error(err), zap.Int("pending", q.Len()))
	}
}
