package utils

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

var (
	// ErrNilWorkItem is returned when a nil item is enqueued.
	ErrNilWorkItem = errors.New("work item must not be nil")
	// ErrQueueClosed is returned when enqueueing after the queue was stopped.
	ErrQueueClosed = errors.New("task queue is closed")
)

// TaskHandler processes one queued item. The context is cancelled on shutdown.
type TaskHandler[T any] func(ctx context.Context, item *T) error

// TaskQueue is an unbounded FIFO drained by exactly one worker goroutine.
// Handler failures and panics are logged and the worker moves on.
type TaskQueue[T any] struct {
	handler TaskHandler[T]
	Logger  zerolog.Logger

	mu     sync.Mutex
	items  []*T
	closed bool
	ready  chan struct{}

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewTaskQueue creates a stopped queue; call Start to launch the worker.
func NewTaskQueue[T any](handler TaskHandler[T], logger zerolog.Logger) *TaskQueue[T] {
	return &TaskQueue[T]{
		handler: handler,
		Logger:  logger,
		ready:   make(chan struct{}, 1),
	}
}

// Enqueue appends item without blocking.
func (q *TaskQueue[T]) Enqueue(item *T) error {
	if item == nil {
		return ErrNilWorkItem
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

// Len returns the number of items waiting to be processed.
func (q *TaskQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Start launches the worker.
func (q *TaskQueue[T]) Start() error {
	q.lifecycle.Lock()
	defer q.lifecycle.Unlock()

	if q.cancel != nil {
		return errors.New("task queue is already running")
	}

	q.mu.Lock()
	q.closed = false
	q.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.run(ctx)
	}()
	return nil
}

// Stop cancels the worker and waits for the item in progress to finish.
// Items still queued are discarded.
func (q *TaskQueue[T]) Stop() error {
	q.lifecycle.Lock()
	defer q.lifecycle.Unlock()

	if q.cancel == nil {
		return errors.New("task queue is not running")
	}

	q.mu.Lock()
	q.closed = true
	dropped := len(q.items)
	q.items = nil
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
	q.cancel = nil

	if dropped > 0 {
		q.Logger.Warn().Int("dropped", dropped).Msg("Task queue stopped with pending items")
	}
	return nil
}

func (q *TaskQueue[T]) run(ctx context.Context) {
	for {
		item, ok := q.next()
		if !ok {
			select {
			case <-q.ready:
				continue
			case <-ctx.Done():
				return
			}
		}

		if ctx.Err() != nil {
			return
		}
		if err := q.process(ctx, item); err != nil {
			q.Logger.Error().Err(err).Msg("Queued task failed")
		}
	}
}

func (q *TaskQueue[T]) next() (*T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	item := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return item, true
}

func (q *TaskQueue[T]) process(ctx context.Context, item *T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return q.handler(ctx, item)
}
