package paygate

import (
	"context"
	"fmt"
	"sync"
)

type Task func()

// Dispatcher runs tasks one at a time, in submission order.
// It stands in for the UI thread: every mutation of observable state
// coming from a store callback is submitted here.
type Dispatcher interface {
	Submit(ctx context.Context, task Task) error

	Close()
}

type mainLoop struct {
	taskQueue chan Task
	wg        sync.WaitGroup
	closeOnce sync.Once
	mu        sync.RWMutex
	isClosed  bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewDispatcher starts a single-worker dispatcher with a buffered queue.
// Cancelling ctx stops the worker without draining the queue; Close drains it.
func NewDispatcher(ctx context.Context, queueSize int) (Dispatcher, error) {
	if queueSize <= 0 {
		return nil, fmt.Errorf("queueSize must be greater than 0, got %d", queueSize)
	}
	loopCtx, cancel := context.WithCancel(ctx)

	d := &mainLoop{
		taskQueue: make(chan Task, queueSize),
		ctx:       loopCtx,
		cancel:    cancel,
	}
	d.start()

	return d, nil
}

func (d *mainLoop) Submit(ctx context.Context, task Task) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.isClosed {
		return ErrDispatcherClosed
	}
	// The worker is gone once the loop context ends; a buffered send would be lost.
	if d.ctx.Err() != nil {
		return fmt.Errorf("failed to submit task: %w", ErrDispatcherClosed)
	}

	select {
	case d.taskQueue <- task:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to submit task: %w", ctx.Err())
	case <-d.ctx.Done():
		return fmt.Errorf("failed to submit task: %w", ErrDispatcherClosed)
	}
}

func (d *mainLoop) start() {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		for {
			select {
			case task, ok := <-d.taskQueue:
				if !ok {
					return
				}
				task()
			case <-d.ctx.Done():
				return
			}
		}
	}()
}

func (d *mainLoop) Close() {
	d.closeOnce.Do(func() {
		// Waits for senders blocked in Submit; the worker keeps draining meanwhile.
		d.mu.Lock()
		d.isClosed = true
		d.mu.Unlock()

		close(d.taskQueue)
		d.wg.Wait()
		d.cancel()
	})
}
