package engine

import (
	"context"
	"sync"
)

// dispatcher runs callbacks one at a time, in the order they were posted,
// on its own goroutine. post never blocks, so the engine goroutine can hand
// off callbacks that call back into the engine.
type dispatcher struct {
	logger Logger

	mu    sync.Mutex
	queue []func()
	wake  chan struct{}
}

func newDispatcher(logger Logger) *dispatcher {
	return &dispatcher{
		logger: logger,
		wake:   make(chan struct{}, 1),
	}
}

// post queues fn.
func (d *dispatcher) post(fn func()) {
	d.mu.Lock()
	d.queue = append(d.queue, fn)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// run executes queued callbacks until ctx is done. Callbacks still queued
// at that point are dropped.
func (d *dispatcher) run(ctx context.Context) {
	for {
		for {
			fn, ok := d.next()
			if !ok {
				break
			}
			d.invoke(fn)
		}
		select {
		case <-ctx.Done():
			return
		case <-d.wake:
		}
	}
}

func (d *dispatcher) next() (func(), bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return nil, false
	}
	fn := d.queue[0]
	d.queue[0] = nil
	d.queue = d.queue[1:]
	return fn, true
}

// invoke runs fn, recovering panics so one bad callback does not stop the rest.
func (d *dispatcher) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("circuit callback panicked", "panic", r)
		}
	}()
	fn()
}
