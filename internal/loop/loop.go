// Package loop runs tasks one at a time on a single goroutine.
//
// State owned by loop tasks needs no locking. Blocking work goes through
// Async: the call runs on its own goroutine and its continuation is queued
// back onto the loop, so other tasks may run in between.
package loop

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// Loop is a single-consumer FIFO task queue.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	stopped bool
	wake    chan struct{}

	pending sync.WaitGroup
}

func New() *Loop {
	return &Loop{wake: make(chan struct{}, 1)}
}

// Post queues task. It never blocks. Tasks posted after Run has returned
// are dropped.
func (l *Loop) Post(task func()) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.pending.Add(1)
	l.queue = append(l.queue, task)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Async runs call on a new goroutine and then queues then (if non-nil).
func (l *Loop) Async(call func(), then func()) {
	l.pending.Add(1)
	go func() {
		defer l.pending.Done()
		l.guard("async", call)
		if then != nil {
			l.Post(then)
		}
	}()
}

// Call queues task and waits for it to finish.
func (l *Loop) Call(ctx context.Context, task func()) error {
	_, err := Compute(ctx, l, func() struct{} {
		task()
		return struct{}{}
	})
	return err
}

// Compute runs fn on the loop and returns its result. If ctx ends first,
// fn may still run later; its result is then discarded and never shared
// with the caller.
func Compute[T any](ctx context.Context, l *Loop, fn func() T) (T, error) {
	ch := make(chan T, 1)
	l.Post(func() {
		var v T
		defer func() { ch <- v }()
		v = fn()
	})
	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Wait blocks until the queue is empty and no Async call is in flight.
func (l *Loop) Wait() {
	l.pending.Wait()
}

// Run executes queued tasks until ctx is done. On return the tasks still
// queued are dropped, and the loop cannot be run again.
func (l *Loop) Run(ctx context.Context) error {
	defer l.stop()
	for {
		for {
			task, ok := l.next()
			if !ok {
				break
			}
			l.guard("task", task)
			l.pending.Done()
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

func (l *Loop) stop() {
	l.mu.Lock()
	l.stopped = true
	dropped := len(l.queue)
	l.queue = nil
	l.mu.Unlock()

	if dropped > 0 {
		slog.Debug("loop stopped with queued tasks", "dropped", dropped)
	}
	for i := 0; i < dropped; i++ {
		l.pending.Done()
	}
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	task := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return task, true
}

func (l *Loop) guard(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("loop "+kind+" panicked", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
	}()
	fn()
}
