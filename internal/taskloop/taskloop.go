// SPDX-FileCopyrightText: 2026 The jingle-nat authors
// SPDX-License-Identifier: MIT

// Package taskloop serializes work on a single goroutine.
package taskloop

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned for work submitted after Close.
var ErrClosed = errors.New("task loop has been stopped")

type task struct {
	fn   func(context.Context)
	done chan struct{}
}

// Loop runs tasks one at a time, in the order Run accepted them.
// A resolver owns exactly one Loop: it is the resolver's only
// mutual-exclusion domain for candidates and listeners.
type Loop struct {
	tasks   chan task
	ctx     context.Context //nolint:containedctx
	cancel  context.CancelFunc
	stopped chan struct{}
	onStop  func()
	once    sync.Once
}

// New starts a loop. onStop, when not nil, runs on the loop goroutine
// after the last task.
func New(onStop func()) *Loop {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Loop{
		tasks:   make(chan task),
		ctx:     ctx,
		cancel:  cancel,
		stopped: make(chan struct{}),
		onStop:  onStop,
	}

	go l.serve()

	return l
}

// Context is canceled when the loop is closed. Tasks receive it.
func (l *Loop) Context() context.Context {
	return l.ctx
}

// Run waits until fn has run on the loop. It gives up when ctx is done or
// the loop is closed before fn was accepted.
func (l *Loop) Run(ctx context.Context, fn func(context.Context)) error {
	if err := l.Err(); err != nil {
		return err
	}

	t := task{fn: fn, done: make(chan struct{})}
	select {
	case <-ctx.Done():
		if l.ctx.Err() != nil {
			return ErrClosed
		}

		return ctx.Err()
	case <-l.ctx.Done():
		return ErrClosed
	case l.tasks <- t:
		<-t.done

		return nil
	}
}

// Do is Run for tasks that only need the loop's own lifetime.
func (l *Loop) Do(fn func()) error {
	return l.Run(l.ctx, func(context.Context) { fn() })
}

// Err returns ErrClosed once the loop is closed.
func (l *Loop) Err() error {
	if l.ctx.Err() != nil {
		return ErrClosed
	}

	return nil
}

// Close lets the running task finish and drops the tasks still waiting.
// It is safe to call more than once.
func (l *Loop) Close() {
	l.once.Do(func() {
		l.cancel()
		<-l.stopped
	})
}

func (l *Loop) serve() {
	defer close(l.stopped)
	if l.onStop != nil {
		defer l.onStop()
	}

	for {
		select {
		case <-l.ctx.Done():
			return
		case t := <-l.tasks:
			t.fn(l.ctx)
			close(t.done)
		}
	}
}
