package concurrent

import (
	"context"
	"sync"

	"github.com/emirpasic/gods/lists/doublylinkedlist"
)

type Limiter interface {
	// Add enqueue one working credential, blocking while the limiter is full.
	Add()
	// Acquire is Add that gives up when ctx is done.
	// Blocked callers are admitted strictly in the order they arrived.
	Acquire(ctx context.Context) error
	// Done dequeue one working credential, handing it to the oldest waiter if any.
	Done()
	// Waiting returns the number of callers blocked in Add or Acquire.
	Waiting() int
}

type limiter struct {
	mu   sync.Mutex
	free int
	// chan struct{} per blocked caller, oldest first
	waiters *doublylinkedlist.List
}

func NewLimiter(maxConcurrency int) Limiter {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &limiter{
		free:    maxConcurrency,
		waiters: doublylinkedlist.New(),
	}
}

func (in *limiter) Add() {
	_ = in.Acquire(context.Background())
}

func (in *limiter) Acquire(ctx context.Context) error {
	in.mu.Lock()
	if in.free > 0 && in.waiters.Empty() {
		in.free--
		in.mu.Unlock()
		return nil
	}
	ready := make(chan struct{})
	in.waiters.Add(ready)
	in.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	if idx := in.waiters.IndexOf(ready); idx >= 0 {
		in.waiters.Remove(idx)
		return ctx.Err()
	}
	// granted while giving up, pass it on
	in.releaseLocked()
	return ctx.Err()
}

func (in *limiter) Done() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.releaseLocked()
}

func (in *limiter) releaseLocked() {
	if v, ok := in.waiters.Get(0); ok {
		in.waiters.Remove(0)
		close(v.(chan struct{}))
		return
	}
	in.free++
}

func (in *limiter) Waiting() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.waiters.Size()
}
