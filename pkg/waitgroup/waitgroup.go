// Package waitgroup implements the asynchronous wait-group primitive the
// disk cache uses to coordinate the lifecycle of in-flight operations
// against a page flush or shutdown: no more acquisitions, and all
// outstanding acquisitions have released, before a waiter proceeds.
//
// It is multi-producer (guard acquirers) / single-consumer (the one
// waiter created by Wait). No operation here performs I/O or blocks by
// itself; Waiter.Wait is the only blocking call, and it blocks on a
// channel, not a lock.
package waitgroup

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by Acquire once Wait has been called on the
// group. The Rust original enforces "no acquire after wait" by consuming
// the group by value; a shared *WaitGroup in Go can't do that at compile
// time, so this is the runtime equivalent.
var ErrClosed = errors.New("waitgroup: acquire after wait")

// WaitGroup is a counting completion barrier with asynchronous waiting.
// The zero value is not usable; construct one with New.
type WaitGroup struct {
	counter int64
	waiting int32 // atomic flag: 0 = open, 1 = Wait has been called
	done    chan struct{}
	once    sync.Once
}

// New returns an empty wait group: counter zero, no guards outstanding.
func New() *WaitGroup {
	return &WaitGroup{done: make(chan struct{})}
}

// Acquire increments the counter and returns a guard representing a unit
// of outstanding work. It may be called any number of times concurrently,
// from any goroutine, until the group has been consumed by Wait.
func (wg *WaitGroup) Acquire() (*Guard, error) {
	atomic.AddInt64(&wg.counter, 1)
	if atomic.LoadInt32(&wg.waiting) == 1 {
		// Lost the race with Wait: back out. Either Wait's own zero-check
		// already ran and saw us (so this increment must not survive), or
		// it hasn't yet and will observe a non-zero counter and be
		// revisited by some other guard's Release — either way we must
		// not hand out a guard once waiting has been observed. If our
		// back-out is the one that drives the counter to zero, we must
		// close done ourselves: Wait's own zero-check may already have run
		// and seen a non-zero counter, so no other goroutine will.
		if atomic.AddInt64(&wg.counter, -1) == 0 && atomic.LoadInt32(&wg.waiting) == 1 {
			wg.close()
		}
		return nil, ErrClosed
	}
	return &Guard{wg: wg}, nil
}

// Wait consumes the group: after this call, Acquire returns ErrClosed. It
// returns a Waiter that becomes ready once the counter reaches zero.
func (wg *WaitGroup) Wait() *Waiter {
	atomic.StoreInt32(&wg.waiting, 1)
	if atomic.LoadInt64(&wg.counter) == 0 {
		wg.close()
	}
	return &Waiter{wg: wg}
}

func (wg *WaitGroup) close() {
	wg.once.Do(func() { close(wg.done) })
}

// Guard is a handle whose existence contributes 1 to its wait group's
// counter. Callers must release every guard they acquire, typically via
// defer guard.Release() immediately after Acquire succeeds — Go has no
// destructors, so this explicit call stands in for the Rust original's
// Drop impl.
type Guard struct {
	wg       *WaitGroup
	released int32
}

// Release decrements the counter. If this is the last outstanding guard
// and a waiter has already registered (Wait has been called), the waiter
// is woken. Release is safe to call more than once; only the first call
// has an effect.
func (g *Guard) Release() {
	if !atomic.CompareAndSwapInt32(&g.released, 0, 1) {
		return
	}
	if atomic.AddInt64(&g.wg.counter, -1) == 0 && atomic.LoadInt32(&g.wg.waiting) == 1 {
		g.wg.close()
	}
}

// Waiter is the lazy, pollable completion returned by Wait. It is
// guaranteed to become ready once the counter reaches zero after Wait was
// called — the "dip-rise" scenario, where the counter returns to zero and
// then rises again because a new guard was acquired before Wait was
// called, is harmless, since no Acquire can succeed after Wait has run.
type Waiter struct {
	wg *WaitGroup
}

// Ready performs a single non-blocking poll: true if every acquired guard
// has released, false otherwise. This is the Go rendition of the Rust
// original's Future::poll — a select against Done() is the idiomatic
// stand-in for "register a waker, then check".
func (w *Waiter) Ready() bool {
	select {
	case <-w.wg.done:
		return true
	default:
		return false
	}
}

// Done returns a channel that closes once the group's counter reaches
// zero. Unlike the single-waiter AtomicWaker the original is built on,
// closing a channel safely notifies any number of observers — a strict
// superset of the spec's single-waiter guarantee, not a weaker one.
func (w *Waiter) Done() <-chan struct{} {
	return w.wg.done
}

// Wait blocks until every acquired guard has released, or ctx is done,
// whichever comes first. There is no built-in timeout; callers that need
// one pass a context with a deadline.
func (w *Waiter) Wait(ctx context.Context) error {
	select {
	case <-w.wg.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
