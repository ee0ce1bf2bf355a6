package raft

import (
	"context"
	"sync"
	"sync/atomic"
)

// Stream is an ordered command queue. Tasks submitted to one stream execute
// in submission order on a dedicated goroutine, asynchronously relative to
// the submitting goroutine. The first task error is sticky and reported by
// Sync.
type Stream struct {
	taskCh chan func()
	stopWg sync.WaitGroup
	closed atomic.Bool

	errMu sync.Mutex
	err   error
}

func newStream(depth int) *Stream {
	if depth <= 0 {
		depth = 64
	}
	s := &Stream{
		taskCh: make(chan func(), depth),
	}
	s.stopWg.Add(1)
	go s.worker()
	return s
}

// worker drains tasks in submission order.
func (s *Stream) worker() {
	defer s.stopWg.Done()
	for task := range s.taskCh {
		task()
	}
}

// Submit enqueues a task for ordered execution and returns immediately.
// A non-nil task error becomes the stream's sticky error.
func (s *Stream) Submit(ctx context.Context, task func() error) error {
	if s.closed.Load() {
		return ExecErrorf("stream is closed")
	}
	wrapped := func() {
		if err := task(); err != nil {
			s.setErr(err)
		}
	}
	select {
	case s.taskCh <- wrapped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run enqueues a task and blocks until it has executed, preserving ordering
// relative to previously submitted tasks. The task's own error is returned
// directly rather than left on the stream.
func (s *Stream) Run(ctx context.Context, task func() error) error {
	if s.closed.Load() {
		return ExecErrorf("stream is closed")
	}
	done := make(chan error, 1)
	wrapped := func() {
		done <- task()
	}
	select {
	case s.taskCh <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		// The task still runs to completion on the stream; its error, if
		// any, becomes sticky.
		go func() {
			if err := <-done; err != nil {
				s.setErr(err)
			}
		}()
		return ctx.Err()
	}
}

// Sync blocks until all previously submitted tasks have executed and returns
// the sticky error, if any. The sticky error persists across Sync calls.
func (s *Stream) Sync(ctx context.Context) error {
	if err := s.Run(ctx, func() error { return nil }); err != nil {
		return err
	}
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close stops the stream after draining queued tasks. Idempotent.
func (s *Stream) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	close(s.taskCh)
	s.stopWg.Wait()
}

func (s *Stream) setErr(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
}
