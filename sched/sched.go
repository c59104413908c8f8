// Package sched runs each process on its own goroutine and keeps track of
// them so the machine can wait for every thread of control to finish.
package sched

import (
	"errors"

	"github.com/evanphx/nkern/log"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

var ErrTooManyThreads = errors.New("thread limit reached")

type Scheduler struct {
	g       errgroup.Group
	running atomic.Int64
	spawned atomic.Int64
}

// New returns a scheduler that runs at most limit threads at once. A limit
// of zero or less means no limit.
func New(limit int) *Scheduler {
	s := &Scheduler{}

	if limit > 0 {
		s.g.SetLimit(limit)
	}

	return s
}

// Spawn starts fn concurrently and returns without waiting for it.
func (s *Scheduler) Spawn(name string, fn func()) error {
	s.running.Inc()

	ok := s.g.TryGo(func() error {
		defer s.running.Dec()

		log.L.Trace("sched-thread-start", "name", name)
		defer log.L.Trace("sched-thread-done", "name", name)

		fn()
		return nil
	})

	if !ok {
		s.running.Dec()
		return ErrTooManyThreads
	}

	s.spawned.Inc()

	return nil
}

// Running reports how many spawned threads have not finished.
func (s *Scheduler) Running() int {
	return int(s.running.Load())
}

// Spawned reports how many threads were ever started.
func (s *Scheduler) Spawned() int {
	return int(s.spawned.Load())
}

// Wait blocks until every spawned thread has returned.
func (s *Scheduler) Wait() error {
	return s.g.Wait()
}
