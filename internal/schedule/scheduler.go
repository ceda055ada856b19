// Package schedule provides a single-loop deadline scheduler. All
// pending deadlines live in one min-heap; one goroutine sleeps until the
// nearest one and fires it. Entries are never cancelled — consumers
// validate token freshness when an entry fires, so superseded entries
// fall out as no-ops.
package schedule

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"
)

// Key identifies a scheduled deadline. Token binds the entry to one
// specific prompt issuance; a firing whose token no longer matches the
// live record must be discarded by the consumer.
type Key struct {
	ChatID int64
	UserID int64
	Phase  string
	Token  string
}

type entry struct {
	key Key
	at  time.Time
}

type deadlineHeap []entry

func (h deadlineHeap) Len() int            { return len(h) }
func (h deadlineHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h deadlineHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *deadlineHeap) Push(x interface{}) { *h = append(*h, x.(entry)) }
func (h *deadlineHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// FireFunc is invoked when a deadline elapses.
type FireFunc func(ctx context.Context, key Key)

// Scheduler owns the deadline heap and the loop that drains it.
type Scheduler struct {
	mu     sync.Mutex
	heap   deadlineHeap
	wake   chan struct{}
	fire   FireFunc
	logger *slog.Logger

	// Track in-flight fire callbacks for graceful shutdown
	active sync.WaitGroup
}

// New creates a scheduler that calls fire for each elapsed deadline.
func New(fire FireFunc, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		wake:   make(chan struct{}, 1),
		fire:   fire,
		logger: logger,
	}
}

// Schedule registers a deadline. Safe for concurrent use.
func (s *Scheduler) Schedule(key Key, at time.Time) {
	s.mu.Lock()
	heap.Push(&s.heap, entry{key: key, at: at})
	s.mu.Unlock()

	// Non-blocking wake: one pending signal is enough
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued deadlines.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.heap)
}

// Run drains deadlines until ctx is cancelled, then waits for in-flight
// callbacks to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.dispatchDue(ctx)

		wait := s.nextWait()
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping, waiting for in-flight timers")
			s.active.Wait()
			return ctx.Err()
		case <-s.wake:
		case <-timer.C:
		}
	}
}

// nextWait returns how long the loop may sleep before the nearest
// deadline, or a long idle interval when the heap is empty.
func (s *Scheduler) nextWait() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.heap) == 0 {
		return time.Hour
	}
	wait := time.Until(s.heap[0].at)
	if wait < 0 {
		wait = 0
	}
	return wait
}

func (s *Scheduler) dispatchDue(ctx context.Context) {
	now := time.Now()
	for {
		s.mu.Lock()
		if len(s.heap) == 0 || s.heap[0].at.After(now) {
			s.mu.Unlock()
			return
		}
		e := heap.Pop(&s.heap).(entry)
		s.mu.Unlock()

		s.active.Add(1)
		go func(e entry) {
			defer s.active.Done()
			s.fire(ctx, e.key)
		}(e)
	}
}
