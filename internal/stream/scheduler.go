// Package stream pushes live correlation updates to connected clients and
// owns the deadline watchdog that guarantees every stream terminates.
package stream

import (
	"container/heap"
	"sync"
	"time"
)

// Scheduler is a single shared deadline watchdog: one coarse ticker drains a
// min-heap of entry deadlines. Connections register a callback instead of
// running their own timer, so background work does not grow with connection
// count. Pub/sub is only an optimization; this is the authority that makes a
// stream complete even when zero notifications ever arrive.
type Scheduler struct {
	mu      sync.Mutex
	heap    deadlineHeap
	entries map[uint64]*deadlineEntry
	nextID  uint64
	stop    chan struct{}
	stopped bool
	now     func() time.Time
}

type deadlineEntry struct {
	id       uint64
	deadline time.Time
	fire     func()
	index    int
}

// NewScheduler starts the ticker goroutine. interval is the watchdog
// granularity; one second is the intended coarseness.
func NewScheduler(interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Second
	}
	s := &Scheduler{
		entries: make(map[uint64]*deadlineEntry),
		stop:    make(chan struct{}),
		now:     time.Now,
	}
	go s.run(interval)
	return s
}

// Schedule registers fire to run once the deadline has passed, and returns a
// cancel function removing the entry. Cancellation races a tick that already
// collected the entry; callers that need a hard guarantee gate inside fire.
func (s *Scheduler) Schedule(deadline time.Time, fire func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return func() {}
	}
	s.nextID++
	e := &deadlineEntry{id: s.nextID, deadline: deadline, fire: fire}
	s.entries[e.id] = e
	heap.Push(&s.heap, e)
	id := e.id

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if entry, ok := s.entries[id]; ok {
			delete(s.entries, id)
			heap.Remove(&s.heap, entry.index)
		}
	}
}

func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.stopped = true
		close(s.stop)
	}
}

func (s *Scheduler) run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			for _, fire := range s.takeDue() {
				fire()
			}
		}
	}
}

func (s *Scheduler) takeDue() []func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var due []func()
	for s.heap.Len() > 0 && !now.Before(s.heap[0].deadline) {
		e := heap.Pop(&s.heap).(*deadlineEntry)
		delete(s.entries, e.id)
		due = append(due, e.fire)
	}
	return due
}

type deadlineHeap []*deadlineEntry

func (h deadlineHeap) Len() int           { return len(h) }
func (h deadlineHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }
func (h deadlineHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *deadlineHeap) Push(x any) {
	e := x.(*deadlineEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}
