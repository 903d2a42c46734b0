package coordinator

import (
	"context"
	"sync"
)

// semaphore is a context-aware counting semaphore, adapted from
// internal/infra/semaphore.go's Semaphore (simplified to single-permit
// acquisitions, which is all the coordinator needs).
type semaphore struct {
	mu      sync.Mutex
	cond    *sync.Cond
	max     int64
	current int64
}

func newSemaphore(max int) *semaphore {
	if max <= 0 {
		max = 1
	}
	s := &semaphore{max: int64(max)}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *semaphore) acquire(ctx context.Context) error {
	s.mu.Lock()
	if s.current < s.max {
		s.current++
		s.mu.Unlock()
		return nil
	}

	done := make(chan struct{})
	var cancelled bool
	go func() {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			cancelled = true
			s.cond.Broadcast()
			s.mu.Unlock()
		case <-done:
		}
	}()

	for s.current >= s.max && !cancelled {
		s.cond.Wait()
	}
	defer close(done)

	if cancelled {
		s.mu.Unlock()
		return ctx.Err()
	}
	s.current++
	s.mu.Unlock()
	return nil
}

func (s *semaphore) release() {
	s.mu.Lock()
	if s.current > 0 {
		s.current--
	}
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *semaphore) inUse() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}
