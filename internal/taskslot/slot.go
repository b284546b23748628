// Package taskslot provides a single-slot holder for cancellable background
// tasks: the slot runs at most one task at a time, and starting a task with a
// new tag cancels the previous one and waits for it to exit first.
package taskslot

import (
	"context"
	"sync"
)

// Slot holds at most one running task.
type Slot struct {
	mu     sync.Mutex
	tag    string
	cancel context.CancelFunc
	done   chan struct{}
}

// Start launches fn in a new goroutine unless a task with the same tag is
// already running, in which case it is a no-op and Start returns false.
// A running task with a different tag is cancelled, and Start waits for it
// to exit before launching fn, so tasks in the slot never overlap.
func (s *Slot) Start(tag string, fn func(ctx context.Context)) bool {
	for {
		s.mu.Lock()
		done := s.done
		if done == nil {
			break
		}

		select {
		case <-done:
			// Previous task already finished; free the slot.
			s.tag, s.cancel, s.done = "", nil, nil
			s.mu.Unlock()
			continue
		default:
		}

		if s.tag == tag {
			s.mu.Unlock()
			return false
		}

		cancel := s.cancel
		s.mu.Unlock()
		cancel()
		<-done
		// Retry: a concurrent Start may have claimed the slot meanwhile.
	}

	// Lock held, slot is free.
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.tag, s.cancel, s.done = tag, cancel, done
	s.mu.Unlock()

	go func() {
		defer cancel()
		defer close(done)
		fn(ctx)
	}()
	return true
}

// Cancel stops the running task, if any, and waits for it to exit.
// Safe to call when nothing is running.
func (s *Slot) Cancel() {
	s.mu.Lock()
	done := s.done
	if done == nil {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	<-done

	s.mu.Lock()
	if s.done == done {
		s.tag, s.cancel, s.done = "", nil, nil
	}
	s.mu.Unlock()
}

// Tag returns the tag of the currently running task, if one is running.
func (s *Slot) Tag() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done == nil {
		return "", false
	}
	select {
	case <-s.done:
		return "", false
	default:
		return s.tag, true
	}
}

// Wait blocks until the current task, if any, has exited.
func (s *Slot) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if done != nil {
		<-done
	}
}
