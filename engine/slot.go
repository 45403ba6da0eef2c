package engine

import (
	"sync"

	"github.com/kitrun/kitrun"
)

// Slot holds the single active session. The launcher runs at most one
// interactive script at a time; the slot makes that invariant explicit
// instead of trusting callers to serialize.
//
// No I/O happens under the lock, so a stalled child can never wedge
// unrelated Install/Take callers.
type Slot struct {
	mu sync.Mutex
	ch *Channel
}

// Install claims the slot for ch. Returns ErrOccupied when a session is
// already active; it never silently replaces one.
func (s *Slot) Install(ch *Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch != nil {
		return kitrun.ErrOccupied
	}
	s.ch = ch
	return nil
}

// Release clears the slot if it still holds ch. A channel that was
// already Taken, or lost the slot to a successor, leaves it untouched.
func (s *Slot) Release(ch *Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch == ch {
		s.ch = nil
	}
}

// Take removes and returns the active channel, or nil when the slot is
// empty. The caller owns the returned channel's teardown.
func (s *Slot) Take() *Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := s.ch
	s.ch = nil
	return ch
}

// IsOccupied reports whether a session is active.
func (s *Slot) IsOccupied() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch != nil
}
