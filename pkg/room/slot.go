package room

import "sync"

// Slot holds the most recent text handed to it. Every message in this system
// is a full document, so a reader that falls behind only needs the newest one
// and Put never blocks.
type Slot struct {
	mu    sync.Mutex
	text  string
	full  bool
	ready chan struct{}
}

func NewSlot() *Slot {
	return &Slot{ready: make(chan struct{}, 1)}
}

// Put replaces any text not yet taken.
func (s *Slot) Put(text string) {
	s.mu.Lock()
	s.text = text
	s.full = true
	s.mu.Unlock()
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// Ready is signalled after Put. A signal may be stale, so check Take.
func (s *Slot) Ready() <-chan struct{} {
	return s.ready
}

// Take empties the slot.
func (s *Slot) Take() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.full {
		return "", false
	}
	text := s.text
	s.text, s.full = "", false
	return text, true
}
