package attempt

import (
	"sync"
	"time"
)

// autoSaver debounces answer writes so typing does not produce one
// request per keystroke. Pending saves are keyed by item id, one timer
// per item: editing another item does not cancel an earlier item's save.
type autoSaver struct {
	delay time.Duration
	fire  func(itemID int64, value any)

	mu      sync.Mutex
	pending map[int64]*time.Timer
}

func newAutoSaver(delay time.Duration, fire func(itemID int64, value any)) *autoSaver {
	return &autoSaver{
		delay:   delay,
		fire:    fire,
		pending: make(map[int64]*time.Timer),
	}
}

// schedule arms (or re-arms) the debounce window for one item with its
// latest value. When the window elapses uninterrupted, fire runs once
// with that value.
func (s *autoSaver) schedule(itemID int64, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.pending[itemID]; ok {
		t.Stop()
	}
	s.pending[itemID] = time.AfterFunc(s.delay, func() {
		s.mu.Lock()
		delete(s.pending, itemID)
		s.mu.Unlock()
		s.fire(itemID, value)
	})
}

// cancelAll stops every pending save. Called before submission so no
// stale write can land after the attempt is finalized.
func (s *autoSaver) cancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.pending {
		t.Stop()
		delete(s.pending, id)
	}
}

func (s *autoSaver) pendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
