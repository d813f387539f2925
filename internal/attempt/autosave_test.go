package attempt

import (
	"sync"
	"testing"
	"time"
)

type firedSave struct {
	itemID int64
	value  any
}

func collectSaves() (*autoSaver, func() []firedSave) {
	var mu sync.Mutex
	var fired []firedSave
	s := newAutoSaver(15*time.Millisecond, func(itemID int64, value any) {
		mu.Lock()
		fired = append(fired, firedSave{itemID, value})
		mu.Unlock()
	})
	return s, func() []firedSave {
		mu.Lock()
		defer mu.Unlock()
		return append([]firedSave(nil), fired...)
	}
}

func TestAutoSaverCoalescesPerItem(t *testing.T) {
	s, saves := collectSaves()
	s.schedule(1, "a")
	s.schedule(1, "ab")
	s.schedule(1, "abc")
	s.schedule(2, true)

	time.Sleep(80 * time.Millisecond)
	got := saves()
	if len(got) != 2 {
		t.Fatalf("expected 2 fires, got %d: %v", len(got), got)
	}
	byItem := map[int64]any{}
	for _, f := range got {
		byItem[f.itemID] = f.value
	}
	if byItem[1] != "abc" {
		t.Fatalf("item 1 should fire with the last value, got %v", byItem[1])
	}
	if byItem[2] != true {
		t.Fatalf("item 2 lost its save: %v", byItem)
	}
	if s.pendingCount() != 0 {
		t.Fatalf("pending timers left over: %d", s.pendingCount())
	}
}

func TestAutoSaverCancelAll(t *testing.T) {
	s, saves := collectSaves()
	s.schedule(1, "a")
	s.schedule(2, "b")
	s.cancelAll()

	time.Sleep(60 * time.Millisecond)
	if got := saves(); len(got) != 0 {
		t.Fatalf("cancelled saves still fired: %v", got)
	}
	if s.pendingCount() != 0 {
		t.Fatalf("pending timers left over after cancelAll")
	}
}
