package service

import (
	"sync"
	"testing"
)

type mockLifecycle struct {
	mu     sync.Mutex
	starts int
	stops  int
}

func (m *mockLifecycle) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts++
}

func (m *mockLifecycle) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
}

func (m *mockLifecycle) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts, m.stops
}

func TestAcquireStartsOnce(t *testing.T) {
	lc := &mockLifecycle{}
	s := New("audio", lc)

	s.Acquire()
	s.Acquire()
	s.Acquire()

	if starts, stops := lc.counts(); starts != 1 || stops != 0 {
		t.Errorf("starts=%d stops=%d, want 1/0", starts, stops)
	}
	if s.Refs() != 3 {
		t.Errorf("Refs() = %d, want 3", s.Refs())
	}
}

func TestReleaseStopsOnLast(t *testing.T) {
	lc := &mockLifecycle{}
	s := New("audio", lc)

	s.Acquire()
	s.Acquire()
	s.Release()
	if _, stops := lc.counts(); stops != 0 {
		t.Fatalf("stopped with a holder left")
	}
	s.Release()
	if _, stops := lc.counts(); stops != 1 {
		t.Fatalf("stops = %d, want 1", stops)
	}

	// Extra releases are ignored.
	s.Release()
	if s.Refs() != 0 {
		t.Errorf("Refs() = %d, want 0", s.Refs())
	}
	if _, stops := lc.counts(); stops != 1 {
		t.Errorf("stops = %d after extra release, want 1", stops)
	}

	s.Acquire()
	if starts, _ := lc.counts(); starts != 2 {
		t.Errorf("starts = %d after reacquire, want 2", starts)
	}
}

func TestOnChange(t *testing.T) {
	var seen []int
	s := New("audio", &mockLifecycle{}, OnChange(func(refs int) {
		seen = append(seen, refs)
	}))

	s.Acquire()
	s.Acquire()
	s.Release()
	s.Release()
	s.Release()

	want := []int{1, 2, 1, 0}
	if len(seen) != len(want) {
		t.Fatalf("changes = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("changes = %v, want %v", seen, want)
			break
		}
	}
}

func TestConcurrentAcquireRelease(t *testing.T) {
	lc := &mockLifecycle{}
	s := New("audio", lc)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Acquire()
			s.Release()
		}()
	}
	wg.Wait()

	starts, stops := lc.counts()
	if starts != stops {
		t.Errorf("starts=%d stops=%d, want equal", starts, stops)
	}
	if s.Refs() != 0 {
		t.Errorf("Refs() = %d, want 0", s.Refs())
	}
}

func TestHandleSwapsServices(t *testing.T) {
	lcA, lcB := &mockLifecycle{}, &mockLifecycle{}
	a, b := New("a", lcA), New("b", lcB)

	var h Handle
	h.Set(a)
	h.Set(a)
	if a.Refs() != 1 {
		t.Fatalf("a.Refs() = %d, want 1", a.Refs())
	}

	h.Set(b)
	if a.Refs() != 0 || b.Refs() != 1 {
		t.Errorf("refs a=%d b=%d, want 0/1", a.Refs(), b.Refs())
	}
	if _, stops := lcA.counts(); stops != 1 {
		t.Errorf("a stops = %d, want 1", stops)
	}
	if h.Service() != b {
		t.Error("Handle should hold b")
	}

	h.Close()
	if b.Refs() != 0 || h.Service() != nil {
		t.Errorf("after Close refs=%d service=%v", b.Refs(), h.Service())
	}
}
