package capture

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/petems/vela-audio/internal/audio"
)

// mockBackend hands out mockStreams fed from the blocks channel.
type mockBackend struct {
	initErr    error
	connectErr error

	mu       sync.Mutex
	inits    int
	connects int
	params   []audio.StreamParams
	streams  []*mockStream

	blocks    chan *audio.Block
	connected chan struct{}
	// overruns is reported by every stream handed out.
	overruns uint64
}

func newMockBackend() *mockBackend {
	return &mockBackend{
		blocks:    make(chan *audio.Block, 16),
		connected: make(chan struct{}, 16),
	}
}

func (m *mockBackend) Name() string { return "mock" }

func (m *mockBackend) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inits++
	return m.initErr
}

func (m *mockBackend) Terminate() error { return nil }

func (m *mockBackend) Devices() ([]audio.Device, error) {
	return []audio.Device{{ID: 0, Name: "Mock", Default: true}}, nil
}

func (m *mockBackend) Connect(params audio.StreamParams) (audio.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.connects++
	m.params = append(m.params, params)
	if m.connectErr != nil {
		return nil, m.connectErr
	}
	s := &mockStream{blocks: m.blocks, quit: make(chan struct{}), overruns: m.overruns}
	m.streams = append(m.streams, s)
	m.connected <- struct{}{}
	return s, nil
}

func (m *mockBackend) connectCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects
}

func (m *mockBackend) lastParams() audio.StreamParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.params[len(m.params)-1]
}

func (m *mockBackend) waitConnected(t *testing.T) {
	t.Helper()
	select {
	case <-m.connected:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never connected")
	}
}

type mockStream struct {
	blocks   chan *audio.Block
	overruns uint64

	mu     sync.Mutex
	quit   chan struct{}
	quits  int
	closed bool
	queued int
}

func (s *mockStream) Dequeue(ctx context.Context) (*audio.Block, error) {
	select {
	case <-s.quit:
		return nil, audio.ErrQuit
	default:
	}
	select {
	case b := <-s.blocks:
		return b, nil
	case <-s.quit:
		return nil, audio.ErrQuit
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *mockStream) Queue(*audio.Block) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued++
}

func (s *mockStream) Quit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.quits == 0 {
		close(s.quit)
	}
	s.quits++
}

func (s *mockStream) Close() error {
	s.Quit()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *mockStream) Overruns() uint64 { return s.overruns }

func f32Block(samples ...float32) *audio.Block {
	return &audio.Block{Format: audio.FormatF32LE, Float32: samples}
}

func s16Block(samples ...int16) *audio.Block {
	return &audio.Block{Format: audio.FormatS16LE, Int16: samples}
}

// waitFor polls cond for up to two seconds.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
