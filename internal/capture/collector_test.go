package capture

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/petems/vela-audio/internal/audio"
	"github.com/rs/zerolog"
)

func newTestCollector(b audio.Backend, opts ...Option) *Collector {
	return New(b, append([]Option{WithLogger(zerolog.Nop())}, opts...)...)
}

func TestNewCollectorDefaults(t *testing.T) {
	c := newTestCollector(newMockBackend())

	if c.SampleRate() != 44100 || c.ChunkSize() != 512 || c.NodeID() != audio.AnyNode {
		t.Errorf("defaults = %+v", c.Config())
	}
	if c.BufferLen() != 512 {
		t.Errorf("BufferLen() = %d, want 512", c.BufferLen())
	}
	if c.Running() {
		t.Error("new collector should not be running")
	}
}

func TestWithConfigClamps(t *testing.T) {
	c := newTestCollector(newMockBackend(), WithConfig(Config{SampleRate: 100, ChunkSize: 2, Node: 3}))

	cfg := c.Config()
	if cfg.SampleRate != MinSampleRate || cfg.ChunkSize != MinChunkSize || cfg.Node != 3 {
		t.Errorf("Config() = %+v", cfg)
	}
	if c.BufferLen() != MinChunkSize {
		t.Errorf("BufferLen() = %d, want %d", c.BufferLen(), MinChunkSize)
	}
}

func TestFreshCollectorReadsZeros(t *testing.T) {
	c := newTestCollector(newMockBackend())

	out := []float32{1, 1, 1, 1}
	if n := c.ReadChunk(out, 4); n != 4 {
		t.Fatalf("ReadChunk() n = %d, want 4", n)
	}
	for i, v := range out {
		if v != 0 {
			t.Errorf("out[%d] = %v, want 0", i, v)
		}
	}
}

func TestStartIsIdempotent(t *testing.T) {
	b := newMockBackend()
	c := newTestCollector(b)

	c.Start()
	b.waitConnected(t)
	c.Start()
	c.Start()

	if got := b.connectCount(); got != 1 {
		t.Errorf("connects = %d, want 1", got)
	}
	if !c.Running() {
		t.Error("collector should be running")
	}

	c.Stop()
	if c.Running() {
		t.Error("collector should be stopped")
	}
}

func TestStopWithoutStart(t *testing.T) {
	c := newTestCollector(newMockBackend())
	c.Stop()
	c.Stop()
	if c.Running() {
		t.Error("collector should not be running")
	}
}

func TestStopJoinsWorker(t *testing.T) {
	b := newMockBackend()
	c := newTestCollector(b, WithConfig(Config{SampleRate: 48000, ChunkSize: 64, Node: audio.AnyNode}))

	c.Start()
	b.waitConnected(t)

	done := make(chan struct{})
	go func() {
		c.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	if c.BufferLen() != 64 {
		t.Errorf("BufferLen() = %d after Stop, want 64", c.BufferLen())
	}

	s := b.streams[0]
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed || s.quits == 0 {
		t.Errorf("stream closed=%v quits=%d, want closed and quit", s.closed, s.quits)
	}
	if err := c.LastError(); err != nil {
		t.Errorf("LastError() = %v, want nil", err)
	}
}

func TestCapturePublishesBackendBlocks(t *testing.T) {
	b := newMockBackend()
	c := newTestCollector(b, WithConfig(Config{SampleRate: 48000, ChunkSize: 16, Node: audio.AnyNode}))

	c.Start()
	defer c.Stop()
	b.waitConnected(t)

	if p := b.lastParams(); p.Format != audio.FormatF32LE || p.Channels != 1 || p.Direction != audio.DirectionInput || p.Latency != 16 {
		t.Errorf("connect params = %+v", p)
	}

	samples := make([]float32, 16)
	for i := range samples {
		samples[i] = 0.25
	}
	b.blocks <- f32Block(samples...)

	out := make([]float32, 16)
	waitFor(t, "captured chunk", func() bool {
		c.ReadChunk(out, 16)
		return out[15] == 0.25
	})
	for i, v := range out {
		if v != 0.25 {
			t.Errorf("out[%d] = %v, want 0.25", i, v)
		}
	}
}

func TestStartClearsBuffers(t *testing.T) {
	b := newMockBackend()
	c := newTestCollector(b, WithConfig(Config{SampleRate: 48000, ChunkSize: 16, Node: audio.AnyNode}))

	full := make([]int16, 16)
	for i := range full {
		full[i] = 1000
	}
	c.LoadChunk(full, 16)
	c.LoadChunk(full, 16)

	c.Start()
	defer c.Stop()

	out := make([]float32, 16)
	c.ReadChunk(out, 16)
	for i, v := range out {
		if v != 0 {
			t.Fatalf("out[%d] = %v after Start, want 0", i, v)
		}
	}

	// The write slot is silent too.
	c.ClearBuffer()
	c.ReadChunk(out, 16)
	for i, v := range out {
		if v != 0 {
			t.Fatalf("out[%d] = %v after ClearBuffer, want 0", i, v)
		}
	}
}

func TestClearBufferWhileRunning(t *testing.T) {
	b := newMockBackend()
	c := newTestCollector(b, WithConfig(Config{SampleRate: 48000, ChunkSize: 16, Node: audio.AnyNode}))
	c.Start()
	defer c.Stop()
	b.waitConnected(t)

	samples := make([]float32, 16)
	for i := range samples {
		samples[i] = 0.5
	}
	b.blocks <- f32Block(samples...)

	out := make([]float32, 16)
	waitFor(t, "captured chunk", func() bool {
		c.ReadChunk(out, 16)
		return out[0] == 0.5
	})

	c.ClearBuffer()
	c.ReadChunk(out, 16)
	for i, v := range out {
		if v != 0 {
			t.Fatalf("out[%d] = %v, want 0", i, v)
		}
	}
	if !c.Running() {
		t.Error("ClearBuffer must not stop the worker")
	}
}

func TestInitFailureLeavesSilence(t *testing.T) {
	b := newMockBackend()
	b.initErr = errors.New("no audio server")
	c := newTestCollector(b)

	c.LoadChunk([]int16{5000, 5000, 5000, 5000}, 4)
	c.Start()

	waitFor(t, "worker failure", func() bool { return c.LastError() != nil })
	if b.connectCount() != 0 {
		t.Errorf("connects = %d after init failure, want 0", b.connectCount())
	}

	out := make([]float32, 4)
	c.ReadChunk(out, 4)
	for i, v := range out {
		if v != 0 {
			t.Errorf("out[%d] = %v, want 0", i, v)
		}
	}

	c.Stop()
	if !errors.Is(c.LastError(), b.initErr) {
		t.Errorf("LastError() = %v, want %v", c.LastError(), b.initErr)
	}

	// Recovery is a fresh Start.
	b.mu.Lock()
	b.initErr = nil
	b.mu.Unlock()
	c.Start()
	b.waitConnected(t)
	c.Stop()
}

func TestFormatNegotiationFailureDegrades(t *testing.T) {
	b := newMockBackend()
	b.connectErr = fmt.Errorf("mock: %w", audio.ErrUnsupportedFormat)
	c := newTestCollector(b)

	c.Start()
	defer c.Stop()

	waitFor(t, "worker failure", func() bool { return c.LastError() != nil })
	if !errors.Is(c.LastError(), audio.ErrUnsupportedFormat) {
		t.Errorf("LastError() = %v, want ErrUnsupportedFormat", c.LastError())
	}

	out := make([]float32, 8)
	c.ReadChunk(out, 8)
	for i, v := range out {
		if v != 0 {
			t.Errorf("out[%d] = %v, want 0", i, v)
		}
	}
}

func TestSetChunkSizeWhileStopped(t *testing.T) {
	b := newMockBackend()
	c := newTestCollector(b)

	c.LoadChunk([]int16{1000, 1000}, 2)
	c.SetChunkSize(1024)

	if c.ChunkSize() != 1024 || c.BufferLen() != 1024 {
		t.Fatalf("ChunkSize() = %d, BufferLen() = %d, want 1024", c.ChunkSize(), c.BufferLen())
	}
	out := make([]float32, 1024)
	if n := c.ReadChunk(out, 1024); n != 1024 {
		t.Fatalf("ReadChunk() n = %d, want 1024", n)
	}
	for i, v := range out {
		if v != 0 {
			t.Fatalf("out[%d] = %v, want 0", i, v)
		}
	}
	if b.connectCount() != 0 {
		t.Error("setter on a stopped collector must not start it")
	}

	c.SetChunkSize(3)
	if c.ChunkSize() != MinChunkSize || c.BufferLen() != MinChunkSize {
		t.Errorf("clamped chunk = %d/%d, want %d", c.ChunkSize(), c.BufferLen(), MinChunkSize)
	}
}

func TestSetChunkSizeWhileRunningRestarts(t *testing.T) {
	b := newMockBackend()
	c := newTestCollector(b, WithConfig(Config{SampleRate: 48000, ChunkSize: 64, Node: audio.AnyNode}))

	c.Start()
	b.waitConnected(t)

	c.SetChunkSize(128)
	b.waitConnected(t)
	defer c.Stop()

	if got := b.connectCount(); got != 2 {
		t.Errorf("connects = %d, want 2", got)
	}
	if !c.Running() {
		t.Error("collector should be running after reconfiguration")
	}
	if c.BufferLen() != 128 {
		t.Errorf("BufferLen() = %d, want 128", c.BufferLen())
	}
	if p := b.lastParams(); p.Latency != 128 {
		t.Errorf("latency = %d, want 128", p.Latency)
	}

	// Same value is a no-op.
	c.SetChunkSize(128)
	if got := b.connectCount(); got != 2 {
		t.Errorf("connects = %d after no-op setter, want 2", got)
	}
}

func TestSetSampleRateKeepsBufferLength(t *testing.T) {
	b := newMockBackend()
	c := newTestCollector(b)

	c.SetSampleRate(96000)
	if c.SampleRate() != 96000 || c.BufferLen() != DefaultChunkSize {
		t.Errorf("rate = %d, len = %d", c.SampleRate(), c.BufferLen())
	}
	if c.Latency() != 1024 {
		t.Errorf("Latency() = %d, want 1024", c.Latency())
	}

	c.SetSampleRate(10)
	if c.SampleRate() != MinSampleRate {
		t.Errorf("clamped rate = %d, want %d", c.SampleRate(), MinSampleRate)
	}

	c.Start()
	b.waitConnected(t)
	c.SetSampleRate(22050)
	b.waitConnected(t)
	defer c.Stop()

	if p := b.lastParams(); p.SampleRate != 22050 {
		t.Errorf("restart used rate %d, want 22050", p.SampleRate)
	}
	if c.BufferLen() != DefaultChunkSize {
		t.Errorf("BufferLen() = %d, want %d", c.BufferLen(), DefaultChunkSize)
	}
}

func TestSetNodeID(t *testing.T) {
	b := newMockBackend()
	c := newTestCollector(b)

	c.Start()
	b.waitConnected(t)
	defer c.Stop()

	c.SetNodeID(audio.AnyNode)
	if got := b.connectCount(); got != 1 {
		t.Errorf("connects = %d after same node, want 1", got)
	}

	c.SetNodeID(5)
	b.waitConnected(t)
	if got := b.lastParams().Node; got != 5 {
		t.Errorf("connected node = %v, want 5", got)
	}
	if c.NodeID() != 5 {
		t.Errorf("NodeID() = %v, want 5", c.NodeID())
	}
}

func TestCollectorWithSynthBackend(t *testing.T) {
	b := audio.NewSynth(audio.SynthOptions{Frequency: 440, Amplitude: 0.8, Format: audio.FormatS16LE})
	c := newTestCollector(b, WithConfig(Config{SampleRate: 8000, ChunkSize: 16, Node: audio.AnyNode}))

	c.Start()
	out := make([]float32, 16)
	waitFor(t, "synthetic samples", func() bool {
		c.ReadChunk(out, 16)
		for _, v := range out {
			if v != 0 {
				return true
			}
		}
		return false
	})
	for i, v := range out {
		if v < -1 || v >= 1 {
			t.Errorf("out[%d] = %v outside [-1, 1)", i, v)
		}
	}

	c.Stop()
	if err := c.LastError(); err != nil {
		t.Errorf("LastError() = %v", err)
	}
	if c.BufferLen() != 16 {
		t.Errorf("BufferLen() = %d, want 16", c.BufferLen())
	}
}
