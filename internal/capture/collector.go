// Package capture pulls audio from a backend on a worker goroutine and exposes
// the latest completed chunk to polling readers through a double buffer.
package capture

import (
	"sync"
	"sync/atomic"

	"github.com/petems/vela-audio/internal/audio"
	"github.com/rs/zerolog"
)

// Collector starts, stops and reconfigures the capture worker and serves reads
// from its BufferPair. Reads never block on the worker.
type Collector struct {
	backend audio.Backend
	log     zerolog.Logger
	pair    *BufferPair

	mu     sync.Mutex // lifecycle and config
	cfg    Config
	stop   atomic.Bool
	worker *worker
	err    error
}

// Option configures a Collector.
type Option func(*Collector)

// WithLogger sets the collector's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Collector) {
		c.log = log
	}
}

// WithConfig replaces the default config. Values are clamped to their minimums.
func WithConfig(cfg Config) Option {
	return func(c *Collector) {
		c.cfg = cfg.normalize()
	}
}

// New creates a stopped collector with zero-filled buffers.
func New(backend audio.Backend, opts ...Option) *Collector {
	c := &Collector{
		backend: backend,
		log:     zerolog.Nop(),
		cfg:     DefaultConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Str("component", "capture").Logger()
	c.pair = NewBufferPair(c.cfg.ChunkSize)
	return c
}

// Start spawns the capture worker. It does nothing if one is already running.
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startLocked()
}

// Stop signals the worker and waits for it to exit. It does nothing if no
// worker is running.
func (c *Collector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

func (c *Collector) startLocked() {
	if c.worker != nil {
		return
	}

	// Both slots end up silent.
	c.pair.Clear()
	c.pair.Clear()

	c.stop.Store(false)
	c.err = nil
	w := newWorker(c.backend, c.cfg, c.pair, &c.stop, c.log)
	c.worker = w
	go w.run()
}

func (c *Collector) stopLocked() {
	w := c.worker
	if w == nil {
		return
	}

	c.stop.Store(true)
	w.cancel()
	<-w.done

	c.err = w.err
	c.worker = nil
}

// Running reports whether a worker handle is held. A worker whose backend
// failed still counts until Stop.
func (c *Collector) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.worker != nil
}

// LastError returns the error the current or last worker exited with.
func (c *Collector) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if w := c.worker; w != nil {
		select {
		case <-w.done:
			return w.err
		default:
			return nil
		}
	}
	return c.err
}

// restartLocked applies a config change to a running worker.
func (c *Collector) restartLocked(resize bool) {
	running := c.worker != nil
	if running {
		c.stopLocked()
	}
	if resize {
		c.pair.Resize(c.cfg.ChunkSize)
	}
	if running {
		c.startLocked()
	}
}

// SetNodeID selects the capture device, restarting the worker if it runs.
func (c *Collector) SetNodeID(id audio.NodeID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfg.Node == id {
		return
	}
	c.cfg.Node = id
	c.log.Debug().Stringer("node", id).Msg("Node changed")
	c.restartLocked(false)
}

// SetSampleRate sets the capture rate, clamped to MinSampleRate. Buffer length is unaffected.
func (c *Collector) SetSampleRate(hz int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	hz = max(hz, MinSampleRate)
	if c.cfg.SampleRate == hz {
		return
	}
	c.cfg.SampleRate = hz
	c.log.Debug().Int("rate", hz).Msg("Sample rate changed")
	c.restartLocked(false)
}

// SetChunkSize sets the chunk length, clamped to MinChunkSize, and reallocates
// both buffers zero-filled before any restart.
func (c *Collector) SetChunkSize(frames int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	frames = max(frames, MinChunkSize)
	if c.cfg.ChunkSize == frames {
		return
	}
	c.cfg.ChunkSize = frames
	c.log.Debug().Int("chunk", frames).Msg("Chunk size changed")
	c.restartLocked(true)
}

// Config returns the config in effect.
func (c *Collector) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

func (c *Collector) NodeID() audio.NodeID { return c.Config().Node }
func (c *Collector) SampleRate() int      { return c.Config().SampleRate }
func (c *Collector) ChunkSize() int       { return c.Config().ChunkSize }
func (c *Collector) Latency() int         { return c.Config().Latency() }

// ClearBuffer publishes a silent chunk without stopping the worker.
func (c *Collector) ClearBuffer() {
	c.pair.Clear()
}

// LoadChunk publishes externally supplied 16-bit samples.
func (c *Collector) LoadChunk(samples []int16, count int) {
	c.pair.LoadChunk(samples, count)
}

// ReadChunk copies the latest chunk into out. See BufferPair.ReadChunk.
func (c *Collector) ReadChunk(out []float32, count int) int {
	return c.pair.ReadChunk(out, count)
}

// ReadChunk64 copies the latest chunk into out as float64.
func (c *Collector) ReadChunk64(out []float64, count int) int {
	return c.pair.ReadChunk64(out, count)
}

// ReadChunkSeq copies the latest chunk and reports its generation.
func (c *Collector) ReadChunkSeq(out []float32, count int) (int, uint64) {
	return c.pair.ReadChunkSeq(out, count)
}

// BufferLen returns the length of the buffers readers copy from.
func (c *Collector) BufferLen() int {
	return c.pair.Len()
}
