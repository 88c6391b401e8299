package capture

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/petems/vela-audio/internal/audio"
	"github.com/rs/zerolog"
)

// worker owns one backend connection and runs the capture loop on its own goroutine.
type worker struct {
	session string
	backend audio.Backend
	cfg     Config
	pair    *BufferPair
	stop    *atomic.Bool
	log     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	err    error // written before done is closed

	// chunk assembles blocks that do not line up with the chunk size.
	chunk []float32
	fill  int
}

func newWorker(backend audio.Backend, cfg Config, pair *BufferPair, stop *atomic.Bool, log zerolog.Logger) *worker {
	ctx, cancel := context.WithCancel(context.Background())
	session := uuid.NewString()
	return &worker{
		session: session,
		backend: backend,
		cfg:     cfg,
		pair:    pair,
		stop:    stop,
		log: log.With().
			Str("session", session).
			Str("backend", backend.Name()).
			Logger(),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		chunk:  make([]float32, cfg.ChunkSize),
	}
}

func (w *worker) run() {
	defer close(w.done)

	if err := w.backend.Init(); err != nil {
		// Nothing is produced; readers keep the silence Start published.
		w.fail(fmt.Errorf("backend init: %w", err))
		return
	}

	params := audio.StreamParams{
		Node:       w.cfg.Node,
		Direction:  audio.DirectionInput,
		Format:     audio.FormatF32LE,
		Channels:   1,
		SampleRate: w.cfg.SampleRate,
		Latency:    w.cfg.Latency(),
	}
	stream, err := w.backend.Connect(params)
	if err != nil {
		w.fail(fmt.Errorf("backend connect: %w", err))
		return
	}
	defer stream.Close()

	w.log.Info().
		Stringer("node", params.Node).
		Int("rate", params.SampleRate).
		Int("chunk", w.cfg.ChunkSize).
		Int("latency", params.Latency).
		Msg("Capture started")

	err = w.loop(stream)
	if rep, ok := stream.(audio.OverrunReporter); ok {
		if n := rep.Overruns(); n > 0 {
			w.log.Warn().Uint64("overruns", n).Msg("Backend dropped periods")
		}
	}
	if err != nil {
		w.fail(err)
		return
	}
	w.log.Info().Msg("Capture stopped")
}

func (w *worker) loop(stream audio.Stream) error {
	for {
		if w.stop.Load() {
			stream.Quit()
			return nil
		}

		blk, err := stream.Dequeue(w.ctx)
		if err != nil {
			if errors.Is(err, audio.ErrQuit) || w.ctx.Err() != nil {
				stream.Quit()
				return nil
			}
			return fmt.Errorf("dequeue: %w", err)
		}

		if w.stop.Load() {
			stream.Queue(blk)
			stream.Quit()
			return nil
		}

		w.consume(blk)
		stream.Queue(blk)
	}
}

// consume normalizes blk into chunk sized hand-offs. A block that starts on a
// chunk boundary and covers a whole chunk is normalized straight into the
// write slot; anything else goes through the assembler.
func (w *worker) consume(blk *audio.Block) {
	size := len(w.chunk)
	for off := 0; off < blk.Len(); {
		if w.fill == 0 && blk.Len()-off >= size {
			from := off
			w.pair.Publish(func(wb []float32) {
				normalize(wb, blk, from)
			})
			off += size
			continue
		}

		n := min(size-w.fill, blk.Len()-off)
		normalize(w.chunk[w.fill:w.fill+n], blk, off)
		w.fill += n
		off += n

		if w.fill == size {
			w.pair.Publish(func(wb []float32) {
				copy(wb, w.chunk)
			})
			w.fill = 0
		}
	}
}

func (w *worker) fail(err error) {
	w.err = err
	w.log.Error().Err(err).Msg("Capture worker exited")
}

// normalize fills dst from blk starting at frame off. 16-bit input is scaled by
// full scale into [-1, 1); float input is copied.
func normalize(dst []float32, blk *audio.Block, off int) {
	switch blk.Format {
	case audio.FormatS16LE:
		src := blk.Int16[off:]
		for i := range dst {
			dst[i] = float32(src[i]) / fullScale16
		}
	default:
		copy(dst, blk.Float32[off:])
	}
}
