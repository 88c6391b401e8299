package audio

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// SynthOptions configures the synthetic backend.
type SynthOptions struct {
	Frequency float64 // Hz of the generated sine
	Amplitude float64 // peak amplitude in [0, 1]
	Format    Format  // delivered sample format
}

// DefaultSynthOptions returns a 440 Hz sine at half scale delivered as float32.
func DefaultSynthOptions() SynthOptions {
	return SynthOptions{
		Frequency: 440,
		Amplitude: 0.5,
		Format:    FormatF32LE,
	}
}

// synthBackend generates a sine wave paced in real time. It stands in for a
// device in tests and on machines without audio hardware.
type synthBackend struct {
	opts SynthOptions

	mu          sync.Mutex
	initialized bool
}

// NewSynth creates the synthetic backend.
func NewSynth(opts SynthOptions) Backend {
	if opts.Amplitude < 0 {
		opts.Amplitude = 0
	} else if opts.Amplitude > 1 {
		opts.Amplitude = 1
	}
	return &synthBackend{opts: opts}
}

func (s *synthBackend) Name() string { return "synth" }

func (s *synthBackend) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = true
	return nil
}

func (s *synthBackend) Terminate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = false
	return nil
}

func (s *synthBackend) Devices() ([]Device, error) {
	return []Device{{ID: 0, Name: "Synthetic sine", Default: true}}, nil
}

func (s *synthBackend) Connect(params StreamParams) (Stream, error) {
	s.mu.Lock()
	initialized := s.initialized
	s.mu.Unlock()
	if !initialized {
		return nil, ErrNotInitialized
	}
	if params.Direction != DirectionInput {
		return nil, fmt.Errorf("synth: %s streams are not supported", params.Direction)
	}
	if params.Node != AnyNode && params.Node != 0 {
		return nil, fmt.Errorf("%w: node %s", ErrDeviceNotFound, params.Node)
	}
	if params.SampleRate <= 0 {
		return nil, fmt.Errorf("synth: invalid sample rate %d", params.SampleRate)
	}

	frames := params.Latency
	if frames <= 0 {
		frames = 512
	}
	period := time.Duration(frames) * time.Second / time.Duration(params.SampleRate)

	st := &synthStream{
		opts:       s.opts,
		sampleRate: params.SampleRate,
		ticker:     time.NewTicker(period),
		quit:       make(chan struct{}),
		block:      Block{Format: s.opts.Format},
	}
	switch s.opts.Format {
	case FormatS16LE:
		st.block.Int16 = make([]int16, frames)
	default:
		st.block.Float32 = make([]float32, frames)
	}
	return st, nil
}

type synthStream struct {
	opts       SynthOptions
	sampleRate int
	ticker     *time.Ticker
	block      Block
	phase      float64

	quit     chan struct{}
	quitOnce sync.Once
}

func (s *synthStream) Dequeue(ctx context.Context) (*Block, error) {
	select {
	case <-s.quit:
		return nil, ErrQuit
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ticker.C:
	}

	step := 2 * math.Pi * s.opts.Frequency / float64(s.sampleRate)
	for i := 0; i < s.block.Len(); i++ {
		v := s.opts.Amplitude * math.Sin(s.phase)
		s.phase += step
		if s.block.Format == FormatS16LE {
			s.block.Int16[i] = int16(v * 32767)
		} else {
			s.block.Float32[i] = float32(v)
		}
	}
	s.phase = math.Mod(s.phase, 2*math.Pi)
	return &s.block, nil
}

func (s *synthStream) Queue(*Block) {}

func (s *synthStream) Quit() {
	s.quitOnce.Do(func() {
		close(s.quit)
		s.ticker.Stop()
	})
}

func (s *synthStream) Close() error {
	s.Quit()
	return nil
}
