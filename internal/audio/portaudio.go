package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"
)

type portAudioBackend struct {
	mu          sync.Mutex
	initialized bool
}

// NewPortAudio creates a PortAudio-based capture backend
func NewPortAudio() Backend {
	return &portAudioBackend{}
}

func (p *portAudioBackend) Name() string { return "portaudio" }

func (p *portAudioBackend) Init() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialized {
		return nil
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	p.initialized = true
	return nil
}

func (p *portAudioBackend) Terminate() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return nil
	}
	p.initialized = false
	return portaudio.Terminate()
}

func (p *portAudioBackend) Connect(params StreamParams) (Stream, error) {
	if !p.ready() {
		return nil, ErrNotInitialized
	}
	if params.Direction != DirectionInput {
		return nil, fmt.Errorf("portaudio: %s streams are not supported", params.Direction)
	}
	if params.Format != FormatF32LE {
		return nil, fmt.Errorf("portaudio: %w: %s", ErrUnsupportedFormat, params.Format)
	}

	device, err := p.findDevice(params.Node)
	if err != nil {
		return nil, err
	}

	channels := params.Channels
	if channels <= 0 {
		channels = 1
	}
	size := params.Latency
	if size <= 0 {
		size = 512
	}

	latency := device.DefaultLowInputLatency
	if params.Latency > 0 && params.SampleRate > 0 {
		latency = time.Duration(params.Latency) * time.Second / time.Duration(params.SampleRate)
	}

	s := &portAudioStream{
		block: Block{Format: FormatF32LE, Float32: make([]float32, size*channels)},
	}

	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: channels,
			Latency:  latency,
		},
		SampleRate:      float64(params.SampleRate),
		FramesPerBuffer: size,
	}, s.block.Float32)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("failed to start audio stream: %w", err)
	}
	s.stream = stream
	s.channels = channels
	return s, nil
}

func (p *portAudioBackend) Devices() ([]Device, error) {
	if !p.ready() {
		return nil, ErrNotInitialized
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	result := make([]Device, 0, len(devices))
	defaultDevice, _ := portaudio.DefaultInputDevice()

	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			result = append(result, Device{
				ID:      NodeID(d.Index),
				Name:    d.Name,
				Default: d == defaultDevice,
			})
		}
	}

	return result, nil
}

func (p *portAudioBackend) ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initialized
}

func (p *portAudioBackend) findDevice(node NodeID) (*portaudio.DeviceInfo, error) {
	if node == AnyNode {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("failed to get default input device: %w", err)
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	for _, d := range devices {
		if NodeID(d.Index) == node && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: node %s", ErrDeviceNotFound, node)
}

// portAudioStream wraps a blocking PortAudio input stream. Read fills the one
// block the stream owns, so Queue has nothing to recycle.
type portAudioStream struct {
	stream   *portaudio.Stream
	block    Block
	channels int
	quit     atomic.Bool
	stopOnce sync.Once
}

func (s *portAudioStream) Dequeue(ctx context.Context) (*Block, error) {
	if s.quit.Load() {
		return nil, ErrQuit
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Read blocks for at most one buffer period.
	if err := s.stream.Read(); err != nil && !errors.Is(err, portaudio.InputOverflowed) {
		if s.quit.Load() {
			return nil, ErrQuit
		}
		return nil, fmt.Errorf("portaudio read: %w", err)
	}
	if s.channels > 1 {
		return &Block{Format: FormatF32LE, Float32: downmix(s.block.Float32, s.channels)}, nil
	}
	return &s.block, nil
}

func (s *portAudioStream) Queue(*Block) {}

func (s *portAudioStream) Quit() {
	s.quit.Store(true)
	s.stopOnce.Do(func() {
		s.stream.Stop()
	})
}

func (s *portAudioStream) Close() error {
	s.Quit()
	return s.stream.Close()
}

// downmix averages interleaved frames into a new mono slice.
func downmix(in []float32, channels int) []float32 {
	frames := len(in) / channels
	out := make([]float32, frames)
	inv := 1 / float32(channels)
	for f := 0; f < frames; f++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += in[f*channels+c]
		}
		out[f] = sum * inv
	}
	return out
}
