package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"
)

// blockPoolSize is the number of blocks cycling between the device callback and the consumer.
const blockPoolSize = 4

type miniaudioBackend struct {
	log zerolog.Logger

	mu  sync.Mutex
	ctx *malgo.AllocatedContext
}

// NewMiniaudio creates a capture backend on top of miniaudio (malgo).
func NewMiniaudio(log zerolog.Logger) Backend {
	return &miniaudioBackend{log: log.With().Str("backend", "miniaudio").Logger()}
}

func (m *miniaudioBackend) Name() string { return "miniaudio" }

func (m *miniaudioBackend) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx != nil {
		return nil
	}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		m.log.Debug().Msg(msg)
	})
	if err != nil {
		return fmt.Errorf("init audio context: %w", err)
	}
	m.ctx = ctx
	return nil
}

func (m *miniaudioBackend) Terminate() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx == nil {
		return nil
	}
	err := m.ctx.Uninit()
	m.ctx.Free()
	m.ctx = nil
	if err != nil {
		return fmt.Errorf("uninit context: %w", err)
	}
	return nil
}

func (m *miniaudioBackend) Devices() ([]Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx == nil {
		return nil, ErrNotInitialized
	}
	infos, err := m.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}

	result := make([]Device, 0, len(infos))
	for i, info := range infos {
		result = append(result, Device{
			ID:      NodeID(i),
			Name:    info.Name(),
			Default: info.IsDefault != 0,
		})
	}
	return result, nil
}

func (m *miniaudioBackend) Connect(params StreamParams) (Stream, error) {
	if params.Direction != DirectionInput {
		return nil, fmt.Errorf("miniaudio: %s streams are not supported", params.Direction)
	}

	var format malgo.FormatType
	switch params.Format {
	case FormatF32LE:
		format = malgo.FormatF32
	case FormatS16LE:
		format = malgo.FormatS16
	default:
		return nil, fmt.Errorf("miniaudio: %w: %s", ErrUnsupportedFormat, params.Format)
	}

	m.mu.Lock()
	if m.ctx == nil {
		m.mu.Unlock()
		return nil, ErrNotInitialized
	}
	audioCtx := m.ctx.Context

	var deviceID unsafe.Pointer
	if params.Node != AnyNode {
		infos, err := m.ctx.Devices(malgo.Capture)
		if err != nil {
			m.mu.Unlock()
			return nil, fmt.Errorf("enumerate devices: %w", err)
		}
		if int(params.Node) >= len(infos) {
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: node %s (have %d devices)", ErrDeviceNotFound, params.Node, len(infos))
		}
		deviceID = infos[params.Node].ID.Pointer()
	}
	m.mu.Unlock()

	channels := params.Channels
	if channels <= 0 {
		channels = 1
	}

	s := &miniaudioStream{
		format:   params.Format,
		channels: channels,
		free:     make(chan *Block, blockPoolSize),
		ready:    make(chan *Block, blockPoolSize),
		quit:     make(chan struct{}),
	}
	for i := 0; i < blockPoolSize; i++ {
		s.free <- &Block{Format: params.Format}
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.SampleRate = uint32(params.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(params.Latency)
	deviceConfig.Capture.Format = format
	deviceConfig.Capture.Channels = uint32(channels)
	if deviceID != nil {
		deviceConfig.Capture.DeviceID = deviceID
	}

	device, err := malgo.InitDevice(audioCtx, deviceConfig, malgo.DeviceCallbacks{
		Data: s.onData,
	})
	if err != nil {
		return nil, fmt.Errorf("init device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("start device: %w", err)
	}
	s.device = device
	return s, nil
}

// miniaudioStream moves blocks from the device callback to the consumer through
// two channels: free blocks wait in free, filled blocks in ready.
type miniaudioStream struct {
	device   *malgo.Device
	format   Format
	channels int

	free  chan *Block
	ready chan *Block

	quit     chan struct{}
	quitOnce sync.Once
	overruns atomic.Uint64
}

// onData runs on the miniaudio thread and must not block.
func (s *miniaudioStream) onData(_, input []byte, frameCount uint32) {
	if len(input) == 0 {
		return
	}

	var b *Block
	select {
	case b = <-s.free:
	default:
		s.overruns.Add(1)
		return
	}

	frames := int(frameCount)
	switch s.format {
	case FormatS16LE:
		b.Int16 = decodeS16(b.Int16[:0], input, frames, s.channels)
	default:
		b.Float32 = decodeF32(b.Float32[:0], input, frames, s.channels)
	}

	select {
	case s.ready <- b:
	default:
		s.overruns.Add(1)
	}
}

func (s *miniaudioStream) Dequeue(ctx context.Context) (*Block, error) {
	select {
	case <-s.quit:
		return nil, ErrQuit
	default:
	}

	select {
	case b := <-s.ready:
		return b, nil
	case <-s.quit:
		return nil, ErrQuit
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *miniaudioStream) Queue(b *Block) {
	if b == nil {
		return
	}
	select {
	case s.free <- b:
	default:
	}
}

func (s *miniaudioStream) Quit() {
	s.quitOnce.Do(func() {
		close(s.quit)
		s.device.Stop()
	})
}

func (s *miniaudioStream) Close() error {
	s.Quit()
	s.device.Uninit()
	return nil
}

// Overruns reports how many device periods were dropped because the consumer fell behind.
func (s *miniaudioStream) Overruns() uint64 {
	return s.overruns.Load()
}

// decodeF32 converts interleaved little-endian float32 frames into mono samples.
func decodeF32(dst []float32, data []byte, frames, channels int) []float32 {
	stride := channels * 4
	if n := len(data) / stride; n < frames {
		frames = n
	}
	inv := 1 / float32(channels)
	for f := 0; f < frames; f++ {
		var sum float32
		for c := 0; c < channels; c++ {
			off := f*stride + c*4
			sum += math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
		}
		dst = append(dst, sum*inv)
	}
	return dst
}

// decodeS16 converts interleaved little-endian int16 frames into mono samples.
func decodeS16(dst []int16, data []byte, frames, channels int) []int16 {
	stride := channels * 2
	if n := len(data) / stride; n < frames {
		frames = n
	}
	for f := 0; f < frames; f++ {
		var sum int32
		for c := 0; c < channels; c++ {
			off := f*stride + c*2
			sum += int32(int16(binary.LittleEndian.Uint16(data[off:])))
		}
		dst = append(dst, int16(sum/int32(channels)))
	}
	return dst
}
