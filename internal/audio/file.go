package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-audio/aiff"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
)

// FileOptions configures the file backend.
type FileOptions struct {
	Path string // .wav, .aif/.aiff, .mp3 or .ogg
	Loop bool   // restart at the end instead of quitting
}

// fileBackend replays a decoded audio file as if it were a capture device,
// paced in real time. The stream quits at the end of the file unless Loop is set.
type fileBackend struct {
	opts FileOptions

	mu   sync.Mutex
	clip []float32 // mono, nil until Init
	rate int
}

// NewFile creates the file backend. The file is decoded by Init.
func NewFile(opts FileOptions) Backend {
	return &fileBackend{opts: opts}
}

func (f *fileBackend) Name() string { return "file" }

func (f *fileBackend) Init() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.clip != nil {
		return nil
	}
	clip, rate, err := DecodeFile(f.opts.Path)
	if err != nil {
		return err
	}
	f.clip, f.rate = clip, rate
	return nil
}

func (f *fileBackend) Terminate() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clip = nil
	return nil
}

func (f *fileBackend) Devices() ([]Device, error) {
	return []Device{{ID: 0, Name: filepath.Base(f.opts.Path), Default: true}}, nil
}

func (f *fileBackend) Connect(params StreamParams) (Stream, error) {
	f.mu.Lock()
	clip, rate := f.clip, f.rate
	f.mu.Unlock()
	if clip == nil {
		return nil, ErrNotInitialized
	}
	if params.Direction != DirectionInput {
		return nil, fmt.Errorf("file: %s streams are not supported", params.Direction)
	}
	if params.Node != AnyNode && params.Node != 0 {
		return nil, fmt.Errorf("%w: node %s", ErrDeviceNotFound, params.Node)
	}
	if params.SampleRate <= 0 {
		return nil, fmt.Errorf("file: invalid sample rate %d", params.SampleRate)
	}

	frames := params.Latency
	if frames <= 0 {
		frames = 512
	}
	period := time.Duration(frames) * time.Second / time.Duration(params.SampleRate)

	return &fileStream{
		samples: resampleLinear(clip, rate, params.SampleRate),
		loop:    f.opts.Loop,
		ticker:  time.NewTicker(period),
		quit:    make(chan struct{}),
		block:   Block{Format: FormatF32LE, Float32: make([]float32, frames)},
	}, nil
}

type fileStream struct {
	samples []float32
	pos     int
	loop    bool
	ticker  *time.Ticker
	block   Block

	quit     chan struct{}
	quitOnce sync.Once
}

func (s *fileStream) Dequeue(ctx context.Context) (*Block, error) {
	select {
	case <-s.quit:
		return nil, ErrQuit
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ticker.C:
	}

	if s.pos >= len(s.samples) {
		if !s.loop || len(s.samples) == 0 {
			s.Quit()
			return nil, ErrQuit
		}
		s.pos = 0
	}

	out := s.block.Float32
	for i := range out {
		if s.pos >= len(s.samples) {
			if !s.loop {
				clear(out[i:])
				break
			}
			s.pos = 0
		}
		out[i] = s.samples[s.pos]
		s.pos++
	}
	return &s.block, nil
}

func (s *fileStream) Queue(*Block) {}

func (s *fileStream) Quit() {
	s.quitOnce.Do(func() {
		close(s.quit)
		s.ticker.Stop()
	})
}

func (s *fileStream) Close() error {
	s.Quit()
	return nil
}

// DecodeFile decodes path into mono float32 samples in [-1, 1], choosing the
// decoder by extension.
func DecodeFile(path string) ([]float32, int, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("file: %w", err)
	}
	defer fh.Close()

	var (
		clip []float32
		rate int
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".wav", ".wave":
		dec := wav.NewDecoder(fh)
		if !dec.IsValidFile() {
			return nil, 0, fmt.Errorf("file: %s: %w", path, ErrUnsupportedFormat)
		}
		clip, rate, err = decodePCM(dec, int(dec.BitDepth))
	case ".aif", ".aiff":
		dec := aiff.NewDecoder(fh)
		if !dec.IsValidFile() {
			return nil, 0, fmt.Errorf("file: %s: %w", path, ErrUnsupportedFormat)
		}
		dec.ReadInfo()
		clip, rate, err = decodePCM(dec, int(dec.BitDepth))
	case ".mp3":
		clip, rate, err = decodeMP3(fh)
	case ".ogg", ".oga":
		clip, rate, err = decodeVorbis(fh)
	default:
		return nil, 0, fmt.Errorf("file: %w: extension %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("file: decode %s: %w", path, err)
	}
	if rate <= 0 {
		return nil, 0, fmt.Errorf("file: %s: invalid sample rate %d", path, rate)
	}
	return clip, rate, nil
}

// pcmDecoder is the part of the go-audio wav and aiff decoders used here.
type pcmDecoder interface {
	Format() *goaudio.Format
	PCMBuffer(buf *goaudio.IntBuffer) (int, error)
}

func decodePCM(dec pcmDecoder, bitDepth int) ([]float32, int, error) {
	format := dec.Format()
	if format == nil || format.NumChannels <= 0 {
		return nil, 0, ErrUnsupportedFormat
	}
	if bitDepth <= 0 || bitDepth > 32 {
		return nil, 0, fmt.Errorf("%w: %d bit", ErrUnsupportedFormat, bitDepth)
	}
	scale := float32(int64(1) << (bitDepth - 1))
	channels := format.NumChannels

	buf := &goaudio.IntBuffer{Data: make([]int, 4096*channels), Format: format}
	var clip []float32
	for {
		n, err := dec.PCMBuffer(buf)
		if n == 0 || err != nil {
			if err != nil && !errors.Is(err, io.EOF) {
				return nil, 0, err
			}
			break
		}
		for i := 0; i+channels <= n; i += channels {
			var sum float32
			for c := 0; c < channels; c++ {
				sum += float32(buf.Data[i+c]) / scale
			}
			clip = append(clip, sum/float32(channels))
		}
	}
	return clip, format.SampleRate, nil
}

// decodeMP3 reads go-mp3 output, which is always 16-bit little endian stereo.
func decodeMP3(r io.Reader) ([]float32, int, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, 0, err
	}
	data, err := io.ReadAll(dec)
	if err != nil {
		return nil, 0, err
	}

	clip := make([]float32, len(data)/4)
	for i := range clip {
		l := int16(binary.LittleEndian.Uint16(data[4*i:]))
		r := int16(binary.LittleEndian.Uint16(data[4*i+2:]))
		clip[i] = (float32(l) + float32(r)) / 2 / 32768
	}
	return clip, dec.SampleRate(), nil
}

func decodeVorbis(r io.Reader) ([]float32, int, error) {
	dec, err := oggvorbis.NewReader(r)
	if err != nil {
		return nil, 0, err
	}
	channels := dec.Channels()
	if channels <= 0 {
		return nil, 0, ErrUnsupportedFormat
	}

	buf := make([]float32, 4096*channels)
	var clip []float32
	for {
		n, err := dec.Read(buf)
		// n counts interleaved values.
		for i := 0; i+channels <= n; i += channels {
			var sum float32
			for c := 0; c < channels; c++ {
				sum += buf[i+c]
			}
			clip = append(clip, sum/float32(channels))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, err
		}
	}
	return clip, dec.SampleRate(), nil
}

// resampleLinear converts in from rate `from` to rate `to` by linear interpolation.
func resampleLinear(in []float32, from, to int) []float32 {
	if from == to || len(in) == 0 {
		return in
	}
	n := int(int64(len(in)) * int64(to) / int64(from))
	out := make([]float32, n)
	step := float64(from) / float64(to)
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j+1 >= len(in) {
			out[i] = in[len(in)-1]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = in[j] + (in[j+1]-in[j])*frac
	}
	return out
}
