// Package record writes the chunks published by a capture source to a 16-bit mono WAV file.
package record

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/rs/zerolog"
)

// ErrFormatChanged is returned when the source sample rate changes mid-recording.
var ErrFormatChanged = errors.New("sample rate changed during recording")

const (
	bitDepth        = 16
	pcmFormat       = 1
	defaultInterval = 5 * time.Millisecond
)

// Source is the read side of a capture pipeline. capture.Collector satisfies it.
type Source interface {
	ReadChunkSeq(out []float32, count int) (int, uint64)
	BufferLen() int
	SampleRate() int
}

// Stats describes a finished recording.
type Stats struct {
	SampleRate int
	Frames     int
	Chunks     int
	// Dropped counts chunks published by the source that were never read.
	Dropped int
}

// Duration returns the recorded length.
func (s Stats) Duration() time.Duration {
	if s.SampleRate == 0 {
		return 0
	}
	return time.Duration(s.Frames) * time.Second / time.Duration(s.SampleRate)
}

type Recorder struct {
	src      Source
	log      zerolog.Logger
	interval time.Duration
}

type Option func(*Recorder)

func WithLogger(log zerolog.Logger) Option {
	return func(r *Recorder) {
		r.log = log
	}
}

// WithPollInterval sets how often the source is checked for a new chunk.
func WithPollInterval(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.interval = d
		}
	}
}

func New(src Source, opts ...Option) *Recorder {
	r := &Recorder{
		src:      src,
		log:      zerolog.Nop(),
		interval: defaultInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With().Str("component", "record").Logger()
	return r
}

// RecordFile creates path and records into it. See Record.
func (r *Recorder) RecordFile(ctx context.Context, path string, limit time.Duration) (Stats, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return Stats{}, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return Stats{}, fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	stats, err := r.Record(ctx, f, limit)
	if err != nil {
		return stats, err
	}
	r.log.Info().
		Str("path", path).
		Int("frames", stats.Frames).
		Int("dropped", stats.Dropped).
		Dur("duration", stats.Duration()).
		Msg("Recording saved")
	return stats, nil
}

// Record writes every new chunk the source publishes until limit worth of
// frames is written or ctx ends. A zero limit records until ctx ends. The
// chunk already published when Record starts is skipped. The WAV header is
// finalized on every return path.
func (r *Recorder) Record(ctx context.Context, w io.WriteSeeker, limit time.Duration) (stats Stats, err error) {
	rate := r.src.SampleRate()
	stats.SampleRate = rate

	buf := &audio.IntBuffer{
		Format:         &audio.Format{SampleRate: rate, NumChannels: 1},
		SourceBitDepth: bitDepth,
	}

	enc := wav.NewEncoder(w, rate, bitDepth, 1, pcmFormat)
	defer func() {
		// The encoder only emits its header on the first Write.
		if stats.Chunks == 0 {
			buf.Data = buf.Data[:0]
			if werr := enc.Write(buf); werr != nil && err == nil {
				err = fmt.Errorf("write wav: %w", werr)
			}
		}
		if cerr := enc.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("finalize wav: %w", cerr)
		}
	}()

	maxFrames := 0
	if limit > 0 {
		maxFrames = int(limit * time.Duration(rate) / time.Second)
	}

	chunk := make([]float32, r.src.BufferLen())
	_, last := r.src.ReadChunkSeq(chunk, len(chunk))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Debug().Int("rate", rate).Dur("limit", limit).Msg("Recording started")
	for maxFrames == 0 || stats.Frames < maxFrames {
		select {
		case <-ctx.Done():
			return stats, nil
		case <-ticker.C:
		}

		if r.src.SampleRate() != rate {
			return stats, fmt.Errorf("%w: %d -> %d Hz", ErrFormatChanged, rate, r.src.SampleRate())
		}

		if size := r.src.BufferLen(); size != len(chunk) {
			r.log.Debug().Int("from", len(chunk)).Int("to", size).Msg("Chunk size changed")
			chunk = make([]float32, size)
		}

		n, gen := r.src.ReadChunkSeq(chunk, len(chunk))
		if gen == last {
			continue
		}
		if gen > last+1 {
			stats.Dropped += int(gen - last - 1)
		}
		last = gen

		if maxFrames > 0 {
			n = min(n, maxFrames-stats.Frames)
		}
		buf.Data = toPCM16(buf.Data[:0], chunk[:n])
		if err := enc.Write(buf); err != nil {
			return stats, fmt.Errorf("write wav: %w", err)
		}
		stats.Frames += n
		stats.Chunks++
	}
	return stats, nil
}

// toPCM16 appends samples scaled to 16-bit integers, clamping to [-1, 1].
func toPCM16(dst []int, samples []float32) []int {
	for _, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		dst = append(dst, int(s*32767))
	}
	return dst
}
