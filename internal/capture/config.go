package capture

import (
	"math/bits"

	"github.com/petems/vela-audio/internal/audio"
)

const (
	DefaultSampleRate = 44100
	DefaultChunkSize  = 512

	MinSampleRate = 8000
	MinChunkSize  = 16

	// latencyBaseRate is the reference tick the requested latency is scaled against.
	latencyBaseRate = 48000

	// fullScale16 maps signed 16-bit PCM onto [-1, 1).
	fullScale16 = 32768
)

// Config holds the tunable capture parameters.
type Config struct {
	SampleRate int          // Hz
	ChunkSize  int          // frames per hand-off
	Node       audio.NodeID // device selector
}

// DefaultConfig returns 44.1 kHz, 512 frame chunks on the backend's default node.
func DefaultConfig() Config {
	return Config{
		SampleRate: DefaultSampleRate,
		ChunkSize:  DefaultChunkSize,
		Node:       audio.AnyNode,
	}
}

// normalize clamps the config to its minimums.
func (c Config) normalize() Config {
	c.SampleRate = max(c.SampleRate, MinSampleRate)
	c.ChunkSize = max(c.ChunkSize, MinChunkSize)
	return c
}

// Latency is the buffer period, in frames, requested from the backend.
func (c Config) Latency() int {
	return NextPowerOfTwo(c.ChunkSize * c.SampleRate / latencyBaseRate)
}

// NextPowerOfTwo returns the smallest power of two >= n, and 1 for n <= 1.
func NextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}
