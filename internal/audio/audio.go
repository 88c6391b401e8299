package audio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	// ErrQuit is returned by Stream.Dequeue once the stream loop was asked to quit.
	ErrQuit = errors.New("audio stream quit")
	// ErrUnsupportedFormat is returned by Connect when the backend cannot deliver the requested format.
	ErrUnsupportedFormat = errors.New("unsupported sample format")
	// ErrUnknownBackend is returned by NewBackend for names it does not know.
	ErrUnknownBackend = errors.New("unknown audio backend")
	// ErrNotInitialized is returned when Connect or Devices run before Init.
	ErrNotInitialized = errors.New("audio backend not initialized")
	// ErrDeviceNotFound is returned when a node id does not name a capture device.
	ErrDeviceNotFound = errors.New("audio device not found")
)

// Backend is the capability set the capture worker consumes from an audio server or driver.
type Backend interface {
	// Name identifies the backend ("portaudio", "miniaudio", "synth").
	Name() string
	// Init starts the backend. Calling it more than once does nothing.
	Init() error
	// Connect opens a capture stream.
	Connect(params StreamParams) (Stream, error)
	// Devices lists the capture devices the backend can connect to.
	Devices() ([]Device, error)
	// Terminate releases the backend. Init may be called again afterwards.
	Terminate() error
}

// Stream delivers blocks of captured samples.
type Stream interface {
	// Dequeue blocks until the next filled block is delivered, the stream quits or ctx ends.
	Dequeue(ctx context.Context) (*Block, error)
	// Queue hands a block obtained from Dequeue back to the stream for reuse.
	Queue(b *Block)
	// Quit stops the backend loop. Pending and future Dequeue calls return ErrQuit.
	Quit()
	Close() error
}

// OverrunReporter is implemented by streams that drop device periods when the
// consumer falls behind.
type OverrunReporter interface {
	Overruns() uint64
}

// Direction of a stream relative to the device.
type Direction int

const (
	DirectionInput Direction = iota
	DirectionOutput
)

func (d Direction) String() string {
	if d == DirectionOutput {
		return "output"
	}
	return "input"
}

// Format is the sample representation of a delivered block.
type Format int

const (
	FormatF32LE Format = iota
	FormatS16LE
)

func (f Format) String() string {
	switch f {
	case FormatF32LE:
		return "f32le"
	case FormatS16LE:
		return "s16le"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// ParseFormat accepts the names produced by Format.String.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "f32le", "f32":
		return FormatF32LE, nil
	case "s16le", "s16":
		return FormatS16LE, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

// NodeID is an opaque device selector. AnyNode lets the backend pick its default input.
type NodeID uint32

const AnyNode NodeID = math.MaxUint32

func (n NodeID) String() string {
	if n == AnyNode {
		return "any"
	}
	return strconv.FormatUint(uint64(n), 10)
}

// ParseNodeID accepts "any", "" or a decimal id.
func ParseNodeID(s string) (NodeID, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "any") {
		return AnyNode, nil
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid node id %q: %w", s, err)
	}
	return NodeID(v), nil
}

func (n NodeID) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

func (n *NodeID) UnmarshalText(b []byte) error {
	v, err := ParseNodeID(string(b))
	if err != nil {
		return err
	}
	*n = v
	return nil
}

// StreamParams describes the stream requested by Connect.
type StreamParams struct {
	Node       NodeID
	Direction  Direction
	Format     Format
	Channels   int
	SampleRate int
	// Latency is the requested buffer period in frames.
	Latency int
}

// Block is one delivery of samples. Exactly one of Float32 and Int16 is used, per Format.
type Block struct {
	Format  Format
	Float32 []float32
	Int16   []int16
}

// Len returns the number of frames held in the block.
func (b *Block) Len() int {
	if b.Format == FormatS16LE {
		return len(b.Int16)
	}
	return len(b.Float32)
}

// Device represents an audio input device
type Device struct {
	ID      NodeID
	Name    string
	Default bool
}
