package audio

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Backend names accepted by NewBackend.
const (
	BackendPortAudio = "portaudio"
	BackendMiniaudio = "miniaudio"
	BackendSynth     = "synth"
	BackendFile      = "file"
)

// Backends lists the names NewBackend understands, default first.
var Backends = []string{BackendPortAudio, BackendMiniaudio, BackendSynth, BackendFile}

// Options carries backend specific settings for NewBackend.
type Options struct {
	Synth  SynthOptions
	File   FileOptions
	Logger zerolog.Logger
}

// NewBackend returns the backend registered under name. Init is left to the caller.
func NewBackend(name string, opts Options) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", BackendPortAudio:
		return NewPortAudio(), nil
	case BackendMiniaudio, "malgo":
		return NewMiniaudio(opts.Logger), nil
	case BackendSynth:
		return NewSynth(opts.Synth), nil
	case BackendFile:
		return NewFile(opts.File), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
}
