// Package permissions checks that the process may open a capture device.
package permissions

import (
	"errors"
	"fmt"
)

// ErrMicrophoneDenied is returned when the OS has not granted microphone access.
var ErrMicrophoneDenied = errors.New("microphone permission not granted")

// Status mirrors the platform authorization state for audio capture.
type Status int

const (
	NotDetermined Status = iota
	Restricted
	Denied
	Authorized
)

func (s Status) String() string {
	switch s {
	case NotDetermined:
		return "not determined"
	case Restricted:
		return "restricted"
	case Denied:
		return "denied"
	case Authorized:
		return "authorized"
	default:
		return "unknown"
	}
}

// check maps a status onto the error EnsureMicrophone reports.
func check(s Status) error {
	if s == Authorized {
		return nil
	}
	return fmt.Errorf("%w: status %s", ErrMicrophoneDenied, s)
}
