//go:build !darwin

package permissions

// Microphone reports Authorized on platforms without a capture permission model.
func Microphone() Status {
	return Authorized
}

// EnsureMicrophone is a no-op on non-macOS platforms.
func EnsureMicrophone() error {
	return check(Microphone())
}
