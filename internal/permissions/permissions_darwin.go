//go:build darwin

package permissions

/*
#cgo LDFLAGS: -framework AVFoundation
#import <AVFoundation/AVFoundation.h>

int checkMicrophonePermission() {
    AVAuthorizationStatus status = [AVCaptureDevice authorizationStatusForMediaType:AVMediaTypeAudio];
    return (int)status;
}

void requestMicrophonePermission() {
    [AVCaptureDevice requestAccessForMediaType:AVMediaTypeAudio completionHandler:^(BOOL granted) {}];
}
*/
import "C"

// Microphone returns the current microphone permission status
func Microphone() Status {
	return Status(C.checkMicrophonePermission())
}

// EnsureMicrophone returns nil when capture is allowed. Otherwise it triggers
// the system permission dialog (shown once per app) and returns ErrMicrophoneDenied.
func EnsureMicrophone() error {
	status := Microphone()
	if status == NotDetermined {
		C.requestMicrophonePermission()
	}
	return check(status)
}
