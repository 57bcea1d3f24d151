package relay

import (
	"errors"
	"fmt"
	"io/fs"
)

// ConfigurationError reports a missing or unusable recognizer backend. It is
// raised before any audio device is touched.
type ConfigurationError struct {
	Reason string
	Path   string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := e.Reason
	if e.Path != "" {
		msg += " at " + e.Path
	}
	if e.Err != nil && !errors.Is(e.Err, fs.ErrNotExist) {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// CaptureError reports that no device, fallback included, produced audio.
type CaptureError struct {
	Device string
	Err    error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture failed on %s: %v", e.Device, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// RecognitionError reports a backend failure for one utterance.
type RecognitionError struct {
	Recognizer string
	Err        error
}

func (e *RecognitionError) Error() string {
	return fmt.Sprintf("%s recognition failed: %v", e.Recognizer, e.Err)
}

func (e *RecognitionError) Unwrap() error { return e.Err }
