//go:build !portaudio

package capture

import (
	"context"
	"errors"
	"time"
)

// ErrNotSupported is returned when the binary was built without the portaudio tag.
var ErrNotSupported = errors.New("portaudio capture not compiled in (build with -tags portaudio)")

type portAudioDevice struct{}

// NewPortAudioDevice returns a device that always fails so the fallback
// recorder takes over.
func NewPortAudioDevice(Format) Device {
	return portAudioDevice{}
}

func (portAudioDevice) Name() string { return "portaudio" }

func (portAudioDevice) Open(context.Context) (Stream, error) {
	return nil, ErrNotSupported
}

func (portAudioDevice) Record(context.Context, time.Duration) ([]byte, error) {
	return nil, ErrNotSupported
}
