//go:build portaudio

package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/gordonklaus/portaudio"
)

type portAudioDevice struct {
	format Format
}

// NewPortAudioDevice opens the default input device through PortAudio.
func NewPortAudioDevice(format Format) Device {
	return &portAudioDevice{format: format}
}

func (d *portAudioDevice) Name() string { return "portaudio" }

func (d *portAudioDevice) Open(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}

	qs := newQueueStream(d.format)
	callback := func(in []int16, _ portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
		if flags&portaudio.InputOverflow != 0 {
			qs.fail(ErrInputOverflow)
			return
		}
		qs.deliver(int16ToPCM(in))
	}

	stream, err := portaudio.OpenDefaultStream(d.format.Channels, 0, float64(d.format.SampleRate), d.format.FramesPerBuffer, callback)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("open input stream: %w", err)
	}
	qs.closer = func() error {
		var errs []error
		if err := stream.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop input stream: %w", err))
		}
		if err := stream.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close input stream: %w", err))
		}
		if err := portaudio.Terminate(); err != nil {
			errs = append(errs, fmt.Errorf("terminate portaudio: %w", err))
		}
		return errors.Join(errs...)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("start input stream: %w", err)
	}
	return qs, nil
}

func (d *portAudioDevice) Record(ctx context.Context, dur time.Duration) ([]byte, error) {
	stream, err := d.Open(ctx)
	if err != nil {
		return nil, err
	}
	pcm, err := collect(ctx, stream, d.format.BytesFor(dur))
	if closeErr := stream.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, err
	}
	return pcm, nil
}

func int16ToPCM(samples []int16) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	return pcm
}
