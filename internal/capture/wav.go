package capture

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WriteWAVFile stores 16-bit PCM at path, replacing any existing file.
func WriteWAVFile(path string, pcm []byte, sampleRate, channels int) error {
	if len(pcm)%2 != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}
	defer file.Close()

	buffer := &audio.IntBuffer{Format: &audio.Format{NumChannels: channels, SampleRate: sampleRate}}
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buffer.Data = samples

	enc := wav.NewEncoder(file, sampleRate, 16, channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return file.Close()
}

// ReadWAVFile decodes a 16-bit PCM wav file.
func ReadWAVFile(path string) ([]byte, Format, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, Format{}, fmt.Errorf("open wav: %w", err)
	}
	defer file.Close()

	dec := wav.NewDecoder(file)
	buffer, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, Format{}, fmt.Errorf("decode wav %s: %w", path, err)
	}
	if dec.BitDepth != 16 {
		return nil, Format{}, fmt.Errorf("decode wav %s: expected 16-bit samples, got %d", path, dec.BitDepth)
	}

	pcm := make([]byte, len(buffer.Data)*2)
	for i, sample := range buffer.Data {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(sample)))
	}
	format := Format{SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans)}
	return pcm, format, nil
}

func checkFormat(path string, got, want Format) error {
	if got.SampleRate != want.SampleRate || got.Channels != want.Channels {
		return fmt.Errorf("%s is %d Hz/%d ch, expected %d Hz/%d ch", path, got.SampleRate, got.Channels, want.SampleRate, want.Channels)
	}
	return nil
}

type wavDevice struct {
	path   string
	format Format
}

// NewWAVDevice replays a recorded wav file as if it were captured live.
func NewWAVDevice(path string, format Format) Device {
	return &wavDevice{path: path, format: format}
}

func (d *wavDevice) Name() string { return "wav" }

func (d *wavDevice) Open(ctx context.Context) (Stream, error) {
	pcm, err := d.load(ctx)
	if err != nil {
		return nil, err
	}
	return newBufferedStream(d.format, pcm), nil
}

func (d *wavDevice) Record(ctx context.Context, dur time.Duration) ([]byte, error) {
	pcm, err := d.load(ctx)
	if err != nil {
		return nil, err
	}
	if want := d.format.BytesFor(dur); len(pcm) > want {
		pcm = pcm[:want]
	}
	return pcm, nil
}

func (d *wavDevice) load(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pcm, format, err := ReadWAVFile(d.path)
	if err != nil {
		return nil, err
	}
	if err := checkFormat(d.path, format, d.format); err != nil {
		return nil, err
	}
	return pcm, nil
}
