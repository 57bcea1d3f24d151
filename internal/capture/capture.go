package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-listen/internal/config"
	"github.com/loqalabs/loqa-listen/internal/queue"
)

// ErrInputOverflow is reported when the driver signals that captured samples were lost.
var ErrInputOverflow = errors.New("audio input overflow")

// Chunk is a buffer of signed 16-bit little-endian PCM.
type Chunk struct {
	Sequence   int
	SampleRate int
	Channels   int
	PCM        []byte
}

// Duration returns the playback length of the chunk.
func (c Chunk) Duration() time.Duration {
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	frames := len(c.PCM) / (2 * c.Channels)
	return time.Duration(frames) * time.Second / time.Duration(c.SampleRate)
}

// Format describes the PCM layout a device produces.
type Format struct {
	SampleRate      int
	Channels        int
	FramesPerBuffer int
}

func FormatFromConfig(cfg config.CaptureConfig) Format {
	return Format{
		SampleRate:      cfg.SampleRate,
		Channels:        cfg.Channels,
		FramesPerBuffer: cfg.FramesPerBuffer,
	}
}

// BytesPerBuffer is the size of one chunk in bytes.
func (f Format) BytesPerBuffer() int {
	return f.FramesPerBuffer * f.Channels * 2
}

// BytesFor is the number of PCM bytes covering d.
func (f Format) BytesFor(d time.Duration) int {
	frames := int(d * time.Duration(f.SampleRate) / time.Second)
	return frames * f.Channels * 2
}

// Stream delivers captured chunks in capture order.
type Stream interface {
	// Next blocks until a chunk is available. It returns io.EOF when a finite
	// stream is exhausted.
	Next(ctx context.Context) (Chunk, error)
	// Close releases the device. Calling it more than once is safe.
	Close() error
}

// Device is an audio source.
type Device interface {
	Name() string
	// Open starts continuous capture.
	Open(ctx context.Context) (Stream, error)
	// Record captures a fixed-duration clip and returns its PCM.
	Record(ctx context.Context, d time.Duration) ([]byte, error)
}

// New builds the configured primary device, wrapped with the recording
// helper fallback when enabled.
func New(cfg config.CaptureConfig, logger *slog.Logger) (Device, error) {
	format := FormatFromConfig(cfg)
	var primary Device
	switch cfg.Backend {
	case "wav":
		primary = NewWAVDevice(cfg.InputFile, format)
	case "portaudio":
		primary = NewPortAudioDevice(format)
	default:
		return nil, fmt.Errorf("unsupported capture backend %q", cfg.Backend)
	}
	if !cfg.Fallback.Enabled {
		return primary, nil
	}
	helper, err := NewHelperDevice(cfg.Fallback, format, time.Duration(cfg.DurationMS)*time.Millisecond)
	if err != nil {
		return nil, err
	}
	return WithFallback(primary, helper, logger), nil
}

// queueStream adapts a driver callback to a Stream through an unbounded queue.
type queueStream struct {
	format   Format
	q        *queue.Queue[Chunk]
	seq      int
	closer   func() error
	once     sync.Once
	closeErr error
}

func newQueueStream(format Format) *queueStream {
	return &queueStream{format: format, q: queue.New[Chunk]()}
}

// deliver is called from the producer only. pcm is copied.
func (s *queueStream) deliver(pcm []byte) {
	chunk := Chunk{
		Sequence:   s.seq,
		SampleRate: s.format.SampleRate,
		Channels:   s.format.Channels,
		PCM:        append([]byte(nil), pcm...),
	}
	if s.q.Push(chunk) {
		s.seq++
	}
}

func (s *queueStream) fail(err error) {
	s.q.CloseWithError(err)
}

func (s *queueStream) finish() {
	s.q.Close()
}

func (s *queueStream) Next(ctx context.Context) (Chunk, error) {
	chunk, err := s.q.Pop(ctx)
	if errors.Is(err, queue.ErrClosed) {
		return Chunk{}, io.EOF
	}
	return chunk, err
}

func (s *queueStream) Close() error {
	s.once.Do(func() {
		s.q.Close()
		if s.closer != nil {
			s.closeErr = s.closer()
		}
	})
	return s.closeErr
}

// newBufferedStream serves an already captured clip as a finite stream.
func newBufferedStream(format Format, pcm []byte) Stream {
	s := newQueueStream(format)
	for _, part := range SplitPCM(pcm, format.BytesPerBuffer()) {
		s.deliver(part)
	}
	s.finish()
	return s
}

// SplitPCM slices pcm into pieces of at most size bytes without copying.
func SplitPCM(pcm []byte, size int) [][]byte {
	if size <= 0 || len(pcm) <= size {
		if len(pcm) == 0 {
			return nil
		}
		return [][]byte{pcm}
	}
	parts := make([][]byte, 0, (len(pcm)+size-1)/size)
	for start := 0; start < len(pcm); start += size {
		end := start + size
		if end > len(pcm) {
			end = len(pcm)
		}
		parts = append(parts, pcm[start:end])
	}
	return parts
}

// collect reads from stream until want bytes are gathered or the stream ends.
func collect(ctx context.Context, stream Stream, want int) ([]byte, error) {
	pcm := make([]byte, 0, want)
	for len(pcm) < want {
		chunk, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		pcm = append(pcm, chunk.PCM...)
	}
	if len(pcm) > want {
		pcm = pcm[:want]
	}
	return pcm, nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
