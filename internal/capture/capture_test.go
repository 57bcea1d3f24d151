package capture

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-listen/internal/config"
)

var testFormat = Format{SampleRate: 16000, Channels: 1, FramesPerBuffer: 1600}

func newLogger(buf *bytes.Buffer) *slog.Logger {
	if buf == nil {
		return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	}
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

type fakeDevice struct {
	name    string
	err     error
	pcm     []byte
	records int
	opens   int
}

func (f *fakeDevice) Name() string { return f.name }

func (f *fakeDevice) Open(context.Context) (Stream, error) {
	f.opens++
	if f.err != nil {
		return nil, f.err
	}
	return newBufferedStream(testFormat, f.pcm), nil
}

func (f *fakeDevice) Record(context.Context, time.Duration) ([]byte, error) {
	f.records++
	if f.err != nil {
		return nil, f.err
	}
	return f.pcm, nil
}

type commandCall struct {
	name string
	args []string
}

func newTestHelper(t *testing.T, fail error) (*helperDevice, *[]commandCall) {
	t.Helper()
	out := filepath.Join(t.TempDir(), "fallback.wav")
	dev, err := NewHelperDevice(config.FallbackConfig{Enabled: true, Command: "termux-microphone-record", OutputPath: out}, testFormat, 5*time.Second)
	if err != nil {
		t.Fatalf("new helper: %v", err)
	}
	helper := dev.(*helperDevice)
	var calls []commandCall
	helper.runCommand = func(_ context.Context, name string, args ...string) ([]byte, error) {
		calls = append(calls, commandCall{name: name, args: args})
		if fail != nil {
			return []byte("permission denied"), fail
		}
		return nil, WriteWAVFile(out, make([]byte, testFormat.BytesFor(100*time.Millisecond)), testFormat.SampleRate, testFormat.Channels)
	}
	return helper, &calls
}

func TestFallbackInvokedOnceWithDurationInMilliseconds(t *testing.T) {
	primary := &fakeDevice{name: "portaudio", err: errors.New("device unavailable")}
	helper, calls := newTestHelper(t, nil)
	dev := WithFallback(primary, helper, newLogger(nil))

	pcm, err := dev.Record(context.Background(), 5*time.Second)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(pcm) != testFormat.BytesFor(100*time.Millisecond) {
		t.Fatalf("unexpected pcm length %d", len(pcm))
	}
	if primary.records != 1 {
		t.Fatalf("expected primary tried once, got %d", primary.records)
	}
	if len(*calls) != 1 {
		t.Fatalf("expected helper invoked once, got %d", len(*calls))
	}
	call := (*calls)[0]
	if call.name != "termux-microphone-record" {
		t.Fatalf("unexpected helper %s", call.name)
	}
	joined := strings.Join(call.args, " ")
	if !strings.Contains(joined, "-d 5000") {
		t.Fatalf("expected duration argument 5000, got %q", joined)
	}
	if !strings.Contains(joined, "-o "+helper.outputPath) {
		t.Fatalf("expected output path argument, got %q", joined)
	}
}

func TestFallbackBothFailReportsBothErrors(t *testing.T) {
	var logs bytes.Buffer
	primary := &fakeDevice{name: "portaudio", err: errors.New("device unavailable")}
	helper, calls := newTestHelper(t, errors.New("exit status 1"))
	dev := WithFallback(primary, helper, newLogger(&logs))

	_, err := dev.Open(context.Background())
	if err == nil {
		t.Fatal("expected error when both devices fail")
	}
	if len(*calls) != 1 {
		t.Fatalf("expected helper invoked once, got %d", len(*calls))
	}
	for _, want := range []string{"device unavailable", "exit status 1", "permission denied"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %q", err, want)
		}
	}
	if !strings.Contains(logs.String(), "device unavailable") || !strings.Contains(logs.String(), "exit status 1") {
		t.Fatalf("expected both failures logged, got %s", logs.String())
	}
}

func TestFallbackSkippedWhenPrimaryWorks(t *testing.T) {
	primary := &fakeDevice{name: "portaudio", pcm: make([]byte, 3200)}
	helper, calls := newTestHelper(t, nil)
	dev := WithFallback(primary, helper, newLogger(nil))

	stream, err := dev.Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer stream.Close()
	if len(*calls) != 0 {
		t.Fatalf("helper should not run, got %d calls", len(*calls))
	}
}

func TestFallbackNotTriedAfterCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	primary := &fakeDevice{name: "portaudio", err: context.Canceled}
	helper, calls := newTestHelper(t, nil)
	dev := WithFallback(primary, helper, newLogger(nil))

	if _, err := dev.Open(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if len(*calls) != 0 {
		t.Fatalf("helper should not run after cancellation")
	}
}

func TestHelperOpenServesChunksInOrder(t *testing.T) {
	helper, _ := newTestHelper(t, nil)
	stream, err := helper.Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer stream.Close()

	total := 0
	for want := 0; ; want++ {
		chunk, err := stream.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if chunk.Sequence != want {
			t.Fatalf("expected sequence %d, got %d", want, chunk.Sequence)
		}
		total += len(chunk.PCM)
	}
	if total != testFormat.BytesFor(100*time.Millisecond) {
		t.Fatalf("unexpected total %d", total)
	}
}

func TestHelperRejectsFormatMismatch(t *testing.T) {
	helper, _ := newTestHelper(t, nil)
	helper.runCommand = func(_ context.Context, _ string, _ ...string) ([]byte, error) {
		return nil, WriteWAVFile(helper.outputPath, make([]byte, 320), 8000, 1)
	}
	if _, err := helper.Record(context.Background(), time.Second); err == nil || !strings.Contains(err.Error(), "8000 Hz") {
		t.Fatalf("expected format mismatch error, got %v", err)
	}
}

func TestWAVDeviceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.wav")
	pcm := make([]byte, testFormat.BytesPerBuffer()*2+100)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	if err := WriteWAVFile(path, pcm, testFormat.SampleRate, testFormat.Channels); err != nil {
		t.Fatalf("write wav: %v", err)
	}

	dev := NewWAVDevice(path, testFormat)
	stream, err := dev.Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	var got []byte
	count := 0
	for {
		chunk, err := stream.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		got = append(got, chunk.PCM...)
		count++
	}
	if count != 3 {
		t.Fatalf("expected 3 chunks, got %d", count)
	}
	if !bytes.Equal(got, pcm) {
		t.Fatal("replayed pcm differs from written pcm")
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	clip, err := dev.Record(context.Background(), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(clip) != testFormat.BytesFor(50*time.Millisecond) {
		t.Fatalf("expected truncated clip, got %d bytes", len(clip))
	}
}

func TestQueueStreamCloseOnce(t *testing.T) {
	s := newQueueStream(testFormat)
	closes := 0
	s.closer = func() error {
		closes++
		return nil
	}
	s.deliver([]byte{1, 2})
	_ = s.Close()
	_ = s.Close()
	if closes != 1 {
		t.Fatalf("expected device released once, got %d", closes)
	}
	if chunk, err := s.Next(context.Background()); err != nil || chunk.Sequence != 0 {
		t.Fatalf("expected buffered chunk after close, got %v %v", chunk, err)
	}
	if _, err := s.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestQueueStreamSurfacesOverflow(t *testing.T) {
	s := newQueueStream(testFormat)
	s.deliver([]byte{1, 2})
	s.fail(ErrInputOverflow)
	if _, err := s.Next(context.Background()); err != nil {
		t.Fatalf("expected first chunk, got %v", err)
	}
	if _, err := s.Next(context.Background()); !errors.Is(err, ErrInputOverflow) {
		t.Fatalf("expected overflow error, got %v", err)
	}
}

func TestSplitPCM(t *testing.T) {
	parts := SplitPCM(make([]byte, 10), 4)
	if len(parts) != 3 || len(parts[2]) != 2 {
		t.Fatalf("unexpected split %v", parts)
	}
	if SplitPCM(nil, 4) != nil {
		t.Fatal("expected nil for empty pcm")
	}
}

func TestChunkDuration(t *testing.T) {
	c := Chunk{SampleRate: 16000, Channels: 1, PCM: make([]byte, 32000)}
	if c.Duration() != time.Second {
		t.Fatalf("expected 1s, got %s", c.Duration())
	}
}

func TestNewWrapsFallback(t *testing.T) {
	cfg := config.Default().Capture
	dev, err := New(cfg, newLogger(nil))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, ok := dev.(*fallbackDevice); !ok {
		t.Fatalf("expected fallback wrapper, got %T", dev)
	}

	cfg.Fallback.Enabled = false
	dev, err = New(cfg, newLogger(nil))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, ok := dev.(*fallbackDevice); ok {
		t.Fatal("fallback should be disabled")
	}
}
