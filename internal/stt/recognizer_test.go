package stt

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-listen/internal/capture"
	"github.com/loqalabs/loqa-listen/internal/config"
)

func chunk(seq int, size int) capture.Chunk {
	return capture.Chunk{Sequence: seq, SampleRate: 16000, Channels: 1, PCM: make([]byte, size)}
}

func newTestExec(t *testing.T, cfg config.RecognizerConfig) (*execRecognizer, *[][]string) {
	t.Helper()
	if cfg.Command == "" {
		cfg.Command = "/opt/whisper.cpp/build/main -nt"
	}
	rec, err := NewExecRecognizer(cfg, filepath.Join(t.TempDir(), "temp.wav"), 16000, 1)
	if err != nil {
		t.Fatalf("new exec recognizer: %v", err)
	}
	r := rec.(*execRecognizer)
	var calls [][]string
	r.run = func(_ context.Context, name string, args []string) ([]byte, []byte, error) {
		calls = append(calls, append([]string{name}, args...))
		return []byte("whisper_init: loading model\n\n hello world \n\n"), nil, nil
	}
	return r, &calls
}

func TestExecRecognizerInvokesBinaryOnFinish(t *testing.T) {
	r, calls := newTestExec(t, config.RecognizerConfig{ModelPath: "ggml-base.en.bin"})

	for i := 0; i < 3; i++ {
		res, err := r.Accept(context.Background(), chunk(i, 320))
		if err != nil {
			t.Fatalf("accept: %v", err)
		}
		if res.Final() || !res.Empty() {
			t.Fatalf("expected empty partial while buffering, got %+v", res)
		}
	}
	if len(*calls) != 0 {
		t.Fatalf("binary should not run before finish")
	}

	res, err := r.Finish(context.Background())
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if !res.Final() || res.Text != "hello world" {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(*calls) != 1 {
		t.Fatalf("expected one invocation, got %d", len(*calls))
	}
	want := []string{"/opt/whisper.cpp/build/main", "-nt", "-f", r.audioFile, "-m", "ggml-base.en.bin"}
	if strings.Join((*calls)[0], " ") != strings.Join(want, " ") {
		t.Fatalf("unexpected args %v", (*calls)[0])
	}

	pcm, format, err := capture.ReadWAVFile(r.audioFile)
	if err != nil {
		t.Fatalf("read audio file: %v", err)
	}
	if len(pcm) != 960 || format.SampleRate != 16000 || format.Channels != 1 {
		t.Fatalf("unexpected wav contents: %d bytes %+v", len(pcm), format)
	}
}

func TestExecRecognizerSegments(t *testing.T) {
	r, calls := newTestExec(t, config.RecognizerConfig{SegmentMS: 100, Language: "en"})

	// 100ms at 16kHz mono is 3200 bytes.
	res, err := r.Accept(context.Background(), chunk(0, 1600))
	if err != nil || res.Final() {
		t.Fatalf("expected partial, got %+v %v", res, err)
	}
	res, err = r.Accept(context.Background(), chunk(1, 1600))
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if !res.Final() || res.Text != "hello world" {
		t.Fatalf("expected segment transcript, got %+v", res)
	}
	if got := strings.Join((*calls)[0], " "); !strings.HasSuffix(got, "-l en") {
		t.Fatalf("expected language flag, got %s", got)
	}

	res, err = r.Finish(context.Background())
	if err != nil || !res.Empty() {
		t.Fatalf("expected empty final with nothing buffered, got %+v %v", res, err)
	}
	if len(*calls) != 1 {
		t.Fatalf("expected no extra invocation, got %d", len(*calls))
	}
}

func TestExecRecognizerFailureDropsUtterance(t *testing.T) {
	r, _ := newTestExec(t, config.RecognizerConfig{})
	r.run = func(context.Context, string, []string) ([]byte, []byte, error) {
		return nil, []byte("failed to load model"), errors.New("exit status 3")
	}
	if _, err := r.Accept(context.Background(), chunk(0, 320)); err != nil {
		t.Fatalf("accept: %v", err)
	}
	_, err := r.Finish(context.Background())
	if err == nil || !strings.Contains(err.Error(), "failed to load model") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
	if len(r.buffer) != 0 {
		t.Fatal("expected buffer cleared after failed pass")
	}
}

func TestNewExecRecognizerRejectsEmptyCommand(t *testing.T) {
	if _, err := NewExecRecognizer(config.RecognizerConfig{Command: "  "}, "/tmp/x.wav", 16000, 1); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestLastTranscriptLine(t *testing.T) {
	cases := map[string]string{
		"a\nb\n\n":                                           "b",
		"":                                                   "",
		"[00:00:00.000 --> 00:00:05.000]   hello world\n":    "hello world",
		"system_info: n_threads = 4\n  bonjour le monde  \n": "bonjour le monde",
	}
	for in, want := range cases {
		if got := lastTranscriptLine([]byte(in)); got != want {
			t.Fatalf("lastTranscriptLine(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseResult(t *testing.T) {
	res, err := ParseResult([]byte(`{"text": "hello world"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !res.Final() || res.Text != "hello world" {
		t.Fatalf("unexpected result %+v", res)
	}

	res, err = ParseResult([]byte(`{"partial": "hel"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if res.Final() || res.Text != "hel" {
		t.Fatalf("expected partial, got %+v", res)
	}

	res, err = ParseResult([]byte(`{"result": [{"conf": 1.0, "word": "hi"}, {"conf": 0.5, "word": "there"}], "text": "hi there"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if res.Confidence != 0.75 {
		t.Fatalf("expected mean confidence 0.75, got %v", res.Confidence)
	}

	if _, err := ParseResult([]byte(`{}`)); err == nil {
		t.Fatal("expected error for empty payload")
	}
	if _, err := ParseResult([]byte(`not json`)); err == nil {
		t.Fatal("expected error for invalid json")
	}
}

type fakeDecoder struct {
	statuses []int
	results  []string
	partials []string
	final    string
	accepted [][]byte
}

func (f *fakeDecoder) AcceptWaveform(pcm []byte) int {
	f.accepted = append(f.accepted, pcm)
	status := f.statuses[0]
	f.statuses = f.statuses[1:]
	return status
}

func (f *fakeDecoder) Result() string {
	r := f.results[0]
	f.results = f.results[1:]
	return r
}

func (f *fakeDecoder) PartialResult() string {
	p := f.partials[0]
	f.partials = f.partials[1:]
	return p
}

func (f *fakeDecoder) FinalResult() string { return f.final }

func TestStreamingRecognizer(t *testing.T) {
	dec := &fakeDecoder{
		statuses: []int{0, 1, -1},
		partials: []string{`{"partial": "hello"}`},
		results:  []string{`{"text": "hello world"}`},
		final:    `{"text": ""}`,
	}
	released := 0
	rec := newStreamingRecognizer("vosk", dec, func() { released++ })

	res, err := rec.Accept(context.Background(), chunk(0, 10))
	if err != nil || res.Kind != KindPartial || res.Text != "hello" {
		t.Fatalf("expected partial, got %+v %v", res, err)
	}
	res, err = rec.Accept(context.Background(), chunk(1, 10))
	if err != nil || res.Kind != KindFinal || res.Text != "hello world" {
		t.Fatalf("expected final, got %+v %v", res, err)
	}
	if _, err := rec.Accept(context.Background(), chunk(2, 10)); err == nil {
		t.Fatal("expected error for rejected chunk")
	}
	res, err = rec.Finish(context.Background())
	if err != nil || !res.Final() || !res.Empty() {
		t.Fatalf("expected empty final, got %+v %v", res, err)
	}

	_ = rec.Close()
	_ = rec.Close()
	if released != 1 {
		t.Fatalf("expected release once, got %d", released)
	}
	if len(dec.accepted) != 3 {
		t.Fatalf("expected 3 chunks accepted, got %d", len(dec.accepted))
	}
}

func TestMockRecognizer(t *testing.T) {
	rec := NewMockRecognizer()
	if _, err := rec.Accept(context.Background(), chunk(0, 64)); err != nil {
		t.Fatalf("accept: %v", err)
	}
	res, err := rec.Finish(context.Background())
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if res.Text != "[final transcript length=64]" || !res.Final() {
		t.Fatalf("unexpected mock result %+v", res)
	}
}

func TestNewSelectsBackend(t *testing.T) {
	capCfg := config.Default().Capture
	rec, err := New(config.RecognizerConfig{Mode: "mock"}, capCfg)
	if err != nil || rec.Name() != "mock" {
		t.Fatalf("expected mock recognizer, got %v %v", rec, err)
	}
	rec, err = New(config.RecognizerConfig{Mode: "whisper-exec", Command: "main"}, capCfg)
	if err != nil || rec.Name() != "whisper-exec" {
		t.Fatalf("expected exec recognizer, got %v %v", rec, err)
	}
	if _, err := New(config.RecognizerConfig{Mode: "cloud"}, capCfg); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}
