package stt

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"sync"

	"github.com/loqalabs/loqa-listen/internal/capture"
	"github.com/loqalabs/loqa-listen/internal/config"
	"github.com/mattn/go-shellwords"
)

// execRecognizer runs a whisper.cpp style binary over a wav file:
// `<command> -f <audio_file> -m <model>`. The last non-empty stdout line is
// the transcript.
type execRecognizer struct {
	cmd          []string
	cfg          config.RecognizerConfig
	audioFile    string
	sampleRate   int
	channels     int
	segmentBytes int
	buffer       []byte
	mu           sync.Mutex
	run          func(ctx context.Context, name string, args []string) (stdout, stderr []byte, err error)
}

func NewExecRecognizer(cfg config.RecognizerConfig, audioFile string, sampleRate, channels int) (Recognizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("stt command is empty")
	}
	if audioFile == "" {
		return nil, fmt.Errorf("stt audio file is empty")
	}
	segmentFrames := cfg.SegmentMS * sampleRate / 1000
	return &execRecognizer{
		cmd:          args,
		cfg:          cfg,
		audioFile:    audioFile,
		sampleRate:   sampleRate,
		channels:     channels,
		segmentBytes: segmentFrames * channels * 2,
		run:          runCommand,
	}, nil
}

func (r *execRecognizer) Name() string { return "whisper-exec" }

func (r *execRecognizer) Accept(ctx context.Context, chunk capture.Chunk) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buffer = append(r.buffer, chunk.PCM...)
	if r.segmentBytes > 0 && len(r.buffer) >= r.segmentBytes {
		return r.transcribe(ctx)
	}
	return Result{Kind: KindPartial}, nil
}

func (r *execRecognizer) Finish(ctx context.Context) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.buffer) == 0 {
		return Result{Kind: KindFinal}, nil
	}
	return r.transcribe(ctx)
}

func (r *execRecognizer) Close() error { return nil }

// transcribe consumes the buffer; a failed pass drops that utterance.
func (r *execRecognizer) transcribe(ctx context.Context) (Result, error) {
	pcm := r.buffer
	r.buffer = nil

	if err := capture.WriteWAVFile(r.audioFile, pcm, r.sampleRate, r.channels); err != nil {
		return Result{}, err
	}

	args := append([]string{}, r.cmd[1:]...)
	args = append(args, "-f", r.audioFile)
	if r.cfg.ModelPath != "" {
		args = append(args, "-m", r.cfg.ModelPath)
	}
	if r.cfg.Language != "" {
		args = append(args, "-l", r.cfg.Language)
	}

	stdout, stderr, err := r.run(ctx, r.cmd[0], args)
	if err != nil {
		return Result{}, fmt.Errorf("stt command failed: %w: %s", err, strings.TrimSpace(string(stderr)))
	}
	return Result{Text: lastTranscriptLine(stdout), Kind: KindFinal}, nil
}

var timestampPrefix = regexp.MustCompile(`^\[\d{2}:\d{2}:\d{2}\.\d{3} --> \d{2}:\d{2}:\d{2}\.\d{3}\]\s*`)

func lastTranscriptLine(stdout []byte) string {
	lines := strings.Split(string(stdout), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		return strings.TrimSpace(timestampPrefix.ReplaceAllString(line, ""))
	}
	return ""
}

func runCommand(ctx context.Context, name string, args []string) ([]byte, []byte, error) {
	command := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr
	err := command.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}
