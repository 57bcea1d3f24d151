package stt

import (
	"context"
	"fmt"
	"strings"

	"github.com/loqalabs/loqa-listen/internal/capture"
	"github.com/loqalabs/loqa-listen/internal/config"
)

// Kind separates interim hypotheses from finalized utterances.
type Kind int

const (
	KindPartial Kind = iota
	KindFinal
)

func (k Kind) String() string {
	if k == KindFinal {
		return "final"
	}
	return "partial"
}

// Result captures recognizer output.
type Result struct {
	Text       string
	Kind       Kind
	Confidence float64
}

func (r Result) Final() bool { return r.Kind == KindFinal }

func (r Result) Empty() bool { return strings.TrimSpace(r.Text) == "" }

// Recognizer abstracts STT backends. Chunks must be passed in capture order.
type Recognizer interface {
	Name() string
	// Accept feeds one chunk and returns whatever the backend can say so far.
	Accept(ctx context.Context, chunk capture.Chunk) (Result, error)
	// Finish flushes buffered audio and returns the last final result.
	Finish(ctx context.Context) (Result, error)
	Close() error
}

// New selects the backend named by cfg.Mode.
func New(cfg config.RecognizerConfig, capCfg config.CaptureConfig) (Recognizer, error) {
	switch cfg.Mode {
	case "whisper-exec":
		return NewExecRecognizer(cfg, capCfg.AudioFile, capCfg.SampleRate, capCfg.Channels)
	case "vosk":
		return NewVoskRecognizer(cfg, float64(capCfg.SampleRate))
	case "mock":
		return NewMockRecognizer(), nil
	default:
		return nil, fmt.Errorf("unsupported recognizer mode %q", cfg.Mode)
	}
}
