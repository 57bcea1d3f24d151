package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/loqalabs/loqa-listen/internal/capture"
)

// waveformDecoder is the part of the Vosk recognizer API the relay drives.
type waveformDecoder interface {
	AcceptWaveform(pcm []byte) int
	Result() string
	PartialResult() string
	FinalResult() string
}

// streamingRecognizer feeds chunks into an incremental acoustic-model decoder.
type streamingRecognizer struct {
	name    string
	dec     waveformDecoder
	release func()
	mu      sync.Mutex
	once    sync.Once
}

func newStreamingRecognizer(name string, dec waveformDecoder, release func()) *streamingRecognizer {
	return &streamingRecognizer{name: name, dec: dec, release: release}
}

func (s *streamingRecognizer) Name() string { return s.name }

func (s *streamingRecognizer) Accept(ctx context.Context, chunk capture.Chunk) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	switch status := s.dec.AcceptWaveform(chunk.PCM); {
	case status > 0:
		return ParseResult([]byte(s.dec.Result()))
	case status == 0:
		return ParseResult([]byte(s.dec.PartialResult()))
	default:
		return Result{}, fmt.Errorf("%s rejected chunk %d", s.name, chunk.Sequence)
	}
}

func (s *streamingRecognizer) Finish(ctx context.Context) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return ParseResult([]byte(s.dec.FinalResult()))
}

func (s *streamingRecognizer) Close() error {
	s.once.Do(func() {
		if s.release != nil {
			s.release()
		}
	})
	return nil
}

type decoderPayload struct {
	Text    *string `json:"text"`
	Partial *string `json:"partial"`
	Words   []struct {
		Conf float64 `json:"conf"`
		Word string  `json:"word"`
	} `json:"result"`
}

// ParseResult decodes Vosk JSON output. {"text": ...} is final and
// {"partial": ...} is an interim hypothesis.
func ParseResult(data []byte) (Result, error) {
	var payload decoderPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return Result{}, fmt.Errorf("decode stt response: %w", err)
	}
	switch {
	case payload.Text != nil:
		res := Result{Text: *payload.Text, Kind: KindFinal}
		if len(payload.Words) > 0 {
			var sum float64
			for _, w := range payload.Words {
				sum += w.Conf
			}
			res.Confidence = sum / float64(len(payload.Words))
		}
		return res, nil
	case payload.Partial != nil:
		return Result{Text: *payload.Partial, Kind: KindPartial}, nil
	default:
		return Result{}, fmt.Errorf("decode stt response: neither text nor partial present")
	}
}
