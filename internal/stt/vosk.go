//go:build vosk

package stt

import (
	"fmt"

	vosk "github.com/alphacep/vosk-api/go"
	"github.com/loqalabs/loqa-listen/internal/config"
)

func NewVoskRecognizer(cfg config.RecognizerConfig, sampleRate float64) (Recognizer, error) {
	model, err := vosk.NewModel(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("load vosk model %s: %w", cfg.ModelPath, err)
	}
	rec, err := vosk.NewRecognizer(model, sampleRate)
	if err != nil {
		model.Free()
		return nil, fmt.Errorf("create vosk recognizer: %w", err)
	}
	rec.SetWords(1)
	return newStreamingRecognizer("vosk", rec, func() {
		rec.Free()
		model.Free()
	}), nil
}
