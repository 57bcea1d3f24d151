//go:build !vosk

package stt

import (
	"errors"

	"github.com/loqalabs/loqa-listen/internal/config"
)

// ErrVoskNotSupported is returned when the binary was built without the vosk tag.
var ErrVoskNotSupported = errors.New("vosk recognizer not compiled in (build with -tags vosk)")

func NewVoskRecognizer(config.RecognizerConfig, float64) (Recognizer, error) {
	return nil, ErrVoskNotSupported
}
