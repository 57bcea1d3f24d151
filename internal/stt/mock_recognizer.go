package stt

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-listen/internal/capture"
)

type mockRecognizer struct {
	buffered int
}

func NewMockRecognizer() Recognizer {
	return &mockRecognizer{}
}

func (m *mockRecognizer) Name() string { return "mock" }

func (m *mockRecognizer) Accept(_ context.Context, chunk capture.Chunk) (Result, error) {
	m.buffered += len(chunk.PCM)
	return Result{
		Text: fmt.Sprintf("[partial transcript length=%d]", m.buffered),
		Kind: KindPartial,
	}, nil
}

func (m *mockRecognizer) Finish(context.Context) (Result, error) {
	n := m.buffered
	m.buffered = 0
	return Result{
		Text: fmt.Sprintf("[final transcript length=%d]", n),
		Kind: KindFinal,
	}, nil
}

func (m *mockRecognizer) Close() error { return nil }
