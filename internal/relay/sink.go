package relay

import (
	"bufio"
	"context"
	"io"
	"sync"

	"github.com/loqalabs/loqa-listen/internal/protocol"
)

// Sink receives transcripts besides stdout. Sink failures are logged, not fatal.
type Sink interface {
	Emit(ctx context.Context, t protocol.Transcript) error
}

// lineWriter writes one flushed line per finalized utterance.
type lineWriter struct {
	mu sync.Mutex
	w  *bufio.Writer
}

func newLineWriter(w io.Writer) *lineWriter {
	return &lineWriter{w: bufio.NewWriter(w)}
}

func (l *lineWriter) WriteLine(text string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.w.WriteString(text); err != nil {
		return err
	}
	if err := l.w.WriteByte('\n'); err != nil {
		return err
	}
	return l.w.Flush()
}

type publisher interface {
	PublishJSON(subject string, v any) error
}

// BusSink publishes transcripts on stt.text.final and stt.text.partial.
type BusSink struct {
	pub publisher
}

func NewBusSink(pub publisher) *BusSink {
	return &BusSink{pub: pub}
}

func (b *BusSink) Emit(_ context.Context, t protocol.Transcript) error {
	subject := protocol.SubjectTranscriptFinal
	if t.Partial {
		subject = protocol.SubjectTranscriptPartial
	}
	return b.pub.PublishJSON(subject, t)
}
