package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-listen/internal/capture"
	"github.com/loqalabs/loqa-listen/internal/config"
	"github.com/loqalabs/loqa-listen/internal/protocol"
	"github.com/loqalabs/loqa-listen/internal/stt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

// Relay moves audio from a capture device into a recognizer and writes each
// finalized utterance as one line on out.
type Relay struct {
	cfg        config.Config
	device     capture.Device
	recognizer stt.Recognizer
	out        *lineWriter
	sinks      []Sink
	logger     *slog.Logger
	tracer     trace.Tracer
	metrics    relayMetrics
	sessionID  string
	utterances int
	now        func() time.Time
}

// flushTimeout bounds the final recognizer pass after an interrupt.
const flushTimeout = 30 * time.Second

type relayMetrics struct {
	chunks      metric.Int64Counter
	transcripts metric.Int64Counter
	errors      metric.Int64Counter
	latency     metric.Float64Histogram
}

func New(cfg config.Config, device capture.Device, recognizer stt.Recognizer, out io.Writer, logger *slog.Logger, sinks ...Sink) *Relay {
	r := &Relay{
		cfg:        cfg,
		device:     device,
		recognizer: recognizer,
		out:        newLineWriter(out),
		sinks:      sinks,
		logger:     logger.With(slog.String("component", "relay")),
		tracer:     otel.Tracer("github.com/loqalabs/loqa-listen/relay"),
		sessionID:  uuid.NewString(),
		now:        time.Now,
	}
	r.metrics = newRelayMetrics(r.logger)
	return r
}

func newRelayMetrics(logger *slog.Logger) relayMetrics {
	meter := otel.Meter("github.com/loqalabs/loqa-listen/relay")
	m := relayMetrics{
		chunks:      noop.Int64Counter{},
		transcripts: noop.Int64Counter{},
		errors:      noop.Int64Counter{},
		latency:     noop.Float64Histogram{},
	}
	var errs []error
	if c, err := meter.Int64Counter("loqa.listen.chunks", metric.WithDescription("Audio chunks fed to the recognizer")); err == nil {
		m.chunks = c
	} else {
		errs = append(errs, err)
	}
	if c, err := meter.Int64Counter("loqa.listen.transcripts", metric.WithDescription("Transcripts emitted")); err == nil {
		m.transcripts = c
	} else {
		errs = append(errs, err)
	}
	if c, err := meter.Int64Counter("loqa.listen.recognition.errors", metric.WithDescription("Recognizer failures")); err == nil {
		m.errors = c
	} else {
		errs = append(errs, err)
	}
	if h, err := meter.Float64Histogram("loqa.listen.recognition.duration",
		metric.WithDescription("Time spent inside the recognizer"),
		metric.WithUnit("ms"),
	); err == nil {
		m.latency = h
	} else {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		logger.Warn("failed to initialize metrics", slogError(err))
	}
	return m
}

// SessionID identifies this run in published transcripts.
func (r *Relay) SessionID() string { return r.sessionID }

// Run captures according to capture.mode. Cancellation of ctx is a clean
// stop and returns nil.
func (r *Relay) Run(ctx context.Context) error {
	if r.cfg.Capture.Mode == "stream" {
		return r.RunStream(ctx)
	}
	return r.RunBatch(ctx)
}

// RunBatch records one fixed-duration clip and transcribes it.
func (r *Relay) RunBatch(ctx context.Context) error {
	dur := time.Duration(r.cfg.Capture.DurationMS) * time.Millisecond
	r.logger.Info("recording", slog.String("device", r.device.Name()), slog.Duration("duration", dur))

	pcm, err := r.device.Record(ctx, dur)
	if err != nil {
		if ctx.Err() != nil {
			r.logger.Info("interrupted, stopping")
			return nil
		}
		return &CaptureError{Device: r.device.Name(), Err: err}
	}

	ctx, span := r.tracer.Start(ctx, "relay.batch", trace.WithAttributes(
		attribute.String("recognizer", r.recognizer.Name()),
		attribute.Int("audio.bytes", len(pcm)),
	))
	defer span.End()

	format := capture.FormatFromConfig(r.cfg.Capture)
	for i, part := range capture.SplitPCM(pcm, format.BytesPerBuffer()) {
		chunk := capture.Chunk{Sequence: i, SampleRate: format.SampleRate, Channels: format.Channels, PCM: part}
		res, err := r.accept(ctx, chunk)
		if err != nil {
			return r.batchFailure(ctx, span, err)
		}
		if _, err := r.handle(ctx, res); err != nil {
			return err
		}
	}

	res, err := r.finish(ctx)
	if err != nil {
		return r.batchFailure(ctx, span, err)
	}
	if _, err := r.handle(ctx, res); err != nil {
		return err
	}
	r.logger.Info("recording transcribed", slog.Int("utterances", r.utterances))
	return nil
}

func (r *Relay) batchFailure(ctx context.Context, span trace.Span, err error) error {
	if ctx.Err() != nil {
		r.logger.Info("interrupted, stopping")
		return nil
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return &RecognitionError{Recognizer: r.recognizer.Name(), Err: err}
}

// RunStream feeds chunks to the recognizer as they arrive until the stream
// ends or ctx is cancelled. Recognition failures are logged and skipped.
func (r *Relay) RunStream(ctx context.Context) error {
	stream, err := r.device.Open(ctx)
	if err != nil {
		if ctx.Err() != nil {
			r.logger.Info("interrupted, stopping")
			return nil
		}
		return &CaptureError{Device: r.device.Name(), Err: err}
	}
	defer func() {
		if err := stream.Close(); err != nil {
			r.logger.Warn("failed to close input stream", slogError(err))
		}
	}()

	r.logger.Info("listening", slog.String("device", r.device.Name()), slog.String("recognizer", r.recognizer.Name()))
	pending := false
	for {
		chunk, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return r.interrupted(ctx, pending)
			}
			return &CaptureError{Device: r.device.Name(), Err: err}
		}

		res, err := r.accept(ctx, chunk)
		if err != nil {
			if ctx.Err() != nil {
				return r.interrupted(ctx, pending)
			}
			r.logger.Error("recognition failed", slog.Int("sequence", chunk.Sequence), slogError(err))
			continue
		}
		final, err := r.handle(ctx, res)
		if err != nil {
			return err
		}
		pending = !final
		if final && r.cfg.Relay.StopOnFirstResult {
			r.logger.Info("first result emitted, stopping")
			return nil
		}
	}

	res, err := r.finish(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Error("recognition failed", slogError(err))
		}
	} else if _, err := r.handle(ctx, res); err != nil {
		return err
	}
	r.logger.Info("input stream ended", slog.Int("utterances", r.utterances))
	return nil
}

// interrupted finishes audio the recognizer already accepted, using a context
// detached from the cancelled one, so those chunks still yield a transcript.
func (r *Relay) interrupted(ctx context.Context, pending bool) error {
	r.logger.Info("interrupted, stopping", slog.Int("utterances", r.utterances))
	if !pending {
		return nil
	}
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
	defer cancel()
	res, err := r.finish(flushCtx)
	if err != nil {
		r.logger.Error("recognition failed", slogError(err))
		return nil
	}
	_, err = r.handle(flushCtx, res)
	return err
}

func (r *Relay) accept(ctx context.Context, chunk capture.Chunk) (stt.Result, error) {
	r.metrics.chunks.Add(ctx, 1)
	return r.observe(ctx, "accept", func() (stt.Result, error) { return r.recognizer.Accept(ctx, chunk) })
}

func (r *Relay) finish(ctx context.Context) (stt.Result, error) {
	ctx, span := r.tracer.Start(ctx, "relay.finish")
	defer span.End()
	res, err := r.observe(ctx, "finish", func() (stt.Result, error) { return r.recognizer.Finish(ctx) })
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func (r *Relay) observe(ctx context.Context, op string, fn func() (stt.Result, error)) (stt.Result, error) {
	start := time.Now()
	res, err := fn()
	attrs := metric.WithAttributes(
		attribute.String("recognizer", r.recognizer.Name()),
		attribute.String("op", op),
	)
	r.metrics.latency.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
	if err != nil {
		r.metrics.errors.Add(ctx, 1, attrs)
	}
	return res, err
}

// handle emits res and reports whether it was a non-empty final.
func (r *Relay) handle(ctx context.Context, res stt.Result) (bool, error) {
	if res.Empty() {
		return false, nil
	}
	if !res.Final() {
		if r.cfg.Recognizer.PublishPartial {
			r.logger.Info("partial transcript", slog.String("text", res.Text))
			r.publish(ctx, r.transcript(res))
		}
		return false, nil
	}

	t := r.transcript(res)
	r.utterances++
	if err := r.out.WriteLine(t.Text); err != nil {
		return false, err
	}
	r.metrics.transcripts.Add(ctx, 1, metric.WithAttributes(attribute.String("recognizer", r.recognizer.Name())))
	r.publish(ctx, t)
	return true, nil
}

func (r *Relay) transcript(res stt.Result) protocol.Transcript {
	return protocol.Transcript{
		SessionID:  r.sessionID,
		Sequence:   r.utterances,
		Text:       res.Text,
		Partial:    !res.Final(),
		Recognizer: r.recognizer.Name(),
		Timestamp:  r.now().UTC(),
		Confidence: res.Confidence,
	}
}

func (r *Relay) publish(ctx context.Context, t protocol.Transcript) {
	for _, sink := range r.sinks {
		if err := sink.Emit(ctx, t); err != nil {
			r.logger.Warn("failed to publish transcript", slog.Bool("partial", t.Partial), slogError(err))
		}
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
