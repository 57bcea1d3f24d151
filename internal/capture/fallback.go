package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type fallbackDevice struct {
	primary   Device
	secondary Device
	logger    *slog.Logger
	fallbacks metric.Int64Counter
}

// WithFallback tries secondary exactly once whenever primary fails to start.
// Failures after a stream is open are not retried.
func WithFallback(primary, secondary Device, logger *slog.Logger) Device {
	d := &fallbackDevice{
		primary:   primary,
		secondary: secondary,
		logger:    logger.With(slog.String("component", "capture")),
	}
	counter, err := otel.Meter("github.com/loqalabs/loqa-listen/capture").Int64Counter(
		"loqa.listen.capture.fallbacks",
		metric.WithDescription("Times the fallback recorder replaced the primary device"),
	)
	if err != nil {
		d.logger.Warn("failed to initialize metrics", slogError(err))
	} else {
		d.fallbacks = counter
	}
	return d
}

func (d *fallbackDevice) Name() string { return d.primary.Name() }

func (d *fallbackDevice) Open(ctx context.Context) (Stream, error) {
	return attempt(ctx, d, func(dev Device) (Stream, error) { return dev.Open(ctx) })
}

func (d *fallbackDevice) Record(ctx context.Context, dur time.Duration) ([]byte, error) {
	return attempt(ctx, d, func(dev Device) ([]byte, error) { return dev.Record(ctx, dur) })
}

func attempt[T any](ctx context.Context, d *fallbackDevice, fn func(Device) (T, error)) (T, error) {
	out, err := fn(d.primary)
	if err == nil || ctx.Err() != nil {
		return out, err
	}
	d.logger.Error("recording failed, falling back",
		slog.String("device", d.primary.Name()),
		slog.String("fallback", d.secondary.Name()),
		slogError(err))
	if d.fallbacks != nil {
		d.fallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("device", d.primary.Name())))
	}

	out, fallbackErr := fn(d.secondary)
	if fallbackErr != nil {
		d.logger.Error("fallback recording failed",
			slog.String("fallback", d.secondary.Name()),
			slogError(fallbackErr))
		var zero T
		return zero, errors.Join(
			fmt.Errorf("%s: %w", d.primary.Name(), err),
			fmt.Errorf("%s: %w", d.secondary.Name(), fallbackErr),
		)
	}
	return out, nil
}
