package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-listen/internal/bus"
	"github.com/loqalabs/loqa-listen/internal/capture"
	"github.com/loqalabs/loqa-listen/internal/config"
	"github.com/loqalabs/loqa-listen/internal/natsserver"
	"github.com/loqalabs/loqa-listen/internal/relay"
	"github.com/loqalabs/loqa-listen/internal/stt"
)

// Runtime wires telemetry, the optional bus and the relay for one run.
type Runtime struct {
	cfg        config.Config
	logger     *slog.Logger
	stdout     io.Writer
	httpServer *http.Server
	httpAddr   string
	bus        *bus.Client
	embedded   *natsserver.EmbeddedServer
	ready      atomic.Bool
	wg         sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger, stdout io.Writer) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
		stdout: stdout,
	}
}

// Start runs the relay until it finishes or ctx is cancelled. Configuration
// problems are reported before any audio device is opened.
func (r *Runtime) Start(ctx context.Context) error {
	if err := relay.Initialize(r.cfg); err != nil {
		return err
	}

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}()

	if r.cfg.Telemetry.PrometheusBind != "" {
		if err := r.startHTTP(metricsHandler); err != nil {
			return err
		}
		defer r.stopHTTP()
	}

	var sinks []relay.Sink
	if r.cfg.Bus.Enabled {
		if err := r.startBus(); err != nil {
			r.stopBus()
			return fmt.Errorf("failed to start bus: %w", err)
		}
		defer r.stopBus()
		sinks = append(sinks, relay.NewBusSink(r.bus))
	}

	recognizer, err := stt.New(r.cfg.Recognizer, r.cfg.Capture)
	if err != nil {
		return &relay.ConfigurationError{Reason: "Recognizer unavailable", Err: err}
	}
	defer func() {
		if err := recognizer.Close(); err != nil {
			r.logger.Warn("failed to release recognizer", slog.String("error", err.Error()))
		}
	}()

	device, err := capture.New(r.cfg.Capture, r.logger)
	if err != nil {
		return &relay.ConfigurationError{Reason: "Capture device unavailable", Err: err}
	}

	rel := relay.New(r.cfg, device, recognizer, r.stdout, r.logger, sinks...)
	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("session", rel.SessionID()),
		slog.String("mode", r.cfg.Capture.Mode),
		slog.String("recognizer", recognizer.Name()))

	err = rel.Run(ctx)
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	return err
}

func (r *Runtime) startHTTP(metricsHandler http.Handler) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	ln, err := net.Listen("tcp", r.cfg.Telemetry.PrometheusBind)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", r.cfg.Telemetry.PrometheusBind, err)
	}
	r.httpAddr = ln.Addr().String()
	r.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()
	r.logger.Info("http server started", slog.String("addr", r.httpAddr))
	return nil
}

func (r *Runtime) stopHTTP() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()
}

func (r *Runtime) startBus() error {
	busCfg := r.cfg.Bus
	if busCfg.Embedded {
		srv, err := natsserver.Start(busCfg.Port, r.logger)
		if err != nil {
			return err
		}
		r.embedded = srv
		busCfg.Servers = []string{srv.ClientURL()}
	}
	client, err := bus.Connect(busCfg, r.logger)
	if err != nil {
		return err
	}
	r.bus = client
	return nil
}

func (r *Runtime) stopBus() {
	if r.bus != nil {
		if err := r.bus.Flush(); err != nil {
			r.logger.Warn("failed to flush bus", slog.String("error", err.Error()))
		}
		r.bus.Close()
	}
	r.embedded.Shutdown()
	r.embedded = nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if r.cfg.Bus.Enabled && !r.bus.Healthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("bus disconnected"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
