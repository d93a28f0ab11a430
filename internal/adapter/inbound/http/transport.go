package http

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Covenant-Gate/Covenantgate/internal/domain/auth"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/heartbeat"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/receipt"
	"github.com/Covenant-Gate/Covenantgate/internal/service"
)

// Transport is the inbound adapter that connects HTTP clients to the
// governed action pipeline.
type Transport struct {
	pipeline *service.PipelineService
	chain    receipt.Chain
	monitor  *heartbeat.Monitor
	keys     *auth.APIKeyService
	server   *http.Server
	addr     string
	certFile string
	keyFile  string
	metrics  *Metrics
	registry *prometheus.Registry
	logger   *slog.Logger
}

// Option is a functional option for configuring Transport.
type Option func(*Transport)

// WithAddr sets the listen address. Default is "127.0.0.1:8080".
func WithAddr(addr string) Option {
	return func(t *Transport) {
		t.addr = addr
	}
}

// WithTLS enables TLS with the provided certificate and key files.
func WithTLS(certFile, keyFile string) Option {
	return func(t *Transport) {
		t.certFile = certFile
		t.keyFile = keyFile
	}
}

// WithLogger sets the logger for the transport.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// NewTransport creates an HTTP transport over the pipeline.
func NewTransport(
	pipeline *service.PipelineService,
	chain receipt.Chain,
	monitor *heartbeat.Monitor,
	keys *auth.APIKeyService,
	opts ...Option,
) *Transport {
	t := &Transport{
		pipeline: pipeline,
		chain:    chain,
		monitor:  monitor,
		keys:     keys,
		addr:     "127.0.0.1:8080",
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Metrics returns the transport's metrics set after Start has built it.
func (t *Transport) Metrics() *Metrics {
	return t.metrics
}

// BuildMetrics constructs the Prometheus registry and metrics ahead of
// Start, so the composition root can hand the sink to the pipeline.
func (t *Transport) BuildMetrics() *Metrics {
	if t.metrics != nil {
		return t.metrics
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	t.registry = reg
	t.metrics = NewMetrics(reg)
	return t.metrics
}

// Start begins serving. It blocks until the context is cancelled or the
// server fails.
func (t *Transport) Start(ctx context.Context) error {
	t.BuildMetrics()

	// Action routes get the full middleware chain; auth before the
	// pipeline so receipts always carry a resolved actor.
	actions := actionHandler(t.pipeline)
	actions = APIKeyMiddleware(t.keys)(actions)
	actions = RequestIDMiddleware(t.logger)(actions)
	actions = MetricsMiddleware(t.metrics)(actions)

	receipts := receiptsHandler(t.chain)
	receipts = APIKeyMiddleware(t.keys)(receipts)
	receipts = RequestIDMiddleware(t.logger)(receipts)
	receipts = MetricsMiddleware(t.metrics)(receipts)

	mux := http.NewServeMux()
	mux.Handle("POST /v1/actions/{action}", actions)
	mux.Handle("GET /v1/receipts/{job}", receipts)
	mux.Handle("/healthz", healthHandler(t.monitor))
	mux.Handle("/metrics", promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{
		Registry: t.registry,
	}))

	t.server = &http.Server{
		Addr:    t.addr,
		Handler: mux,
	}

	if t.certFile != "" && t.keyFile != "" {
		t.server.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if t.certFile != "" && t.keyFile != "" {
			t.logger.Info("starting HTTPS server", "addr", t.addr)
			err = t.server.ListenAndServeTLS(t.certFile, t.keyFile)
		} else {
			t.logger.Info("starting HTTP server", "addr", t.addr)
			err = t.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		t.logger.Info("context cancelled, shutting down HTTP server")
		return t.shutdown()
	case err := <-errCh:
		return err
	}
}

// shutdown performs graceful shutdown of the HTTP server.
func (t *Transport) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := t.server.Shutdown(ctx); err != nil {
		t.logger.Error("error during server shutdown", "error", err)
		return err
	}

	t.logger.Info("HTTP server shutdown complete")
	return nil
}

// Close gracefully shuts down the transport.
func (t *Transport) Close() error {
	if t.server == nil {
		return nil
	}
	return t.shutdown()
}
