package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Covenant-Gate/Covenantgate/internal/adapter/inbound/http"
	"github.com/Covenant-Gate/Covenantgate/internal/adapter/inbound/rpc"
	"github.com/Covenant-Gate/Covenantgate/internal/adapter/outbound/cel"
	"github.com/Covenant-Gate/Covenantgate/internal/adapter/outbound/chunkfile"
	"github.com/Covenant-Gate/Covenantgate/internal/adapter/outbound/journal"
	"github.com/Covenant-Gate/Covenantgate/internal/adapter/outbound/memory"
	"github.com/Covenant-Gate/Covenantgate/internal/adapter/outbound/sqlite"
	"github.com/Covenant-Gate/Covenantgate/internal/config"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/action"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/auth"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/consent"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/decision"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/firewall"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/gate"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/genome"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/knowledge"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/ratelimit"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/receipt"
	"github.com/Covenant-Gate/Covenantgate/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the pipeline server",
	Long: `Start the Covenant Gate pipeline server.

The server exposes:
  POST /v1/actions/{action}   run an action through the pipeline
  GET  /v1/receipts/{job}     read the receipt chain for a job
  GET  /healthz               heartbeat status
  GET  /metrics               Prometheus metrics

Examples:
  # Start with config file settings
  covenant-gate serve

  # Start in development mode with an unsigned permissive artifact
  covenant-gate serve --dev

  # Serve JSON-RPC over stdio alongside HTTP
  covenant-gate serve --rpc-stdio`,
	RunE: runServe,
}

var (
	devMode     bool
	rpcStdio    bool
	traceStdout bool
)

func init() {
	serveCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (debug logging, unsigned artifact, seeded credentials)")
	serveCmd.Flags().BoolVar(&rpcStdio, "rpc-stdio", false, "Serve JSON-RPC on stdin/stdout alongside HTTP")
	serveCmd.Flags().BoolVar(&traceStdout, "trace-stdout", false, "Emit OpenTelemetry traces and metrics to stdout")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load configuration (without validation, so CLI flags can override first)
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Override dev mode from CLI flag
	if devMode {
		cfg.DevMode = true
	}

	// Apply dev defaults (fills auth if empty in dev mode)
	cfg.SetDevDefaults()

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// Create signal context for graceful shutdown.
	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop() // Restore default: next Ctrl+C = immediate exit.
	}()

	// Logger to stderr (stdout reserved for the RPC stream in stdio mode)
	logLevel := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}

	logger.Info("covenant-gate stopped")
	return nil
}

// run wires all components together and serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	shutdownTelemetry, err := setupTelemetry(traceStdout, logger)
	if err != nil {
		return fmt.Errorf("telemetry setup: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	registry := action.DefaultRegistry()

	// Policy artifact: a load failure is fatal, there is no degraded mode.
	var artifact *genome.Artifact
	switch {
	case cfg.Artifact.Path != "":
		artifact, err = genome.NewLoader(logger).Load(
			cfg.Artifact.Path,
			genome.Posture(cfg.Artifact.Posture),
			cfg.Artifact.RepoRoot,
		)
		if err != nil {
			return fmt.Errorf("load policy artifact: %w", err)
		}
		logger.Info("policy artifact loaded",
			"artifact", artifact.ID(),
			"version", artifact.Version,
			"posture", cfg.Artifact.Posture,
		)
	case cfg.DevMode:
		artifact = genome.DevArtifact(registry.IDs())
		logger.Warn("running with an unsigned development artifact; every registered action is granted")
	default:
		return errors.New("artifact.path is required outside dev mode")
	}

	// Shared mutable state: consent map, token ledger, rate buckets,
	// idempotency records.
	consents := consent.NewStore(cfg.AnchorActors)
	ledger := memory.NewTokenLedger()
	limiter := memory.NewRateLimiter()
	limiter.StartCleanup(ctx)
	defer limiter.Stop()
	idem := memory.NewIdempotencyStore(memory.DefaultIdempotencyTTL)
	idem.StartCleanup(ctx)
	defer idem.Stop()

	// Receipt chain per configured store kind.
	var chain receipt.Chain
	switch cfg.Store.Kind {
	case "sqlite":
		store, err := sqlite.Open(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("open sqlite receipt store: %w", err)
		}
		defer func() { _ = store.Close() }()
		chain = store
	case "journal":
		j, err := journal.Open(cfg.Store.Path, logger)
		if err != nil {
			return fmt.Errorf("open receipt journal: %w", err)
		}
		defer func() { _ = j.Close() }()
		chain = j
	default:
		chain = memory.NewReceiptStore()
	}
	logger.Info("receipt store ready", "kind", cfg.Store.Kind, "path", cfg.Store.Path)

	// Decision kernel with CEL grant conditions.
	cond, err := cel.NewEvaluator()
	if err != nil {
		return fmt.Errorf("create condition evaluator: %w", err)
	}
	kernel := decision.NewKernel(artifact, registry, consents, ledger, cond, logger)

	// Firewalls. Strict egress is forced in production posture.
	ingress := firewall.NewIngress(firewall.IngressConfig{
		MaxRequestSize: cfg.Ingress.MaxRequestSize,
		RateLimit: ratelimit.Config{
			Window:      cfg.RateLimitWindow(),
			MaxRequests: cfg.RateLimit.MaxRequests,
		},
	}, limiter, logger)
	egress := firewall.NewEgress(firewall.EgressConfig{
		MaxResponseSize: cfg.Egress.MaxResponseSize,
		Strict:          cfg.Egress.Strict || cfg.Artifact.Posture == config.PostureProduction,
	}, logger)
	outputPolicy := firewall.NewOutputPolicy(logger)

	// Side-effect gate.
	g := gate.NewGate(ledger, idem, gate.Config{
		MaxTotal:    cfg.Concurrency.MaxTotal,
		MaxPerActor: cfg.Concurrency.MaxPerActor,
		JobTimeout:  cfg.JobTimeout(),
	}, logger)

	// Heartbeat: the process starts fail-closed until the first probe
	// round passes.
	hb := service.NewHeartbeatService(artifact, registry, kernel, chain, ledger,
		cfg.HeartbeatInterval(), logger)
	hb.Start(ctx)
	defer hb.Stop()

	// Auth: seed identities and API keys from config.
	authStore := memory.NewAuthStore()
	if err := seedAuth(ctx, cfg, authStore); err != nil {
		return fmt.Errorf("seed auth: %w", err)
	}
	keys := auth.NewAPIKeyService(authStore)
	logger.Debug("seeded auth from config",
		"identities", len(cfg.Auth.Identities),
		"api_keys", len(cfg.Auth.APIKeys),
	)

	// Knowledge ingestion.
	var retriever knowledge.ChunkRetriever
	if cfg.Knowledge.CorpusPath != "" {
		corpus, err := chunkfile.Load(cfg.Knowledge.CorpusPath)
		if err != nil {
			return fmt.Errorf("load chunk corpus: %w", err)
		}
		retriever = corpus
		logger.Info("chunk corpus loaded", "path", cfg.Knowledge.CorpusPath)
	} else {
		retriever = chunkfile.NewStatic()
	}
	claimStore := memory.NewClaimStore()
	ks := service.NewKnowledgeService(retriever, claimStore, logger)

	// Async receipt notification feed.
	feed := service.NewReceiptFeed(
		[]service.ReceiptObserver{service.LogObserver{Logger: logger}},
		logger,
	)
	feed.Start(ctx)
	defer feed.Stop()

	// Pipeline orchestrator.
	pipeline := service.NewPipelineService(
		ingress, egress, outputPolicy, kernel, g, chain, registry, hb.Monitor(),
		artifact.ID(), artifact.Version,
		logger,
		service.WithReceiptFeed(feed),
	)

	// Action handlers. Job executor and memory graph are in-process
	// stand-ins for the external collaborators.
	jobs := service.NewJobRunner(logger)
	mem := service.NewMemoryGraph()
	pipeline.RegisterHandler(action.JobRun, jobs.RunHandler())
	pipeline.RegisterHandler(action.JobCancel, jobs.CancelHandler())
	pipeline.RegisterHandler(action.MemoryCreate, mem.CreateHandler())
	pipeline.RegisterHandler(action.MemoryQuery, mem.QueryHandler())
	pipeline.RegisterHandler(action.OIInterpret, service.InterpretHandler())
	pipeline.RegisterHandler(action.KnowledgeIngest, ks.IngestHandler())
	pipeline.RegisterHandler(action.ConsentSignal, service.ConsentHandler(consents))
	pipeline.RegisterHandler(action.HealthCheck, service.HealthHandler())

	// HTTP transport. Metrics are built ahead of Start so the pipeline
	// can record into the same registry.
	opts := []http.Option{
		http.WithAddr(cfg.Server.HTTPAddr),
		http.WithLogger(logger),
	}
	if cfg.Server.TLSCert != "" && cfg.Server.TLSKey != "" {
		opts = append(opts, http.WithTLS(cfg.Server.TLSCert, cfg.Server.TLSKey))
	}
	transport := http.NewTransport(pipeline, chain, hb.Monitor(), keys, opts...)
	metrics := transport.BuildMetrics()
	pipeline.SetMetrics(metrics)

	// Background maintenance: token GC and gauge refresh.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := ledger.GC(ctx, time.Now()); err == nil && n > 0 {
					logger.Debug("token ledger gc", "removed", n)
				}
				metrics.RateLimitKeys.Set(float64(limiter.Size()))
				metrics.TokensTracked.Set(float64(ledger.Size()))
			}
		}
	}()

	// Optional JSON-RPC over stdio.
	if rpcStdio {
		rpcServer := rpc.NewServer(pipeline, chain, hb.Monitor(), keys, logger)
		go func() {
			if err := rpcServer.Serve(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("rpc server stopped", "error", err)
			}
		}()
		logger.Info("rpc server listening on stdio")
	}

	return transport.Start(ctx)
}

// seedAuth populates the auth store from config.
func seedAuth(ctx context.Context, cfg *config.Config, store *memory.AuthStore) error {
	for _, identityCfg := range cfg.Auth.Identities {
		if err := store.PutIdentity(ctx, &auth.Identity{
			ID:   identityCfg.ID,
			Name: identityCfg.Name,
		}); err != nil {
			return err
		}
	}

	for _, keyCfg := range cfg.Auth.APIKeys {
		// Config stores "sha256:abc123" or a PHC Argon2id string; the
		// store keys sha256 entries by the bare hex.
		hash := strings.TrimPrefix(keyCfg.KeyHash, "sha256:")

		if err := store.PutAPIKey(ctx, &auth.APIKey{
			Key:       hash,
			ActorID:   keyCfg.ActorID,
			Name:      keyCfg.Name,
			CreatedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
	}

	return nil
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
