// Package main — cmd/hearthcore/main.go
//
// hearthcore daemon entrypoint.
//
// Startup sequence:
//  1. Load and validate config from /etc/hearthcore/config.yaml.
//  2. Initialise structured logger (zap, JSON prod / console dev).
//  3. Open per-space BoltDB storage.
//  4. Start Prometheus metrics server (loopback-only).
//  5. Open the event bus (per-topic WAL, consumer groups).
//  6. Build the retrieval/attention/hippocampus/cortex/arbiter subsystems.
//  7. Register the 20 named pipelines against the bus.
//  8. Start the consolidation-sweep ticker (P03).
//  9. Start the operator Unix socket server.
// 10. Register SIGHUP handler for config hot-reload.
// 11. Block on SIGINT/SIGTERM for graceful shutdown.
//
// Shutdown sequence (on SIGINT/SIGTERM):
//  1. Cancel root context (propagates to all goroutines).
//  2. Stop the bus (drains consumer groups, flushes WAL).
//  3. Close BoltDB.
//  4. Flush logger.
//  5. Exit 0.
//
// On config validation failure: exit 1 immediately (no partial state).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hearthcore/hearthcore/internal/arbiter"
	"github.com/hearthcore/hearthcore/internal/attention"
	"github.com/hearthcore/hearthcore/internal/bus"
	"github.com/hearthcore/hearthcore/internal/config"
	"github.com/hearthcore/hearthcore/internal/cortex"
	"github.com/hearthcore/hearthcore/internal/hippocampus"
	"github.com/hearthcore/hearthcore/internal/idgen"
	"github.com/hearthcore/hearthcore/internal/observability"
	"github.com/hearthcore/hearthcore/internal/operator"
	"github.com/hearthcore/hearthcore/internal/pipeline"
	"github.com/hearthcore/hearthcore/internal/policy"
	"github.com/hearthcore/hearthcore/internal/retrieval"
	"github.com/hearthcore/hearthcore/internal/storage"
)

const defaultSpaceID = "shared:family"

func main() {
	configPath := flag.String("config", "/etc/hearthcore/config.yaml", "Path to config.yaml")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("hearthcore %s (commit=%s built=%s)\n", config.Version, config.GitCommit, config.BuildTime)
		os.Exit(0)
	}

	// ── Step 1: Load config ──────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: config load failed: %v\n", err)
		os.Exit(1)
	}

	// ── Step 2: Initialise logger ────────────────────────────────────────────
	log, err := buildLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("hearthcore starting",
		zap.String("version", config.Version),
		zap.String("commit", config.GitCommit),
		zap.String("built", config.BuildTime),
		zap.String("node_id", cfg.NodeID),
		zap.String("config", *configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Step 3: Open storage ─────────────────────────────────────────────────
	dbPath := filepath.Join(cfg.Storage.DataDir, "hearthcore.db")
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o700); err != nil {
		log.Fatal("data dir create failed", zap.Error(err), zap.String("dir", cfg.Storage.DataDir))
	}
	kv, err := storage.Open(dbPath, defaultSpaceID)
	if err != nil {
		log.Fatal("storage open failed", zap.Error(err), zap.String("path", dbPath))
	}
	defer kv.Close() //nolint:errcheck
	log.Info("storage opened", zap.String("path", dbPath))

	// ── Step 4: Metrics server ───────────────────────────────────────────────
	metrics := observability.NewMetrics()
	go func() {
		if err := metrics.ServeMetrics(ctx, cfg.Observability.MetricsAddr); err != nil {
			log.Error("metrics server error", zap.Error(err))
		}
	}()
	log.Info("metrics server started", zap.String("addr", cfg.Observability.MetricsAddr))

	// ── Step 5: Event bus ─────────────────────────────────────────────────────
	busOpts := bus.Options{
		WALDir:          filepath.Join(cfg.Storage.DataDir, "wal"),
		MaxPayloadBytes: cfg.Bus.MaxPayloadBytes,
		AdmissionCap:    cfg.Bus.AdmissionCapacity,
		AdmissionRefill: time.Duration(cfg.Bus.AdmissionRefillMS) * time.Millisecond,
		FlushInterval:   time.Duration(cfg.Storage.FlushIntervalMS) * time.Millisecond,
		MaxAttempts:     cfg.Bus.MaxAttempts,
		ShardCount:      cfg.Bus.ShardCount,
		Backoff: bus.BackoffParams{
			Base:   time.Duration(cfg.Bus.BackoffBaseMS) * time.Millisecond,
			Max:    time.Duration(cfg.Bus.BackoffMaxMS) * time.Millisecond,
			Jitter: cfg.Bus.BackoffJitter,
		},
	}
	eventBus := bus.New(kv, log, busOpts)
	defer eventBus.Close() //nolint:errcheck

	// ── Step 6: Build subsystems ──────────────────────────────────────────────
	ids := idgen.NewSource()
	clock := policy.SystemClock{}

	loc, err := time.LoadLocation(cfg.Temporal.Timezone)
	if err != nil {
		log.Fatal("invalid temporal.timezone", zap.Error(err), zap.String("timezone", cfg.Temporal.Timezone))
	}

	corpus := &retrieval.Corpus{
		BM25:  retrieval.NewBM25Index(),
		TFIDF: retrieval.NewTFIDFIndex(),
		IDs:   nil,
		Meta:  map[string]retrieval.CandidateMeta{},
	}
	cal := retrieval.DefaultCalibration()
	cal.A, cal.B = cfg.Retrieval.CalibrationA, cfg.Retrieval.CalibrationB
	search := retrieval.NewSearch(corpus, retrieval.DefaultWeights(), cal, nil, clock)

	loadMeter := attention.NewLoadMeter(cfg.Attention.LoadAlpha)
	gate := attention.NewGate(attention.DefaultWeights(), attention.Thresholds{
		AdmitHigh: cfg.Attention.AdmitHigh, AdmitLow: cfg.Attention.AdmitLow,
		LoadDeferCutoff: cfg.Attention.LoadDeferCutoff, LoadDropCutoff: cfg.Attention.LoadDropCutoff,
	}, loadMeter, attention.UrgencyBoostPolicy{Threshold: 0.8})

	var tier0 cortex.Predictor = cortex.NewLinearTier0(cortex.DefaultWeights())

	arb := arbiter.New(arbiter.DefaultWeights(), policy.NoopPolicyEvaluator{}, ids, clock, cfg.Arbiter.StrictAudit)

	deps := pipeline.Deps{
		KV:            kv,
		Bus:           eventBus,
		IDs:           ids,
		Clock:         clock,
		Redactor:      policy.NoopRedactor{},
		Evaluator:     policy.NoopPolicyEvaluator{},
		Separator:     hippocampus.NewSeparator(2048),
		Completer:     hippocampus.NewCompleter(),
		Bridge:        hippocampus.NewBridge(),
		Search:        search,
		AttentionGate: gate,
		Tier0:         tier0,
		Arbiter:       arb,
		Metrics:       metrics,
		Log:           log,
		Location:      loc,
	}
	registry := pipeline.New(deps)

	// ── Step 7: Register pipelines ────────────────────────────────────────────
	if err := registry.RegisterAll(); err != nil {
		log.Fatal("pipeline registration failed", zap.Error(err))
	}
	log.Info("pipelines registered")

	// ── Step 8: Consolidation sweep ticker (P03) ──────────────────────────────
	go runConsolidationSweeps(ctx, registry, log)

	// ── Step 9: Operator socket ────────────────────────────────────────────────
	var opSrv *operator.Server
	if cfg.Operator.Enabled {
		opSrv = operator.NewServer(cfg.Operator.SocketPath, eventBus, staticSpaceStore{kv: kv}, log, cfg.Operator.MaxConnections)
		go func() {
			if err := opSrv.ListenAndServe(ctx); err != nil {
				log.Error("operator server error", zap.Error(err))
			}
		}()
		log.Info("operator socket started", zap.String("path", cfg.Operator.SocketPath))
	}

	// ── Step 10: SIGHUP hot-reload ─────────────────────────────────────────────
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			log.Info("SIGHUP received — reloading config...")
			newCfg, err := config.Load(*configPath)
			if err != nil {
				log.Error("config hot-reload failed — retaining old config", zap.Error(err))
				continue
			}
			loadMeter.SetAlpha(newCfg.Attention.LoadAlpha)
			log.Info("config hot-reload applied (non-destructive fields only)",
				zap.Float64("attention_load_alpha", newCfg.Attention.LoadAlpha))
		}
	}()

	// ── Step 11: Wait for shutdown signal ─────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown signal received", zap.String("signal", sig.String()))

	cancel()
	time.Sleep(200 * time.Millisecond) // let in-flight handlers observe ctx.Done()
	log.Info("hearthcore shutdown complete")
}

// runConsolidationSweeps drives P03 on an adaptive timer. The next
// interval is computed from the number of rollups the previous sweep
// applied (not from an episode backlog count), shrinking as that number
// grows.
func runConsolidationSweeps(ctx context.Context, registry *pipeline.Registry, log *zap.Logger) {
	const (
		base          = 5 * time.Minute
		min           = 30 * time.Second
		highWatermark = 5000
	)
	timer := time.NewTimer(base)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			applied, err := registry.RunConsolidationSweep(ctx, 0.3, 200)
			if err != nil {
				log.Warn("consolidation sweep failed", zap.Error(err))
			} else {
				log.Info("consolidation sweep complete", zap.Int("rollups_applied", applied))
			}
			next := pipeline.NextSweepInterval(base, min, applied, highWatermark)
			timer.Reset(next)
		}
	}
}

// staticSpaceStore resolves the single on-device default space to its
// KV. Only that one space is served.
type staticSpaceStore struct {
	kv *storage.KV
}

func (s staticSpaceStore) Lookup(spaceID string) (*storage.KV, bool) {
	if spaceID == defaultSpaceID || spaceID == s.kv.SpaceID() {
		return s.kv, true
	}
	return nil, false
}

// buildLogger constructs a zap.Logger with the given level and format.
func buildLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	return cfg.Build()
}
