package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mohammed-shakir/stream-optimizer/internal/admin"
	"github.com/mohammed-shakir/stream-optimizer/internal/bitrate"
	"github.com/mohammed-shakir/stream-optimizer/internal/checkpoint"
	"github.com/mohammed-shakir/stream-optimizer/internal/config"
	"github.com/mohammed-shakir/stream-optimizer/internal/control"
	"github.com/mohammed-shakir/stream-optimizer/internal/health"
	"github.com/mohammed-shakir/stream-optimizer/internal/logger"
	"github.com/mohammed-shakir/stream-optimizer/internal/metrics"
	"github.com/mohammed-shakir/stream-optimizer/internal/observability"
	"github.com/mohammed-shakir/stream-optimizer/internal/policy"
	"github.com/mohammed-shakir/stream-optimizer/internal/telemetry"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	trainFlag := flag.Bool("train", false, "enable online training")
	serverFlag := flag.String("server", "", "metrics websocket URL")
	modelsFlag := flag.String("models-dir", "", "checkpoint directory for the file backend")
	verboseFlag := flag.Bool("verbose", false, "debug logging")
	flag.Parse()

	cfg := config.FromEnv()
	if *trainFlag {
		cfg.TrainingEnabled = true
	}
	if s := strings.TrimSpace(*serverFlag); s != "" {
		cfg.MetricsURL = s
	}
	if s := strings.TrimSpace(*modelsFlag); s != "" {
		cfg.Checkpoint.ModelsDir = s
	}
	if *verboseFlag {
		cfg.LogLevel = "debug"
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Stream:    cfg.Stream,
		Component: "optimizer",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	if err := cfg.Validate(); err != nil {
		appLog.Error("invalid configuration", "err", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessionID := logger.NewID()
	ctx = logger.WithSession(ctx, sessionID)
	ctx = logger.WithStream(ctx, cfg.Stream)

	appLog.InfoContext(ctx, "starting optimizer",
		"version", Version,
		"transport", cfg.Transport,
		"training", cfg.TrainingEnabled,
		"checkpoint_backend", cfg.Checkpoint.Backend)

	prov := metrics.Init(metrics.Config{
		Enabled: cfg.MetricsEnabled,
		Path:    cfg.MetricsPath,
		Build:   metrics.BuildInfo{Version: Version, Revision: os.Getenv("BUILD_REVISION")},
	})
	obs := observability.New(prov.Registerer())

	store, err := checkpoint.Open(ctx, cfg.Checkpoint.Store())
	if err != nil {
		appLog.ErrorContext(ctx, "checkpoint store setup failed", "err", err)
		return 1
	}
	mgr := checkpoint.NewManager(store, checkpoint.ManagerOptions{
		Logger:   appLog.With("component", "checkpoint"),
		Observer: obs.CheckpointOp,
	})
	defer func() {
		if err := mgr.Close(); err != nil {
			appLog.Warn("checkpoint store close", "err", err)
		}
	}()

	reg := bitrate.New(bitrate.Config{
		LearningRate: cfg.LearningRate,
		MinKbps:      cfg.MinBitrateKbps,
		MaxKbps:      cfg.MaxBitrateKbps,
		Seed:         cfg.Seed,
	})
	agent := policy.NewAgent(policy.Config{
		Gamma:         cfg.Gamma,
		Epsilon:       1.0,
		EpsilonMin:    cfg.EpsilonMin,
		EpsilonDecay:  cfg.EpsilonDecay,
		LearningRate:  cfg.LearningRate,
		MemorySize:    cfg.ReplayCapacity,
		BatchSize:     cfg.BatchSize,
		Dropout:       0.2,
		DropoutLayers: 2,
		Seed:          cfg.Seed,
	})

	loop := control.New(reg, agent, control.Config{
		SessionID:       sessionID,
		WindowSize:      cfg.WindowSize,
		MinSamples:      cfg.MinSamples,
		TrainEvery:      cfg.TrainEvery,
		TargetSyncEvery: cfg.TargetSyncEvery,
		Training:        cfg.TrainingEnabled,
		MinBitrateKbps:  cfg.MinBitrateKbps,
		MaxBitrateKbps:  cfg.MaxBitrateKbps,
		RecvTimeout:     cfg.RecvTimeout,
		ErrorBackoff:    cfg.ErrorBackoff,
	}, control.Options{
		Logger:      appLog,
		Metrics:     obs,
		Checkpoints: mgr,
		Ingestor: telemetry.NewIngestor(telemetry.IngestOptions{
			Logger:      appLog.With("component", "ingest"),
			HistorySize: cfg.HistorySize,
			DedupeSize:  cfg.DedupeSize,
		}),
	})
	// missing or malformed checkpoints are logged by the loop
	_ = loop.LoadModels(ctx)

	tr, err := openTransport(ctx, cfg, appLog, prov.Registerer())
	if err != nil {
		appLog.ErrorContext(ctx, "cannot establish the metrics connection", "err", err)
		return 1
	}
	defer tr.Close(appLog)

	adminErr := make(chan error, 1)
	go func() {
		h := admin.NewRouter(loop, admin.Options{
			Logger:   appLog,
			Metrics:  obs,
			Provider: prov,
			Ready:    map[string]health.Check{"transport": tr.ready},
		})
		adminErr <- admin.Run(ctx, cfg.Addr, h, appLog)
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- loop.Run(ctx, tr.src, tr.sink) }()

	code := 0
	select {
	case err := <-runErr:
		if err != nil {
			appLog.Error("control loop failed", "err", err)
			code = 1
		}
		stop()
		<-adminErr
	case err := <-adminErr:
		if err != nil {
			appLog.Error("admin server failed", "err", err)
			code = 1
		}
		stop()
		<-runErr
	}

	st := loop.Status()
	appLog.Info("optimizer stopped",
		"iterations", st.Iterations,
		"train_steps", st.TrainSteps,
		"epsilon", st.Epsilon)
	return code
}
