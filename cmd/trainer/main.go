package main

import (
	"context"
	"flag"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mohammed-shakir/stream-optimizer/internal/bitrate"
	"github.com/mohammed-shakir/stream-optimizer/internal/checkpoint"
	"github.com/mohammed-shakir/stream-optimizer/internal/config"
	"github.com/mohammed-shakir/stream-optimizer/internal/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	dataset := flag.String("dataset", "", "JSON dataset of {features, target} examples; synthetic when empty")
	modelsDir := flag.String("models-dir", "", "checkpoint directory for the file backend")
	epochs := flag.Int("epochs", 100, "training epochs")
	batchSize := flag.Int("batch-size", 32, "training batch size")
	lr := flag.Float64("learning-rate", 1e-3, "Adam learning rate")
	samples := flag.Int("samples", 1000, "synthetic examples to generate")
	seqLen := flag.Int("seq-len", bitrate.SyntheticSeqLen, "rows per synthetic sequence")
	resume := flag.Bool("resume", false, "start from the stored checkpoint")
	flag.Parse()

	cfg := config.FromEnv()
	if *modelsDir != "" {
		cfg.Checkpoint.ModelsDir = *modelsDir
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		Component: "trainer",
	}, os.Stdout)
	log := logger.NewSlog(&zl)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var data []bitrate.Example
	if *dataset != "" {
		f, err := os.Open(*dataset)
		if err != nil {
			log.Error("open dataset", "err", err)
			return 1
		}
		data, err = bitrate.LoadDataset(f)
		_ = f.Close()
		if err != nil {
			log.Error("load dataset", "path", *dataset, "err", err)
			return 1
		}
	} else {
		rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed+1))
		data = bitrate.Synthetic(rng, *samples, *seqLen)
	}

	log.Info("starting model training",
		"dataset", *dataset,
		"examples", len(data),
		"epochs", *epochs,
		"batch_size", *batchSize,
		"backend", cfg.Checkpoint.Backend)

	store, err := checkpoint.Open(ctx, cfg.Checkpoint.Store())
	if err != nil {
		log.Error("checkpoint store setup failed", "err", err)
		return 1
	}
	mgr := checkpoint.NewManager(store, checkpoint.ManagerOptions{Logger: log})
	defer func() { _ = mgr.Close() }()

	reg := bitrate.New(bitrate.Config{
		LearningRate: *lr,
		MinKbps:      cfg.MinBitrateKbps,
		MaxKbps:      cfg.MaxBitrateKbps,
		Seed:         cfg.Seed,
	})
	if *resume {
		if err := mgr.Load(ctx, bitrate.ModelName, reg); err != nil {
			log.Warn("resume failed, training from scratch", "err", err)
		}
	}

	start := time.Now()
	losses := reg.Train(data, bitrate.TrainOptions{
		Epochs:    *epochs,
		BatchSize: *batchSize,
		LogEvery:  10,
		Logger:    log,
	})
	final := 0.0
	if len(losses) > 0 {
		final = losses[len(losses)-1]
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := mgr.Save(sctx, bitrate.ModelName, reg); err != nil {
		log.Error("saving model failed", "err", err)
		return 1
	}
	log.Info("training complete", "final_loss", final, "took", time.Since(start))
	return 0
}
