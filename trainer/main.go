package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/animus-labs/netsec-pipeline/internal/errs"
	"github.com/animus-labs/netsec-pipeline/internal/pipeline"
	"github.com/animus-labs/netsec-pipeline/internal/platform/env"
	"github.com/animus-labs/netsec-pipeline/internal/runctx"
)

func main() {
	os.Exit(run())
}

// run returns 2 for configuration problems and 1 for a failed run.
func run() int {
	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rc, err := runctx.Load(runctx.Options{
		WorkDir:   env.String("TRAINER_WORK_DIR", "."),
		ConfigDir: env.String("TRAINER_CONFIG_DIR", ""),
		RunID:     env.String("TRAINER_RUN_ID", ""),
	})
	if err != nil {
		bootLogger.Error("invalid pipeline configuration", "error", err)
		return 2
	}

	logPath, err := rc.LogFile()
	if err != nil {
		bootLogger.Error("log directory unavailable", "error", err)
		return 1
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		bootLogger.Error("log file unavailable", "path", logPath, "error", err)
		return 1
	}
	defer func() { _ = logFile.Close() }()
	logger := slog.New(slog.NewJSONHandler(io.MultiWriter(os.Stdout, logFile), nil)).With("service", "trainer")

	deps, release, err := pipeline.Setup(ctx, rc, logger)
	defer release()
	if err != nil {
		var ce *errs.ConfigError
		if errors.As(err, &ce) {
			logger.Error("invalid trainer setup", "error", err)
			return 2
		}
		logger.Error("trainer setup failed", "error", err)
		return 1
	}

	res, err := pipeline.New(rc, deps).Run(ctx)
	if err != nil {
		var se *errs.StageError
		if errors.As(err, &se) {
			logger.Error("training run failed", "stage", se.Stage, "error", err)
		} else {
			logger.Error("training run failed", "error", err)
		}
		return 1
	}
	logger.Info("training run succeeded",
		"run_id", rc.RunID(),
		"best_model", res.Training.BestModel,
		"final_model", res.Publishing.LocalPath,
	)
	return 0
}
