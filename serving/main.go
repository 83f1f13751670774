package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/animus-labs/netsec-pipeline/internal/platform/env"
	"github.com/animus-labs/netsec-pipeline/internal/platform/httpserver"
	"github.com/animus-labs/netsec-pipeline/internal/runctx"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := httpserver.ConfigFromEnv("serving")
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	workDir := env.String("SERVING_WORK_DIR", ".")
	modelPath := env.String("SERVING_MODEL_PATH", filepath.Join(workDir, "final_model", "model.json"))
	trainOpts := runctx.Options{
		WorkDir:   workDir,
		ConfigDir: env.String("SERVING_CONFIG_DIR", ""),
	}

	models := newModelHolder(modelPath)
	if err := models.load(); err != nil {
		// The watcher picks the model up once the trainer publishes it.
		logger.Warn("model not loaded", "path", modelPath, "error", err)
	}
	if err := models.watch(ctx, logger); err != nil {
		logger.Error("model watcher failed", "path", modelPath, "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz("serving"))
	mux.HandleFunc("/readyz", httpserver.ReadyzWithChecks("serving",
		httpserver.ReadinessCheck{Name: "model", Check: models.ready},
	))
	jobs := newTrainJobs(ctx, pipelineTrainer(trainOpts), logger)
	newServingAPI(logger, models, jobs).register(mux)

	if err := httpserver.Run(ctx, logger, cfg, httpserver.Wrap(logger, cfg, mux)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
