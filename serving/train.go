package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/animus-labs/netsec-pipeline/internal/errs"
	"github.com/animus-labs/netsec-pipeline/internal/pipeline"
	"github.com/animus-labs/netsec-pipeline/internal/platform/httpserver"
	"github.com/animus-labs/netsec-pipeline/internal/runctx"
)

// trainFunc runs the pipeline once and returns the run id it used.
type trainFunc func(ctx context.Context) (string, error)

type trainStatus struct {
	Running    bool       `json:"running"`
	RunID      string     `json:"run_id,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Stage      string     `json:"failed_stage,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// trainJobs allows one training run at a time. Runs use base, not the
// request context, so they outlive the triggering request.
type trainJobs struct {
	base   context.Context
	train  trainFunc
	logger *slog.Logger

	mu     sync.Mutex
	status trainStatus
}

func newTrainJobs(base context.Context, train trainFunc, logger *slog.Logger) *trainJobs {
	return &trainJobs{base: base, train: train, logger: logger}
}

// start launches a run unless one is active.
func (j *trainJobs) start() (trainStatus, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Running {
		return j.status, false
	}
	now := time.Now().UTC()
	j.status = trainStatus{Running: true, StartedAt: &now}
	go j.run()
	return j.status, true
}

func (j *trainJobs) run() {
	runID, err := j.train(j.base)
	finished := time.Now().UTC()

	j.mu.Lock()
	defer j.mu.Unlock()
	j.status.Running = false
	j.status.RunID = runID
	j.status.FinishedAt = &finished
	if err != nil {
		j.status.Error = err.Error()
		j.status.Stage, _ = errs.StageOf(err)
		j.logger.Error("triggered training failed", "run_id", runID, "stage", j.status.Stage, "error", err)
		return
	}
	j.logger.Info("triggered training finished", "run_id", runID)
}

func (j *trainJobs) current() trainStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

func (api *servingAPI) handleTrain(w http.ResponseWriter, r *http.Request) {
	status, ok := api.jobs.start()
	if !ok {
		httpserver.WriteError(w, r, http.StatusConflict, "training_in_progress", "a training run is already active")
		return
	}
	httpserver.WriteJSON(w, http.StatusAccepted, status)
}

func (api *servingAPI) handleTrainStatus(w http.ResponseWriter, _ *http.Request) {
	httpserver.WriteJSON(w, http.StatusOK, api.jobs.current())
}

// pipelineTrainer builds a fresh RunContext per run and tees the run's log
// into its log directory, as the trainer binary does.
func pipelineTrainer(opts runctx.Options) trainFunc {
	return func(ctx context.Context) (string, error) {
		rc, err := runctx.Load(opts)
		if err != nil {
			return "", err
		}
		logPath, err := rc.LogFile()
		if err != nil {
			return rc.RunID(), err
		}
		logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return rc.RunID(), err
		}
		defer func() { _ = logFile.Close() }()
		runLogger := slog.New(slog.NewJSONHandler(io.MultiWriter(os.Stdout, logFile), nil)).With("service", "serving")

		deps, release, err := pipeline.Setup(ctx, rc, runLogger)
		defer release()
		if err != nil {
			return rc.RunID(), err
		}
		_, err = pipeline.New(rc, deps).Run(ctx)
		return rc.RunID(), err
	}
}
