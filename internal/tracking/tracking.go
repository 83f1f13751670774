// Package tracking records training runs (parameters and metrics) in an
// experiment store. Callers treat failures as warnings.
package tracking

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Run is one finished training run.
type Run struct {
	Experiment    string
	PipelineRunID string
	Model         string
	Params        map[string]any
	// Metrics is keyed by split, then metric name.
	Metrics   map[string]map[string]float64
	StartedAt time.Time
	EndedAt   time.Time
}

func (r Run) Validate() error {
	switch {
	case strings.TrimSpace(r.Experiment) == "":
		return errors.New("experiment is required")
	case strings.TrimSpace(r.PipelineRunID) == "":
		return errors.New("pipeline run id is required")
	case strings.TrimSpace(r.Model) == "":
		return errors.New("model is required")
	}
	return nil
}

type Tracker interface {
	// Record stores run and returns the tracking identifier.
	Record(ctx context.Context, run Run) (string, error)
}

type Nop struct{}

func (Nop) Record(context.Context, Run) (string, error) { return "", nil }

// Log writes the run as one structured log line.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Record(_ context.Context, run Run) (string, error) {
	if err := run.Validate(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	l.Logger.Info("tracking run",
		"tracking_id", id,
		"experiment", run.Experiment,
		"run_id", run.PipelineRunID,
		"model", run.Model,
		"params", run.Params,
		"metrics", run.Metrics,
	)
	return id, nil
}

const Schema = `CREATE TABLE IF NOT EXISTS training_runs (
	tracking_id      UUID PRIMARY KEY,
	experiment       TEXT NOT NULL,
	run_id           TEXT NOT NULL,
	model            TEXT NOT NULL,
	params           JSONB NOT NULL,
	metrics          JSONB NOT NULL,
	started_at       TIMESTAMPTZ NOT NULL,
	ended_at         TIMESTAMPTZ NOT NULL,
	integrity_sha256 TEXT NOT NULL
)`

type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Postgres inserts each run into training_runs.
type Postgres struct {
	db  Execer
	now func() time.Time
}

func NewPostgres(db Execer) *Postgres {
	return &Postgres{db: db, now: time.Now}
}

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("create training_runs: %w", err)
	}
	return nil
}

func (p *Postgres) Record(ctx context.Context, run Run) (string, error) {
	if err := run.Validate(); err != nil {
		return "", err
	}
	if run.EndedAt.IsZero() {
		run.EndedAt = p.now().UTC()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = run.EndedAt
	}
	params := run.Params
	if params == nil {
		params = map[string]any{}
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("marshal params: %w", err)
	}
	metrics := run.Metrics
	if metrics == nil {
		metrics = map[string]map[string]float64{}
	}
	metricsJSON, err := json.Marshal(metrics)
	if err != nil {
		return "", fmt.Errorf("marshal metrics: %w", err)
	}

	id := uuid.New()
	integrity := integritySHA256(id.String(), run, paramsJSON, metricsJSON)
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO training_runs (
			tracking_id,
			experiment,
			run_id,
			model,
			params,
			metrics,
			started_at,
			ended_at,
			integrity_sha256
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		id,
		run.Experiment,
		run.PipelineRunID,
		run.Model,
		paramsJSON,
		metricsJSON,
		run.StartedAt.UTC(),
		run.EndedAt.UTC(),
		integrity,
	)
	if err != nil {
		return "", fmt.Errorf("insert training run: %w", err)
	}
	return id.String(), nil
}

func integritySHA256(id string, run Run, paramsJSON, metricsJSON []byte) string {
	blob, _ := json.Marshal(struct {
		ID         string          `json:"tracking_id"`
		Experiment string          `json:"experiment"`
		RunID      string          `json:"run_id"`
		Model      string          `json:"model"`
		Params     json.RawMessage `json:"params"`
		Metrics    json.RawMessage `json:"metrics"`
		StartedAt  time.Time       `json:"started_at"`
		EndedAt    time.Time       `json:"ended_at"`
	}{id, run.Experiment, run.PipelineRunID, run.Model, paramsJSON, metricsJSON, run.StartedAt.UTC(), run.EndedAt.UTC()})
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:])
}
