package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/animus-labs/netsec-pipeline/internal/frame"
	"github.com/animus-labs/netsec-pipeline/internal/inference"
	"github.com/animus-labs/netsec-pipeline/internal/platform/httpserver"
)

// modelHolder owns the current inference model. Readers take the read
// lock; reload swaps the pointer under the write lock.
type modelHolder struct {
	path string

	mu       sync.RWMutex
	model    *inference.Model
	loadedAt time.Time
}

func newModelHolder(path string) *modelHolder {
	return &modelHolder{path: filepath.Clean(path)}
}

// load replaces the current model. On error the previous model stays.
func (h *modelHolder) load() error {
	m, err := inference.Load(h.path)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.model, h.loadedAt = m, time.Now().UTC()
	h.mu.Unlock()
	return nil
}

func (h *modelHolder) current() (*inference.Model, time.Time) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.model, h.loadedAt
}

func (h *modelHolder) ready(context.Context) error {
	if m, _ := h.current(); m == nil {
		return errors.New("no model loaded")
	}
	return nil
}

// watch reloads the model whenever its file is created or rewritten. The
// directory is watched because the trainer replaces the file by rename; it
// is created when no model has been published yet.
func (h *modelHolder) watch(ctx context.Context, logger *slog.Logger) error {
	dir := filepath.Dir(h.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return err
	}
	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != h.path || !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
					continue
				}
				if err := h.load(); err != nil {
					logger.Warn("model reload failed", "path", h.path, "op", event.Op.String(), "error", err)
					continue
				}
				logger.Info("model reloaded", "path", h.path)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warn("model watcher error", "error", err)
			}
		}
	}()
	return nil
}

type servingAPI struct {
	logger *slog.Logger
	models *modelHolder
	jobs   *trainJobs
}

// newServingAPI registers the training routes only when jobs is non-nil.
func newServingAPI(logger *slog.Logger, models *modelHolder, jobs *trainJobs) *servingAPI {
	return &servingAPI{logger: logger, models: models, jobs: jobs}
}

func (api *servingAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /predict", api.handlePredict)
	mux.HandleFunc("GET /model", api.handleModel)
	if api.jobs != nil {
		mux.HandleFunc("POST /train", api.handleTrain)
		mux.HandleFunc("GET /train", api.handleTrainStatus)
	}
}

type predictResponse struct {
	Model         string    `json:"model"`
	Rows          int       `json:"rows"`
	Predictions   []float64 `json:"predictions"`
	Probabilities []float64 `json:"probabilities,omitempty"`
}

// handlePredict takes a CSV body with a header row. Columns beyond the
// model's feature columns are ignored. ?proba=true adds P(positive).
func (api *servingAPI) handlePredict(w http.ResponseWriter, r *http.Request) {
	model, _ := api.models.current()
	if model == nil {
		httpserver.WriteError(w, r, http.StatusServiceUnavailable, "model_unavailable", "")
		return
	}
	withProba := false
	if raw := r.URL.Query().Get("proba"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_query", "proba must be a boolean")
			return
		}
		withProba = v
	}

	f, err := frame.ReadCSV(r.Body)
	if err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_csv", err.Error())
		return
	}
	if f.Len() == 0 {
		httpserver.WriteError(w, r, http.StatusBadRequest, "empty_input", "")
		return
	}
	x, err := model.Matrix(f)
	if err != nil {
		httpserver.WriteError(w, r, http.StatusUnprocessableEntity, "invalid_features", err.Error())
		return
	}
	preds, err := model.Predict(x)
	if err != nil {
		api.logger.Error("predict failed", "error", err)
		httpserver.WriteError(w, r, http.StatusUnprocessableEntity, "prediction_failed", err.Error())
		return
	}
	resp := predictResponse{Model: model.EstimatorID, Rows: len(preds), Predictions: preds}
	if withProba {
		if resp.Probabilities, err = model.PredictProba(x); err != nil {
			httpserver.WriteError(w, r, http.StatusUnprocessableEntity, "prediction_failed", err.Error())
			return
		}
	}
	httpserver.WriteJSON(w, http.StatusOK, resp)
}

func (api *servingAPI) handleModel(w http.ResponseWriter, r *http.Request) {
	model, loadedAt := api.models.current()
	if model == nil {
		httpserver.WriteError(w, r, http.StatusServiceUnavailable, "model_unavailable", "")
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{
		"estimator_id":    model.EstimatorID,
		"feature_columns": model.FeatureColumns,
		"target_column":   model.TargetColumn,
		"inverse_labels":  model.InverseLabels,
		"loaded_at":       loadedAt.Format(time.RFC3339),
	})
}
