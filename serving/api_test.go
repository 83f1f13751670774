package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/animus-labs/netsec-pipeline/internal/inference"
	"github.com/animus-labs/netsec-pipeline/internal/ml/estimator"
	"github.com/animus-labs/netsec-pipeline/internal/ml/preprocess"
)

func discard() *slog.Logger { return slog.New(slog.NewJSONHandler(io.Discard, nil)) }

// saveModel fits id on a one-feature problem where b equals the label and
// writes it to path.
func saveModel(t *testing.T, path, id string) {
	t.Helper()
	x := [][]float64{{0}, {1}, {0}, {1}, {0}, {1}}
	y := []float64{0, 1, 0, 1, 0, 1}
	features := preprocess.NewPipeline()
	if err := features.Fit([]string{"b"}, x); err != nil {
		t.Fatal(err)
	}
	labels := preprocess.NewPipeline(&preprocess.LabelMapper{From: -1, To: 0})
	if err := labels.FitVector("Result", []float64{-1, 1, -1, 1, -1, 1}); err != nil {
		t.Fatal(err)
	}
	est, err := estimator.New(id, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := est.Fit(x, y); err != nil {
		t.Fatal(err)
	}
	m := &inference.Model{
		EstimatorID:    id,
		FeatureColumns: []string{"b"},
		TargetColumn:   "Result",
		Estimator:      est,
		Features:       features,
		Labels:         labels,
		InverseLabels:  true,
	}
	if err := m.Save(path); err != nil {
		t.Fatal(err)
	}
}

func newServer(t *testing.T, models *modelHolder) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	newServingAPI(discard(), models, nil).register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestPredict(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	saveModel(t, path, estimator.DecisionTreeID)
	models := newModelHolder(path)
	if err := models.load(); err != nil {
		t.Fatal(err)
	}
	srv := newServer(t, models)

	resp, err := http.Post(srv.URL+"/predict?proba=true", "text/csv", strings.NewReader("a,b\n7,1\n8,0\n"))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	var body predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Rows != 2 || body.Predictions[0] != 1 || body.Predictions[1] != -1 {
		t.Fatalf("body=%+v", body)
	}
	if len(body.Probabilities) != 2 || body.Probabilities[0] != 1 || body.Probabilities[1] != 0 {
		t.Fatalf("probabilities=%v", body.Probabilities)
	}
}

func TestPredict_Errors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	empty := newServer(t, newModelHolder(path))
	resp, err := http.Post(empty.URL+"/predict", "text/csv", strings.NewReader("b\n1\n"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("no model: status=%d", resp.StatusCode)
	}

	saveModel(t, path, estimator.GaussianNBID)
	models := newModelHolder(path)
	if err := models.load(); err != nil {
		t.Fatal(err)
	}
	srv := newServer(t, models)
	cases := map[string]struct {
		query string
		body  string
		want  int
	}{
		"missing column": {"", "a\n1\n", http.StatusUnprocessableEntity},
		"empty body":     {"", "", http.StatusBadRequest},
		"header only":    {"", "b\n", http.StatusBadRequest},
		"bad proba":      {"?proba=maybe", "b\n1\n", http.StatusBadRequest},
		"not numeric":    {"", "b\nx\n", http.StatusUnprocessableEntity},
	}
	for name, tc := range cases {
		resp, err := http.Post(srv.URL+"/predict"+tc.query, "text/csv", strings.NewReader(tc.body))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.want {
			t.Fatalf("%s: status=%d want %d", name, resp.StatusCode, tc.want)
		}
	}
}

func TestModelHolder_ReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	saveModel(t, path, estimator.GaussianNBID)
	models := newModelHolder(path)
	if err := models.load(); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := models.watch(ctx, discard()); err != nil {
		t.Fatal(err)
	}

	saveModel(t, path, estimator.DecisionTreeID)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if m, _ := models.current(); m.EstimatorID == estimator.DecisionTreeID {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("model not reloaded")
}

func TestModelHolder_WatchesBeforeFirstPublish(t *testing.T) {
	path := filepath.Join(t.TempDir(), "final_model", "model.json")
	models := newModelHolder(path)
	if err := models.load(); err == nil {
		t.Fatalf("expected load error before publish")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := models.watch(ctx, discard()); err != nil {
		t.Fatalf("watch: %v", err)
	}

	saveModel(t, path, estimator.GaussianNBID)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if m, _ := models.current(); m != nil {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("model not picked up after first publish")
}

func TestModelHolder_KeepsModelOnBadReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	saveModel(t, path, estimator.GaussianNBID)
	models := newModelHolder(path)
	if err := models.load(); err != nil {
		t.Fatal(err)
	}
	models.path = filepath.Join(t.TempDir(), "missing.json")
	if err := models.load(); err == nil {
		t.Fatalf("expected load error")
	}
	if m, _ := models.current(); m == nil || m.EstimatorID != estimator.GaussianNBID {
		t.Fatalf("model lost after failed reload")
	}
	if err := models.ready(context.Background()); err != nil {
		t.Fatalf("ready: %v", err)
	}
}
