package inference

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/animus-labs/netsec-pipeline/internal/frame"
	"github.com/animus-labs/netsec-pipeline/internal/ml/estimator"
	"github.com/animus-labs/netsec-pipeline/internal/ml/preprocess"
)

func fitted(t *testing.T, inverse bool) (*Model, [][]float64) {
	t.Helper()
	x := [][]float64{{0, 1}, {0.2, math.NaN()}, {0.1, 1}, {5, -1}, {5.2, -1}, {4.9, math.NaN()}}

	features := preprocess.NewPipeline(
		&preprocess.SimpleImputer{Strategy: preprocess.StrategyMean},
		&preprocess.StandardScaler{WithMean: true, WithStd: true},
	)
	xt, err := features.FitTransform([]string{"a", "b"}, x)
	if err != nil {
		t.Fatalf("features: %v", err)
	}
	labels := preprocess.NewPipeline(&preprocess.LabelMapper{From: -1, To: 0})
	yt, err := labels.FitTransform([]string{"Result"}, [][]float64{{-1}, {-1}, {-1}, {1}, {1}, {1}})
	if err != nil {
		t.Fatalf("labels: %v", err)
	}
	est, err := estimator.New(estimator.LogisticRegressionID, nil)
	if err != nil {
		t.Fatalf("estimator: %v", err)
	}
	enc := make([]float64, len(yt))
	for i, r := range yt {
		enc[i] = r[0]
	}
	if err := est.Fit(xt, enc); err != nil {
		t.Fatalf("fit: %v", err)
	}
	return &Model{
		EstimatorID:    est.ID(),
		FeatureColumns: []string{"a", "b"},
		TargetColumn:   "Result",
		Estimator:      est,
		Features:       features,
		Labels:         labels,
		InverseLabels:  inverse,
	}, x
}

func TestPredict_EncodedAndInverse(t *testing.T) {
	m, x := fitted(t, false)
	got, err := m.Predict(x)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if want := []float64{0, 0, 0, 1, 1, 1}; !slices.Equal(got, want) {
		t.Fatalf("encoded=%v, want %v", got, want)
	}

	m.InverseLabels = true
	got, err = m.Predict(x)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if want := []float64{-1, -1, -1, 1, 1, 1}; !slices.Equal(got, want) {
		t.Fatalf("inverse=%v, want %v", got, want)
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	m, x := fitted(t, true)
	path := filepath.Join(t.TempDir(), "model.json")
	if err := m.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want, _ := m.Predict(x)
	got, err := loaded.Predict(x)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if !slices.Equal(got, want) {
		t.Fatalf("loaded=%v, want %v", got, want)
	}
	pa, _ := m.PredictProba(x)
	pb, _ := loaded.PredictProba(x)
	for i := range pa {
		if math.Abs(pa[i]-pb[i]) > 1e-12 {
			t.Fatalf("proba[%d] %v != %v", i, pb[i], pa[i])
		}
	}
	if loaded.TargetColumn != "Result" || !loaded.InverseLabels {
		t.Fatalf("metadata lost: %+v", loaded)
	}
}

func TestPredictFrame(t *testing.T) {
	m, _ := fitted(t, false)
	f, err := frame.ReadCSV(strings.NewReader("b,Result,a\n1,-1,0.1\n-1,1,5\n"))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	got, err := m.PredictFrame(f)
	if err != nil {
		t.Fatalf("PredictFrame: %v", err)
	}
	if !slices.Equal(got, []float64{0, 1}) {
		t.Fatalf("got %v", got)
	}

	short, _ := frame.ReadCSV(strings.NewReader("a\n1\n"))
	if _, err := m.PredictFrame(short); err == nil || !strings.Contains(err.Error(), "[b]") {
		t.Fatalf("err=%v, want missing column b", err)
	}
}

func TestLoad_Rejects(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(bad); err == nil {
		t.Fatalf("expected decode error")
	}
	if _, err := Load(filepath.Join(dir, "missing.json")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err=%v, want not exist", err)
	}
	unfitted := &Model{Features: preprocess.NewPipeline(), Labels: preprocess.NewPipeline()}
	if err := unfitted.Save(filepath.Join(dir, "x.json")); err == nil {
		t.Fatalf("expected validation error")
	}
}
