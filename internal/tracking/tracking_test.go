package tracking

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

type fakeExec struct {
	query string
	args  []any
	err   error
}

func (f *fakeExec) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	f.query, f.args = query, args
	return nil, f.err
}

func sampleRun() Run {
	return Run{
		Experiment:    "netsec",
		PipelineRunID: "2026_10_18T09_30_05Z",
		Model:         "RandomForestClassifier",
		Params:        map[string]any{"n_estimators": 50},
		Metrics:       map[string]map[string]float64{"train": {"f1": 0.9}},
	}
}

func TestPostgres_Record(t *testing.T) {
	db := &fakeExec{}
	p := NewPostgres(db)
	p.now = func() time.Time { return time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC) }

	id, err := p.Record(context.Background(), sampleRun())
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("id %q is not a uuid", id)
	}
	if !strings.Contains(db.query, "INSERT INTO training_runs") || len(db.args) != 9 {
		t.Fatalf("query=%q args=%d", db.query, len(db.args))
	}
	var metrics map[string]map[string]float64
	if err := json.Unmarshal(db.args[5].([]byte), &metrics); err != nil || metrics["train"]["f1"] != 0.9 {
		t.Fatalf("metrics arg=%s err=%v", db.args[5], err)
	}
	if got := db.args[6].(time.Time); !got.Equal(p.now()) {
		t.Fatalf("started_at=%v, want defaulted to now", got)
	}
}

func TestPostgres_RecordErrors(t *testing.T) {
	p := NewPostgres(&fakeExec{err: errors.New("connection refused")})
	if _, err := p.Record(context.Background(), sampleRun()); err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("err=%v", err)
	}
	bad := sampleRun()
	bad.Model = ""
	if _, err := NewPostgres(&fakeExec{}).Record(context.Background(), bad); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestIntegrity_ChangesWithMetrics(t *testing.T) {
	run := sampleRun()
	a := integritySHA256("id", run, []byte(`{}`), []byte(`{"train":{"f1":0.9}}`))
	b := integritySHA256("id", run, []byte(`{}`), []byte(`{"train":{"f1":0.8}}`))
	if a == b {
		t.Fatalf("integrity did not change with metrics")
	}
	if a != integritySHA256("id", run, []byte(`{}`), []byte(`{"train":{"f1":0.9}}`)) {
		t.Fatalf("integrity is not deterministic")
	}
}

func TestLog_Record(t *testing.T) {
	var buf bytes.Buffer
	l := Log{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	id, err := l.Record(context.Background(), sampleRun())
	if err != nil || id == "" {
		t.Fatalf("id=%q err=%v", id, err)
	}
	if !strings.Contains(buf.String(), `"model":"RandomForestClassifier"`) {
		t.Fatalf("log=%s", buf.String())
	}
	if id, err := (Nop{}).Record(context.Background(), Run{}); id != "" || err != nil {
		t.Fatalf("nop: id=%q err=%v", id, err)
	}
}
