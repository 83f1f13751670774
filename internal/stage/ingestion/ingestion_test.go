package ingestion

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/animus-labs/netsec-pipeline/internal/errs"
	"github.com/animus-labs/netsec-pipeline/internal/frame"
	"github.com/animus-labs/netsec-pipeline/internal/handler"
	"github.com/animus-labs/netsec-pipeline/internal/runctx"
)

func testConfig(t *testing.T) runctx.IngestionConfig {
	t.Helper()
	dir := t.TempDir()
	for _, d := range []string{"fs", "ing", "stable"} {
		if err := os.MkdirAll(filepath.Join(dir, d), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return runctx.IngestionConfig{
		FeatureStoreDir: filepath.Join(dir, "fs"),
		IngestedDir:     filepath.Join(dir, "ing"),
		RawPath:         filepath.Join(dir, "fs", "raw.csv"),
		IngestedPath:    filepath.Join(dir, "ing", "ingested.csv"),
		RawStablePath:   filepath.Join(dir, "stable", "raw.csv"),
		DropColumns:     []string{"_id"},
		MissingToken:    "na",
	}
}

func discard() *slog.Logger { return slog.New(slog.NewJSONHandler(io.Discard, nil)) }

func sourceOf(t *testing.T, body string) handler.SourceOpener {
	t.Helper()
	p := filepath.Join(t.TempDir(), "in.csv")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return func(context.Context) (handler.Source, error) {
		return handler.NewFileSource(p), nil
	}
}

func TestRun_PersistsRawAndCleaned(t *testing.T) {
	cfg := testConfig(t)
	art, err := New(cfg, sourceOf(t, "_id,a,b\n1,na,2\n2,NA,\n3,n/a,4\n"), discard()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if art.Rows != 3 || art.RawPath != cfg.RawPath || art.RawStablePath != cfg.RawStablePath {
		t.Fatalf("artifact=%+v", art)
	}

	raw, err := frame.ReadCSVFile(art.RawPath)
	if err != nil {
		t.Fatal(err)
	}
	if !raw.HasColumn("_id") || raw.Rows[0][1].String != "na" {
		t.Fatalf("raw copy was modified: %+v", raw)
	}
	stable, _ := os.ReadFile(art.RawStablePath)
	rawBytes, _ := os.ReadFile(art.RawPath)
	if string(stable) != string(rawBytes) {
		t.Fatalf("stable snapshot differs from raw copy")
	}

	cleaned, err := frame.ReadCSVFile(art.IngestedPath)
	if err != nil {
		t.Fatal(err)
	}
	if cleaned.HasColumn("_id") {
		t.Fatalf("_id not dropped: %v", cleaned.Columns)
	}
	nulls := cleaned.NullCounts()
	// Only the exact token is replaced; "NA" and "n/a" survive.
	if nulls["a"] != 1 || nulls["b"] != 1 {
		t.Fatalf("null counts=%v", nulls)
	}
	if cleaned.Rows[1][0].String != "NA" || cleaned.Rows[2][0].String != "n/a" {
		t.Fatalf("other spellings changed: %+v", cleaned.Rows)
	}
}

func TestRun_SourceFailureIsStageError(t *testing.T) {
	cfg := testConfig(t)
	open := func(context.Context) (handler.Source, error) {
		return handler.NewFileSource(filepath.Join(t.TempDir(), "missing.csv")), nil
	}
	art, err := New(cfg, open, discard()).Run(context.Background())
	if err == nil {
		t.Fatalf("expected error")
	}
	if stage, ok := errs.StageOf(err); !ok || stage != Name {
		t.Fatalf("err=%v, want stage %s", err, Name)
	}
	if !handler.IsKind(err, handler.KindNotFound) {
		t.Fatalf("err=%v, want not_found cause", err)
	}
	if art.RawPath != "" {
		t.Fatalf("partial artifact returned: %+v", art)
	}
	if _, statErr := os.Stat(cfg.RawPath); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("raw file written on failure")
	}
	if !strings.Contains(err.Error(), "stage data_ingestion") {
		t.Fatalf("message=%q", err.Error())
	}
}
