package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/minio/minio-go/v7"

	"github.com/animus-labs/netsec-pipeline/internal/frame"
	"github.com/animus-labs/netsec-pipeline/internal/runctx"
	"github.com/animus-labs/netsec-pipeline/internal/storage/objectstore"
)

type memStore struct {
	bucket  string
	objects map[string][]byte
	putErr  error
}

func newMemStore() *memStore {
	return &memStore{bucket: "artifacts", objects: map[string][]byte{}}
}

func (m *memStore) Bucket() string { return m.bucket }

func (m *memStore) Put(_ context.Context, key string, body io.Reader, size int64, _ string) error {
	if m.putErr != nil {
		return m.putErr
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if int64(len(b)) != size {
		return fmt.Errorf("size %d != %d", len(b), size)
	}
	m.objects[key] = b
	return nil
}

func (m *memStore) Get(_ context.Context, key string) (io.ReadCloser, objectstore.ObjectInfo, error) {
	b, ok := m.objects[key]
	if !ok {
		return nil, objectstore.ObjectInfo{}, fmt.Errorf("%s: %w", key, objectstore.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(b)), objectstore.ObjectInfo{Key: key, Size: int64(len(b))}, nil
}

func (m *memStore) Stat(_ context.Context, key string) (objectstore.ObjectInfo, error) {
	b, ok := m.objects[key]
	if !ok {
		return objectstore.ObjectInfo{}, objectstore.ErrNotFound
	}
	return objectstore.ObjectInfo{Key: key, Size: int64(len(b))}, nil
}

func writeTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for rel, body := range map[string]string{
		"data_ingestion/featurestore/raw.csv":      "a\n1\n",
		"model_trainer/model.json":                 "{}",
		"data_validation/reports/report.yaml":      "ok: true\n",
		"data_validation/reports/nested/deep.json": "[]",
	} {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestObjectSink_SyncDirectoryKeys(t *testing.T) {
	store := newMemStore()
	sink := NewObjectSink(store)
	dir := writeTree(t)
	ctx := context.Background()

	for range 2 {
		if err := sink.SyncDirectory(ctx, dir, "artifacts/run1/"); err != nil {
			t.Fatalf("SyncDirectory: %v", err)
		}
	}
	var keys []string
	for k := range store.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	want := []string{
		"artifacts/run1/data_ingestion/featurestore/raw.csv",
		"artifacts/run1/data_validation/reports/nested/deep.json",
		"artifacts/run1/data_validation/reports/report.yaml",
		"artifacts/run1/model_trainer/model.json",
	}
	if strings.Join(keys, ",") != strings.Join(want, ",") {
		t.Fatalf("keys=%v, want %v", keys, want)
	}
	if got := sink.URI("model.json"); got != "s3://artifacts/model.json" {
		t.Fatalf("URI=%q", got)
	}
}

func TestObjectSink_Errors(t *testing.T) {
	store := newMemStore()
	sink := NewObjectSink(store)
	ctx := context.Background()

	err := sink.UploadFile(ctx, filepath.Join(t.TempDir(), "missing.json"), "k")
	if !IsKind(err, KindNotFound) {
		t.Fatalf("err=%v, want not_found", err)
	}
	var se *StorageError
	if !errors.As(err, &se) || se.Op != OpUpload {
		t.Fatalf("err=%#v, want upload StorageError", err)
	}

	store.putErr = minio.ErrorResponse{Code: "AccessDenied", StatusCode: 403}
	p := filepath.Join(t.TempDir(), "m.json")
	if err := os.WriteFile(p, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := sink.UploadFile(ctx, p, "m.json"); !IsKind(err, KindRejected) {
		t.Fatalf("err=%v, want rejected", err)
	}

	store.putErr = errors.New("connection reset")
	err = sink.SyncDirectory(ctx, writeTree(t), "x")
	if !IsKind(err, KindUnexpected) || !errors.As(err, &se) || se.Op != OpSync {
		t.Fatalf("err=%v, want unexpected sync error", err)
	}

	if err := sink.SyncDirectory(ctx, filepath.Join(t.TempDir(), "nope"), "x"); !IsKind(err, KindNotFound) {
		t.Fatalf("err=%v, want not_found", err)
	}
}

func TestObjectSource(t *testing.T) {
	store := newMemStore()
	store.objects["in/data.csv"] = []byte("a,b\n1,na\n")
	f, err := NewObjectSource(store, "in/data.csv").LoadFromSource(context.Background())
	if err != nil {
		t.Fatalf("LoadFromSource: %v", err)
	}
	if f.Len() != 1 || len(f.Columns) != 2 {
		t.Fatalf("frame=%+v", f)
	}
	_, err = NewObjectSource(store, "missing.csv").LoadFromSource(context.Background())
	if !IsKind(err, KindNotFound) {
		t.Fatalf("err=%v, want not_found", err)
	}
}

func TestFileSinkAndSource(t *testing.T) {
	root := filepath.Join(t.TempDir(), "mirror")
	sink, err := NewFileSink(root)
	if err != nil {
		t.Fatal(err)
	}
	dir := writeTree(t)
	if err := sink.SyncDirectory(context.Background(), dir, "logs/run1"); err != nil {
		t.Fatalf("SyncDirectory: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(root, "logs", "run1", "model_trainer", "model.json"))
	if err != nil || string(got) != "{}" {
		t.Fatalf("mirror content=%q err=%v", got, err)
	}

	f, err := NewFileSource(filepath.Join(dir, "data_ingestion", "featurestore", "raw.csv")).LoadFromSource(context.Background())
	if err != nil || f.Len() != 1 {
		t.Fatalf("file source: %v", err)
	}
	if _, err := NewFileSource(filepath.Join(dir, "none.csv")).LoadFromSource(context.Background()); !IsKind(err, KindNotFound) {
		t.Fatalf("err=%v, want not_found", err)
	}
}

type closeCounter struct {
	closes int
}

func (c *closeCounter) LoadFromSource(context.Context) (*frame.Frame, error) {
	return nil, errors.New("boom")
}

func (c *closeCounter) Close() error {
	c.closes++
	return nil
}

func TestUseSource_ClosesOnError(t *testing.T) {
	src := &closeCounter{}
	open := func(context.Context) (Source, error) { return src, nil }
	err := UseSource(context.Background(), open, func(s Source) error {
		_, err := s.LoadFromSource(context.Background())
		return err
	})
	if err == nil || err.Error() != "boom" {
		t.Fatalf("err=%v, want boom", err)
	}
	if src.closes != 1 {
		t.Fatalf("closes=%d, want 1", src.closes)
	}

	openErr := func(context.Context) (Source, error) { return nil, os.ErrNotExist }
	if err := UseSource(context.Background(), openErr, func(Source) error { return nil }); !IsKind(err, KindNotFound) {
		t.Fatalf("err=%v, want not_found", err)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{fmt.Errorf("wrap: %w", os.ErrNotExist), KindNotFound},
		{objectstore.ErrNotFound, KindNotFound},
		{&pgconn.PgError{Code: pgerrcode.UndefinedTable}, KindNotFound},
		{&pgconn.PgError{Code: pgerrcode.InsufficientPrivilege}, KindRejected},
		{minio.ErrorResponse{Code: "SlowDown"}, KindRejected},
		{context.Canceled, KindUnexpected},
		{errors.New("eof"), KindUnexpected},
	}
	for _, tc := range cases {
		if got := classify(tc.err); got != tc.want {
			t.Fatalf("classify(%v)=%s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestDocumentsQuery(t *testing.T) {
	if got := documentsQuery("netsec.phishing"); got != `SELECT id::text, doc FROM "netsec"."phishing" ORDER BY id` {
		t.Fatalf("query=%s", got)
	}
	if got := documentsQuery(`x"; drop table y; --`); !strings.Contains(got, `"x""; drop table y; --"`) {
		t.Fatalf("identifier not quoted: %s", got)
	}
}

func TestDecodeDocument(t *testing.T) {
	rec, err := decodeDocument("7", []byte(`{"having_IP_Address": -1, "URL_Length": 1, "note": null}`))
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if rec[IDColumn] != "7" {
		t.Fatalf("_id=%v", rec[IDColumn])
	}
	f, err := frame.FromRecords([]string{IDColumn}, []map[string]any{rec})
	if err != nil {
		t.Fatal(err)
	}
	if f.Columns[0] != IDColumn {
		t.Fatalf("columns=%v", f.Columns)
	}
	if _, err := decodeDocument("8", []byte(`[1,2]`)); err == nil {
		t.Fatalf("expected error for array document")
	}
	if _, err := decodeDocument("9", []byte(`null`)); err == nil {
		t.Fatalf("expected error for null document")
	}
}

func TestRemoteKey(t *testing.T) {
	cases := map[[2]string]string{
		{"", "a/b.csv"}:         "a/b.csv",
		{"logs/run", "x.log"}:   "logs/run/x.log",
		{"/logs/run/", "x.log"}: "logs/run/x.log",
	}
	for in, want := range cases {
		if got := RemoteKey(in[0], in[1]); got != want {
			t.Fatalf("RemoteKey(%q,%q)=%q, want %q", in[0], in[1], got, want)
		}
	}
}

func TestNewOpeners(t *testing.T) {
	if _, err := NewSourceOpener(runctx.SourceConfig{Kind: "mongo"}, Env{}); err == nil {
		t.Fatalf("expected error for unknown source kind")
	}
	open, err := NewSinkOpener(runctx.SinkConfig{Kind: runctx.SinkFile, Dir: t.TempDir()}, Env{})
	if err != nil {
		t.Fatalf("NewSinkOpener: %v", err)
	}
	sink, err := open(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := sink.(*FileSink); !ok {
		t.Fatalf("sink=%T, want *FileSink", sink)
	}
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
