package pipeline

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"

	"github.com/animus-labs/netsec-pipeline/internal/runctx"
	"github.com/animus-labs/netsec-pipeline/internal/tracking"
)

type fakeDB struct {
	err   error
	execs int
}

func (f *fakeDB) ExecContext(context.Context, string, ...any) (sql.Result, error) {
	f.execs++
	if f.err != nil {
		return nil, f.err
	}
	return driver.RowsAffected(0), nil
}

func (f *fakeDB) QueryRowContext(context.Context, string, ...any) *sql.Row { return nil }

func TestNewTracker_FallsBackToNop(t *testing.T) {
	ctx := context.Background()
	down := &fakeDB{err: errors.New("connection refused")}
	if got := NewTracker(ctx, runctx.TrackingPostgres, down, discard()); got != (tracking.Nop{}) {
		t.Fatalf("tracker=%T, want Nop on schema failure", got)
	}
	if down.execs == 0 {
		t.Fatalf("schema was not attempted")
	}
	if got := NewTracker(ctx, runctx.TrackingPostgres, nil, discard()); got != (tracking.Nop{}) {
		t.Fatalf("tracker=%T, want Nop without a database", got)
	}
	if got := NewTracker(ctx, runctx.TrackingPostgres, &fakeDB{}, discard()); !isPostgres(got) {
		t.Fatalf("tracker=%T, want *tracking.Postgres", got)
	}
	if _, ok := NewTracker(ctx, runctx.TrackingLog, nil, discard()).(tracking.Log); !ok {
		t.Fatalf("log tracker not selected")
	}
}

func TestNewLineage_DisabledOnSchemaFailure(t *testing.T) {
	ctx := context.Background()
	if got := NewLineage(ctx, &fakeDB{err: errors.New("permission denied")}, discard()); got != nil {
		t.Fatalf("lineage=%T, want nil", got)
	}
	if got := NewLineage(ctx, nil, discard()); got != nil {
		t.Fatalf("lineage=%T, want nil without a database", got)
	}
	if _, ok := NewLineage(ctx, &fakeDB{}, discard()).(*PostgresLineage); !ok {
		t.Fatalf("postgres lineage not selected")
	}
}

func TestSetup_FileHandlersNeedNoDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	rc := workspace(t, dataset("a,b,Result", fullRow))
	deps, release, err := Setup(context.Background(), rc, discard())
	defer release()
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if deps.Source == nil || deps.Sink == nil {
		t.Fatalf("handlers not built: %+v", deps)
	}
	if _, ok := deps.Tracker.(tracking.Log); !ok {
		t.Fatalf("tracker=%T, want the default log tracker", deps.Tracker)
	}
	if deps.Lineage != nil {
		t.Fatalf("lineage is disabled in config")
	}
	if _, err := New(rc, deps).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func isPostgres(tr tracking.Tracker) bool {
	_, ok := tr.(*tracking.Postgres)
	return ok
}
