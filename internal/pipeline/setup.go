package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/animus-labs/netsec-pipeline/internal/errs"
	"github.com/animus-labs/netsec-pipeline/internal/handler"
	"github.com/animus-labs/netsec-pipeline/internal/platform/lineageevent"
	"github.com/animus-labs/netsec-pipeline/internal/platform/objectstore"
	"github.com/animus-labs/netsec-pipeline/internal/platform/postgres"
	"github.com/animus-labs/netsec-pipeline/internal/runctx"
	"github.com/animus-labs/netsec-pipeline/internal/tracking"
)

// EnvDocument names the process environment in ConfigErrors raised by Setup.
const EnvDocument = "environment"

const schemaTimeout = 5 * time.Second

// ObserverDB is what the postgres tracker and lineage recorder need.
type ObserverDB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Setup builds Deps for rc from the environment. Bad settings are
// ConfigErrors. An unreachable database only disables tracking and lineage.
// release closes what Setup opened and is safe to call on error.
func Setup(ctx context.Context, rc *runctx.RunContext, logger *slog.Logger) (deps Deps, release func(), err error) {
	release = func() {}
	deps.Logger = logger

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		return deps, release, errs.NewConfigError(EnvDocument, "DATABASE_URL", err)
	}
	hEnv := handler.Env{Postgres: dbCfg}
	src, sink := rc.SourceConfig(), rc.SinkConfig()
	if src.Kind == runctx.SourceObject || sink.Kind == runctx.SinkObject {
		if hEnv.ObjectStore, err = objectstore.ConfigFromEnv(); err != nil {
			return deps, release, errs.NewConfigError(EnvDocument, "MINIO_ENDPOINT", err)
		}
	}
	if deps.Source, err = handler.NewSourceOpener(src, hEnv); err != nil {
		return deps, release, errs.NewConfigError(runctx.ConfigDocument, "source", err)
	}
	if sink.Kind != "" {
		if deps.Sink, err = handler.NewSinkOpener(sink, hEnv); err != nil {
			return deps, release, errs.NewConfigError(runctx.ConfigDocument, "sink", err)
		}
	}

	var db ObserverDB
	trackingKind := rc.TrackingConfig().Kind
	if trackingKind == runctx.TrackingPostgres || rc.LineageEnabled() {
		if !dbCfg.Configured() {
			return deps, release, errs.NewConfigError(EnvDocument, "DATABASE_URL",
				errors.New("required for postgres tracking and lineage"))
		}
		conn, err := postgres.Open(ctx, dbCfg)
		if err != nil {
			logger.Warn("database unavailable", "error", err)
		} else {
			release = func() { _ = conn.Close() }
			db = conn
		}
	}
	deps.Tracker = NewTracker(ctx, trackingKind, db, logger)
	if rc.LineageEnabled() {
		deps.Lineage = NewLineage(ctx, db, logger)
	}
	return deps, release, nil
}

// NewTracker never fails: without a usable database the postgres tracker
// falls back to Nop.
func NewTracker(ctx context.Context, kind string, db ObserverDB, logger *slog.Logger) tracking.Tracker {
	switch kind {
	case runctx.TrackingNop:
		return tracking.Nop{}
	case runctx.TrackingLog:
		return tracking.Log{Logger: logger}
	case runctx.TrackingPostgres:
		if db == nil {
			logger.Warn("experiment tracking disabled", "reason", "no database")
			return tracking.Nop{}
		}
		pg := tracking.NewPostgres(db)
		schemaCtx, cancel := context.WithTimeout(ctx, schemaTimeout)
		defer cancel()
		if err := pg.EnsureSchema(schemaCtx); err != nil {
			logger.Warn("experiment tracking disabled", "error", err)
			return tracking.Nop{}
		}
		return pg
	}
	logger.Warn("experiment tracking disabled", "kind", kind)
	return tracking.Nop{}
}

// NewLineage returns nil when the lineage table cannot be prepared.
func NewLineage(ctx context.Context, db ObserverDB, logger *slog.Logger) LineageRecorder {
	if db == nil {
		logger.Warn("lineage disabled", "reason", "no database")
		return nil
	}
	schemaCtx, cancel := context.WithTimeout(ctx, schemaTimeout)
	defer cancel()
	if err := lineageevent.EnsureSchema(schemaCtx, db); err != nil {
		logger.Warn("lineage disabled", "error", err)
		return nil
	}
	return NewPostgresLineage(db)
}
