package pipeline

import (
	"context"

	"github.com/animus-labs/netsec-pipeline/internal/platform/lineageevent"
)

// LineageActor is the actor recorded on every edge the trainer emits.
const LineageActor = "trainer"

// LineageRecorder stores "subject derived_from object" edges between
// artifacts of one run.
type LineageRecorder interface {
	RecordLineage(ctx context.Context, event lineageevent.Event) error
}

// PostgresLineage appends events to pipeline_lineage_events.
type PostgresLineage struct {
	db lineageevent.QueryRower
}

func NewPostgresLineage(db lineageevent.QueryRower) *PostgresLineage {
	return &PostgresLineage{db: db}
}

func (p *PostgresLineage) RecordLineage(ctx context.Context, event lineageevent.Event) error {
	_, err := lineageevent.Insert(ctx, p.db, event)
	return err
}
