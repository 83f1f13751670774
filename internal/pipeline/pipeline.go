// Package pipeline runs the stages in order for one RunContext:
// ingestion, validation, transformation, training, evaluation and
// publishing. A negative validation result stops the run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/animus-labs/netsec-pipeline/internal/domain"
	"github.com/animus-labs/netsec-pipeline/internal/errs"
	"github.com/animus-labs/netsec-pipeline/internal/handler"
	"github.com/animus-labs/netsec-pipeline/internal/platform/lineageevent"
	"github.com/animus-labs/netsec-pipeline/internal/runctx"
	"github.com/animus-labs/netsec-pipeline/internal/stage/evaluation"
	"github.com/animus-labs/netsec-pipeline/internal/stage/ingestion"
	"github.com/animus-labs/netsec-pipeline/internal/stage/publishing"
	"github.com/animus-labs/netsec-pipeline/internal/stage/training"
	"github.com/animus-labs/netsec-pipeline/internal/stage/transformation"
	"github.com/animus-labs/netsec-pipeline/internal/stage/validation"
	"github.com/animus-labs/netsec-pipeline/internal/tracking"
)

// Deps are the handles the pipeline does not own. Sink, Tracker and
// Lineage are optional.
type Deps struct {
	Logger  *slog.Logger
	Source  handler.SourceOpener
	Sink    handler.SinkOpener
	Tracker tracking.Tracker
	Lineage LineageRecorder
}

// Result holds the artifact of every stage that completed.
type Result struct {
	Ingestion      domain.IngestionArtifact
	Validation     domain.ValidationArtifact
	Transformation domain.TransformationArtifact
	Training       domain.TrainingArtifact
	Evaluation     domain.EvaluationArtifact
	Publishing     domain.PublishingArtifact
}

type Pipeline struct {
	rc     *runctx.RunContext
	deps   Deps
	logger *slog.Logger
}

func New(rc *runctx.RunContext, deps Deps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{rc: rc, deps: deps, logger: logger.With("run_id", rc.RunID())}
}

// Run executes every stage once. On failure the returned Result still holds
// the artifacts of the stages that finished.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	var res Result
	started := time.Now()
	p.logger.Info("pipeline started", "work_dir", p.rc.WorkDir())

	var err error
	if res.Ingestion, err = p.ingest(ctx); err != nil {
		return res, p.fail(ingestion.Name, err)
	}
	p.link(ctx, "ingestion_artifact", res.Ingestion.IngestedPath, "raw_snapshot", res.Ingestion.RawPath,
		map[string]any{"rows": res.Ingestion.Rows})

	if res.Validation, err = p.validate(ctx, res.Ingestion); err != nil {
		return res, p.fail(validation.Name, err)
	}
	if !res.Validation.Usable() {
		err := fmt.Errorf("%w: see %s", errs.ErrValidationFailed, res.Validation.ReportPath)
		return res, p.fail(validation.Name, errs.WrapStage(validation.Name, err))
	}
	p.link(ctx, "validation_artifact", res.Validation.ValidatedPath, "ingestion_artifact", res.Ingestion.IngestedPath,
		map[string]any{"status": res.Validation.Status, "rows": res.Validation.Rows})

	if res.Transformation, err = p.transform(ctx, res.Validation); err != nil {
		return res, p.fail(transformation.Name, err)
	}
	p.link(ctx, "transformation_artifact", res.Transformation.FeaturePreprocessorPath, "validation_artifact", res.Validation.ValidatedPath, nil)

	if res.Training, err = p.train(ctx, res.Transformation); err != nil {
		return res, p.fail(training.Name, err)
	}
	p.link(ctx, "training_artifact", res.Training.InferencePath, "transformation_artifact", res.Transformation.FeaturePreprocessorPath,
		map[string]any{"best_model": res.Training.BestModel, "score": res.Training.BestScore})

	if res.Evaluation, err = p.evaluate(ctx, res.Training); err != nil {
		return res, p.fail(evaluation.Name, err)
	}
	p.link(ctx, "evaluation_artifact", res.Evaluation.ReportPath, "training_artifact", res.Training.InferencePath,
		map[string]any{"metrics": res.Evaluation.Metrics})

	if res.Publishing, err = p.publish(ctx, res.Training); err != nil {
		return res, p.fail(publishing.Name, err)
	}
	p.link(ctx, "published_model", res.Publishing.LocalPath, "training_artifact", res.Training.InferencePath,
		map[string]any{"remote_uri": res.Publishing.RemoteURI})

	p.logger.Info("pipeline finished",
		"best_model", res.Training.BestModel,
		"final_model", res.Publishing.LocalPath,
		"remote_uri", res.Publishing.RemoteURI,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return res, nil
}

func (p *Pipeline) ingest(ctx context.Context) (domain.IngestionArtifact, error) {
	if p.deps.Source == nil {
		return domain.IngestionArtifact{}, errs.WrapStage(ingestion.Name, errors.New("no source configured"))
	}
	cfg, err := p.rc.IngestionConfig()
	if err != nil {
		return domain.IngestionArtifact{}, errs.WrapStage(ingestion.Name, err)
	}
	return ingestion.New(cfg, p.deps.Source, p.logger).Run(ctx)
}

func (p *Pipeline) validate(ctx context.Context, in domain.IngestionArtifact) (domain.ValidationArtifact, error) {
	cfg, err := p.rc.ValidationConfig()
	if err != nil {
		return domain.ValidationArtifact{}, errs.WrapStage(validation.Name, err)
	}
	return validation.New(cfg, p.logger).Run(ctx, in)
}

func (p *Pipeline) transform(ctx context.Context, in domain.ValidationArtifact) (domain.TransformationArtifact, error) {
	cfg, err := p.rc.TransformationConfig()
	if err != nil {
		return domain.TransformationArtifact{}, errs.WrapStage(transformation.Name, err)
	}
	return transformation.New(cfg, p.logger).Run(ctx, in)
}

func (p *Pipeline) train(ctx context.Context, in domain.TransformationArtifact) (domain.TrainingArtifact, error) {
	cfg, err := p.rc.TrainerConfig()
	if err != nil {
		return domain.TrainingArtifact{}, errs.WrapStage(training.Name, err)
	}
	return training.New(cfg, p.deps.Tracker, p.logger).Run(ctx, in)
}

func (p *Pipeline) evaluate(ctx context.Context, in domain.TrainingArtifact) (domain.EvaluationArtifact, error) {
	cfg, err := p.rc.EvaluationConfig()
	if err != nil {
		return domain.EvaluationArtifact{}, errs.WrapStage(evaluation.Name, err)
	}
	return evaluation.New(cfg, p.logger).Run(ctx, in)
}

func (p *Pipeline) publish(ctx context.Context, in domain.TrainingArtifact) (domain.PublishingArtifact, error) {
	cfg, err := p.rc.PusherConfig()
	if err != nil {
		return domain.PublishingArtifact{}, errs.WrapStage(publishing.Name, err)
	}
	return publishing.New(cfg, p.deps.Sink, p.logger).Run(ctx, in)
}

func (p *Pipeline) fail(stage string, err error) error {
	p.logger.Error("pipeline failed", "stage", stage, "error", err)
	return err
}

// link records one lineage edge. Failures only warn.
func (p *Pipeline) link(ctx context.Context, subjectType, subjectID, objectType, objectID string, metadata map[string]any) {
	if p.deps.Lineage == nil {
		return
	}
	event := lineageevent.Event{
		OccurredAt:  time.Now().UTC(),
		Actor:       LineageActor,
		RunID:       p.rc.RunID(),
		SubjectType: subjectType,
		SubjectID:   subjectID,
		Predicate:   "derived_from",
		ObjectType:  objectType,
		ObjectID:    objectID,
		Metadata:    metadata,
	}
	if err := p.deps.Lineage.RecordLineage(ctx, event); err != nil {
		p.logger.Warn("lineage event not recorded", "subject_type", subjectType, "error", err)
	}
}
