// Package evaluation scores the trained inference object on every split.
package evaluation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/animus-labs/netsec-pipeline/internal/atomicfile"
	"github.com/animus-labs/netsec-pipeline/internal/domain"
	"github.com/animus-labs/netsec-pipeline/internal/errs"
	"github.com/animus-labs/netsec-pipeline/internal/frame"
	"github.com/animus-labs/netsec-pipeline/internal/inference"
	"github.com/animus-labs/netsec-pipeline/internal/ml/metrics"
	"github.com/animus-labs/netsec-pipeline/internal/runctx"
)

const Name = "model_evaluation"

type Stage struct {
	cfg    runctx.EvaluationConfig
	logger *slog.Logger
}

func New(cfg runctx.EvaluationConfig, logger *slog.Logger) *Stage {
	return &Stage{cfg: cfg, logger: logger.With("stage", Name)}
}

func (s *Stage) Run(ctx context.Context, in domain.TrainingArtifact) (domain.EvaluationArtifact, error) {
	art, err := s.run(ctx, in)
	if err != nil {
		return domain.EvaluationArtifact{}, errs.WrapStage(Name, err)
	}
	return art, nil
}

func (s *Stage) run(ctx context.Context, in domain.TrainingArtifact) (domain.EvaluationArtifact, error) {
	if in.InferencePath == "" || in.Splits.Test.Raw == "" {
		return domain.EvaluationArtifact{}, fmt.Errorf("%w: training artifact is incomplete", errs.ErrContractViolation)
	}
	model, err := inference.Load(in.InferencePath)
	if err != nil {
		return domain.EvaluationArtifact{}, fmt.Errorf("load inference model: %w", err)
	}

	scores := map[string]map[string]float64{}
	err = in.Splits.Each(func(name string, p domain.SplitPaths) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		m, err := s.evaluate(model, p)
		if err != nil {
			return fmt.Errorf("evaluate %s: %w", name, err)
		}
		scores[name] = m
		s.logger.Info("split evaluated", "split", name, "metrics", m)
		return nil
	})
	if err != nil {
		return domain.EvaluationArtifact{}, err
	}

	report := domain.EvaluationReport{
		Timestamp: s.cfg.Timestamp,
		ModelPath: in.InferencePath,
		Splits:    scores,
	}
	if err := atomicfile.WriteYAML(s.cfg.ReportPath, report); err != nil {
		return domain.EvaluationArtifact{}, fmt.Errorf("write evaluation report: %w", err)
	}
	s.logger.Info("evaluation complete", "report", s.cfg.ReportPath)
	return domain.EvaluationArtifact{ReportPath: s.cfg.ReportPath, Metrics: scores}, nil
}

// evaluate predicts from the raw rows and compares against the stored
// labels, mapped into the same label space as the predictions.
func (s *Stage) evaluate(model *inference.Model, p domain.SplitPaths) (map[string]float64, error) {
	raw, err := frame.ReadCSVFile(p.Raw)
	if err != nil {
		return nil, err
	}
	_, yy, err := frame.ReadMatrixCSV(p.Y)
	if err != nil {
		return nil, err
	}
	if len(yy) != raw.Len() {
		return nil, fmt.Errorf("%d rows but %d labels", raw.Len(), len(yy))
	}
	encoded := make([]float64, len(yy))
	for i, row := range yy {
		encoded[i] = row[0]
	}
	truth, err := model.OutputLabels(encoded)
	if err != nil {
		return nil, err
	}
	pred, err := model.PredictFrame(raw)
	if err != nil {
		return nil, err
	}
	return metrics.Report(metrics.Classification, truth, pred, nil)
}
