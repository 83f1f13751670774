// Package training searches the candidate estimators, refits the winner on
// the training split and persists it together with the inference object.
package training

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"time"

	"github.com/animus-labs/netsec-pipeline/internal/atomicfile"
	"github.com/animus-labs/netsec-pipeline/internal/domain"
	"github.com/animus-labs/netsec-pipeline/internal/errs"
	"github.com/animus-labs/netsec-pipeline/internal/frame"
	"github.com/animus-labs/netsec-pipeline/internal/inference"
	"github.com/animus-labs/netsec-pipeline/internal/ml/estimator"
	"github.com/animus-labs/netsec-pipeline/internal/ml/modelselect"
	"github.com/animus-labs/netsec-pipeline/internal/ml/preprocess"
	"github.com/animus-labs/netsec-pipeline/internal/runctx"
	"github.com/animus-labs/netsec-pipeline/internal/tracking"
)

const Name = "model_trainer"

type Stage struct {
	cfg     runctx.TrainerConfig
	tracker tracking.Tracker
	logger  *slog.Logger
	now     func() time.Time
}

// New returns the stage. A nil tracker records nothing.
func New(cfg runctx.TrainerConfig, tracker tracking.Tracker, logger *slog.Logger) *Stage {
	if tracker == nil {
		tracker = tracking.Nop{}
	}
	return &Stage{cfg: cfg, tracker: tracker, logger: logger.With("stage", Name), now: time.Now}
}

func (s *Stage) Run(ctx context.Context, in domain.TransformationArtifact) (domain.TrainingArtifact, error) {
	art, err := s.run(ctx, in)
	if err != nil {
		return domain.TrainingArtifact{}, errs.WrapStage(Name, err)
	}
	return art, nil
}

// candidate is the outcome of scoring one model spec.
type candidate struct {
	spec      domain.ModelSpec
	params    map[string]any
	score     float64
	bestTrial *int
}

func (s *Stage) run(ctx context.Context, in domain.TransformationArtifact) (domain.TrainingArtifact, error) {
	if in.Splits.Train.X == "" || in.Splits.Val.X == "" || in.FeaturePreprocessorPath == "" {
		return domain.TrainingArtifact{}, fmt.Errorf("%w: transformation artifact is incomplete", errs.ErrContractViolation)
	}
	if len(s.cfg.Models) == 0 {
		return domain.TrainingArtifact{}, errors.New("no candidate models configured")
	}
	started := s.now().UTC()

	xTrain, yTrain, err := loadSplit(in.Splits.Train)
	if err != nil {
		return domain.TrainingArtifact{}, fmt.Errorf("load train split: %w", err)
	}
	xVal, yVal, err := loadSplit(in.Splits.Val)
	if err != nil {
		return domain.TrainingArtifact{}, fmt.Errorf("load val split: %w", err)
	}

	cands := make([]candidate, 0, len(s.cfg.Models))
	for _, spec := range s.cfg.Models {
		c, err := s.score(ctx, spec, xTrain, yTrain)
		if err != nil {
			return domain.TrainingArtifact{}, fmt.Errorf("candidate %s: %w", spec.Name, err)
		}
		s.logger.Info("candidate scored",
			"model", spec.Name,
			"scoring", s.cfg.Optimization.Scoring,
			"score", c.score,
			"params", c.params,
		)
		cands = append(cands, c)
	}
	best := cands[selectBest(cands, s.cfg.Optimization.Direction)]
	s.logger.Info("best model selected", "model", best.spec.Name, "score", best.score)

	est, err := estimator.New(best.spec.Name, best.params)
	if err != nil {
		return domain.TrainingArtifact{}, err
	}
	if err := est.Fit(xTrain, yTrain); err != nil {
		return domain.TrainingArtifact{}, fmt.Errorf("refit %s: %w", best.spec.Name, err)
	}
	trainMetrics, err := modelselect.Evaluate(est, xTrain, yTrain, s.cfg.Metrics)
	if err != nil {
		return domain.TrainingArtifact{}, fmt.Errorf("train metrics: %w", err)
	}
	valMetrics, err := modelselect.Evaluate(est, xVal, yVal, s.cfg.Metrics)
	if err != nil {
		return domain.TrainingArtifact{}, fmt.Errorf("val metrics: %w", err)
	}

	model, err := s.assemble(est, in)
	if err != nil {
		return domain.TrainingArtifact{}, err
	}
	if err := saveEstimator(s.cfg.EstimatorPath, est); err != nil {
		return domain.TrainingArtifact{}, err
	}
	if err := model.Save(s.cfg.InferencePath); err != nil {
		return domain.TrainingArtifact{}, fmt.Errorf("save inference model: %w", err)
	}
	if err := s.writeReport(best, cands, trainMetrics, valMetrics); err != nil {
		return domain.TrainingArtifact{}, err
	}

	s.track(ctx, tracking.Run{
		Experiment:    s.cfg.ExperimentName,
		PipelineRunID: s.cfg.RunID,
		Model:         best.spec.Name,
		Params:        best.params,
		Metrics:       map[string]map[string]float64{"train": trainMetrics, "val": valMetrics},
		StartedAt:     started,
		EndedAt:       s.now().UTC(),
	})

	s.logger.Info("training complete",
		"model", best.spec.Name,
		"train_metrics", trainMetrics,
		"val_metrics", valMetrics,
		"inference_path", s.cfg.InferencePath,
	)
	return domain.TrainingArtifact{
		EstimatorPath: s.cfg.EstimatorPath,
		InferencePath: s.cfg.InferencePath,
		ReportPath:    s.cfg.ReportPath,
		BestModel:     best.spec.Name,
		BestScore:     best.score,
		Splits:        in.Splits,
	}, nil
}

// score cross-validates spec on the training split. With tuning on and a
// search space declared, every trial overlays its draw on the fixed params.
func (s *Stage) score(ctx context.Context, spec domain.ModelSpec, x [][]float64, y []float64) (candidate, error) {
	opt := s.cfg.Optimization
	cv := func(ctx context.Context, params map[string]any) (float64, error) {
		build := func() (estimator.Estimator, error) { return estimator.New(spec.Name, params) }
		return modelselect.CrossValScore(ctx, build, x, y, opt.CVFolds, opt.Scoring)
	}
	if !opt.Enabled || len(spec.SearchSpace) == 0 {
		params := maps.Clone(spec.Params)
		if params == nil {
			params = map[string]any{}
		}
		score, err := cv(ctx, params)
		if err != nil {
			return candidate{}, err
		}
		return candidate{spec: spec, params: params, score: score}, nil
	}
	study, err := modelselect.Optimize(ctx, modelselect.NewSampler(opt.Seed), spec.SearchSpace, spec.Params, opt.NTrials, opt.Direction, cv)
	if err != nil {
		return candidate{}, err
	}
	trial := study.BestTrial()
	return candidate{spec: spec, params: trial.Params, score: trial.Score, bestTrial: &trial.Number}, nil
}

// selectBest returns the index of the best score. Equal scores keep the
// earlier candidate.
func selectBest(cands []candidate, dir modelselect.Direction) int {
	best := 0
	for i := 1; i < len(cands); i++ {
		if dir.Better(cands[i].score, cands[best].score) {
			best = i
		}
	}
	return best
}

func (s *Stage) assemble(est estimator.Estimator, in domain.TransformationArtifact) (*inference.Model, error) {
	var features, labels preprocess.Pipeline
	if err := atomicfile.ReadJSON(in.FeaturePreprocessorPath, &features); err != nil {
		return nil, fmt.Errorf("load feature preprocessor: %w", err)
	}
	if err := atomicfile.ReadJSON(in.LabelPreprocessorPath, &labels); err != nil {
		return nil, fmt.Errorf("load label preprocessor: %w", err)
	}
	m := &inference.Model{
		EstimatorID:    est.ID(),
		FeatureColumns: features.Columns,
		TargetColumn:   in.TargetColumn,
		Estimator:      est,
		Features:       &features,
		Labels:         &labels,
		InverseLabels:  s.cfg.InverseLabels,
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func saveEstimator(path string, est estimator.Estimator) error {
	b, err := estimator.Marshal(est)
	if err != nil {
		return err
	}
	err = atomicfile.Write(path, func(w io.Writer) error {
		_, err := w.Write(b)
		return err
	})
	if err != nil {
		return fmt.Errorf("save estimator: %w", err)
	}
	return nil
}

func (s *Stage) writeReport(best candidate, cands []candidate, train, val map[string]float64) error {
	opt := s.cfg.Optimization
	report := domain.TrainingReport{
		Timestamp:       s.cfg.Timestamp,
		BestModel:       best.spec.ShortName(),
		BestModelID:     best.spec.Name,
		BestModelParams: best.params,
		TrainMetrics:    train,
		ValMetrics:      val,
		Optimization: domain.OptimizationReport{
			Enabled:   opt.Enabled,
			BestTrial: best.bestTrial,
			NTrials:   opt.NTrials,
			CVFolds:   opt.CVFolds,
			Scoring:   string(opt.Scoring),
			Direction: string(opt.Direction),
			MeanScore: best.score,
		},
	}
	for _, c := range cands {
		report.Candidates = append(report.Candidates, domain.CandidateReport{
			Name:      c.spec.Name,
			Score:     c.score,
			BestTrial: c.bestTrial,
			Params:    c.params,
		})
	}
	if err := atomicfile.WriteYAML(s.cfg.ReportPath, report); err != nil {
		return fmt.Errorf("write training report: %w", err)
	}
	return nil
}

// track records the run. Failures are logged and otherwise ignored.
func (s *Stage) track(ctx context.Context, run tracking.Run) {
	if !s.cfg.TrackingEnabled {
		return
	}
	id, err := s.tracker.Record(ctx, run)
	if err != nil {
		s.logger.Warn("experiment tracking failed", "experiment", run.Experiment, "error", err)
		return
	}
	s.logger.Info("experiment tracked", "experiment", run.Experiment, "tracking_id", id)
}

// loadSplit reads the transformed features and the single label column.
func loadSplit(p domain.SplitPaths) ([][]float64, []float64, error) {
	_, x, err := frame.ReadMatrixCSV(p.X)
	if err != nil {
		return nil, nil, err
	}
	header, yy, err := frame.ReadMatrixCSV(p.Y)
	if err != nil {
		return nil, nil, err
	}
	if len(header) != 1 {
		return nil, nil, fmt.Errorf("%s: want one label column, got %d", p.Y, len(header))
	}
	if len(yy) != len(x) {
		return nil, nil, fmt.Errorf("%d feature rows but %d labels", len(x), len(yy))
	}
	y := make([]float64, len(yy))
	for i, row := range yy {
		y[i] = row[0]
	}
	return x, y, nil
}
