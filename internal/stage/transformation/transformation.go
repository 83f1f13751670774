// Package transformation splits the validated dataset, fits the
// preprocessors on the training split and writes every split in both raw
// and transformed form.
package transformation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"slices"

	"github.com/animus-labs/netsec-pipeline/internal/atomicfile"
	"github.com/animus-labs/netsec-pipeline/internal/domain"
	"github.com/animus-labs/netsec-pipeline/internal/errs"
	"github.com/animus-labs/netsec-pipeline/internal/frame"
	"github.com/animus-labs/netsec-pipeline/internal/ml/modelselect"
	"github.com/animus-labs/netsec-pipeline/internal/runctx"
)

const Name = "data_transformation"

type Stage struct {
	cfg    runctx.TransformationConfig
	logger *slog.Logger
}

func New(cfg runctx.TransformationConfig, logger *slog.Logger) *Stage {
	return &Stage{cfg: cfg, logger: logger.With("stage", Name)}
}

func (s *Stage) Run(ctx context.Context, in domain.ValidationArtifact) (domain.TransformationArtifact, error) {
	art, err := s.run(ctx, in)
	if err != nil {
		return domain.TransformationArtifact{}, errs.WrapStage(Name, err)
	}
	return art, nil
}

func (s *Stage) run(ctx context.Context, in domain.ValidationArtifact) (domain.TransformationArtifact, error) {
	if !in.Usable() {
		return domain.TransformationArtifact{}, fmt.Errorf("%w: validation artifact is not usable", errs.ErrContractViolation)
	}
	df, err := frame.ReadCSVFile(in.ValidatedPath)
	if err != nil {
		return domain.TransformationArtifact{}, fmt.Errorf("load validated data: %w", err)
	}
	target := s.cfg.TargetColumn
	if !df.HasColumn(target) {
		return domain.TransformationArtifact{}, fmt.Errorf("target column %q not found", target)
	}
	features := slices.DeleteFunc(slices.Clone(df.Columns), func(c string) bool { return c == target })
	if len(features) == 0 {
		return domain.TransformationArtifact{}, errors.New("no feature columns besides the target")
	}
	y, err := df.Floats(target)
	if err != nil {
		return domain.TransformationArtifact{}, err
	}
	if i := slices.IndexFunc(y, math.IsNaN); i >= 0 {
		return domain.TransformationArtifact{}, fmt.Errorf("target column %q is missing at row %d", target, i)
	}
	x, err := df.Matrix(features)
	if err != nil {
		return domain.TransformationArtifact{}, err
	}

	part, err := modelselect.Split(df.Len(), y, s.cfg.Split)
	if err != nil {
		return domain.TransformationArtifact{}, fmt.Errorf("split: %w", err)
	}
	s.logger.Info("dataset split",
		"train", len(part.Train), "val", len(part.Val), "test", len(part.Test),
		"stratify", s.cfg.Split.Stratify,
	)

	featurePipe, labelPipe, err := s.cfg.Preprocess.Build()
	if err != nil {
		return domain.TransformationArtifact{}, err
	}
	if err := featurePipe.Fit(features, modelselect.Rows(x, part.Train)); err != nil {
		return domain.TransformationArtifact{}, fmt.Errorf("fit feature preprocessor: %w", err)
	}
	if err := labelPipe.FitVector(target, modelselect.Take(y, part.Train)); err != nil {
		return domain.TransformationArtifact{}, fmt.Errorf("fit label preprocessor: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return domain.TransformationArtifact{}, err
	}

	art := domain.TransformationArtifact{
		Splits: domain.Splits{
			Train: runctx.SplitPaths(s.cfg.TransformedDir, "train"),
			Val:   runctx.SplitPaths(s.cfg.TransformedDir, "val"),
			Test:  runctx.SplitPaths(s.cfg.TransformedDir, "test"),
		},
		FeaturePreprocessorPath: s.cfg.FeaturePreprocessorPath,
		LabelPreprocessorPath:   s.cfg.LabelPreprocessorPath,
		TargetColumn:            target,
	}
	rows := map[string][]int{"train": part.Train, "val": part.Val, "test": part.Test}
	err = art.Splits.Each(func(name string, paths domain.SplitPaths) error {
		idx := rows[name]
		xs, err := featurePipe.Transform(modelselect.Rows(x, idx))
		if err != nil {
			return fmt.Errorf("transform %s features: %w", name, err)
		}
		ys, err := labelPipe.TransformVector(modelselect.Take(y, idx))
		if err != nil {
			return fmt.Errorf("transform %s labels: %w", name, err)
		}
		if err := frame.WriteMatrixCSV(paths.X, featurePipe.OutputColumns(), xs); err != nil {
			return fmt.Errorf("write %s features: %w", name, err)
		}
		if err := frame.WriteMatrixCSV(paths.Y, []string{target}, column(ys)); err != nil {
			return fmt.Errorf("write %s labels: %w", name, err)
		}
		if err := df.Take(idx).WriteCSVFile(paths.Raw); err != nil {
			return fmt.Errorf("write %s rows: %w", name, err)
		}
		return s.publish(paths.X, paths.Y, paths.Raw)
	})
	if err != nil {
		return domain.TransformationArtifact{}, err
	}

	if err := atomicfile.WriteJSON(s.cfg.FeaturePreprocessorPath, featurePipe); err != nil {
		return domain.TransformationArtifact{}, fmt.Errorf("save feature preprocessor: %w", err)
	}
	if err := atomicfile.WriteJSON(s.cfg.LabelPreprocessorPath, labelPipe); err != nil {
		return domain.TransformationArtifact{}, fmt.Errorf("save label preprocessor: %w", err)
	}
	if err := s.publish(s.cfg.FeaturePreprocessorPath, s.cfg.LabelPreprocessorPath); err != nil {
		return domain.TransformationArtifact{}, err
	}
	s.logger.Info("transformation complete",
		"features", len(features),
		"transformed_features", len(featurePipe.OutputColumns()),
		"steps", s.cfg.Preprocess.Describe(),
		"output_dir", s.cfg.TransformedDir,
	)
	return art, nil
}

// publish copies run-scoped outputs into the stable directory, replacing
// whatever the previous run left there.
func (s *Stage) publish(paths ...string) error {
	for _, p := range paths {
		if err := atomicfile.Copy(p, filepath.Join(s.cfg.StableDir, filepath.Base(p))); err != nil {
			return fmt.Errorf("publish %s: %w", filepath.Base(p), err)
		}
	}
	return nil
}

func column(v []float64) [][]float64 {
	out := make([][]float64, len(v))
	for i, x := range v {
		out[i] = []float64{x}
	}
	return out
}
