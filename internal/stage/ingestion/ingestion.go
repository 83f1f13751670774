// Package ingestion fetches the full dataset once and persists a raw copy
// and a cleaned copy of it.
package ingestion

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/animus-labs/netsec-pipeline/internal/atomicfile"
	"github.com/animus-labs/netsec-pipeline/internal/domain"
	"github.com/animus-labs/netsec-pipeline/internal/errs"
	"github.com/animus-labs/netsec-pipeline/internal/frame"
	"github.com/animus-labs/netsec-pipeline/internal/handler"
	"github.com/animus-labs/netsec-pipeline/internal/runctx"
)

const Name = "data_ingestion"

type Stage struct {
	cfg    runctx.IngestionConfig
	open   handler.SourceOpener
	logger *slog.Logger
}

func New(cfg runctx.IngestionConfig, open handler.SourceOpener, logger *slog.Logger) *Stage {
	return &Stage{cfg: cfg, open: open, logger: logger.With("stage", Name)}
}

func (s *Stage) Run(ctx context.Context) (domain.IngestionArtifact, error) {
	art, err := s.run(ctx)
	if err != nil {
		return domain.IngestionArtifact{}, errs.WrapStage(Name, err)
	}
	return art, nil
}

func (s *Stage) run(ctx context.Context) (domain.IngestionArtifact, error) {
	var raw *frame.Frame
	err := handler.UseSource(ctx, s.open, func(src handler.Source) error {
		var err error
		raw, err = src.LoadFromSource(ctx)
		return err
	})
	if err != nil {
		return domain.IngestionArtifact{}, err
	}
	if len(raw.Columns) == 0 {
		return domain.IngestionArtifact{}, fmt.Errorf("source returned no columns")
	}
	s.logger.Info("source loaded", "rows", raw.Len(), "columns", len(raw.Columns))

	if err := raw.WriteCSVFile(s.cfg.RawPath); err != nil {
		return domain.IngestionArtifact{}, fmt.Errorf("persist raw copy: %w", err)
	}
	if err := atomicfile.Copy(s.cfg.RawPath, s.cfg.RawStablePath); err != nil {
		return domain.IngestionArtifact{}, fmt.Errorf("persist raw snapshot: %w", err)
	}

	cleaned := raw.Clone()
	dropped := cleaned.DropColumns(s.cfg.DropColumns...)
	replaced := cleaned.ReplaceToken(s.cfg.MissingToken)
	if err := cleaned.WriteCSVFile(s.cfg.IngestedPath); err != nil {
		return domain.IngestionArtifact{}, fmt.Errorf("persist cleaned copy: %w", err)
	}
	s.logger.Info("ingestion complete",
		"raw_path", s.cfg.RawPath,
		"ingested_path", s.cfg.IngestedPath,
		"dropped_columns", dropped,
		"missing_tokens_replaced", replaced,
	)
	return domain.IngestionArtifact{
		RawPath:       s.cfg.RawPath,
		IngestedPath:  s.cfg.IngestedPath,
		RawStablePath: s.cfg.RawStablePath,
		Rows:          raw.Len(),
	}, nil
}
