// Package publishing copies the trained inference object to its stable
// location and, when uploads are enabled, backs the whole run up to the
// configured sink.
package publishing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/animus-labs/netsec-pipeline/internal/domain"
	"github.com/animus-labs/netsec-pipeline/internal/errs"
	"github.com/animus-labs/netsec-pipeline/internal/handler"
	"github.com/animus-labs/netsec-pipeline/internal/inference"
	"github.com/animus-labs/netsec-pipeline/internal/runctx"
)

const Name = "model_pusher"

type Stage struct {
	cfg    runctx.PusherConfig
	open   handler.SinkOpener
	logger *slog.Logger
}

// New returns the stage. open may be nil when uploads are disabled.
func New(cfg runctx.PusherConfig, open handler.SinkOpener, logger *slog.Logger) *Stage {
	return &Stage{cfg: cfg, open: open, logger: logger.With("stage", Name)}
}

func (s *Stage) Run(ctx context.Context, in domain.TrainingArtifact) (domain.PublishingArtifact, error) {
	art, err := s.run(ctx, in)
	if err != nil {
		return domain.PublishingArtifact{}, errs.WrapStage(Name, err)
	}
	return art, nil
}

func (s *Stage) run(ctx context.Context, in domain.TrainingArtifact) (domain.PublishingArtifact, error) {
	if in.InferencePath == "" {
		return domain.PublishingArtifact{}, fmt.Errorf("%w: training artifact has no inference path", errs.ErrContractViolation)
	}
	model, err := inference.Load(in.InferencePath)
	if err != nil {
		return domain.PublishingArtifact{}, fmt.Errorf("load inference model: %w", err)
	}
	if err := model.Save(s.cfg.FinalModelPath); err != nil {
		return domain.PublishingArtifact{}, fmt.Errorf("save final model: %w", err)
	}
	art := domain.PublishingArtifact{LocalPath: s.cfg.FinalModelPath}
	s.logger.Info("final model saved", "path", s.cfg.FinalModelPath, "model", model.EstimatorID)

	if !s.cfg.UploadEnabled {
		s.logger.Info("upload disabled")
		return art, nil
	}
	if s.open == nil {
		return domain.PublishingArtifact{}, errors.New("upload enabled but no sink configured")
	}
	err = handler.UseSink(ctx, s.open, func(sink handler.Sink) error {
		if err := sink.UploadFile(ctx, s.cfg.FinalModelPath, s.cfg.ModelKey); err != nil {
			return err
		}
		art.RemoteURI = sink.URI(s.cfg.ModelKey)
		s.logger.Info("final model uploaded", "uri", art.RemoteURI)
		if err := sink.SyncDirectory(ctx, s.cfg.ArtifactsDir, s.cfg.ArtifactsPrefix); err != nil {
			return err
		}
		if err := sink.SyncDirectory(ctx, s.cfg.LogsDir, s.cfg.LogsPrefix); err != nil {
			return err
		}
		s.logger.Info("run synced",
			"artifacts", sink.URI(s.cfg.ArtifactsPrefix),
			"logs", sink.URI(s.cfg.LogsPrefix),
		)
		return nil
	})
	if err != nil {
		return domain.PublishingArtifact{}, err
	}
	return art, nil
}
