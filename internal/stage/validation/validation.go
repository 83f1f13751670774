// Package validation audits the ingested dataset and decides whether the
// run may continue. A failed validation is a result, not an error.
package validation

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/animus-labs/netsec-pipeline/internal/atomicfile"
	"github.com/animus-labs/netsec-pipeline/internal/domain"
	"github.com/animus-labs/netsec-pipeline/internal/errs"
	"github.com/animus-labs/netsec-pipeline/internal/frame"
	"github.com/animus-labs/netsec-pipeline/internal/ml/drift"
	"github.com/animus-labs/netsec-pipeline/internal/runctx"
)

const Name = "data_validation"

type Stage struct {
	cfg    runctx.ValidationConfig
	logger *slog.Logger
}

func New(cfg runctx.ValidationConfig, logger *slog.Logger) *Stage {
	return &Stage{cfg: cfg, logger: logger.With("stage", Name)}
}

// run holds the working state of one invocation.
type run struct {
	df     *frame.Frame
	checks *domain.CheckRegistry
	drift  domain.DriftCheckState
}

func (s *Stage) Run(ctx context.Context, in domain.IngestionArtifact) (domain.ValidationArtifact, error) {
	art, err := s.run(ctx, in)
	if err != nil {
		return domain.ValidationArtifact{}, errs.WrapStage(Name, err)
	}
	return art, nil
}

func (s *Stage) run(ctx context.Context, in domain.IngestionArtifact) (domain.ValidationArtifact, error) {
	if in.IngestedPath == "" {
		return domain.ValidationArtifact{}, fmt.Errorf("%w: ingestion artifact has no ingested path", errs.ErrContractViolation)
	}
	df, err := frame.ReadCSVFile(in.IngestedPath)
	if err != nil {
		return domain.ValidationArtifact{}, fmt.Errorf("load ingested data: %w", err)
	}
	r := &run{df: df, checks: domain.DefaultChecks(), drift: domain.DriftNotPerformed}

	s.checkSchema(r)
	if err := s.auditMissing(r); err != nil {
		return domain.ValidationArtifact{}, err
	}
	if err := s.auditDuplicates(r); err != nil {
		return domain.ValidationArtifact{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.ValidationArtifact{}, err
	}
	if err := s.auditDrift(r); err != nil {
		return domain.ValidationArtifact{}, err
	}

	status := r.checks.Status()
	if err := s.writeReport(r, status); err != nil {
		return domain.ValidationArtifact{}, err
	}
	art := domain.ValidationArtifact{
		Status:     status,
		ReportPath: s.cfg.ReportPath,
		Rows:       r.df.Len(),
	}
	if r.drift == domain.DriftPerformed {
		art.DriftReportPath = s.cfg.DriftReportPath
	}
	if !status {
		s.logger.Warn("validation failed",
			"critical", r.checks.Results(domain.Critical),
			"report", s.cfg.ReportPath,
		)
		return art, nil
	}

	if err := r.df.WriteCSVFile(s.cfg.ValidatedPath); err != nil {
		return domain.ValidationArtifact{}, fmt.Errorf("persist validated data: %w", err)
	}
	if err := atomicfile.Copy(s.cfg.ValidatedPath, s.cfg.BaselinePath); err != nil {
		return domain.ValidationArtifact{}, fmt.Errorf("update drift baseline: %w", err)
	}
	art.ValidatedPath = s.cfg.ValidatedPath
	s.logger.Info("validation passed", "rows", art.Rows, "validated_path", art.ValidatedPath)
	return art, nil
}

func (s *Stage) checkSchema(r *run) {
	var ok bool
	switch s.cfg.SchemaCheck {
	case runctx.SchemaCheckStructure:
		ok = structureMatches(r.df.Columns, s.cfg.Schema)
	default:
		ok = hashMatches(r.df, s.cfg.Schema)
	}
	if !ok {
		r.checks.Fail(domain.CheckSchemaIsMatch)
		s.logger.Warn("schema mismatch",
			"method", s.cfg.SchemaCheck,
			"observed", r.df.Columns,
			"expected", s.cfg.Schema.ExpectedColumns(),
		)
	}
}

// hashMatches compares the digest of the observed column:dtype pairs with
// the digest of the declared columns.
func hashMatches(df *frame.Frame, schema domain.Schema) bool {
	observed := make(map[string]string, len(df.Columns))
	for name, dt := range df.DTypes() {
		observed[name] = string(dt)
	}
	return domain.HashColumns(observed) == schema.Hash()
}

// structureMatches compares the observed columns plus the target with the
// declared columns plus the target, as sets.
func structureMatches(columns []string, schema domain.Schema) bool {
	set := map[string]struct{}{schema.Target: {}}
	for _, c := range columns {
		set[c] = struct{}{}
	}
	return slices.Equal(slices.Sorted(maps.Keys(set)), schema.ExpectedColumns())
}

func (s *Stage) auditMissing(r *run) error {
	counts := r.df.NullCounts()
	total := 0
	for _, n := range counts {
		total += n
	}
	if total > 0 {
		r.checks.Fail(domain.CheckNoMissingValues)
	}
	if err := atomicfile.WriteJSON(s.cfg.MissingReportPath, counts); err != nil {
		return fmt.Errorf("write missing values report: %w", err)
	}
	s.logger.Info("missing values audited", "missing_cells", total)
	return nil
}

func (s *Stage) auditDuplicates(r *run) error {
	before := r.df.Len()
	removed := r.df.DropDuplicates()
	if removed > 0 {
		r.checks.Fail(domain.CheckNoDuplicateRows)
	}
	report := domain.DuplicatesReport{RowsBefore: before, RowsAfter: r.df.Len(), Removed: removed}
	if err := atomicfile.WriteYAML(s.cfg.DuplicatesReportPath, report); err != nil {
		return fmt.Errorf("write duplicates report: %w", err)
	}
	s.logger.Info("duplicates audited", "removed", removed, "rows", r.df.Len())
	return nil
}

// auditDrift compares against the latest validated snapshot. When disabled
// or without one (first run) the check is not performed and stays passing.
func (s *Stage) auditDrift(r *run) error {
	if !s.cfg.Drift.Enabled {
		s.logger.Info("drift detection disabled")
		return nil
	}
	if !atomicfile.Exists(s.cfg.BaselinePath) {
		s.logger.Info("drift baseline not found, skipping drift check", "baseline", s.cfg.BaselinePath)
		return nil
	}
	baseline, err := frame.ReadCSVFile(s.cfg.BaselinePath)
	if err != nil {
		r.checks.Fail(domain.CheckNoDataDrift)
		return fmt.Errorf("load drift baseline: %w", err)
	}
	report, err := drift.Compare(baseline, r.df, s.cfg.Drift.PValueThreshold)
	if err != nil {
		r.checks.Fail(domain.CheckNoDataDrift)
		return fmt.Errorf("drift check: %w", err)
	}
	report.BaselinePath = s.cfg.BaselinePath
	if err := atomicfile.WriteYAML(s.cfg.DriftReportPath, report); err != nil {
		return fmt.Errorf("write drift report: %w", err)
	}
	r.drift = domain.DriftPerformed
	if report.DriftDetected {
		r.checks.Fail(domain.CheckNoDataDrift)
		s.logger.Warn("data drift detected", "report", s.cfg.DriftReportPath)
	}
	return nil
}

func (s *Stage) writeReport(r *run, status bool) error {
	report := domain.ValidationReport{
		Timestamp:        s.cfg.Timestamp,
		ValidationStatus: status,
		SchemaCheckType:  s.cfg.SchemaCheck,
		DriftCheck:       r.drift,
	}
	if r.drift == domain.DriftPerformed {
		report.DriftCheckMethod = s.cfg.Drift.Method
	}
	report.CheckResults.Critical = r.checks.Results(domain.Critical)
	report.CheckResults.NonCritical = r.checks.Results(domain.NonCritical)
	if err := atomicfile.WriteYAML(s.cfg.ReportPath, report); err != nil {
		return fmt.Errorf("write validation report: %w", err)
	}
	return nil
}
