// Package runctx resolves the static configuration documents and derives
// every path a run reads or writes from one run identifier.
package runctx

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/animus-labs/netsec-pipeline/internal/domain"
	"github.com/animus-labs/netsec-pipeline/internal/errs"
	"github.com/animus-labs/netsec-pipeline/internal/ml/metrics"
	"github.com/animus-labs/netsec-pipeline/internal/ml/modelselect"
	"github.com/animus-labs/netsec-pipeline/internal/ml/preprocess"
	"github.com/animus-labs/netsec-pipeline/internal/platform/yamlcfg"
)

// RunIDLayout formats the run identifier, e.g. 2026_10_18T09_30_00Z.
const RunIDLayout = "2006_01_02T15_04_05Z"

type Options struct {
	// ConfigDir holds config.yaml, params.yaml and schema.yaml. Defaults to
	// WorkDir/config.
	ConfigDir string
	// WorkDir anchors relative roots. Defaults to the current directory.
	WorkDir string
	Now     func() time.Time
	// RunID pins the identifier instead of deriving it from Now.
	RunID string
}

// RunContext is built once per run and passed by pointer to every
// component. It is read-only after Load.
type RunContext struct {
	runID     string
	startedAt time.Time
	workDir   string
	configDir string

	config configDoc
	params parsedParams
	schema domain.Schema
}

// Load reads and validates the three documents. Nothing is created on disk
// and any problem is returned as one or more *errs.ConfigError.
func Load(opts Options) (*RunContext, error) {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	workDir := opts.WorkDir
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, errs.NewConfigError("", "work_dir", err)
		}
		workDir = wd
	}
	workDir, err := filepath.Abs(workDir)
	if err != nil {
		return nil, errs.NewConfigError("", "work_dir", err)
	}
	configDir := opts.ConfigDir
	if configDir == "" {
		configDir = filepath.Join(workDir, "config")
	}
	if !filepath.IsAbs(configDir) {
		configDir = filepath.Join(workDir, configDir)
	}

	rc := &RunContext{workDir: workDir, configDir: configDir}
	if err := loadDocument(configDir, ConfigDocument, &rc.config); err != nil {
		return nil, err
	}
	var params paramsDoc
	if err := loadDocument(configDir, ParamsDocument, &params); err != nil {
		return nil, err
	}
	if err := loadDocument(configDir, SchemaDocument, &rc.schema); err != nil {
		return nil, err
	}

	rc.config.applyDefaults()
	params.applyDefaults()
	parsed, perr := params.parse()
	if err := errors.Join(rc.config.validate(), perr, validateSchema(rc.schema)); err != nil {
		return nil, err
	}
	rc.params = parsed

	rc.startedAt = now().UTC()
	rc.runID = opts.RunID
	if rc.runID == "" {
		rc.runID = rc.startedAt.Format(RunIDLayout)
	}
	if filepath.Base(rc.runID) != rc.runID || rc.runID == "." || rc.runID == ".." {
		return nil, errs.NewConfigError("", "run_id", fmt.Errorf("%q is not a valid directory name", rc.runID))
	}
	return rc, nil
}

func loadDocument(dir, name string, v any) error {
	if err := yamlcfg.LoadFile(filepath.Join(dir, name), v); err != nil {
		return errs.NewConfigError(name, "", err)
	}
	return nil
}

func (rc *RunContext) RunID() string { return rc.runID }

// Timestamp is the run start time stamped into reports.
func (rc *RunContext) Timestamp() string { return rc.startedAt.Format(time.RFC3339) }

func (rc *RunContext) StartedAt() time.Time { return rc.startedAt }

func (rc *RunContext) Schema() domain.Schema { return rc.schema }

func (rc *RunContext) WorkDir() string { return rc.workDir }

func (rc *RunContext) abs(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(rc.workDir, p)
}

// ArtifactsDir is artifacts/<run_id>.
func (rc *RunContext) ArtifactsDir() string {
	return filepath.Join(rc.abs(rc.config.ArtifactsRoot), rc.runID)
}

func (rc *RunContext) stableDir(sub string) string {
	return filepath.Join(rc.abs(rc.config.StableDataDir), sub)
}

func (rc *RunContext) stageDir(stage string) string {
	return filepath.Join(rc.ArtifactsDir(), stage)
}

func mkdirs(dirs ...string) error {
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}
	return nil
}

// LogDir is logs/<run_id>, created on first use.
func (rc *RunContext) LogDir() (string, error) {
	dir := filepath.Join(rc.abs(rc.config.LogsRoot), rc.runID)
	return dir, mkdirs(dir)
}

// LogFile is the run's log file inside LogDir.
func (rc *RunContext) LogFile() (string, error) {
	dir, err := rc.LogDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, rc.runID+".log"), nil
}

type IngestionConfig struct {
	FeatureStoreDir string
	IngestedDir     string
	RawPath         string
	IngestedPath    string
	RawStablePath   string
	DropColumns     []string
	MissingToken    string
}

func (rc *RunContext) IngestionConfig() (IngestionConfig, error) {
	c := rc.config.DataIngestion
	root := rc.stageDir("data_ingestion")
	cfg := IngestionConfig{
		FeatureStoreDir: filepath.Join(root, "featurestore"),
		IngestedDir:     filepath.Join(root, "ingested"),
		DropColumns:     slices.Clone(c.DropColumns),
		MissingToken:    c.MissingToken,
	}
	cfg.RawPath = filepath.Join(cfg.FeatureStoreDir, c.RawDataFilename)
	cfg.IngestedPath = filepath.Join(cfg.IngestedDir, c.IngestedDataFilename)
	cfg.RawStablePath = filepath.Join(rc.stableDir("raw"), c.RawDataFilename)
	return cfg, mkdirs(cfg.FeatureStoreDir, cfg.IngestedDir, filepath.Dir(cfg.RawStablePath))
}

type DriftConfig struct {
	Enabled         bool
	Method          string
	PValueThreshold float64
}

type ValidationConfig struct {
	ValidatedDir         string
	ReportsDir           string
	ValidatedPath        string
	MissingReportPath    string
	DuplicatesReportPath string
	DriftReportPath      string
	ReportPath           string
	// BaselinePath is the latest validated snapshot. It is overwritten by
	// every run that passes validation.
	BaselinePath string
	Schema       domain.Schema
	SchemaCheck  string
	Drift        DriftConfig
	Timestamp    string
}

func (rc *RunContext) ValidationConfig() (ValidationConfig, error) {
	c := rc.config.DataValidation
	p := rc.params.raw.DataValidation
	root := rc.stageDir("data_validation")
	cfg := ValidationConfig{
		ValidatedDir: filepath.Join(root, "validated"),
		ReportsDir:   filepath.Join(root, "reports"),
		BaselinePath: filepath.Join(rc.stableDir("validated"), c.ValidatedDataFilename),
		Schema:       rc.schema,
		SchemaCheck:  p.SchemaCheck.Method,
		Drift: DriftConfig{
			Enabled:         p.DriftDetection.Enabled,
			Method:          p.DriftDetection.Method,
			PValueThreshold: p.DriftDetection.PValueThreshold,
		},
		Timestamp: rc.Timestamp(),
	}
	cfg.ValidatedPath = filepath.Join(cfg.ValidatedDir, c.ValidatedDataFilename)
	cfg.MissingReportPath = filepath.Join(cfg.ReportsDir, c.MissingValuesReportFilename)
	cfg.DuplicatesReportPath = filepath.Join(cfg.ReportsDir, c.DuplicatesReportFilename)
	cfg.DriftReportPath = filepath.Join(cfg.ReportsDir, c.DriftReportFilename)
	cfg.ReportPath = filepath.Join(cfg.ReportsDir, c.ValidationReportFilename)
	return cfg, mkdirs(cfg.ValidatedDir, cfg.ReportsDir, filepath.Dir(cfg.BaselinePath))
}

type TransformationConfig struct {
	TransformedDir string
	ObjectDir      string
	// StableDir receives a copy of every split and both preprocessors.
	StableDir               string
	FeaturePreprocessorPath string
	LabelPreprocessorPath   string
	TargetColumn            string
	Split                   modelselect.SplitOptions
	Preprocess              preprocess.Spec
}

// SplitPaths names the files of one split inside dir.
func SplitPaths(dir, split string) domain.SplitPaths {
	return domain.SplitPaths{
		X:   filepath.Join(dir, "x_"+split+".csv"),
		Y:   filepath.Join(dir, "y_"+split+".csv"),
		Raw: filepath.Join(dir, split+"_raw.csv"),
	}
}

func (rc *RunContext) TransformationConfig() (TransformationConfig, error) {
	c := rc.config.DataTransformation
	root := rc.stageDir("data_transformation")
	cfg := TransformationConfig{
		TransformedDir: filepath.Join(root, "transformed"),
		ObjectDir:      filepath.Join(root, "transformed_object"),
		StableDir:      rc.stableDir("transformed"),
		TargetColumn:   rc.schema.Target,
		Split:          rc.params.split,
		Preprocess:     rc.params.preprocess,
	}
	cfg.FeaturePreprocessorPath = filepath.Join(cfg.ObjectDir, c.FeaturePreprocessorFilename)
	cfg.LabelPreprocessorPath = filepath.Join(cfg.ObjectDir, c.LabelPreprocessorFilename)
	return cfg, mkdirs(cfg.TransformedDir, cfg.ObjectDir, cfg.StableDir)
}

type OptimizationConfig struct {
	Enabled   bool
	NTrials   int
	CVFolds   int
	Scoring   metrics.Metric
	Direction modelselect.Direction
	Seed      uint64
}

type TrainerConfig struct {
	RootDir       string
	EstimatorPath string
	InferencePath string
	ReportPath    string
	Models        []domain.ModelSpec
	Optimization  OptimizationConfig
	// Metrics are computed on train and val after the refit.
	Metrics         []metrics.Metric
	InverseLabels   bool
	TrackingEnabled bool
	ExperimentName  string
	RunID           string
	Timestamp       string
}

func (rc *RunContext) TrainerConfig() (TrainerConfig, error) {
	c := rc.config.ModelTrainer
	p := rc.params.raw.ModelTrainer
	root := rc.stageDir("model_trainer")
	cfg := TrainerConfig{
		RootDir:       root,
		EstimatorPath: filepath.Join(root, c.EstimatorFilename),
		InferencePath: filepath.Join(root, c.InferenceModelFilename),
		ReportPath:    filepath.Join(root, c.TrainingReportFilename),
		Models:        slices.Clone(p.Models),
		Optimization: OptimizationConfig{
			Enabled:   p.Optimization.Enabled,
			NTrials:   p.Optimization.NTrials,
			CVFolds:   p.Optimization.CVFolds,
			Scoring:   rc.params.scoring,
			Direction: rc.params.direction,
			Seed:      p.Optimization.Seed,
		},
		Metrics:         slices.Clone(rc.params.toLog),
		InverseLabels:   p.InverseLabelMapping,
		TrackingEnabled: p.Tracking.Enabled,
		ExperimentName:  p.Tracking.ExperimentName,
		RunID:           rc.runID,
		Timestamp:       rc.Timestamp(),
	}
	return cfg, mkdirs(root)
}

type EvaluationConfig struct {
	RootDir      string
	ReportPath   string
	TargetColumn string
	Timestamp    string
}

func (rc *RunContext) EvaluationConfig() (EvaluationConfig, error) {
	root := rc.stageDir("model_evaluation")
	cfg := EvaluationConfig{
		RootDir:      root,
		ReportPath:   filepath.Join(root, rc.config.ModelEvaluation.EvaluationReportFilename),
		TargetColumn: rc.schema.Target,
		Timestamp:    rc.Timestamp(),
	}
	return cfg, mkdirs(root)
}

type PusherConfig struct {
	FinalModelPath string
	UploadEnabled  bool
	// ModelKey is the remote key of the final model file.
	ModelKey     string
	ArtifactsDir string
	LogsDir      string
	// ArtifactsPrefix and LogsPrefix already end in the run identifier.
	ArtifactsPrefix string
	LogsPrefix      string
}

func (rc *RunContext) PusherConfig() (PusherConfig, error) {
	c := rc.config.ModelPusher
	logs, err := rc.LogDir()
	if err != nil {
		return PusherConfig{}, err
	}
	cfg := PusherConfig{
		FinalModelPath:  filepath.Join(rc.abs(c.FinalModelDir), c.FinalModelFilename),
		UploadEnabled:   c.UploadEnabled,
		ModelKey:        c.FinalModelFilename,
		ArtifactsDir:    rc.ArtifactsDir(),
		LogsDir:         logs,
		ArtifactsPrefix: c.ArtifactsPrefix + "/" + rc.runID,
		LogsPrefix:      c.LogsPrefix + "/" + rc.runID,
	}
	return cfg, mkdirs(filepath.Dir(cfg.FinalModelPath), cfg.ArtifactsDir)
}

const (
	SourcePostgres = "postgres"
	SourceObject   = "object"
	SourceFile     = "file"

	SinkObject = "object"
	SinkFile   = "file"
)

// SourceConfig selects the upstream data handler.
type SourceConfig struct {
	Kind   string `yaml:"kind"`
	Table  string `yaml:"table"`
	Bucket string `yaml:"bucket"`
	Key    string `yaml:"key"`
	Path   string `yaml:"path"`
}

func (c SourceConfig) Validate() error {
	switch c.Kind {
	case SourcePostgres:
		if c.Table == "" {
			return errors.New("table is required for postgres")
		}
	case SourceObject:
		if c.Bucket == "" || c.Key == "" {
			return errors.New("bucket and key are required for object")
		}
	case SourceFile:
		if c.Path == "" {
			return errors.New("path is required for file")
		}
	default:
		return fmt.Errorf("kind must be one of postgres, object, file; got %q", c.Kind)
	}
	return nil
}

// SinkConfig selects the remote storage handler. Dir is the mirror root of
// the file sink.
type SinkConfig struct {
	Kind   string `yaml:"kind"`
	Bucket string `yaml:"bucket"`
	Dir    string `yaml:"dir"`
}

func (c SinkConfig) Validate() error {
	switch c.Kind {
	case SinkObject:
		if c.Bucket == "" {
			return errors.New("bucket is required for object")
		}
	case SinkFile:
		if c.Dir == "" {
			return errors.New("dir is required for file")
		}
	default:
		return fmt.Errorf("kind must be object or file; got %q", c.Kind)
	}
	return nil
}

// SourceConfig returns the source block with a file path made absolute.
func (rc *RunContext) SourceConfig() SourceConfig {
	c := rc.config.Source
	if c.Kind == SourceFile {
		c.Path = rc.abs(c.Path)
	}
	return c
}

func (rc *RunContext) SinkConfig() SinkConfig {
	c := rc.config.Sink
	if c.Kind == SinkFile {
		c.Dir = rc.abs(c.Dir)
	}
	return c
}

const (
	TrackingNop      = "nop"
	TrackingLog      = "log"
	TrackingPostgres = "postgres"
)

type TrackingConfig struct {
	Kind           string
	Enabled        bool
	ExperimentName string
}

func (rc *RunContext) TrackingConfig() TrackingConfig {
	t := rc.params.raw.ModelTrainer.Tracking
	return TrackingConfig{
		Kind:           rc.config.Tracking.Kind,
		Enabled:        t.Enabled,
		ExperimentName: t.ExperimentName,
	}
}

// LineageEnabled reports whether lineage events are recorded.
func (rc *RunContext) LineageEnabled() bool { return rc.config.Lineage.Enabled }
