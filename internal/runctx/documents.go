package runctx

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/animus-labs/netsec-pipeline/internal/domain"
	"github.com/animus-labs/netsec-pipeline/internal/errs"
	"github.com/animus-labs/netsec-pipeline/internal/ml/drift"
	"github.com/animus-labs/netsec-pipeline/internal/ml/estimator"
	"github.com/animus-labs/netsec-pipeline/internal/ml/metrics"
	"github.com/animus-labs/netsec-pipeline/internal/ml/modelselect"
	"github.com/animus-labs/netsec-pipeline/internal/ml/preprocess"
)

const (
	ConfigDocument = "config.yaml"
	ParamsDocument = "params.yaml"
	SchemaDocument = "schema.yaml"
)

// configDoc is config.yaml: directory roots, handler selection and the file
// names each stage writes.
type configDoc struct {
	ArtifactsRoot string `yaml:"artifacts_root"`
	LogsRoot      string `yaml:"logs_root"`
	StableDataDir string `yaml:"stable_data_dir"`

	Source   SourceConfig `yaml:"source"`
	Sink     SinkConfig   `yaml:"sink"`
	Tracking trackingDoc  `yaml:"tracking"`
	Lineage  lineageDoc   `yaml:"lineage"`

	DataIngestion struct {
		RawDataFilename      string   `yaml:"raw_data_filename"`
		IngestedDataFilename string   `yaml:"ingested_data_filename"`
		DropColumns          []string `yaml:"drop_columns"`
		MissingToken         string   `yaml:"missing_token"`
	} `yaml:"data_ingestion"`

	DataValidation struct {
		ValidatedDataFilename       string `yaml:"validated_data_filename"`
		MissingValuesReportFilename string `yaml:"missing_values_report_filename"`
		DuplicatesReportFilename    string `yaml:"duplicates_report_filename"`
		DriftReportFilename         string `yaml:"drift_report_filename"`
		ValidationReportFilename    string `yaml:"validation_report_filename"`
	} `yaml:"data_validation"`

	DataTransformation struct {
		FeaturePreprocessorFilename string `yaml:"feature_preprocessor_filename"`
		LabelPreprocessorFilename   string `yaml:"label_preprocessor_filename"`
	} `yaml:"data_transformation"`

	ModelTrainer struct {
		EstimatorFilename      string `yaml:"estimator_filename"`
		InferenceModelFilename string `yaml:"inference_model_filename"`
		TrainingReportFilename string `yaml:"training_report_filename"`
	} `yaml:"model_trainer"`

	ModelEvaluation struct {
		EvaluationReportFilename string `yaml:"evaluation_report_filename"`
	} `yaml:"model_evaluation"`

	ModelPusher struct {
		FinalModelDir      string `yaml:"final_model_dir"`
		FinalModelFilename string `yaml:"final_model_filename"`
		UploadEnabled      bool   `yaml:"upload_enabled"`
		ArtifactsPrefix    string `yaml:"artifacts_prefix"`
		LogsPrefix         string `yaml:"logs_prefix"`
	} `yaml:"model_pusher"`
}

type trackingDoc struct {
	Kind string `yaml:"kind"`
}

type lineageDoc struct {
	Enabled bool `yaml:"enabled"`
}

// paramsDoc is params.yaml.
type paramsDoc struct {
	DataValidation struct {
		SchemaCheck struct {
			Method string `yaml:"method"`
		} `yaml:"schema_check"`
		DriftDetection struct {
			Enabled         bool    `yaml:"enabled"`
			Method          string  `yaml:"method"`
			PValueThreshold float64 `yaml:"p_value_threshold"`
		} `yaml:"drift_detection"`
	} `yaml:"data_validation"`

	DataTransformation struct {
		Split struct {
			TestSize    float64 `yaml:"test_size"`
			ValSize     float64 `yaml:"val_size"`
			RandomState uint64  `yaml:"random_state"`
			Stratify    bool    `yaml:"stratify"`
		} `yaml:"split"`
		Steps   preprocess.StepsDoc   `yaml:"steps"`
		Methods preprocess.MethodsDoc `yaml:"methods"`
	} `yaml:"data_transformation"`

	ModelTrainer struct {
		InverseLabelMapping bool               `yaml:"inverse_label_mapping"`
		Models              []domain.ModelSpec `yaml:"models"`
		Optimization        struct {
			Enabled   bool   `yaml:"enabled"`
			NTrials   int    `yaml:"n_trials"`
			CVFolds   int    `yaml:"cv_folds"`
			Scoring   string `yaml:"scoring"`
			Direction string `yaml:"direction"`
			Seed      uint64 `yaml:"seed"`
		} `yaml:"optimization"`
		Tracking struct {
			Enabled        bool     `yaml:"enabled"`
			ExperimentName string   `yaml:"experiment_name"`
			MetricsToLog   []string `yaml:"metrics_to_log"`
		} `yaml:"tracking"`
	} `yaml:"model_trainer"`
}

const (
	SchemaCheckHash      = "hash"
	SchemaCheckStructure = "structure"
)

// issues collects every problem in a document before failing.
type issues struct {
	doc  string
	errs []error
}

func (is *issues) add(field string, err error) {
	is.errs = append(is.errs, errs.NewConfigError(is.doc, field, err))
}

func (is *issues) addf(field, format string, args ...any) {
	is.add(field, fmt.Errorf(format, args...))
}

func (is *issues) err() error { return errors.Join(is.errs...) }

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func (c *configDoc) applyDefaults() {
	c.ArtifactsRoot = orDefault(c.ArtifactsRoot, "artifacts")
	c.LogsRoot = orDefault(c.LogsRoot, "logs")
	c.StableDataDir = orDefault(c.StableDataDir, "data")

	di := &c.DataIngestion
	di.RawDataFilename = orDefault(di.RawDataFilename, "raw.csv")
	di.IngestedDataFilename = orDefault(di.IngestedDataFilename, "ingested_data.csv")
	di.MissingToken = orDefault(di.MissingToken, "na")
	if di.DropColumns == nil {
		di.DropColumns = []string{"_id"}
	}

	dv := &c.DataValidation
	dv.ValidatedDataFilename = orDefault(dv.ValidatedDataFilename, "validated_data.csv")
	dv.MissingValuesReportFilename = orDefault(dv.MissingValuesReportFilename, "missing_values_report.json")
	dv.DuplicatesReportFilename = orDefault(dv.DuplicatesReportFilename, "duplicates_report.yaml")
	dv.DriftReportFilename = orDefault(dv.DriftReportFilename, "drift_report.yaml")
	dv.ValidationReportFilename = orDefault(dv.ValidationReportFilename, "validation_report.yaml")

	dt := &c.DataTransformation
	dt.FeaturePreprocessorFilename = orDefault(dt.FeaturePreprocessorFilename, "x_preprocessor.json")
	dt.LabelPreprocessorFilename = orDefault(dt.LabelPreprocessorFilename, "y_preprocessor.json")

	mt := &c.ModelTrainer
	mt.EstimatorFilename = orDefault(mt.EstimatorFilename, "model.json")
	mt.InferenceModelFilename = orDefault(mt.InferenceModelFilename, "inference_model.json")
	mt.TrainingReportFilename = orDefault(mt.TrainingReportFilename, "training_report.yaml")

	c.ModelEvaluation.EvaluationReportFilename = orDefault(c.ModelEvaluation.EvaluationReportFilename, "evaluation_report.yaml")

	mp := &c.ModelPusher
	mp.FinalModelDir = orDefault(mp.FinalModelDir, "final_model")
	mp.FinalModelFilename = orDefault(mp.FinalModelFilename, "model.json")
	mp.ArtifactsPrefix = orDefault(mp.ArtifactsPrefix, "artifacts")
	mp.LogsPrefix = orDefault(mp.LogsPrefix, "logs")

	c.Tracking.Kind = orDefault(c.Tracking.Kind, TrackingLog)
}

func (c *configDoc) validate() error {
	is := &issues{doc: ConfigDocument}
	if err := c.Source.Validate(); err != nil {
		is.add("source", err)
	}
	if c.Sink.Kind != "" || c.ModelPusher.UploadEnabled {
		if err := c.Sink.Validate(); err != nil {
			is.add("sink", err)
		}
	}
	switch c.Tracking.Kind {
	case TrackingNop, TrackingLog, TrackingPostgres:
	default:
		is.addf("tracking.kind", "must be one of nop, log, postgres; got %q", c.Tracking.Kind)
	}
	for field, name := range map[string]string{
		"data_ingestion.raw_data_filename":            c.DataIngestion.RawDataFilename,
		"data_ingestion.ingested_data_filename":       c.DataIngestion.IngestedDataFilename,
		"data_validation.validated_data_filename":     c.DataValidation.ValidatedDataFilename,
		"model_trainer.inference_model_filename":      c.ModelTrainer.InferenceModelFilename,
		"model_pusher.final_model_filename":           c.ModelPusher.FinalModelFilename,
		"model_evaluation.evaluation_report_filename": c.ModelEvaluation.EvaluationReportFilename,
	} {
		if strings.ContainsAny(name, `/\`) {
			is.addf(field, "must be a bare file name, got %q", name)
		}
	}
	return is.err()
}

// parsedParams is params.yaml after every enum and registry lookup resolved.
type parsedParams struct {
	raw        paramsDoc
	preprocess preprocess.Spec
	split      modelselect.SplitOptions
	scoring    metrics.Metric
	direction  modelselect.Direction
	toLog      []metrics.Metric
}

func (p *paramsDoc) applyDefaults() {
	dv := &p.DataValidation
	dv.SchemaCheck.Method = orDefault(dv.SchemaCheck.Method, SchemaCheckHash)
	dv.DriftDetection.Method = orDefault(dv.DriftDetection.Method, drift.MethodKS)
	if dv.DriftDetection.PValueThreshold == 0 {
		dv.DriftDetection.PValueThreshold = 0.05
	}
	split := &p.DataTransformation.Split
	if split.TestSize == 0 {
		split.TestSize = 0.15
	}
	if split.ValSize == 0 {
		split.ValSize = 0.15
	}
	opt := &p.ModelTrainer.Optimization
	if opt.NTrials == 0 {
		opt.NTrials = 20
	}
	if opt.CVFolds == 0 {
		opt.CVFolds = 5
	}
	opt.Scoring = orDefault(opt.Scoring, string(metrics.Accuracy))
	opt.Direction = orDefault(opt.Direction, string(modelselect.Maximize))
	tr := &p.ModelTrainer.Tracking
	if tr.MetricsToLog == nil {
		for _, m := range metrics.Classification {
			tr.MetricsToLog = append(tr.MetricsToLog, string(m))
		}
	}
	tr.ExperimentName = orDefault(tr.ExperimentName, "netsec")
}

func (p *paramsDoc) parse() (parsedParams, error) {
	is := &issues{doc: ParamsDocument}
	out := parsedParams{raw: *p}

	dv := p.DataValidation
	switch dv.SchemaCheck.Method {
	case SchemaCheckHash, SchemaCheckStructure:
	default:
		is.addf("data_validation.schema_check.method", "must be hash or structure, got %q", dv.SchemaCheck.Method)
	}
	if dv.DriftDetection.Method != drift.MethodKS {
		is.addf("data_validation.drift_detection.method", "only %s is supported, got %q", drift.MethodKS, dv.DriftDetection.Method)
	}
	if t := dv.DriftDetection.PValueThreshold; t <= 0 || t >= 1 || math.IsNaN(t) {
		is.addf("data_validation.drift_detection.p_value_threshold", "must be in (0,1), got %g", t)
	}

	dt := p.DataTransformation
	out.split = modelselect.SplitOptions{
		TestSize:    dt.Split.TestSize,
		ValSize:     dt.Split.ValSize,
		RandomState: dt.Split.RandomState,
		Stratify:    dt.Split.Stratify,
	}
	if err := out.split.Validate(); err != nil {
		is.add("data_transformation.split", err)
	}
	spec, err := preprocess.ParseSpec(dt.Steps, dt.Methods)
	if err != nil {
		is.add("data_transformation", err)
	}
	out.preprocess = spec

	mt := p.ModelTrainer
	if len(mt.Models) == 0 {
		is.addf("model_trainer.models", "at least one model is required")
	}
	for i, m := range mt.Models {
		field := fmt.Sprintf("model_trainer.models[%d]", i)
		if err := m.Validate(); err != nil {
			is.add(field, err)
			continue
		}
		if !estimator.Known(m.Name) {
			is.addf(field+".name", "unknown estimator %q (known: %v)", m.Name, estimator.IDs())
			continue
		}
		if _, err := estimator.New(m.Name, m.Params); err != nil {
			is.add(field+".params", err)
		}
	}
	opt := mt.Optimization
	if opt.Enabled && opt.NTrials < 1 {
		is.addf("model_trainer.optimization.n_trials", "must be >= 1, got %d", opt.NTrials)
	}
	if opt.CVFolds < 2 {
		is.addf("model_trainer.optimization.cv_folds", "must be >= 2, got %d", opt.CVFolds)
	}
	if out.scoring, err = metrics.Parse(opt.Scoring); err != nil {
		is.add("model_trainer.optimization.scoring", err)
	}
	if out.direction, err = modelselect.ParseDirection(opt.Direction); err != nil {
		is.add("model_trainer.optimization.direction", err)
	}
	if out.toLog, err = metrics.ParseAll(mt.Tracking.MetricsToLog); err != nil {
		is.add("model_trainer.tracking.metrics_to_log", err)
	}
	return out, is.err()
}

func validateSchema(s domain.Schema) error {
	if err := s.Validate(); err != nil {
		return errs.NewConfigError(SchemaDocument, "", err)
	}
	return nil
}
