package domain

// Reports are written for audit only; nothing in a run reads them back.

type DriftCheckState string

const (
	DriftPerformed    DriftCheckState = "performed"
	DriftNotPerformed DriftCheckState = "not_performed"
)

type ValidationReport struct {
	Timestamp        string          `yaml:"timestamp"`
	ValidationStatus bool            `yaml:"validation_status"`
	SchemaCheckType  string          `yaml:"schema_check_type"`
	DriftCheck       DriftCheckState `yaml:"drift_check"`
	DriftCheckMethod string          `yaml:"drift_check_method,omitempty"`
	CheckResults     struct {
		Critical    CheckResults `yaml:"critical_checks"`
		NonCritical CheckResults `yaml:"non_critical_checks"`
	} `yaml:"check_results"`
}

type ColumnDrift struct {
	Statistic float64 `yaml:"statistic"`
	PValue    float64 `yaml:"p_value"`
	Drift     bool    `yaml:"drift"`
}

type DriftReport struct {
	Method        string                 `yaml:"method"`
	Threshold     float64                `yaml:"p_value_threshold"`
	BaselinePath  string                 `yaml:"baseline_path"`
	Columns       map[string]ColumnDrift `yaml:"columns"`
	Skipped       []string               `yaml:"skipped_columns,omitempty"`
	DriftDetected bool                   `yaml:"drift_detected"`
}

type DuplicatesReport struct {
	RowsBefore int `yaml:"rows_before"`
	RowsAfter  int `yaml:"rows_after"`
	Removed    int `yaml:"removed"`
}

type OptimizationReport struct {
	Enabled   bool    `yaml:"enabled"`
	BestTrial *int    `yaml:"best_trial"`
	NTrials   int     `yaml:"n_trials"`
	CVFolds   int     `yaml:"cv_folds"`
	Scoring   string  `yaml:"scoring"`
	Direction string  `yaml:"direction"`
	MeanScore float64 `yaml:"mean_score"`
}

type CandidateReport struct {
	Name      string         `yaml:"name"`
	Score     float64        `yaml:"score"`
	BestTrial *int           `yaml:"best_trial"`
	Params    map[string]any `yaml:"params"`
}

type TrainingReport struct {
	Timestamp       string             `yaml:"timestamp"`
	BestModel       string             `yaml:"best_model"`
	BestModelID     string             `yaml:"best_model_id"`
	BestModelParams map[string]any     `yaml:"best_model_params"`
	TrainMetrics    map[string]float64 `yaml:"train_metrics"`
	ValMetrics      map[string]float64 `yaml:"val_metrics"`
	Optimization    OptimizationReport `yaml:"optimization"`
	Candidates      []CandidateReport  `yaml:"candidates"`
}

// EvaluationReport is keyed by split name (train, val, test).
type EvaluationReport struct {
	Timestamp string                        `yaml:"timestamp"`
	ModelPath string                        `yaml:"model_path"`
	Splits    map[string]map[string]float64 `yaml:",inline"`
}
