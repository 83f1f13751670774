package domain

// Artifacts are built once by the producing stage and only read afterwards.

type IngestionArtifact struct {
	RawPath       string
	IngestedPath  string
	RawStablePath string
	Rows          int
}

// ValidationArtifact carries ValidatedPath only when Status is true.
type ValidationArtifact struct {
	Status          bool
	ValidatedPath   string
	ReportPath      string
	DriftReportPath string
	Rows            int
}

func (a ValidationArtifact) Usable() bool {
	return a.Status && a.ValidatedPath != ""
}

// SplitPaths locates one split: transformed features, encoded labels and
// the untransformed rows they came from.
type SplitPaths struct {
	X   string
	Y   string
	Raw string
}

type Splits struct {
	Train SplitPaths
	Val   SplitPaths
	Test  SplitPaths
}

// Each calls fn for train, val and test in that order.
func (s Splits) Each(fn func(name string, p SplitPaths) error) error {
	for _, item := range []struct {
		name string
		p    SplitPaths
	}{{"train", s.Train}, {"val", s.Val}, {"test", s.Test}} {
		if err := fn(item.name, item.p); err != nil {
			return err
		}
	}
	return nil
}

type TransformationArtifact struct {
	Splits                  Splits
	FeaturePreprocessorPath string
	LabelPreprocessorPath   string
	TargetColumn            string
}

type TrainingArtifact struct {
	EstimatorPath string
	InferencePath string
	ReportPath    string
	BestModel     string
	BestScore     float64
	Splits        Splits
}

type EvaluationArtifact struct {
	ReportPath string
	Metrics    map[string]map[string]float64
}

// PublishingArtifact has an empty RemoteURI when uploads are disabled.
type PublishingArtifact struct {
	LocalPath string
	RemoteURI string
}
