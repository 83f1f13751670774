package preprocess

import (
	"fmt"
	"slices"
	"strings"

	"github.com/animus-labs/netsec-pipeline/internal/platform/yamlcfg"
)

// Side selects which pipeline a slot belongs to.
type Side string

const (
	SideFeatures Side = "x"
	SideLabels   Side = "y"
)

// Slot is a fixed position in a pipeline. Feature slots always run
// imputer, scaler, encoder in that order regardless of document order.
type Slot string

const (
	SlotImputer      Slot = "imputer"
	SlotScaler       Slot = "scaler"
	SlotEncoder      Slot = "encoder"
	SlotLabelMapping Slot = "label_mapping"
)

var slotOrder = map[Side][]Slot{
	SideFeatures: {SlotImputer, SlotScaler, SlotEncoder},
	SideLabels:   {SlotLabelMapping},
}

type Method string

const (
	MethodNone Method = "none"

	ImputerSimple Method = "simple"
	ImputerKNN    Method = "knn"

	ScalerStandard Method = "standard"
	ScalerMinMax   Method = "minmax"
	ScalerRobust   Method = "robust"

	EncoderOneHot  Method = "onehot"
	EncoderOrdinal Method = "ordinal"

	LabelMap Method = "map"
)

var slotMethods = map[Slot][]Method{
	SlotImputer:      {ImputerSimple, ImputerKNN},
	SlotScaler:       {ScalerStandard, ScalerMinMax, ScalerRobust},
	SlotEncoder:      {EncoderOneHot, EncoderOrdinal},
	SlotLabelMapping: {LabelMap},
}

// StepSpec is one resolved slot: a known method plus its decoded options.
type StepSpec struct {
	Slot   Slot
	Method Method
	step   Step
}

// Spec is the parsed step selection for both pipelines.
type Spec struct {
	Features []StepSpec
	Labels   []StepSpec
}

// StepsDoc and MethodsDoc mirror the data_transformation block of the
// parameters document: steps.<side>.<slot> = method, and
// methods.<side>.<slot> = options for that method.
type (
	StepsDoc   map[Side]map[Slot]string
	MethodsDoc map[Side]map[Slot]map[string]any
)

// ParseSpec resolves the step selection. Unknown sides, slots, methods or
// option keys are errors; a slot set to "none" or left out is skipped.
func ParseSpec(steps StepsDoc, methods MethodsDoc) (Spec, error) {
	for side, slots := range steps {
		allowed, ok := slotOrder[side]
		if !ok {
			return Spec{}, fmt.Errorf("steps: unknown side %q", side)
		}
		for slot := range slots {
			if !slices.Contains(allowed, slot) {
				return Spec{}, fmt.Errorf("steps.%s: unsupported step %q", side, slot)
			}
		}
	}
	for side, slots := range methods {
		if _, ok := slotOrder[side]; !ok {
			return Spec{}, fmt.Errorf("methods: unknown side %q", side)
		}
		for slot := range slots {
			if !slices.Contains(slotOrder[side], slot) {
				return Spec{}, fmt.Errorf("methods.%s: unsupported step %q", side, slot)
			}
		}
	}

	var spec Spec
	for _, side := range []Side{SideFeatures, SideLabels} {
		for _, slot := range slotOrder[side] {
			raw := strings.ToLower(strings.TrimSpace(steps[side][slot]))
			if raw == "" || Method(raw) == MethodNone {
				continue
			}
			method := Method(raw)
			if !slices.Contains(slotMethods[slot], method) {
				return Spec{}, fmt.Errorf("steps.%s.%s: unknown method %q", side, slot, raw)
			}
			step, err := newConfiguredStep(method, methods[side][slot])
			if err != nil {
				return Spec{}, fmt.Errorf("methods.%s.%s: %w", side, slot, err)
			}
			ss := StepSpec{Slot: slot, Method: method, step: step}
			if side == SideFeatures {
				spec.Features = append(spec.Features, ss)
			} else {
				spec.Labels = append(spec.Labels, ss)
			}
		}
	}
	return spec, nil
}

// newConfiguredStep builds the transformer for method with its defaults,
// then overlays the declared options.
func newConfiguredStep(method Method, opts map[string]any) (Step, error) {
	var step Step
	switch method {
	case ImputerSimple:
		step = &SimpleImputer{Strategy: StrategyMean}
	case ImputerKNN:
		step = &KNNImputer{NNeighbors: 5, Weights: "uniform"}
	case ScalerStandard:
		step = &StandardScaler{WithMean: true, WithStd: true}
	case ScalerMinMax:
		step = &MinMaxScaler{FeatureRange: [2]float64{0, 1}}
	case ScalerRobust:
		step = &RobustScaler{WithCentering: true, WithScaling: true, QuantileRange: [2]float64{25, 75}}
	case EncoderOneHot:
		step = &OneHotEncoder{HandleUnknown: UnknownIgnore}
	case EncoderOrdinal:
		step = &OrdinalEncoder{HandleUnknown: UnknownError, UnknownValue: -1}
	case LabelMap:
		if _, ok := opts["from"]; !ok {
			return nil, fmt.Errorf("label mapping requires from")
		}
		if _, ok := opts["to"]; !ok {
			return nil, fmt.Errorf("label mapping requires to")
		}
		step = &LabelMapper{}
	default:
		return nil, fmt.Errorf("unknown method %q", method)
	}
	if err := yamlcfg.Remarshal(opts, step); err != nil {
		return nil, err
	}
	return step, nil
}

// Build returns fresh, unfitted feature and label pipelines.
func (s Spec) Build() (features *Pipeline, labels *Pipeline, err error) {
	features, err = build(s.Features)
	if err != nil {
		return nil, nil, err
	}
	labels, err = build(s.Labels)
	if err != nil {
		return nil, nil, err
	}
	return features, labels, nil
}

func build(specs []StepSpec) (*Pipeline, error) {
	steps := make([]Step, 0, len(specs))
	for _, ss := range specs {
		step, err := clone(ss.step)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return NewPipeline(steps...), nil
}

// clone copies a configured step through its JSON form so each Build
// starts from the options alone.
func clone(step Step) (Step, error) {
	p := NewPipeline(step)
	b, err := p.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var out Pipeline
	if err := out.UnmarshalJSON(b); err != nil {
		return nil, err
	}
	return out.Steps[0], nil
}

// Describe renders the slot -> method selection for logs and reports.
func (s Spec) Describe() map[string]string {
	out := map[string]string{}
	for _, ss := range s.Features {
		out[string(SideFeatures)+"."+string(ss.Slot)] = string(ss.Method)
	}
	for _, ss := range s.Labels {
		out[string(SideLabels)+"."+string(ss.Slot)] = string(ss.Method)
	}
	return out
}
