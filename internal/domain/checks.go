package domain

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

const (
	CheckSchemaIsMatch   = "schema_is_match"
	CheckNoDataDrift     = "no_data_drift"
	CheckNoMissingValues = "no_missing_values"
	CheckNoDuplicateRows = "no_duplicate_rows"
)

type Severity string

const (
	Critical    Severity = "critical"
	NonCritical Severity = "non_critical"
)

type CheckResult struct {
	Name   string
	Passed bool
}

// CheckResults marshals as a YAML mapping that keeps registration order.
type CheckResults []CheckResult

func (c CheckResults) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, r := range c {
		value := "false"
		if r.Passed {
			value = "true"
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: r.Name},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: value},
		)
	}
	return node, nil
}

// CheckRegistry holds two disjoint, ordered sets of boolean checks. Every
// check starts out passing; the overall status is the AND of the critical
// ones.
type CheckRegistry struct {
	order    []string
	severity map[string]Severity
	passed   map[string]bool
}

func NewCheckRegistry() *CheckRegistry {
	return &CheckRegistry{
		severity: map[string]Severity{},
		passed:   map[string]bool{},
	}
}

// DefaultChecks registers the validation stage's four checks.
func DefaultChecks() *CheckRegistry {
	r := NewCheckRegistry()
	_ = r.Register(CheckSchemaIsMatch, Critical)
	_ = r.Register(CheckNoDataDrift, Critical)
	_ = r.Register(CheckNoMissingValues, NonCritical)
	_ = r.Register(CheckNoDuplicateRows, NonCritical)
	return r
}

func (r *CheckRegistry) Register(name string, sev Severity) error {
	if sev != Critical && sev != NonCritical {
		return fmt.Errorf("check %s: unknown severity %q", name, sev)
	}
	if _, ok := r.severity[name]; ok {
		return fmt.Errorf("check %s already registered", name)
	}
	r.order = append(r.order, name)
	r.severity[name] = sev
	r.passed[name] = true
	return nil
}

// Fail marks a registered check as failed.
func (r *CheckRegistry) Fail(name string) {
	if _, ok := r.severity[name]; !ok {
		panic(fmt.Sprintf("check %s not registered", name))
	}
	r.passed[name] = false
}

func (r *CheckRegistry) Passed(name string) bool {
	return r.passed[name]
}

func (r *CheckRegistry) Status() bool {
	for _, name := range r.order {
		if r.severity[name] == Critical && !r.passed[name] {
			return false
		}
	}
	return true
}

func (r *CheckRegistry) Results(sev Severity) CheckResults {
	var out CheckResults
	for _, name := range r.order {
		if r.severity[name] == sev {
			out = append(out, CheckResult{Name: name, Passed: r.passed[name]})
		}
	}
	return out
}
