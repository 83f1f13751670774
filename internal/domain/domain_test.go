package domain

import (
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestHashColumns_OrderIndependent(t *testing.T) {
	a := map[string]string{"URL_Length": "int64", "Result": "int64", "SSLfinal_State": "int64"}
	b := map[string]string{}
	for _, k := range []string{"SSLfinal_State", "Result", "URL_Length"} {
		b[k] = a[k]
	}
	if HashColumns(a) != HashColumns(b) {
		t.Fatalf("hash depends on insertion order")
	}
}

func TestHashColumns_TypeChangeChangesHash(t *testing.T) {
	base := map[string]string{"URL_Length": "int64", "Result": "int64"}
	for col := range base {
		changed := map[string]string{"URL_Length": "int64", "Result": "int64"}
		changed[col] = "float64"
		if HashColumns(base) == HashColumns(changed) {
			t.Fatalf("changing %s dtype did not change hash", col)
		}
	}
}

func TestSchema_ExpectedColumns(t *testing.T) {
	s := Schema{Columns: map[string]string{"b": "int64", "a": "int64"}, Target: "Result"}
	got := strings.Join(s.ExpectedColumns(), ",")
	if got != "Result,a,b" {
		t.Fatalf("ExpectedColumns()=%s", got)
	}
	if err := (Schema{Columns: map[string]string{"a": "int64"}}).Validate(); err == nil {
		t.Fatalf("expected missing target error")
	}
}

func TestCheckRegistry_StatusIgnoresNonCritical(t *testing.T) {
	r := DefaultChecks()
	r.Fail(CheckNoDuplicateRows)
	r.Fail(CheckNoMissingValues)
	if !r.Status() {
		t.Fatalf("non-critical failures must not flip status")
	}
	r.Fail(CheckNoDataDrift)
	if r.Status() {
		t.Fatalf("critical failure must flip status")
	}
}

func TestCheckRegistry_Disjoint(t *testing.T) {
	r := DefaultChecks()
	if err := r.Register(CheckSchemaIsMatch, NonCritical); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
	if err := r.Register("x", "fatal"); err == nil {
		t.Fatalf("expected unknown severity error")
	}
}

func TestCheckResults_YAMLKeepsOrder(t *testing.T) {
	r := DefaultChecks()
	r.Fail(CheckNoDuplicateRows)
	var report ValidationReport
	report.ValidationStatus = r.Status()
	report.CheckResults.Critical = r.Results(Critical)
	report.CheckResults.NonCritical = r.Results(NonCritical)
	b, err := yaml.Marshal(report)
	if err != nil {
		t.Fatalf("Marshal() err=%v", err)
	}
	out := string(b)
	if strings.Index(out, "schema_is_match") > strings.Index(out, "no_data_drift") {
		t.Fatalf("critical checks out of order:\n%s", out)
	}
	if !strings.Contains(out, "no_duplicate_rows: false") {
		t.Fatalf("missing failed check:\n%s", out)
	}
}

func TestSearchParam_KindAndValidate(t *testing.T) {
	var space map[string]SearchParam
	doc := `
n_estimators: {low: 10, high: 100, step: 10}
C: {low: 0.001, high: 10.0, log: true}
criterion: {choices: [gini, entropy]}
bad: {low: 5, high: 1}
float_step: {low: 0.1, high: 1.0, step: 0.1}
`
	if err := yaml.Unmarshal([]byte(doc), &space); err != nil {
		t.Fatalf("Unmarshal() err=%v", err)
	}
	if space["n_estimators"].Kind() != ParamInt || space["C"].Kind() != ParamFloat || space["criterion"].Kind() != ParamCategorical {
		t.Fatalf("unexpected kinds: %+v", space)
	}
	low, high, step := space["n_estimators"].IntRange()
	if low != 10 || high != 100 || step != 10 {
		t.Fatalf("IntRange()=%d,%d,%d", low, high, step)
	}
	if err := space["C"].Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
	if err := space["bad"].Validate(); err == nil {
		t.Fatalf("expected low > high error")
	}
	if err := space["float_step"].Validate(); err == nil {
		t.Fatalf("expected step on a float range to be rejected")
	}
}

func TestModelSpec_ShortName(t *testing.T) {
	if got := (ModelSpec{Name: "ensemble.RandomForestClassifier"}).ShortName(); got != "RandomForestClassifier" {
		t.Fatalf("ShortName()=%q", got)
	}
}
