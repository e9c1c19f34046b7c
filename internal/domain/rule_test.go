package domain_test

import (
	"encoding/json"
	"strings"
	"testing"

	"preflight/internal/domain"
)

func TestRuleMarshalEmitsMatchingParams(t *testing.T) {
	r := domain.Rule{
		ID:    "r1",
		Type:  domain.RuleCoRun,
		Name:  "pair",
		CoRun: &domain.CoRunParams{TaskIDs: []string{"T1", "T2"}},
	}
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	s := string(data)
	if !strings.Contains(s, `"type":"coRun"`) || !strings.Contains(s, `"taskIds":["T1","T2"]`) {
		t.Fatalf("payload: %s", s)
	}
}

func TestRuleUnmarshalSelectsVariant(t *testing.T) {
	data := []byte(`{"id":"r1","type":"loadLimit","name":"cap","params":{"workerGroup":"ops","maxSlotsPerPhase":2}}`)
	var r domain.Rule
	if err := json.Unmarshal(data, &r); err != nil {
		t.Fatal(err)
	}
	if r.LoadLimit == nil || r.LoadLimit.WorkerGroup != "ops" || r.LoadLimit.MaxSlotsPerPhase != 2 {
		t.Fatalf("rule: %+v", r)
	}
	if r.CoRun != nil {
		t.Fatal("only one variant pointer may be set")
	}
}

func TestRuleRoundTrip(t *testing.T) {
	prio := 1
	in := domain.Rule{
		ID:                 "r1",
		Type:               domain.RulePrecedenceOverride,
		Name:               "prec",
		Priority:           &prio,
		PrecedenceOverride: &domain.PrecedenceOverrideParams{RuleIDs: []string{"a", "b"}},
	}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	var out domain.Rule
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out.PrecedenceOverride == nil || len(out.PrecedenceOverride.RuleIDs) != 2 {
		t.Fatalf("round trip: %+v", out)
	}
	if out.Priority == nil || *out.Priority != 1 {
		t.Fatalf("priority: %+v", out.Priority)
	}
}

func TestRuleUnmarshalUnknownTypeWithParams(t *testing.T) {
	data := []byte(`{"id":"r1","type":"teleport","name":"?","params":{"x":1}}`)
	var r domain.Rule
	if err := json.Unmarshal(data, &r); err == nil {
		t.Fatal("want error for unknown type with params")
	}
}

func TestRuleParamsMismatchedVariantIgnored(t *testing.T) {
	r := domain.Rule{
		ID:        "r1",
		Type:      domain.RuleCoRun,
		Name:      "pair",
		LoadLimit: &domain.LoadLimitParams{WorkerGroup: "ops"},
	}
	if r.Params() != nil {
		t.Fatal("params not matching the type must not leak")
	}
}
