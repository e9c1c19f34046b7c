package export_test

import (
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"

	"preflight/internal/domain"
	"preflight/internal/export"
)

func TestClientsCSVHeaderOrder(t *testing.T) {
	data, err := export.ClientsCSV(nil)
	if err != nil {
		t.Fatal(err)
	}
	records, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	want := "ClientID,ClientName,PriorityLevel,RequestedTaskIDs,GroupTag,AttributesJSON"
	if got := strings.Join(records[0], ","); got != want {
		t.Fatalf("header %q", got)
	}
}

func TestClientsCSVQuotesEmbeddedCommas(t *testing.T) {
	clients := []domain.Client{{
		ClientID: "C1", ClientName: "Acme, Inc.", PriorityLevel: 2,
		RequestedTaskIDs: "T1,T2", AttributesJSON: `{"vip":true}`,
	}}
	data, err := export.ClientsCSV(clients)
	if err != nil {
		t.Fatal(err)
	}
	records, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("records: %v", records)
	}
	if records[1][1] != "Acme, Inc." || records[1][3] != "T1,T2" {
		t.Fatalf("row: %v", records[1])
	}
}

func TestTasksCSVRoundTripsNormalizedPhases(t *testing.T) {
	tasks := []domain.Task{{
		TaskID: "T1", TaskName: "t", Duration: 1.5,
		PreferredPhases: "[1,2,3]", MaxConcurrent: 2,
	}}
	data, err := export.TasksCSV(tasks)
	if err != nil {
		t.Fatal(err)
	}
	records, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if records[1][3] != "1.5" || records[1][5] != "[1,2,3]" {
		t.Fatalf("row: %v", records[1])
	}
}

func TestRulesDocumentShape(t *testing.T) {
	prio := 2
	rules := []domain.Rule{{
		ID:       "r1",
		Type:     domain.RuleCoRun,
		Name:     "pair",
		Priority: &prio,
		CoRun:    &domain.CoRunParams{TaskIDs: []string{"T1", "T2"}},
	}}
	data, err := export.RulesDocument(rules, domain.Weights{"priorityLevel": 1})
	if err != nil {
		t.Fatal(err)
	}
	var doc struct {
		Rules []struct {
			ID     string          `json:"id"`
			Type   string          `json:"type"`
			Params json.RawMessage `json:"params"`
		} `json:"rules"`
		Weights map[string]float64 `json:"weights"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("document is not valid JSON: %v", err)
	}
	if len(doc.Rules) != 1 || doc.Rules[0].Type != "coRun" {
		t.Fatalf("rules: %+v", doc.Rules)
	}
	var params struct {
		TaskIDs []string `json:"taskIds"`
	}
	if err := json.Unmarshal(doc.Rules[0].Params, &params); err != nil {
		t.Fatal(err)
	}
	if len(params.TaskIDs) != 2 {
		t.Fatalf("params: %+v", params)
	}
	if doc.Weights["priorityLevel"] != 1 {
		t.Fatalf("weights: %v", doc.Weights)
	}
}

func TestRulesDocumentEmptyCollections(t *testing.T) {
	data, err := export.RulesDocument(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	s := string(data)
	if !strings.Contains(s, `"rules": []`) || !strings.Contains(s, `"weights": {}`) {
		t.Fatalf("document: %s", s)
	}
}
