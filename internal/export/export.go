// Package export renders validated collections and the rule/weight
// configuration into their external representations: one CSV per entity
// kind and a single JSON document for rules plus normalized weights.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strconv"

	"preflight/internal/domain"
)

var clientHeader = []string{"ClientID", "ClientName", "PriorityLevel", "RequestedTaskIDs", "GroupTag", "AttributesJSON"}
var workerHeader = []string{"WorkerID", "WorkerName", "Skills", "AvailableSlots", "MaxLoadPerPhase", "WorkerGroup", "QualificationLevel"}
var taskHeader = []string{"TaskID", "TaskName", "Category", "Duration", "RequiredSkills", "PreferredPhases", "MaxConcurrent"}

// ClientsCSV renders the client collection with the header row in field
// declaration order.
func ClientsCSV(clients []domain.Client) ([]byte, error) {
	records := [][]string{clientHeader}
	for _, c := range clients {
		records = append(records, []string{
			c.ClientID, c.ClientName, strconv.Itoa(c.PriorityLevel),
			c.RequestedTaskIDs, c.GroupTag, c.AttributesJSON,
		})
	}
	return writeCSV(records)
}

func WorkersCSV(workers []domain.Worker) ([]byte, error) {
	records := [][]string{workerHeader}
	for _, w := range workers {
		records = append(records, []string{
			w.WorkerID, w.WorkerName, w.Skills, w.AvailableSlots,
			strconv.Itoa(w.MaxLoadPerPhase), w.WorkerGroup,
			strconv.Itoa(w.QualificationLevel),
		})
	}
	return writeCSV(records)
}

func TasksCSV(tasks []domain.Task) ([]byte, error) {
	records := [][]string{taskHeader}
	for _, t := range tasks {
		records = append(records, []string{
			t.TaskID, t.TaskName, t.Category,
			strconv.FormatFloat(t.Duration, 'f', -1, 64),
			t.RequiredSkills, t.PreferredPhases,
			strconv.Itoa(t.MaxConcurrent),
		})
	}
	return writeCSV(records)
}

func writeCSV(records [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RulesDocument renders rules and weights as one document with two
// top-level keys.
func RulesDocument(rules []domain.Rule, weights domain.Weights) ([]byte, error) {
	if rules == nil {
		rules = []domain.Rule{}
	}
	if weights == nil {
		weights = domain.Weights{}
	}
	doc := struct {
		Rules   []domain.Rule  `json:"rules"`
		Weights domain.Weights `json:"weights"`
	}{Rules: rules, Weights: weights}
	return json.MarshalIndent(doc, "", "  ")
}
