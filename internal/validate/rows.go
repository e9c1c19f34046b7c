package validate

import (
	"fmt"

	"preflight/internal/domain"
)

// ClientResult is the output of the client row validator.
type ClientResult struct {
	Records     []domain.Client     `json:"records"`
	Diagnostics []domain.Diagnostic `json:"diagnostics"`
}

type WorkerResult struct {
	Records     []domain.Worker     `json:"records"`
	Diagnostics []domain.Diagnostic `json:"diagnostics"`
}

type TaskResult struct {
	Records     []domain.Task       `json:"records"`
	Diagnostics []domain.Diagnostic `json:"diagnostics"`
}

// Clients validates raw client rows. A row joins the collection only if
// ClientID, ClientName and PriorityLevel all validate; rows failing a
// required check are dropped but their diagnostics survive. Duplicate
// identifiers are reported once per value after all rows are processed.
func Clients(rows []domain.Row) ClientResult {
	var res ClientResult
	for i, row := range rows {
		c := newRowCtx(domain.EntityClient, i, row)
		rec := domain.Client{
			ClientID:         c.requiredString("ClientID"),
			ClientName:       c.requiredString("ClientName"),
			PriorityLevel:    c.boundedInt("PriorityLevel", 1, 5),
			RequestedTaskIDs: c.optionalString("RequestedTaskIDs"),
			GroupTag:         c.optionalString("GroupTag"),
			AttributesJSON:   c.jsonBlob("AttributesJSON"),
		}
		res.Diagnostics = append(res.Diagnostics, c.diags...)
		if c.ok {
			res.Records = append(res.Records, rec)
		}
	}
	res.Diagnostics = append(res.Diagnostics, duplicateIDs(res.Records,
		func(c domain.Client) string { return c.ClientID },
		domain.EntityClient, "ClientID")...)
	return res
}

// Workers validates raw worker rows; WorkerID, WorkerName and
// MaxLoadPerPhase are required. AvailableSlots accepts either the
// explicit list or the range shorthand and is normalized to the list
// encoding when it parses.
func Workers(rows []domain.Row) WorkerResult {
	var res WorkerResult
	for i, row := range rows {
		c := newRowCtx(domain.EntityWorker, i, row)
		rec := domain.Worker{
			WorkerID:           c.requiredString("WorkerID"),
			WorkerName:         c.requiredString("WorkerName"),
			Skills:             c.optionalString("Skills"),
			AvailableSlots:     c.phaseSet("AvailableSlots"),
			MaxLoadPerPhase:    c.boundedInt("MaxLoadPerPhase", 1, -1),
			WorkerGroup:        c.optionalString("WorkerGroup"),
			QualificationLevel: c.optionalInt("QualificationLevel"),
		}
		res.Diagnostics = append(res.Diagnostics, c.diags...)
		if c.ok {
			res.Records = append(res.Records, rec)
		}
	}
	res.Diagnostics = append(res.Diagnostics, duplicateIDs(res.Records,
		func(w domain.Worker) string { return w.WorkerID },
		domain.EntityWorker, "WorkerID")...)
	return res
}

// Tasks validates raw task rows; TaskID, TaskName and Duration are
// required, MaxConcurrent must be a positive integer.
func Tasks(rows []domain.Row) TaskResult {
	var res TaskResult
	for i, row := range rows {
		c := newRowCtx(domain.EntityTask, i, row)
		rec := domain.Task{
			TaskID:          c.requiredString("TaskID"),
			TaskName:        c.requiredString("TaskName"),
			Category:        c.optionalString("Category"),
			Duration:        c.boundedFloat("Duration", 1),
			RequiredSkills:  c.optionalString("RequiredSkills"),
			PreferredPhases: c.phaseSet("PreferredPhases"),
			MaxConcurrent:   c.boundedInt("MaxConcurrent", 1, -1),
		}
		res.Diagnostics = append(res.Diagnostics, c.diags...)
		if c.ok {
			res.Records = append(res.Records, rec)
		}
	}
	res.Diagnostics = append(res.Diagnostics, duplicateIDs(res.Records,
		func(t domain.Task) string { return t.TaskID },
		domain.EntityTask, "TaskID")...)
	return res
}

// duplicateIDs reports each identifier value that appears more than once
// among the included records. One diagnostic per value, however many
// times it repeats, and no row index: the finding names the identifier,
// not a position.
func duplicateIDs[T any](records []T, id func(T) string, entity domain.Entity, field string) []domain.Diagnostic {
	counts := make(map[string]int, len(records))
	var order []string
	for _, rec := range records {
		v := id(rec)
		counts[v]++
		if counts[v] == 2 {
			order = append(order, v)
		}
	}
	var diags []domain.Diagnostic
	for _, v := range order {
		diags = append(diags, domain.Diagnostic{
			Type:     domain.DiagDuplicateID,
			Message:  fmt.Sprintf("duplicate %s %q appears %d times", field, v, counts[v]),
			Entity:   entity,
			Field:    field,
			Severity: domain.SeverityError,
		})
	}
	return diags
}
