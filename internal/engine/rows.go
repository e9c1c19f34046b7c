package engine

import (
	"context"

	"preflight/internal/domain"
)

var columns = map[Kind][]string{
	KindClients: {"ClientID", "ClientName", "PriorityLevel", "RequestedTaskIDs", "GroupTag", "AttributesJSON"},
	KindWorkers: {"WorkerID", "WorkerName", "Skills", "AvailableSlots", "MaxLoadPerPhase", "WorkerGroup", "QualificationLevel"},
	KindTasks:   {"TaskID", "TaskName", "Category", "Duration", "RequiredSkills", "PreferredPhases", "MaxConcurrent"},
}

func validColumn(kind Kind, field string) bool {
	for _, c := range columns[kind] {
		if c == field {
			return true
		}
	}
	return false
}

// storedRows rebuilds raw rows from the persisted collection so an edit
// can flow back through the same validation path as an upload.
func (e Engine) storedRows(ctx context.Context, kind Kind) ([]domain.Row, string, error) {
	switch kind {
	case KindClients:
		clients, err := e.Repo.ListClients(ctx)
		if err != nil {
			return nil, "", err
		}
		rows := make([]domain.Row, len(clients))
		for i, c := range clients {
			rows[i] = domain.Row{
				"ClientID":         c.ClientID,
				"ClientName":       c.ClientName,
				"PriorityLevel":    c.PriorityLevel,
				"RequestedTaskIDs": c.RequestedTaskIDs,
				"GroupTag":         c.GroupTag,
				"AttributesJSON":   c.AttributesJSON,
			}
		}
		return rows, "ClientID", nil
	case KindWorkers:
		workers, err := e.Repo.ListWorkers(ctx)
		if err != nil {
			return nil, "", err
		}
		rows := make([]domain.Row, len(workers))
		for i, w := range workers {
			rows[i] = domain.Row{
				"WorkerID":           w.WorkerID,
				"WorkerName":         w.WorkerName,
				"Skills":             w.Skills,
				"AvailableSlots":     w.AvailableSlots,
				"MaxLoadPerPhase":    w.MaxLoadPerPhase,
				"WorkerGroup":        w.WorkerGroup,
				"QualificationLevel": w.QualificationLevel,
			}
		}
		return rows, "WorkerID", nil
	case KindTasks:
		tasks, err := e.Repo.ListTasks(ctx)
		if err != nil {
			return nil, "", err
		}
		rows := make([]domain.Row, len(tasks))
		for i, t := range tasks {
			rows[i] = domain.Row{
				"TaskID":          t.TaskID,
				"TaskName":        t.TaskName,
				"Category":        t.Category,
				"Duration":        t.Duration,
				"RequiredSkills":  t.RequiredSkills,
				"PreferredPhases": t.PreferredPhases,
				"MaxConcurrent":   t.MaxConcurrent,
			}
		}
		return rows, "TaskID", nil
	}
	return nil, "", ErrUnknownKind
}
