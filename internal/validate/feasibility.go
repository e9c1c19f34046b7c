package validate

import (
	"fmt"
	"sort"

	"preflight/internal/domain"
)

// Feasibility runs the three analytical passes together. All findings
// are warnings: they describe structural infeasibility, not bad data,
// and the field-level validators have already reported malformed values.
func Feasibility(c domain.Collections) []domain.Diagnostic {
	var diags []domain.Diagnostic
	diags = append(diags, WorkerOverload(c.Workers)...)
	diags = append(diags, PhaseSaturation(c.Workers, c.Tasks)...)
	diags = append(diags, MaxConcurrency(c.Workers, c.Tasks)...)
	return diags
}

// WorkerOverload warns when a worker is asked to carry more concurrent
// load per phase than it has open phases.
func WorkerOverload(workers []domain.Worker) []domain.Diagnostic {
	var diags []domain.Diagnostic
	for _, w := range workers {
		slots := ParsePhases(w.AvailableSlots)
		if len(slots) < w.MaxLoadPerPhase {
			diags = append(diags, domain.Diagnostic{
				Type:     domain.DiagWorkerOverload,
				Message:  fmt.Sprintf("worker %s has %d available slots but max load %d per phase", w.WorkerID, len(slots), w.MaxLoadPerPhase),
				Entity:   domain.EntityWorker,
				Field:    "MaxLoadPerPhase",
				Severity: domain.SeverityWarning,
			})
		}
	}
	return diags
}

// PhaseSaturation compares total task demand against total worker
// capacity per phase. Tasks with no preferred phases contribute their
// duration to every phase that has any capacity at all.
func PhaseSaturation(workers []domain.Worker, tasks []domain.Task) []domain.Diagnostic {
	capacity := map[int]int{}
	for _, w := range workers {
		for _, p := range ParsePhases(w.AvailableSlots) {
			capacity[p] += w.MaxLoadPerPhase
		}
	}
	demand := map[int]float64{}
	for _, t := range tasks {
		preferred := ParsePhases(t.PreferredPhases)
		if len(preferred) == 0 {
			for p := range capacity {
				demand[p] += t.Duration
			}
			continue
		}
		for _, p := range preferred {
			demand[p] += t.Duration
		}
	}
	phases := make([]int, 0, len(demand))
	for p := range demand {
		phases = append(phases, p)
	}
	sort.Ints(phases)
	var diags []domain.Diagnostic
	for _, p := range phases {
		if demand[p] > float64(capacity[p]) {
			diags = append(diags, domain.Diagnostic{
				Type:     domain.DiagPhaseSaturation,
				Message:  fmt.Sprintf("phase %d is saturated: demand %v exceeds capacity %d", p, demand[p], capacity[p]),
				Entity:   domain.EntityTask,
				Severity: domain.SeverityWarning,
			})
		}
	}
	return diags
}

// MaxConcurrency warns when a task declares a higher concurrent
// execution count than there are workers holding its full skill set.
func MaxConcurrency(workers []domain.Worker, tasks []domain.Task) []domain.Diagnostic {
	var diags []domain.Diagnostic
	for _, t := range tasks {
		qualified := len(qualifiedWorkers(workers, t))
		if qualified < t.MaxConcurrent {
			diags = append(diags, domain.Diagnostic{
				Type:     domain.DiagMaxConcurrency,
				Message:  fmt.Sprintf("task %s declares max concurrency %d but only %d workers hold its skill set", t.TaskID, t.MaxConcurrent, qualified),
				Entity:   domain.EntityTask,
				Field:    "MaxConcurrent",
				Severity: domain.SeverityWarning,
			})
		}
	}
	return diags
}
