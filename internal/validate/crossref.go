package validate

import (
	"fmt"
	"strings"

	"preflight/internal/domain"
)

// CrossOptions tunes the cross-entity pass. Skill-coverage severity is
// configurable because downstream consumers disagree on whether an
// uncovered skill should block an export or merely flag it.
type CrossOptions struct {
	SkillCoverageSeverity domain.Severity
}

func (o CrossOptions) skillSeverity() domain.Severity {
	if o.SkillCoverageSeverity == domain.SeverityWarning {
		return domain.SeverityWarning
	}
	return domain.SeverityError
}

// CrossReferences checks referential integrity and coverage across the
// three collections. All comparisons are case-sensitive exact matches on
// trimmed values. The checks are independent and cumulative; inputs are
// never mutated.
func CrossReferences(c domain.Collections, opts CrossOptions) []domain.Diagnostic {
	var diags []domain.Diagnostic
	diags = append(diags, unknownTaskReferences(c)...)
	diags = append(diags, skillCoverage(c, opts.skillSeverity())...)
	diags = append(diags, phaseAvailability(c)...)
	diags = append(diags, groupReferences(c)...)
	return diags
}

// unknownTaskReferences flags every entry in a client's requested-task
// list that names no existing task, one diagnostic per unmatched entry.
func unknownTaskReferences(c domain.Collections) []domain.Diagnostic {
	known := make(map[string]bool, len(c.Tasks))
	for _, t := range c.Tasks {
		known[t.TaskID] = true
	}
	var diags []domain.Diagnostic
	for _, cl := range c.Clients {
		for _, id := range SplitList(cl.RequestedTaskIDs) {
			if known[id] {
				continue
			}
			diags = append(diags, domain.Diagnostic{
				Type:     domain.DiagUnknownReference,
				Message:  fmt.Sprintf("client %s requests unknown task %s", cl.ClientID, id),
				Entity:   domain.EntityClient,
				Field:    "RequestedTaskIDs",
				Severity: domain.SeverityError,
			})
		}
	}
	return diags
}

// skillCoverage flags required skills no worker holds. Skills are pooled
// across all workers.
func skillCoverage(c domain.Collections, sev domain.Severity) []domain.Diagnostic {
	pool := map[string]bool{}
	for _, w := range c.Workers {
		for _, s := range SplitList(w.Skills) {
			pool[s] = true
		}
	}
	var diags []domain.Diagnostic
	for _, t := range c.Tasks {
		for _, s := range SplitList(t.RequiredSkills) {
			if pool[s] {
				continue
			}
			diags = append(diags, domain.Diagnostic{
				Type:     domain.DiagSkillCoverage,
				Message:  fmt.Sprintf("no worker covers skill %q required by task %s", s, t.TaskID),
				Entity:   domain.EntityTask,
				Field:    "RequiredSkills",
				Severity: sev,
			})
		}
	}
	return diags
}

// phaseAvailability warns when no fully-qualified worker is available in
// any of a task's preferred phases.
func phaseAvailability(c domain.Collections) []domain.Diagnostic {
	var diags []domain.Diagnostic
	for _, t := range c.Tasks {
		preferred := ParsePhases(t.PreferredPhases)
		if len(preferred) == 0 {
			continue
		}
		prefSet := toSet(preferred)
		covered := false
		for _, w := range qualifiedWorkers(c.Workers, t) {
			for _, p := range ParsePhases(w.AvailableSlots) {
				if prefSet[p] {
					covered = true
					break
				}
			}
			if covered {
				break
			}
		}
		if !covered {
			diags = append(diags, domain.Diagnostic{
				Type:     domain.DiagPhaseAvailability,
				Message:  fmt.Sprintf("no qualified worker is available in the preferred phases of task %s", t.TaskID),
				Entity:   domain.EntityTask,
				Field:    "PreferredPhases",
				Severity: domain.SeverityWarning,
			})
		}
	}
	return diags
}

// groupReferences warns about client group tags with no matching worker
// group. Informational: a client group need not have a dedicated worker
// group, but the absence is worth surfacing.
func groupReferences(c domain.Collections) []domain.Diagnostic {
	groups := map[string]bool{}
	for _, w := range c.Workers {
		if g := strings.TrimSpace(w.WorkerGroup); g != "" {
			groups[g] = true
		}
	}
	var diags []domain.Diagnostic
	for _, cl := range c.Clients {
		g := strings.TrimSpace(cl.GroupTag)
		if g == "" || groups[g] {
			continue
		}
		diags = append(diags, domain.Diagnostic{
			Type:     domain.DiagGroupReference,
			Message:  fmt.Sprintf("client %s has group tag %q with no matching worker group", cl.ClientID, g),
			Entity:   domain.EntityClient,
			Field:    "GroupTag",
			Severity: domain.SeverityWarning,
		})
	}
	return diags
}

// qualifiedWorkers returns the workers holding every skill the task
// requires.
func qualifiedWorkers(workers []domain.Worker, t domain.Task) []domain.Worker {
	required := SplitList(t.RequiredSkills)
	var out []domain.Worker
	for _, w := range workers {
		held := map[string]bool{}
		for _, s := range SplitList(w.Skills) {
			held[s] = true
		}
		qualified := true
		for _, s := range required {
			if !held[s] {
				qualified = false
				break
			}
		}
		if qualified {
			out = append(out, w)
		}
	}
	return out
}

// SplitList splits a comma-separated field into trimmed, non-empty
// entries. Every list-valued column (requested tasks, skills) uses this.
func SplitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func toSet(phases []int) map[int]bool {
	set := make(map[int]bool, len(phases))
	for _, p := range phases {
		set[p] = true
	}
	return set
}
