package validate

import (
	"fmt"
	"strings"

	"preflight/internal/domain"
)

// Rules checks that every rule's parameters reference entities that
// actually exist in the collections. Precedence-override rules are
// validated against the sibling rule list itself, so a rule cannot be
// checked in isolation. Pattern-match rules carry free-form parameters
// and are not validated.
func Rules(rules []domain.Rule, c domain.Collections) []domain.Diagnostic {
	taskIDs := make(map[string]bool, len(c.Tasks))
	for _, t := range c.Tasks {
		taskIDs[t.TaskID] = true
	}
	groups := map[string]bool{}
	for _, w := range c.Workers {
		if g := strings.TrimSpace(w.WorkerGroup); g != "" {
			groups[g] = true
		}
	}
	ruleIDs := make(map[string]bool, len(rules))
	for _, r := range rules {
		ruleIDs[r.ID] = true
	}

	var diags []domain.Diagnostic
	invalid := func(r domain.Rule, msg string) {
		diags = append(diags, domain.Diagnostic{
			Type:     domain.DiagInvalidRule,
			Message:  fmt.Sprintf("rule %s (%s): %s", r.ID, r.Type, msg),
			Entity:   domain.EntityRule,
			Severity: domain.SeverityError,
		})
	}

	for _, r := range rules {
		switch r.Type {
		case domain.RuleCoRun:
			if r.CoRun == nil {
				invalid(r, "missing parameters")
				continue
			}
			for _, id := range r.CoRun.TaskIDs {
				if !taskIDs[id] {
					invalid(r, fmt.Sprintf("task %s does not exist", id))
				}
			}
		case domain.RuleSlotRestriction:
			if r.SlotRestriction == nil {
				invalid(r, "missing parameters")
				continue
			}
			if !groups[r.SlotRestriction.WorkerGroup] {
				invalid(r, fmt.Sprintf("worker group %q does not exist", r.SlotRestriction.WorkerGroup))
			}
		case domain.RuleLoadLimit:
			if r.LoadLimit == nil {
				invalid(r, "missing parameters")
				continue
			}
			if !groups[r.LoadLimit.WorkerGroup] {
				invalid(r, fmt.Sprintf("worker group %q does not exist", r.LoadLimit.WorkerGroup))
			}
		case domain.RulePhaseWindow:
			if r.PhaseWindow == nil {
				invalid(r, "missing parameters")
				continue
			}
			if !taskIDs[r.PhaseWindow.TaskID] {
				invalid(r, fmt.Sprintf("task %s does not exist", r.PhaseWindow.TaskID))
			}
		case domain.RulePrecedenceOverride:
			if r.PrecedenceOverride == nil {
				invalid(r, "missing parameters")
				continue
			}
			for _, id := range r.PrecedenceOverride.RuleIDs {
				if !ruleIDs[id] {
					invalid(r, fmt.Sprintf("rule %s does not exist", id))
				}
			}
		case domain.RulePatternMatch:
			// free-form, not validated
		default:
			invalid(r, "unknown rule type")
		}
	}
	return diags
}
