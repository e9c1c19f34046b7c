package domain

import (
	"encoding/json"
	"fmt"
)

type RuleType string

const (
	RuleCoRun              RuleType = "coRun"
	RuleSlotRestriction    RuleType = "slotRestriction"
	RuleLoadLimit          RuleType = "loadLimit"
	RulePhaseWindow        RuleType = "phaseWindow"
	RulePatternMatch       RuleType = "patternMatch"
	RulePrecedenceOverride RuleType = "precedenceOverride"
)

// RuleTypes lists every known variant in declaration order.
var RuleTypes = []RuleType{
	RuleCoRun, RuleSlotRestriction, RuleLoadLimit,
	RulePhaseWindow, RulePatternMatch, RulePrecedenceOverride,
}

type CoRunParams struct {
	TaskIDs []string `json:"taskIds"`
}

type SlotRestrictionParams struct {
	WorkerGroup    string `json:"workerGroup"`
	MinCommonSlots int    `json:"minCommonSlots"`
}

type LoadLimitParams struct {
	WorkerGroup      string `json:"workerGroup"`
	MaxSlotsPerPhase int    `json:"maxSlotsPerPhase"`
}

type PhaseWindowParams struct {
	TaskID        string `json:"taskId"`
	AllowedPhases []int  `json:"allowedPhases"`
}

type PatternMatchParams struct {
	Regex    string         `json:"regex"`
	Template string         `json:"template"`
	Params   map[string]any `json:"params,omitempty"`
}

type PrecedenceOverrideParams struct {
	RuleIDs []string `json:"ruleIds"`
}

// Rule is a tagged union: Type selects which params field is set.
// Exactly one of the params pointers should be non-nil and it must
// match Type; Params returns it and the validators enforce the pairing.
type Rule struct {
	ID          string   `json:"id"`
	Type        RuleType `json:"type"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	// Priority is meaningful only for precedence-override rules.
	Priority *int `json:"priority,omitempty"`

	CoRun              *CoRunParams              `json:"-"`
	SlotRestriction    *SlotRestrictionParams    `json:"-"`
	LoadLimit          *LoadLimitParams          `json:"-"`
	PhaseWindow        *PhaseWindowParams        `json:"-"`
	PatternMatch       *PatternMatchParams       `json:"-"`
	PrecedenceOverride *PrecedenceOverrideParams `json:"-"`
}

// Params returns the variant payload matching r.Type, or nil if the
// payload for that variant is unset.
func (r Rule) Params() any {
	switch r.Type {
	case RuleCoRun:
		if r.CoRun != nil {
			return r.CoRun
		}
	case RuleSlotRestriction:
		if r.SlotRestriction != nil {
			return r.SlotRestriction
		}
	case RuleLoadLimit:
		if r.LoadLimit != nil {
			return r.LoadLimit
		}
	case RulePhaseWindow:
		if r.PhaseWindow != nil {
			return r.PhaseWindow
		}
	case RulePatternMatch:
		if r.PatternMatch != nil {
			return r.PatternMatch
		}
	case RulePrecedenceOverride:
		if r.PrecedenceOverride != nil {
			return r.PrecedenceOverride
		}
	}
	return nil
}

type ruleJSON struct {
	ID          string          `json:"id"`
	Type        RuleType        `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Priority    *int            `json:"priority,omitempty"`
	Params      json.RawMessage `json:"params,omitempty"`
}

func (r Rule) MarshalJSON() ([]byte, error) {
	out := ruleJSON{
		ID:          r.ID,
		Type:        r.Type,
		Name:        r.Name,
		Description: r.Description,
		Priority:    r.Priority,
	}
	if p := r.Params(); p != nil {
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		out.Params = raw
	}
	return json.Marshal(out)
}

func (r *Rule) UnmarshalJSON(data []byte) error {
	var in ruleJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*r = Rule{
		ID:          in.ID,
		Type:        in.Type,
		Name:        in.Name,
		Description: in.Description,
		Priority:    in.Priority,
	}
	if len(in.Params) == 0 {
		return nil
	}
	switch in.Type {
	case RuleCoRun:
		r.CoRun = &CoRunParams{}
		return json.Unmarshal(in.Params, r.CoRun)
	case RuleSlotRestriction:
		r.SlotRestriction = &SlotRestrictionParams{}
		return json.Unmarshal(in.Params, r.SlotRestriction)
	case RuleLoadLimit:
		r.LoadLimit = &LoadLimitParams{}
		return json.Unmarshal(in.Params, r.LoadLimit)
	case RulePhaseWindow:
		r.PhaseWindow = &PhaseWindowParams{}
		return json.Unmarshal(in.Params, r.PhaseWindow)
	case RulePatternMatch:
		r.PatternMatch = &PatternMatchParams{}
		return json.Unmarshal(in.Params, r.PatternMatch)
	case RulePrecedenceOverride:
		r.PrecedenceOverride = &PrecedenceOverrideParams{}
		return json.Unmarshal(in.Params, r.PrecedenceOverride)
	default:
		return fmt.Errorf("unknown rule type %q", in.Type)
	}
}
