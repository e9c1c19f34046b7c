// Package rules holds the business-rule helpers that sit next to the
// validation core: the heuristic default-rule generator and the weight
// normalizer.
package rules

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"preflight/internal/domain"
	"preflight/internal/validate"
)

// SuggestOptions tunes the generator heuristics.
type SuggestOptions struct {
	// CoRunMinClients is the minimum number of distinct clients that must
	// request a task pair before a co-run rule is proposed.
	CoRunMinClients int
	// GroupSizeThreshold is the worker-group size above which a
	// load-limit rule is proposed.
	GroupSizeThreshold int
}

func (o SuggestOptions) withDefaults() SuggestOptions {
	if o.CoRunMinClients <= 0 {
		o.CoRunMinClients = 3
	}
	if o.GroupSizeThreshold <= 0 {
		o.GroupSizeThreshold = 5
	}
	return o
}

// Suggest proposes candidate rules from frequency patterns in the data.
// Rule identifiers are content-addressed (a SHA1 UUID over the semantic
// payload), so the same data always yields the same IDs and repeated
// invocations cannot collide.
func Suggest(c domain.Collections, opts SuggestOptions) []domain.Rule {
	opts = opts.withDefaults()
	var out []domain.Rule
	out = append(out, coRunSuggestions(c.Clients, opts.CoRunMinClients)...)
	out = append(out, loadLimitSuggestions(c.Workers, opts.GroupSizeThreshold)...)
	return out
}

func coRunSuggestions(clients []domain.Client, minClients int) []domain.Rule {
	pairClients := map[string]int{}
	for _, cl := range clients {
		ids := validate.SplitList(cl.RequestedTaskIDs)
		seen := map[string]bool{}
		var unique []string
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				unique = append(unique, id)
			}
		}
		sort.Strings(unique)
		for i := 0; i < len(unique); i++ {
			for j := i + 1; j < len(unique); j++ {
				pairClients[unique[i]+"|"+unique[j]]++
			}
		}
	}
	keys := make([]string, 0, len(pairClients))
	for k, n := range pairClients {
		if n >= minClients {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var out []domain.Rule
	for _, k := range keys {
		parts := strings.SplitN(k, "|", 2)
		out = append(out, domain.Rule{
			ID:          RuleID("corun", k),
			Type:        domain.RuleCoRun,
			Name:        fmt.Sprintf("Co-run %s + %s", parts[0], parts[1]),
			Description: fmt.Sprintf("requested together by %d clients", pairClients[k]),
			CoRun:       &domain.CoRunParams{TaskIDs: parts},
		})
	}
	return out
}

func loadLimitSuggestions(workers []domain.Worker, threshold int) []domain.Rule {
	sizes := map[string]int{}
	for _, w := range workers {
		if g := strings.TrimSpace(w.WorkerGroup); g != "" {
			sizes[g]++
		}
	}
	groups := make([]string, 0, len(sizes))
	for g, n := range sizes {
		if n > threshold {
			groups = append(groups, g)
		}
	}
	sort.Strings(groups)
	var out []domain.Rule
	for _, g := range groups {
		cap := sizes[g] / 2
		out = append(out, domain.Rule{
			ID:          RuleID("loadlimit", fmt.Sprintf("%s|%d", g, cap)),
			Type:        domain.RuleLoadLimit,
			Name:        fmt.Sprintf("Load limit for %s", g),
			Description: fmt.Sprintf("group has %d workers; suggested cap %d per phase", sizes[g], cap),
			LoadLimit:   &domain.LoadLimitParams{WorkerGroup: g, MaxSlotsPerPhase: cap},
		})
	}
	return out
}

// RuleID derives a deterministic identifier from a rule's semantic
// payload.
func RuleID(kind, payload string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(kind+":"+payload)).String()
}
