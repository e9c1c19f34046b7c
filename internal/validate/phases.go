// Package validate is the validation core: pure functions that turn raw
// tabular rows into typed records plus diagnostics, and check the three
// collections against each other. Nothing in this package performs I/O
// or mutates its inputs.
package validate

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var phaseRangeRe = regexp.MustCompile(`^\s*(\d+)\s*-\s*(\d+)\s*$`)

// ParsePhases decodes a phase specification into a finite set of phase
// numbers. Accepted syntaxes: a JSON list ("[1,2,3]", non-integer
// elements are dropped), a contiguous range shorthand ("1-3", inclusive,
// requires start <= end) or a bare integer. Anything else, including an
// inverted range, degrades to an empty result; parsing never fails.
func ParsePhases(spec string) []int {
	s := strings.TrimSpace(spec)
	if s == "" {
		return nil
	}
	var elems []any
	if err := json.Unmarshal([]byte(s), &elems); err == nil {
		var out []int
		for _, v := range elems {
			f, ok := v.(float64)
			if ok && f == math.Trunc(f) {
				out = append(out, int(f))
			}
		}
		return out
	}
	if m := phaseRangeRe.FindStringSubmatch(s); m != nil {
		start, _ := strconv.Atoi(m[1])
		end, _ := strconv.Atoi(m[2])
		if start > end {
			return nil
		}
		out := make([]int, 0, end-start+1)
		for p := start; p <= end; p++ {
			out = append(out, p)
		}
		return out
	}
	if n, err := strconv.Atoi(s); err == nil {
		return []int{n}
	}
	return nil
}

// FormatPhases renders a phase set in the canonical explicit-list
// encoding ("[1,2,3]"). Range shorthand is normalized to this form on
// upload and never preserved downstream.
func FormatPhases(phases []int) string {
	if len(phases) == 0 {
		return "[]"
	}
	parts := make([]string, len(phases))
	for i, p := range phases {
		parts[i] = strconv.Itoa(p)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
