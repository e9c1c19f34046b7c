package validate

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"preflight/internal/domain"
)

// rowCtx interprets the fields of one raw row for a given entity kind.
// All three row validators share it so the coercion and edge-case policy
// lives in exactly one place. A failed required field marks the whole
// row as not includable; optional-field problems only add diagnostics.
type rowCtx struct {
	entity domain.Entity
	index  int
	row    domain.Row
	diags  []domain.Diagnostic
	ok     bool
}

func newRowCtx(entity domain.Entity, index int, row domain.Row) *rowCtx {
	return &rowCtx{entity: entity, index: index, row: row, ok: true}
}

func (c *rowCtx) add(typ domain.DiagnosticType, sev domain.Severity, field, msg string) {
	row := c.index
	c.diags = append(c.diags, domain.Diagnostic{
		Type:     typ,
		Message:  msg,
		Entity:   c.entity,
		Field:    field,
		Severity: sev,
		Row:      &row,
	})
}

func (c *rowCtx) fail(typ domain.DiagnosticType, field, msg string) {
	c.add(typ, domain.SeverityError, field, msg)
	c.ok = false
}

// cell returns the raw cell rendered as a trimmed string. Numbers keep
// their shortest decimal form so "3" and 3.0 coerce identically.
func (c *rowCtx) cell(col string) string {
	v, present := c.row[col]
	if !present || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// requiredString enforces a non-empty trimmed value.
func (c *rowCtx) requiredString(col string) string {
	s := c.cell(col)
	if s == "" {
		c.fail(domain.DiagMissingRequired, col, fmt.Sprintf("row %d: %s is required", c.index, col))
	}
	return s
}

// optionalString always yields a value; absent cells become "".
func (c *rowCtx) optionalString(col string) string {
	return c.cell(col)
}

// boundedInt coerces a required integer with an inclusive lower/upper
// bound. Pass max < min to skip the upper check.
func (c *rowCtx) boundedInt(col string, min, max int) int {
	s := c.cell(col)
	if s == "" {
		c.fail(domain.DiagMissingRequired, col, fmt.Sprintf("row %d: %s is required", c.index, col))
		return 0
	}
	n, err := parseInt(s)
	if err != nil {
		c.fail(domain.DiagInvalidFormat, col, fmt.Sprintf("row %d: %s %q is not an integer", c.index, col, s))
		return 0
	}
	if n < min || (max >= min && n > max) {
		if max >= min {
			c.fail(domain.DiagOutOfRange, col, fmt.Sprintf("row %d: %s must be between %d and %d, got %d", c.index, col, min, max, n))
		} else {
			c.fail(domain.DiagOutOfRange, col, fmt.Sprintf("row %d: %s must be at least %d, got %d", c.index, col, min, n))
		}
		return 0
	}
	return n
}

// optionalInt coerces an integer without dropping the record on failure.
func (c *rowCtx) optionalInt(col string) int {
	s := c.cell(col)
	if s == "" {
		return 0
	}
	n, err := parseInt(s)
	if err != nil {
		c.add(domain.DiagInvalidFormat, domain.SeverityError, col, fmt.Sprintf("row %d: %s %q is not an integer", c.index, col, s))
		return 0
	}
	return n
}

// boundedFloat coerces a required numeric value with a lower bound.
func (c *rowCtx) boundedFloat(col string, min float64) float64 {
	s := c.cell(col)
	if s == "" {
		c.fail(domain.DiagMissingRequired, col, fmt.Sprintf("row %d: %s is required", c.index, col))
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		c.fail(domain.DiagInvalidFormat, col, fmt.Sprintf("row %d: %s %q is not numeric", c.index, col, s))
		return 0
	}
	if f < min {
		c.fail(domain.DiagOutOfRange, col, fmt.Sprintf("row %d: %s must be at least %v, got %v", c.index, col, min, f))
		return 0
	}
	return f
}

// jsonBlob validates an optional serialized-JSON field. On a syntax
// error the raw value is retained in the record so it can be corrected
// in place, with an invalid_json diagnostic attached.
func (c *rowCtx) jsonBlob(col string) string {
	s := c.cell(col)
	if s == "" {
		return ""
	}
	if !json.Valid([]byte(s)) {
		c.add(domain.DiagInvalidJSON, domain.SeverityError, col, fmt.Sprintf("row %d: %s is not valid JSON", c.index, col))
	}
	return s
}

// phaseSet validates a dual-syntax phase specification and rewrites it
// to the canonical explicit-list encoding on success. On failure the
// original string is kept and an invalid_format diagnostic is added;
// the record itself is not dropped.
func (c *rowCtx) phaseSet(col string) string {
	s := c.cell(col)
	if s == "" {
		return ""
	}
	if strings.HasPrefix(s, "[") {
		var elems []any
		if err := json.Unmarshal([]byte(s), &elems); err != nil {
			c.add(domain.DiagInvalidFormat, domain.SeverityError, col, fmt.Sprintf("row %d: %s %q is not a valid phase list", c.index, col, s))
			return s
		}
		for _, v := range elems {
			f, numeric := v.(float64)
			if !numeric || f != math.Trunc(f) {
				c.add(domain.DiagInvalidFormat, domain.SeverityError, col, fmt.Sprintf("row %d: %s %q contains non-numeric phases", c.index, col, s))
				return s
			}
		}
		return FormatPhases(ParsePhases(s))
	}
	if m := phaseRangeRe.FindStringSubmatch(s); m != nil {
		start, _ := strconv.Atoi(m[1])
		end, _ := strconv.Atoi(m[2])
		if start > end {
			c.add(domain.DiagInvalidFormat, domain.SeverityError, col, fmt.Sprintf("row %d: %s range %q is inverted", c.index, col, s))
			return s
		}
		return FormatPhases(ParsePhases(s))
	}
	if _, err := strconv.Atoi(s); err == nil {
		return FormatPhases(ParsePhases(s))
	}
	c.add(domain.DiagInvalidFormat, domain.SeverityError, col, fmt.Sprintf("row %d: %s %q is neither a phase list nor a range", c.index, col, s))
	return s
}

// parseInt accepts both "3" and "3.0" since spreadsheet exports render
// integer cells either way.
func parseInt(s string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("not an integer: %s", s)
	}
	return int(f), nil
}
