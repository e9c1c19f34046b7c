package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"preflight/internal/config"
	"preflight/internal/domain"
	"preflight/internal/events"
	"preflight/internal/export"
	"preflight/internal/ingest"
	"preflight/internal/rules"
	"preflight/internal/store"
	"preflight/internal/validate"
)

// Engine ties the pure validation core to the workspace store. Every
// mutation runs in one transaction and appends to the event log.
type Engine struct {
	DB     *sql.DB
	Repo   store.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   store.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

// Kind names one of the three datasets.
type Kind string

const (
	KindClients Kind = "clients"
	KindWorkers Kind = "workers"
	KindTasks   Kind = "tasks"
)

// ParseKind validates a dataset kind from user input.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindClients, KindWorkers, KindTasks:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown dataset kind %q (want clients, workers or tasks)", s)
}

// ErrUnknownKind is returned for a dataset kind outside the three
// known collections.
var ErrUnknownKind = errors.New("unknown dataset kind")

// CrossScope is the diagnostics scope holding cross-entity and
// feasibility findings; it is recomputed on every upload of any kind.
const CrossScope = "cross"

// RulesScope holds business-rule referential findings.
const RulesScope = "rules"

// ImportResult summarizes one dataset upload.
type ImportResult struct {
	Kind        Kind                `json:"kind"`
	Rows        int                 `json:"rows"`
	Records     int                 `json:"records"`
	Diagnostics []domain.Diagnostic `json:"diagnostics"`
	Cross       []domain.Diagnostic `json:"cross"`
}

// ImportFile decodes a spreadsheet file and replaces the collection for
// kind. A decode failure does not surface as an error: it becomes a
// single file_error diagnostic stored under the kind's scope, and the
// stored collection is left untouched.
func (e Engine) ImportFile(ctx context.Context, kind Kind, path, actorID string) (ImportResult, error) {
	rows, err := ingest.DecodeFile(path)
	if err != nil {
		diag := domain.Diagnostic{
			Type:     domain.DiagFileError,
			Message:  fmt.Sprintf("failed to read %s: %v", filepath.Base(path), err),
			Entity:   domain.EntityFile,
			Severity: domain.SeverityError,
		}
		if err := e.replaceKindDiagnostics(ctx, kind, []domain.Diagnostic{diag}, actorID, "dataset.rejected"); err != nil {
			return ImportResult{}, err
		}
		return ImportResult{Kind: kind, Diagnostics: []domain.Diagnostic{diag}}, nil
	}
	return e.ImportRows(ctx, kind, rows, actorID)
}

// ImportRows validates raw rows and replaces the stored collection for
// kind, its kind-scoped diagnostics, and the cross-entity diagnostics.
func (e Engine) ImportRows(ctx context.Context, kind Kind, rows []domain.Row, actorID string) (ImportResult, error) {
	collections, err := e.Repo.Collections(ctx)
	if err != nil {
		return ImportResult{}, err
	}

	var (
		kindDiags []domain.Diagnostic
		records   int
	)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ImportResult{}, err
	}
	defer tx.Rollback()

	switch kind {
	case KindClients:
		res := validate.Clients(rows)
		collections.Clients = res.Records
		kindDiags, records = res.Diagnostics, len(res.Records)
		err = e.Repo.ReplaceClients(ctx, tx, res.Records)
	case KindWorkers:
		res := validate.Workers(rows)
		collections.Workers = res.Records
		kindDiags, records = res.Diagnostics, len(res.Records)
		err = e.Repo.ReplaceWorkers(ctx, tx, res.Records)
	case KindTasks:
		res := validate.Tasks(rows)
		collections.Tasks = res.Records
		kindDiags, records = res.Diagnostics, len(res.Records)
		err = e.Repo.ReplaceTasks(ctx, tx, res.Records)
	default:
		return ImportResult{}, fmt.Errorf("unknown dataset kind %q", kind)
	}
	if err != nil {
		return ImportResult{}, err
	}

	cross := e.crossDiagnostics(collections)
	if err := e.Repo.ReplaceDiagnostics(ctx, tx, string(kind), kindDiags); err != nil {
		return ImportResult{}, err
	}
	if err := e.Repo.ReplaceDiagnostics(ctx, tx, CrossScope, cross); err != nil {
		return ImportResult{}, err
	}
	if err := e.Events.Append(ctx, tx, "dataset.imported", string(kind), "", actorID, events.EventPayload{
		"rows":        len(rows),
		"records":     records,
		"diagnostics": len(kindDiags),
	}); err != nil {
		return ImportResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return ImportResult{}, err
	}
	return ImportResult{Kind: kind, Rows: len(rows), Records: records, Diagnostics: kindDiags, Cross: cross}, nil
}

// EditRecord applies one field edit to the record with the given
// identifier (first match on duplicates), then re-runs the row validator
// for the kind and the cross-entity pass, so diagnostics never go stale
// after an edit.
func (e Engine) EditRecord(ctx context.Context, kind Kind, id, field, value, actorID string) (ImportResult, error) {
	rows, idCol, err := e.storedRows(ctx, kind)
	if err != nil {
		return ImportResult{}, err
	}
	if !validColumn(kind, field) {
		return ImportResult{}, fmt.Errorf("unknown column %q for %s", field, kind)
	}
	edited := false
	for _, row := range rows {
		if row[idCol] == id {
			row[field] = value
			edited = true
			break
		}
	}
	if !edited {
		return ImportResult{}, store.ErrNotFound
	}
	res, err := e.ImportRows(ctx, kind, rows, actorID)
	if err != nil {
		return ImportResult{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ImportResult{}, err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, "record.edited", string(kind), id, actorID, events.EventPayload{
		"field": field,
		"value": value,
	}); err != nil {
		return ImportResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return ImportResult{}, err
	}
	return res, nil
}

// Records returns the stored collection for kind as raw rows in column
// order, suitable for display or re-upload.
func (e Engine) Records(ctx context.Context, kind Kind) ([]domain.Row, error) {
	rows, _, err := e.storedRows(ctx, kind)
	return rows, err
}

// Diagnostics returns stored diagnostics, optionally filtered by scope.
func (e Engine) Diagnostics(ctx context.Context, scope string) ([]domain.Diagnostic, error) {
	return e.Repo.ListDiagnostics(ctx, scope)
}

// SuggestRules proposes candidate rules from the current data, skipping
// any suggestion whose content-addressed ID is already stored.
func (e Engine) SuggestRules(ctx context.Context) ([]domain.Rule, error) {
	collections, err := e.Repo.Collections(ctx)
	if err != nil {
		return nil, err
	}
	existing, err := e.Repo.ListRules(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(existing))
	for _, r := range existing {
		known[r.ID] = true
	}
	opts := rules.SuggestOptions{}
	if e.Config != nil {
		opts.CoRunMinClients = e.Config.Suggest.CoRunMinClients
		opts.GroupSizeThreshold = e.Config.Suggest.GroupSizeThreshold
	}
	suggested := rules.Suggest(collections, opts)
	var out []domain.Rule
	for _, r := range suggested {
		if !known[r.ID] {
			out = append(out, r)
		}
	}
	return out, nil
}

// ValidateRules checks rule parameters against the current collections
// without storing anything.
func (e Engine) ValidateRules(ctx context.Context, ruleList []domain.Rule) ([]domain.Diagnostic, error) {
	collections, err := e.Repo.Collections(ctx)
	if err != nil {
		return nil, err
	}
	return validate.Rules(ruleList, collections), nil
}

// SaveRules validates and stores the rule list. Findings do not block
// the save; they replace the rules-scoped diagnostic set so the caller
// can still see what is unsound.
func (e Engine) SaveRules(ctx context.Context, ruleList []domain.Rule, actorID string) ([]domain.Diagnostic, error) {
	seen := make(map[string]bool, len(ruleList))
	for _, r := range ruleList {
		if r.ID == "" {
			return nil, errors.New("rule id is required")
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("duplicate rule id %s", r.ID)
		}
		seen[r.ID] = true
	}
	diags, err := e.ValidateRules(ctx, ruleList)
	if err != nil {
		return nil, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if err := e.Repo.ReplaceRules(ctx, tx, ruleList); err != nil {
		return nil, err
	}
	if err := e.Repo.ReplaceDiagnostics(ctx, tx, RulesScope, diags); err != nil {
		return nil, err
	}
	if err := e.Events.Append(ctx, tx, "rules.saved", "rules", "", actorID, events.EventPayload{
		"rules":       len(ruleList),
		"diagnostics": len(diags),
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return diags, nil
}

// SetWeights normalizes and stores a weight mapping.
func (e Engine) SetWeights(ctx context.Context, w domain.Weights, actorID string) (domain.Weights, error) {
	normalized := rules.Normalize(w)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertWeights(ctx, tx, normalized); err != nil {
		return nil, err
	}
	if err := e.Events.Append(ctx, tx, "weights.updated", "weights", "", actorID, events.EventPayload{
		"criteria": len(normalized),
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return normalized, nil
}

// Weights returns the stored mapping, falling back to the configured
// defaults when none has been set.
func (e Engine) Weights(ctx context.Context) (domain.Weights, error) {
	w, err := e.Repo.GetWeights(ctx)
	if errors.Is(err, store.ErrNotFound) {
		if e.Config == nil || len(e.Config.Weights.Defaults) == 0 {
			return rules.DefaultWeights(), nil
		}
		defaults := make(domain.Weights, len(e.Config.Weights.Defaults))
		for k, v := range e.Config.Weights.Defaults {
			defaults[k] = v
		}
		return defaults, nil
	}
	return w, err
}

// Export writes the three collection CSVs and the rules document into
// dir and returns the written paths.
func (e Engine) Export(ctx context.Context, dir, actorID string) ([]string, error) {
	collections, err := e.Repo.Collections(ctx)
	if err != nil {
		return nil, err
	}
	ruleList, err := e.Repo.ListRules(ctx)
	if err != nil {
		return nil, err
	}
	weights, err := e.Weights(ctx)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	files := []struct {
		name   string
		render func() ([]byte, error)
	}{
		{"clients.csv", func() ([]byte, error) { return export.ClientsCSV(collections.Clients) }},
		{"workers.csv", func() ([]byte, error) { return export.WorkersCSV(collections.Workers) }},
		{"tasks.csv", func() ([]byte, error) { return export.TasksCSV(collections.Tasks) }},
		{"rules.json", func() ([]byte, error) { return export.RulesDocument(ruleList, weights) }},
	}
	var written []string
	for _, f := range files {
		data, err := f.render()
		if err != nil {
			return nil, err
		}
		path := filepath.Join(dir, f.name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return nil, err
		}
		written = append(written, path)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, "export.written", "export", "", actorID, events.EventPayload{
		"dir":   dir,
		"files": len(written),
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return written, nil
}

func (e Engine) crossDiagnostics(c domain.Collections) []domain.Diagnostic {
	opts := validate.CrossOptions{}
	if e.Config != nil {
		opts.SkillCoverageSeverity = domain.Severity(e.Config.Validation.SkillCoverageSeverity)
	}
	diags := validate.CrossReferences(c, opts)
	return append(diags, validate.Feasibility(c)...)
}

func (e Engine) replaceKindDiagnostics(ctx context.Context, kind Kind, diags []domain.Diagnostic, actorID, evtType string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.ReplaceDiagnostics(ctx, tx, string(kind), diags); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, evtType, string(kind), "", actorID, events.EventPayload{
		"diagnostics": len(diags),
	}); err != nil {
		return err
	}
	return tx.Commit()
}
