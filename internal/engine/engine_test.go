package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"preflight/internal/config"
	"preflight/internal/db"
	"preflight/internal/domain"
	"preflight/internal/engine"
	"preflight/internal/migrate"
	"preflight/internal/store"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func clientRows() []domain.Row {
	return []domain.Row{
		{"ClientID": "C1", "ClientName": "Acme", "PriorityLevel": 3, "RequestedTaskIDs": "T1"},
		{"ClientID": "C2", "ClientName": "Globex", "PriorityLevel": 1},
	}
}

func taskRows() []domain.Row {
	return []domain.Row{
		{"TaskID": "T1", "TaskName": "Build", "Duration": 1, "MaxConcurrent": 1},
	}
}

func TestImportRowsStoresRecordsAndDiagnostics(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.ImportRows(env.Ctx, engine.KindClients, clientRows(), "tester")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Records != 2 || len(res.Diagnostics) != 0 {
		t.Fatalf("result: %+v", res)
	}
	// C1 requests T1 which does not exist yet
	if len(res.Cross) != 1 || res.Cross[0].Type != domain.DiagUnknownReference {
		t.Fatalf("cross: %+v", res.Cross)
	}
	stored, err := env.Engine.Repo.ListClients(env.Ctx)
	if err != nil || len(stored) != 2 {
		t.Fatalf("stored: %v %v", stored, err)
	}
}

func TestImportRowsRefreshesCrossScope(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.ImportRows(env.Ctx, engine.KindClients, clientRows(), "tester"); err != nil {
		t.Fatal(err)
	}
	// importing the referenced task clears the unknown_reference finding
	if _, err := env.Engine.ImportRows(env.Ctx, engine.KindTasks, taskRows(), "tester"); err != nil {
		t.Fatal(err)
	}
	diags, err := env.Engine.Diagnostics(env.Ctx, engine.CrossScope)
	if err != nil {
		t.Fatal(err)
	}
	for _, d := range diags {
		if d.Type == domain.DiagUnknownReference {
			t.Fatalf("stale cross finding: %+v", d)
		}
	}
}

func TestImportReplacesWholesale(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.ImportRows(env.Ctx, engine.KindClients, clientRows(), "tester"); err != nil {
		t.Fatal(err)
	}
	res, err := env.Engine.ImportRows(env.Ctx, engine.KindClients, clientRows()[:1], "tester")
	if err != nil {
		t.Fatal(err)
	}
	if res.Records != 1 {
		t.Fatalf("result: %+v", res)
	}
	stored, _ := env.Engine.Repo.ListClients(env.Ctx)
	if len(stored) != 1 || stored[0].ClientID != "C1" {
		t.Fatalf("stored: %+v", stored)
	}
}

func TestImportFileBadFormatKeepsCollection(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.ImportRows(env.Ctx, engine.KindClients, clientRows(), "tester"); err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "clients.pdf")
	if err := os.WriteFile(path, []byte("nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	res, err := env.Engine.ImportFile(env.Ctx, engine.KindClients, path, "tester")
	if err != nil {
		t.Fatalf("decode failure must not be an error: %v", err)
	}
	if len(res.Diagnostics) != 1 || res.Diagnostics[0].Type != domain.DiagFileError {
		t.Fatalf("result: %+v", res)
	}
	stored, _ := env.Engine.Repo.ListClients(env.Ctx)
	if len(stored) != 2 {
		t.Fatalf("collection must survive a failed upload: %+v", stored)
	}
}

func TestEditRecordRevalidates(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.ImportRows(env.Ctx, engine.KindClients, clientRows(), "tester"); err != nil {
		t.Fatal(err)
	}
	res, err := env.Engine.EditRecord(env.Ctx, engine.KindClients, "C2", "PriorityLevel", "9", "tester")
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, d := range res.Diagnostics {
		if d.Type == domain.DiagOutOfRange && d.Field == "PriorityLevel" {
			found = true
		}
	}
	if !found {
		t.Fatalf("edit must re-validate: %+v", res.Diagnostics)
	}
	// the offending row fails validation and drops from the collection
	stored, _ := env.Engine.Repo.ListClients(env.Ctx)
	if len(stored) != 1 || stored[0].ClientID != "C1" {
		t.Fatalf("stored: %+v", stored)
	}
}

func TestEditRecordUnknownID(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.ImportRows(env.Ctx, engine.KindClients, clientRows(), "tester"); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.EditRecord(env.Ctx, engine.KindClients, "C99", "ClientName", "x", "tester")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestEditRecordUnknownColumn(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.ImportRows(env.Ctx, engine.KindClients, clientRows(), "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.EditRecord(env.Ctx, engine.KindClients, "C1", "Nope", "x", "tester"); err == nil {
		t.Fatal("want error for unknown column")
	}
}

func TestSuggestRulesSkipsStored(t *testing.T) {
	env := newTestEnv(t)
	rows := []domain.Row{
		{"ClientID": "C1", "ClientName": "c", "PriorityLevel": 1, "RequestedTaskIDs": "T1,T2"},
		{"ClientID": "C2", "ClientName": "c", "PriorityLevel": 1, "RequestedTaskIDs": "T1,T2"},
		{"ClientID": "C3", "ClientName": "c", "PriorityLevel": 1, "RequestedTaskIDs": "T1,T2"},
	}
	if _, err := env.Engine.ImportRows(env.Ctx, engine.KindClients, rows, "tester"); err != nil {
		t.Fatal(err)
	}
	tasks := []domain.Row{
		{"TaskID": "T1", "TaskName": "t", "Duration": 1, "MaxConcurrent": 1},
		{"TaskID": "T2", "TaskName": "t", "Duration": 1, "MaxConcurrent": 1},
	}
	if _, err := env.Engine.ImportRows(env.Ctx, engine.KindTasks, tasks, "tester"); err != nil {
		t.Fatal(err)
	}
	suggested, err := env.Engine.SuggestRules(env.Ctx)
	if err != nil || len(suggested) != 1 {
		t.Fatalf("suggest: %v %v", suggested, err)
	}
	if _, err := env.Engine.SaveRules(env.Ctx, suggested, "tester"); err != nil {
		t.Fatal(err)
	}
	again, err := env.Engine.SuggestRules(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Fatalf("stored suggestions must not repeat: %+v", again)
	}
}

func TestSaveRulesStoresDiagnosticsNonBlocking(t *testing.T) {
	env := newTestEnv(t)
	rules := []domain.Rule{{
		ID:    "r1",
		Type:  domain.RuleCoRun,
		Name:  "pair",
		CoRun: &domain.CoRunParams{TaskIDs: []string{"T1", "T9"}},
	}}
	diags, err := env.Engine.SaveRules(env.Ctx, rules, "tester")
	if err != nil {
		t.Fatalf("unsound rules still save: %v", err)
	}
	if len(diags) == 0 {
		t.Fatal("want referential findings")
	}
	stored, err := env.Engine.Repo.ListRules(env.Ctx)
	if err != nil || len(stored) != 1 {
		t.Fatalf("stored: %v %v", stored, err)
	}
	if stored[0].CoRun == nil || len(stored[0].CoRun.TaskIDs) != 2 {
		t.Fatalf("params lost in store round trip: %+v", stored[0])
	}
}

func TestSaveRulesRejectsDuplicateIDs(t *testing.T) {
	env := newTestEnv(t)
	rules := []domain.Rule{
		{ID: "r1", Type: domain.RulePatternMatch, Name: "a", PatternMatch: &domain.PatternMatchParams{Regex: ".", Template: "t"}},
		{ID: "r1", Type: domain.RulePatternMatch, Name: "b", PatternMatch: &domain.PatternMatchParams{Regex: ".", Template: "t"}},
	}
	if _, err := env.Engine.SaveRules(env.Ctx, rules, "tester"); err == nil {
		t.Fatal("want duplicate id error")
	}
}

func TestWeightsLifecycle(t *testing.T) {
	env := newTestEnv(t)
	w, err := env.Engine.Weights(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if w["priorityLevel"] != 0.4 {
		t.Fatalf("defaults: %v", w)
	}
	set, err := env.Engine.SetWeights(env.Ctx, domain.Weights{"a": 2, "b": 2}, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if set["a"] != 0.5 {
		t.Fatalf("normalized: %v", set)
	}
	got, err := env.Engine.Weights(env.Ctx)
	if err != nil || got["b"] != 0.5 {
		t.Fatalf("stored: %v %v", got, err)
	}
}

func TestExportWritesFiles(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.ImportRows(env.Ctx, engine.KindClients, clientRows(), "tester"); err != nil {
		t.Fatal(err)
	}
	dir := filepath.Join(t.TempDir(), "out")
	written, err := env.Engine.Export(env.Ctx, dir, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if len(written) != 4 {
		t.Fatalf("written: %v", written)
	}
	data, err := os.ReadFile(filepath.Join(dir, "rules.json"))
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	if _, ok := doc["rules"]; !ok {
		t.Fatalf("document: %s", data)
	}
	if _, ok := doc["weights"]; !ok {
		t.Fatalf("document: %s", data)
	}
}

func TestEventsAppended(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.ImportRows(env.Ctx, engine.KindClients, clientRows(), "tester"); err != nil {
		t.Fatal(err)
	}
	events, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "dataset.imported", "")
	if err != nil || len(events) != 1 {
		t.Fatalf("events: %v %v", events, err)
	}
	if events[0].ActorID != "tester" || events[0].EntityKind != "clients" {
		t.Fatalf("event: %+v", events[0])
	}
}

func TestParseKind(t *testing.T) {
	if _, err := engine.ParseKind("clients"); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.ParseKind("robots"); err == nil {
		t.Fatal("want error")
	}
}
