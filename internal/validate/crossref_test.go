package validate_test

import (
	"testing"

	"preflight/internal/domain"
	"preflight/internal/validate"
)

func TestUnknownTaskReference(t *testing.T) {
	c := domain.Collections{
		Clients: []domain.Client{{ClientID: "C1", ClientName: "c", PriorityLevel: 1, RequestedTaskIDs: "T1,T99"}},
		Tasks:   []domain.Task{{TaskID: "T1", TaskName: "t", Duration: 1, MaxConcurrent: 1}},
	}
	diags := validate.CrossReferences(c, validate.CrossOptions{})
	var unknown []domain.Diagnostic
	for _, d := range diags {
		if d.Type == domain.DiagUnknownReference {
			unknown = append(unknown, d)
		}
	}
	if len(unknown) != 1 {
		t.Fatalf("want exactly one unknown_reference, got %+v", unknown)
	}
	if unknown[0].Severity != domain.SeverityError {
		t.Fatalf("severity: %+v", unknown[0])
	}
}

func TestTaskReferencesCaseSensitive(t *testing.T) {
	c := domain.Collections{
		Clients: []domain.Client{{ClientID: "C1", ClientName: "c", PriorityLevel: 1, RequestedTaskIDs: "t1"}},
		Tasks:   []domain.Task{{TaskID: "T1", TaskName: "t", Duration: 1, MaxConcurrent: 1}},
	}
	diags := validate.CrossReferences(c, validate.CrossOptions{})
	found := false
	for _, d := range diags {
		if d.Type == domain.DiagUnknownReference {
			found = true
		}
	}
	if !found {
		t.Fatal("lowercase t1 must not match T1")
	}
}

func TestSkillCoverageDefaultError(t *testing.T) {
	c := domain.Collections{
		Workers: []domain.Worker{{WorkerID: "W1", WorkerName: "w", Skills: "go", MaxLoadPerPhase: 1}},
		Tasks:   []domain.Task{{TaskID: "T1", TaskName: "t", Duration: 1, MaxConcurrent: 1, RequiredSkills: "go,rust"}},
	}
	diags := validate.CrossReferences(c, validate.CrossOptions{})
	var cover []domain.Diagnostic
	for _, d := range diags {
		if d.Type == domain.DiagSkillCoverage {
			cover = append(cover, d)
		}
	}
	if len(cover) != 1 || cover[0].Severity != domain.SeverityError {
		t.Fatalf("coverage findings: %+v", cover)
	}
}

func TestSkillCoverageConfigurableSeverity(t *testing.T) {
	c := domain.Collections{
		Tasks: []domain.Task{{TaskID: "T1", TaskName: "t", Duration: 1, MaxConcurrent: 1, RequiredSkills: "rust"}},
	}
	diags := validate.CrossReferences(c, validate.CrossOptions{SkillCoverageSeverity: domain.SeverityWarning})
	for _, d := range diags {
		if d.Type == domain.DiagSkillCoverage && d.Severity != domain.SeverityWarning {
			t.Fatalf("severity not applied: %+v", d)
		}
	}
}

func TestPhaseAvailability(t *testing.T) {
	c := domain.Collections{
		Workers: []domain.Worker{{WorkerID: "W1", WorkerName: "w", Skills: "go", AvailableSlots: "[1,2]", MaxLoadPerPhase: 1}},
		Tasks: []domain.Task{
			{TaskID: "T1", TaskName: "ok", Duration: 1, MaxConcurrent: 1, RequiredSkills: "go", PreferredPhases: "[2]"},
			{TaskID: "T2", TaskName: "uncovered", Duration: 1, MaxConcurrent: 1, RequiredSkills: "go", PreferredPhases: "[5]"},
		},
	}
	diags := validate.CrossReferences(c, validate.CrossOptions{})
	var avail []domain.Diagnostic
	for _, d := range diags {
		if d.Type == domain.DiagPhaseAvailability {
			avail = append(avail, d)
		}
	}
	if len(avail) != 1 || avail[0].Severity != domain.SeverityWarning {
		t.Fatalf("availability findings: %+v", avail)
	}
}

func TestGroupReferenceWarning(t *testing.T) {
	c := domain.Collections{
		Clients: []domain.Client{
			{ClientID: "C1", ClientName: "c", PriorityLevel: 1, GroupTag: "gold"},
			{ClientID: "C2", ClientName: "c", PriorityLevel: 1, GroupTag: "silver"},
		},
		Workers: []domain.Worker{{WorkerID: "W1", WorkerName: "w", WorkerGroup: "gold", MaxLoadPerPhase: 1}},
	}
	diags := validate.CrossReferences(c, validate.CrossOptions{})
	var refs []domain.Diagnostic
	for _, d := range diags {
		if d.Type == domain.DiagGroupReference {
			refs = append(refs, d)
		}
	}
	if len(refs) != 1 || refs[0].Severity != domain.SeverityWarning {
		t.Fatalf("group findings: %+v", refs)
	}
}

func TestSplitList(t *testing.T) {
	got := validate.SplitList(" a, b ,, c ")
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("got %v", got)
	}
	if validate.SplitList("  ") != nil {
		t.Fatal("blank input should yield nil")
	}
}
