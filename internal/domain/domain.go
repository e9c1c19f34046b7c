package domain

// Row is one record from an uploaded tabular file, keyed by column header.
// Cell values are untyped scalars: string, float64 (JSON numbers) or int.
type Row map[string]any

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

type Entity string

const (
	EntityClient Entity = "client"
	EntityWorker Entity = "worker"
	EntityTask   Entity = "task"
	EntityRule   Entity = "rule"
	EntityFile   Entity = "file"
)

type DiagnosticType string

const (
	DiagMissingRequired   DiagnosticType = "missing_required"
	DiagOutOfRange        DiagnosticType = "out_of_range"
	DiagInvalidFormat     DiagnosticType = "invalid_format"
	DiagInvalidJSON       DiagnosticType = "invalid_json"
	DiagDuplicateID       DiagnosticType = "duplicate_id"
	DiagUnknownReference  DiagnosticType = "unknown_reference"
	DiagSkillCoverage     DiagnosticType = "skill_coverage"
	DiagPhaseAvailability DiagnosticType = "phase_availability"
	DiagGroupReference    DiagnosticType = "group_reference"
	DiagWorkerOverload    DiagnosticType = "worker_overload"
	DiagPhaseSaturation   DiagnosticType = "phase_saturation"
	DiagMaxConcurrency    DiagnosticType = "max_concurrency"
	DiagInvalidRule       DiagnosticType = "invalid_rule"
	DiagFileError         DiagnosticType = "file_error"
)

// Diagnostic is a single validation finding. Row is set only for
// row-scoped findings; collection-level and cross-entity findings
// carry no row index.
type Diagnostic struct {
	Type     DiagnosticType `json:"type"`
	Message  string         `json:"message"`
	Entity   Entity         `json:"entity"`
	Field    string         `json:"field,omitempty"`
	Severity Severity       `json:"severity"`
	Row      *int           `json:"row,omitempty"`
}

// Client field names double as the expected column headers; matching is
// case-sensitive and exact.
type Client struct {
	ClientID         string `json:"ClientID"`
	ClientName       string `json:"ClientName"`
	PriorityLevel    int    `json:"PriorityLevel"`
	RequestedTaskIDs string `json:"RequestedTaskIDs"`
	GroupTag         string `json:"GroupTag"`
	AttributesJSON   string `json:"AttributesJSON"`
}

type Worker struct {
	WorkerID           string `json:"WorkerID"`
	WorkerName         string `json:"WorkerName"`
	Skills             string `json:"Skills"`
	AvailableSlots     string `json:"AvailableSlots"`
	MaxLoadPerPhase    int    `json:"MaxLoadPerPhase"`
	WorkerGroup        string `json:"WorkerGroup"`
	QualificationLevel int    `json:"QualificationLevel"`
}

type Task struct {
	TaskID          string  `json:"TaskID"`
	TaskName        string  `json:"TaskName"`
	Category        string  `json:"Category"`
	Duration        float64 `json:"Duration"`
	RequiredSkills  string  `json:"RequiredSkills"`
	PreferredPhases string  `json:"PreferredPhases"`
	MaxConcurrent   int     `json:"MaxConcurrent"`
}

// Collections bundles the three parsed datasets for the cross-entity
// validators and the rule generator.
type Collections struct {
	Clients []Client
	Workers []Worker
	Tasks   []Task
}

// Weights maps criterion name to numeric weight. The four conventional
// criteria are priorityLevel, taskFulfillment, fairness and efficiency,
// but additional names are allowed.
type Weights map[string]float64
