// Package types holds the data model shared across the engine: the shape of
// a Run, its Events, the QA records returned by the memory facade, and the
// intermediate values (Decision, CandidateDraft, TaskSpec) that flow between
// pipeline phases.
package types

import (
	"errors"
	"time"
)

// BackendKind identifies which external code-assistant a Run targets.
// The literal values codex/claude/gemini name subprocess backends; any other
// non-empty string is treated as an HTTP endpoint URL.
type BackendKind string

const (
	BackendCodex  BackendKind = "codex"
	BackendClaude BackendKind = "claude"
	BackendGemini BackendKind = "gemini"
	// BackendLocal runs a single shell/file/glob tool call in-process instead
	// of spawning an external assistant; any other BackendKind value is
	// treated as an HTTP endpoint.
	BackendLocal BackendKind = "local"
)

// EventType labels a single line in a Run's event log.
type EventType string

const (
	EventRunStart              EventType = "run.start"
	EventMemorySearchRequest   EventType = "memory.search.request"
	EventMemorySearchResult    EventType = "memory.search.result"
	EventMemoryInjectDecision  EventType = "memory.inject.decision"
	EventBackendSpawn          EventType = "backend.spawn"
	EventToolCall              EventType = "tool.call"
	EventToolResult            EventType = "tool.result"
	EventStdoutChunk           EventType = "stdout.chunk"
	EventStderrChunk           EventType = "stderr.chunk"
	EventMemoryHitWrite        EventType = "memory.hit.write"
	EventMemoryValidationWrite EventType = "memory.validation.write"
	EventMemoryCandidateWrite  EventType = "memory.candidate.write"
	EventRunEnd                EventType = "run.end"
)

// SchemaVersion is the current Event.V value. Readers MUST tolerate higher
// values and unknown EventTypes — the log is forward-compatible.
const SchemaVersion = 1

// Event is one append-only JSONL record in a Run's event log.
type Event struct {
	V     int       `json:"v"`
	Type  EventType `json:"type"`
	TS    time.Time `json:"ts"`
	RunID string    `json:"run_id"`
	Data  any       `json:"data,omitempty"`
}

// Run is a single invocation of a backend, from pre-phase through post-phase.
type Run struct {
	RunID        string      `json:"run_id"`
	ProjectID    string      `json:"project_id"`
	Query        string      `json:"query"`
	ParentRunID  string      `json:"parent_run_id,omitempty"`
	BackendKind  BackendKind `json:"backend_kind"`
	StartedAt    time.Time   `json:"started_at"`
	EndedAt      time.Time   `json:"ended_at,omitempty"`
	ExitCode     int         `json:"exit_code"`
}

// ValidationLevel is the trust tier attached to a stored QA record.
type ValidationLevel int

const (
	LevelL0 ValidationLevel = 0
	LevelL1 ValidationLevel = 1
	LevelL2 ValidationLevel = 2
	LevelL3 ValidationLevel = 3
)

// QARecord is the subset of a stored Question/Answer item the core consumes
// from memory.search. Everything else about scoring internals is opaque.
type QARecord struct {
	QAID             string          `json:"qa_id"`
	Query            string          `json:"query"`
	Answer           string          `json:"answer"`
	Score            float64         `json:"score"`
	Trust            float64         `json:"trust"`
	ValidationLevel  ValidationLevel `json:"validation_level"`
	Freshness        float64         `json:"freshness"`
	Status           string          `json:"status"`
	ConsecutiveFail  int             `json:"consecutive_fail"`
	Metadata         map[string]any  `json:"metadata,omitempty"`
}

// InjectItem is one item selected for injection into the merged prompt.
// ReferenceText embeds QAID in the §6 marker syntax so the post-run extractor
// can detect which items the backend actually referenced.
type InjectItem struct {
	QAID          string `json:"qa_id"`
	ReferenceText string `json:"reference_text"`
}

// ToolEvent is one observed tool call or tool result from a backend's
// structured-event stream.
type ToolEventKind string

const (
	ToolEventCall   ToolEventKind = "call"
	ToolEventResult ToolEventKind = "result"
)

type ToolEventStatus string

const (
	ToolStatusOK      ToolEventStatus = "ok"
	ToolStatusError   ToolEventStatus = "error"
	ToolStatusUnknown ToolEventStatus = "unknown"
)

type ToolEvent struct {
	Seq        int             `json:"seq"`
	Kind       ToolEventKind   `json:"kind"`
	Name       string          `json:"name"`
	ArgsDigest string          `json:"args_digest"`
	Status     ToolEventStatus `json:"status"`
	ExitCode   *int            `json:"exit_code,omitempty"`
	TS         time.Time       `json:"ts"`

	// Args carries the unredacted tool arguments for in-process policy
	// evaluation; never serialized to the event log (see §4.3.2).
	Args map[string]any `json:"-"`
}

// RunOutcome is what a Session.wait() resolves to, terminal in all cases.
type RunOutcome struct {
	ExitCode    int         `json:"exit_code"`
	DurationMs  int64       `json:"duration_ms"`
	ToolEvents  []ToolEvent `json:"tool_events"`
	StdoutTail  string      `json:"stdout_tail"`
	StderrTail  string      `json:"stderr_tail"`
	ShownQAIDs  []string    `json:"shown_qa_ids"`
	UsedQAIDs   []string    `json:"used_qa_ids"`

	// Reason is the run's termination reason when it wasn't a plain
	// completion ("cancelled", "timeout"); empty otherwise. Set by the
	// orchestrator, not by the runner package, since only the pipeline
	// knows whether the outcome will feed a Failed transition.
	Reason string `json:"reason,omitempty"`
}

// ValidationResult is the per-qa_id classification the gatekeeper derives
// from a RunOutcome (§4.6).
type ValidationResult string

const (
	ValidationPass    ValidationResult = "pass"
	ValidationPartial ValidationResult = "partial"
	ValidationFail    ValidationResult = "fail"
)

// HitRef records that a prior QA record was shown and/or used during a Run.
type HitRef struct {
	QAID  string `json:"qa_id"`
	Shown bool   `json:"shown"`
	Used  bool   `json:"used"`
}

// ValidatePlan is one post-run validation write the orchestrator should issue.
type ValidatePlan struct {
	QAID   string           `json:"qa_id"`
	Result ValidationResult `json:"result"`
	Notes  string           `json:"notes,omitempty"`
}

// Decision is the pure output of the post-run gatekeeper (§4.6).
type Decision struct {
	HitRefs              []HitRef       `json:"hit_refs"`
	ValidatePlans        []ValidatePlan `json:"validate_plans"`
	ShouldWriteCandidate bool           `json:"should_write_candidate"`
	Reasons              []string       `json:"reasons"`
}

// CandidateDraft is the candidate extractor's output (§4.7).
type CandidateDraft struct {
	Query      string   `json:"query"`
	Answer     string   `json:"answer"`
	Context    string   `json:"context"`
	Tags       []string `json:"tags"`
	Confidence float64  `json:"confidence"`
}

// FilesMode controls how a TaskSpec's files are delivered to the backend.
type FilesMode string

const (
	FilesEmbed FilesMode = "embed"
	FilesRef   FilesMode = "ref"
	FilesAuto  FilesMode = "auto"
)

// TaskSpec is one parsed `---TASK---` block from a structured-input batch.
type TaskSpec struct {
	ID             string        `json:"id"`
	Backend        string        `json:"backend"`
	Workdir        string        `json:"workdir"`
	Model          string        `json:"model,omitempty"`
	ModelProvider  string        `json:"model_provider,omitempty"`
	Dependencies   []string      `json:"dependencies,omitempty"`
	Timeout        time.Duration `json:"timeout,omitempty"`
	Retry          int           `json:"retry,omitempty"`
	Files          []string      `json:"files,omitempty"`
	FilesMode      FilesMode     `json:"files_mode,omitempty"`
	FilesEncoding  string        `json:"files_encoding,omitempty"`
	StreamFormat   string        `json:"stream_format,omitempty"`
	Content        string        `json:"content"`
}

// TaskOutcome is the per-task result of a batch run, including dependency
// skips.
type TaskOutcomeStatus string

const (
	TaskSucceeded TaskOutcomeStatus = "succeeded"
	TaskFailed    TaskOutcomeStatus = "failed"
	TaskSkipped   TaskOutcomeStatus = "skipped"
)

type TaskOutcome struct {
	TaskID   string            `json:"task_id"`
	Status   TaskOutcomeStatus `json:"status"`
	ExitCode int               `json:"exit_code"`
	Reason   string            `json:"reason,omitempty"`
}

// Sentinel error kinds per §7. Wrapped with fmt.Errorf("...: %w", ErrX) at the
// site that detects them so callers can errors.Is against a stable kind.
var (
	ErrConfig      = errors.New("config error")
	ErrParseInput  = errors.New("parse input error")
	ErrSpawn       = errors.New("spawn error")
	ErrProtocol    = errors.New("protocol error")
	ErrPolicyDeny  = errors.New("policy denied")
	ErrTimeout     = errors.New("timeout")
	ErrNonZero     = errors.New("non-zero exit")
	ErrCancelled   = errors.New("cancelled")
	ErrMemory      = errors.New("memory facade error")
	ErrIO          = errors.New("io error")
)
