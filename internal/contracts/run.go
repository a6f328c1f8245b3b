package contracts

import "time"

// Run types
const (
	RunTypeSingleDate   = "single_date"
	RunTypeFullBackfill = "full_backfill"
)

// Run statuses
const (
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusPartial = "partial"
	RunStatusFailed  = "failed"
)

// PipelineRun is run-level provenance
type PipelineRun struct {
	ID         int64                  `json:"run_id"`
	RunName    string                 `json:"run_name"`
	RunType    string                 `json:"run_type"`
	Status     string                 `json:"status"`
	Seed       int64                  `json:"seed"`
	Tickers    []string               `json:"tickers"`
	StartDate  time.Time              `json:"start_date"`
	EndDate    time.Time              `json:"end_date"`
	ConfigHash string                 `json:"config_hash,omitempty"`
	Artifacts  map[string][]string    `json:"artifacts"`
	Summary    map[string]interface{} `json:"summary,omitempty"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt *time.Time             `json:"finished_at,omitempty"`
}

// AuditKind classifies audit_log entries
type AuditKind string

const (
	AuditDuplicateConflict AuditKind = "duplicate_conflict"
	AuditParseFailure      AuditKind = "parse_failure"
	AuditLeakageGuard      AuditKind = "leakage_guard"
	AuditDistillFailure    AuditKind = "distill_failure"
)

// AuditEntry is one audit_log row
type AuditEntry struct {
	ID        int64     `json:"audit_id"`
	RunID     *int64    `json:"run_id,omitempty"`
	Kind      AuditKind `json:"kind"`
	Entity    string    `json:"entity"`
	EntityKey string    `json:"entity_key"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
