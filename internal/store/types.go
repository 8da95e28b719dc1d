package store

import (
	"encoding/json"
	"time"
)

// Project is an engagement container: a named scope plus rules of engagement.
// Traffic records, runs, and findings all hang off a project.
type Project struct {
	ID         uint64          `json:"id"`
	Name       string          `json:"name"`
	ScopeAllow []string        `json:"scope_allow"`
	ScopeDeny  []string        `json:"scope_deny"`
	QPS        float64         `json:"qps"`
	ROE        json.RawMessage `json:"roe,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// RunStatus is the lifecycle state of a module run.
type RunStatus string

const (
	// StatusRunning means the run row exists and the module is executing.
	StatusRunning RunStatus = "running"
	// StatusDone means the module returned a valid result.
	StatusDone RunStatus = "done"
	// StatusFailed means the module raised or violated its contract.
	StatusFailed RunStatus = "failed"
)

// Run is one execution of an analysis module against a project.
// A run finishes exactly once: running transitions to done or failed.
type Run struct {
	ID         string          `json:"id"`
	ProjectID  uint64          `json:"project_id"`
	ModuleID   string          `json:"module_id"`
	Status     RunStatus       `json:"status"`
	Params     json.RawMessage `json:"params,omitempty"`
	ActionKeys []string        `json:"action_keys,omitempty"`
	Summary    json.RawMessage `json:"summary,omitempty"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// Severity is the triage severity of a finding.
type Severity string

const (
	SeverityInfo   Severity = "info"
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "med"
	SeverityHigh   Severity = "high"
)

// CoerceSeverity maps free-form module output onto the severity scale.
// Unknown values fall back to info rather than failing the run.
func CoerceSeverity(s string) Severity {
	switch Severity(s) {
	case SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh:
		return Severity(s)
	}
	switch s {
	case "medium":
		return SeverityMedium
	case "critical":
		return SeverityHigh
	}
	return SeverityInfo
}

// Finding is a single result produced by a module run.
type Finding struct {
	ID          string          `json:"id"`
	ProjectID   uint64          `json:"project_id"`
	RunID       string          `json:"run_id"`
	ModuleID    string          `json:"module_id"`
	Severity    Severity        `json:"severity"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Evidence    json.RawMessage `json:"evidence,omitempty"`
	Tags        []string        `json:"tags,omitempty"`
	ActionKeys  []string        `json:"action_keys,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}
