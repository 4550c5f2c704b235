package models

import "time"

// RunStatus defines the lifecycle states of an automation run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// NodeRunStatus defines the possible states of a node run.
type NodeRunStatus string

const (
	NodeRunStatusRunning NodeRunStatus = "running"
	NodeRunStatusSuccess NodeRunStatus = "success"
	NodeRunStatusError   NodeRunStatus = "error"
	NodeRunStatusDryRun  NodeRunStatus = "dry_run"
	NodeRunStatusSkipped NodeRunStatus = "skipped"
)

// IsTerminal reports whether the node run reached a final state.
func (s NodeRunStatus) IsTerminal() bool {
	return s == NodeRunStatusSuccess || s == NodeRunStatusError ||
		s == NodeRunStatusDryRun || s == NodeRunStatusSkipped
}

// Subject identifies the business entity a run acts upon.
type Subject struct {
	Type string `json:"type" validate:"required"`
	ID   string `json:"id"   validate:"required"`
}

// AutomationRun is one execution instance of a published automation version
// against one subject. The version is pinned at creation and immune to later
// publishes. PendingNodes counts node runs that have not yet reached a
// terminal status; the run finalizes exactly when it drops to zero.
type AutomationRun struct {
	ID           string     `json:"id"`
	AutomationID string     `json:"automation_id"`
	VersionID    string     `json:"version_id"`
	EventKey     string     `json:"event_key"`
	Subject      Subject    `json:"subject"`
	Status       RunStatus  `json:"status"`
	PendingNodes int        `json:"pending_nodes"`
	DryRun       bool       `json:"dry_run"`
	Error        string     `json:"error,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// AutomationNodeRun records the execution of a single graph node within one
// run. At most one node run exists per (run, node id); re-entry into an
// already-visited node is not permitted, enforced by a composite key.
type AutomationNodeRun struct {
	RunID      string         `json:"run_id"`
	NodeID     string         `json:"node_id"`
	NodeType   string         `json:"node_type"`
	Status     NodeRunStatus  `json:"status"`
	Attempt    int            `json:"attempt"`
	Input      map[string]any `json:"input,omitempty"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// NodeResult is the per-node outcome returned synchronously by test runs.
type NodeResult struct {
	NodeID   string         `json:"node_id"`
	NodeType string         `json:"node_type"`
	Status   NodeRunStatus  `json:"status"`
	Output   map[string]any `json:"output,omitempty"`
	Error    string         `json:"error,omitempty"`
}
