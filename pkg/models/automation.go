// Package models defines the core domain models for the automation engine.
package models

import "time"

// Automation is a user-authored, trigger-driven automation owned by a tenant
// workspace. The graph itself lives in immutable AutomationVersion snapshots;
// the automation row only tracks identity, the active flag and the pointer to
// the currently published version.
type Automation struct {
	ID               string     `json:"id"`
	TenantID         string     `json:"tenant_id"         validate:"required"`
	Name             string     `json:"name"              validate:"required,min=3"`
	Active           bool       `json:"active"`
	PublishedVersion int        `json:"published_version"` // 0 = never published
	CreatedBy        string     `json:"created_by"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	DeletedAt        *time.Time `json:"deleted_at,omitempty"`
}

// IsPublished reports whether the automation has a live published version.
func (a *Automation) IsPublished() bool {
	return a.PublishedVersion > 0
}

// AutomationVersion is an immutable snapshot of an automation graph. Edits
// never mutate a version; they produce a new one with the next number.
// Exactly one version per automation is published at a time.
type AutomationVersion struct {
	ID           string          `json:"id"`
	AutomationID string          `json:"automation_id" validate:"required"`
	Number       int             `json:"number"        validate:"required,min=1"`
	Graph        GraphDefinition `json:"graph"`
	Published    bool            `json:"published"`
	CreatedBy    string          `json:"created_by"`
	CreatedAt    time.Time       `json:"created_at"`
}

// AutomationTrigger binds an automation to a business event key with an
// optional workflow/stage scope. The trigger's active flag is independent of
// the automation's own flag; both must be true for the trigger to fire.
type AutomationTrigger struct {
	ID           string    `json:"id"`
	AutomationID string    `json:"automation_id" validate:"required"`
	EventKey     string    `json:"event_key"     validate:"required"`
	WorkflowID   *string   `json:"workflow_id,omitempty"`
	StageID      *string   `json:"stage_id,omitempty"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// Matches reports whether the trigger fires for the given event key and scope
// attributes. An unset scope field matches any subject.
func (t *AutomationTrigger) Matches(eventKey string, scope map[string]string) bool {
	if t.EventKey != eventKey {
		return false
	}

	if t.WorkflowID != nil && *t.WorkflowID != scope[ScopeWorkflowID] {
		return false
	}

	if t.StageID != nil && *t.StageID != scope[ScopeStageID] {
		return false
	}

	return true
}

// Scope attribute keys understood by trigger matching.
const (
	ScopeWorkflowID = "workflow_id"
	ScopeStageID    = "stage_id"
)
