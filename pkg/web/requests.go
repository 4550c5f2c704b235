package web

import "github.com/praxishq/automation/pkg/models"

type CreateAutomationRequest struct {
	TenantID  string `json:"tenant_id" validate:"required"`
	Name      string `json:"name"      validate:"required,min=3,max=120"`
	CreatedBy string `json:"created_by"`
}

type UpdateAutomationRequest struct {
	Name *string `json:"name,omitempty" validate:"omitempty,min=3,max=120"`
}

type SetActiveRequest struct {
	Active bool `json:"active"`
}

type SaveVersionRequest struct {
	Graph     models.GraphDefinition `json:"graph"`
	CreatedBy string                 `json:"created_by"`
}

type CreateTriggerRequest struct {
	EventKey   string  `json:"event_key" validate:"required"`
	WorkflowID *string `json:"workflow_id,omitempty"`
	StageID    *string `json:"stage_id,omitempty"`
	Active     *bool   `json:"active,omitempty"`
}

type TestRunRequest struct {
	Subject     models.Subject `json:"subject"      validate:"required"`
	TriggerData map[string]any `json:"trigger_data"`
}

type RaiseEventRequest struct {
	EventKey string            `json:"event_key" validate:"required"`
	Subject  models.Subject    `json:"subject"   validate:"required"`
	Scope    map[string]string `json:"scope,omitempty"`
	Payload  map[string]any    `json:"payload,omitempty"`
}
