// Package persistence provides the data storage abstraction for automations,
// versions, triggers and execution history.
package persistence

import (
	"context"

	"github.com/praxishq/automation/pkg/models"
)

type Persistence interface {
	AutomationRepository() AutomationRepository
	VersionRepository() VersionRepository
	TriggerRepository() TriggerRepository
	RunRepository() RunRepository
	NodeRunRepository() NodeRunRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// AutomationRepository stores automation identity rows. Automations are soft
// deleted; runs keep referencing them through their pinned versions.
type AutomationRepository interface {
	Save(ctx context.Context, automation *models.Automation) error
	GetByID(ctx context.Context, id string) (*models.Automation, error)
	List(ctx context.Context, tenantID string) ([]*models.Automation, error)
	SetPublishedVersion(ctx context.Context, id string, version int) error
	SetActive(ctx context.Context, id string, active bool) error
	Delete(ctx context.Context, id string) error
}

// VersionRepository stores immutable graph snapshots. Versions are never
// updated in place and never deleted while runs reference them.
type VersionRepository interface {
	Save(ctx context.Context, version *models.AutomationVersion) error
	GetByID(ctx context.Context, id string) (*models.AutomationVersion, error)
	GetPublished(ctx context.Context, automationID string) (*models.AutomationVersion, error)
	NextNumber(ctx context.Context, automationID string) (int, error)
	MarkPublished(ctx context.Context, automationID, versionID string) error
}

type TriggerRepository interface {
	Save(ctx context.Context, trigger *models.AutomationTrigger) error
	GetByID(ctx context.Context, id string) (*models.AutomationTrigger, error)
	ListByAutomation(ctx context.Context, automationID string) ([]*models.AutomationTrigger, error)
	ListActiveByEventKey(ctx context.Context, eventKey string) ([]*models.AutomationTrigger, error)
	Delete(ctx context.Context, id string) error
}

// RunRepository stores run records. AddPending is the single accounting point
// for the pending-node barrier and must be atomic in every implementation.
type RunRepository interface {
	Create(ctx context.Context, run *models.AutomationRun) error
	GetByID(ctx context.Context, id string) (*models.AutomationRun, error)
	ListByAutomation(ctx context.Context, automationID string, limit, offset int) ([]*models.AutomationRun, error)
	AddPending(ctx context.Context, runID string, delta int) (int, error)
	Finalize(ctx context.Context, runID string, status models.RunStatus, runErr string) error
}

// NodeRunRepository stores per-node execution records. Claim inserts a node
// run only if none exists for (run id, node id) and reports whether this
// caller won the claim; concurrent branches converging on the same node rely
// on it.
type NodeRunRepository interface {
	Claim(ctx context.Context, nodeRun *models.AutomationNodeRun) (bool, error)
	Update(ctx context.Context, nodeRun *models.AutomationNodeRun) error
	Get(ctx context.Context, runID, nodeID string) (*models.AutomationNodeRun, error)
	ListByRun(ctx context.Context, runID string) ([]*models.AutomationNodeRun, error)
}
