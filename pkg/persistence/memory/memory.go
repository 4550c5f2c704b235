// Package memory provides an in-memory persistence implementation with the
// same claim and pending-counter semantics as the SQL backends. It backs unit
// tests and local development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/praxishq/automation/pkg/models"
	"github.com/praxishq/automation/pkg/persistence"
)

type Persistence struct {
	mu sync.Mutex

	automations map[string]*models.Automation
	versions    map[string]*models.AutomationVersion
	triggers    map[string]*models.AutomationTrigger
	runs        map[string]*models.AutomationRun
	nodeRuns    map[string]*models.AutomationNodeRun // keyed by runID + "/" + nodeID
}

func NewPersistence() *Persistence {
	return &Persistence{
		automations: make(map[string]*models.Automation),
		versions:    make(map[string]*models.AutomationVersion),
		triggers:    make(map[string]*models.AutomationTrigger),
		runs:        make(map[string]*models.AutomationRun),
		nodeRuns:    make(map[string]*models.AutomationNodeRun),
	}
}

func (p *Persistence) AutomationRepository() persistence.AutomationRepository {
	return &automationRepository{p: p}
}

func (p *Persistence) VersionRepository() persistence.VersionRepository {
	return &versionRepository{p: p}
}

func (p *Persistence) TriggerRepository() persistence.TriggerRepository {
	return &triggerRepository{p: p}
}

func (p *Persistence) RunRepository() persistence.RunRepository {
	return &runRepository{p: p}
}

func (p *Persistence) NodeRunRepository() persistence.NodeRunRepository {
	return &nodeRunRepository{p: p}
}

func (p *Persistence) HealthCheck(ctx context.Context) error {
	return nil
}

func (p *Persistence) Close(ctx context.Context) error {
	return nil
}

func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate ID: %w", err)
	}

	return id.String(), nil
}

type automationRepository struct {
	p *Persistence
}

func (r *automationRepository) Save(ctx context.Context, automation *models.Automation) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	now := time.Now().UTC()

	if automation.CreatedAt.IsZero() {
		automation.CreatedAt = now
	}

	automation.UpdatedAt = now

	if automation.ID == "" {
		id, err := newID()
		if err != nil {
			return err
		}

		automation.ID = id
	}

	clone := *automation
	r.p.automations[automation.ID] = &clone

	return nil
}

func (r *automationRepository) GetByID(ctx context.Context, id string) (*models.Automation, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	automation, ok := r.p.automations[id]
	if !ok || automation.DeletedAt != nil {
		return nil, &persistence.AutomationError{Op: "GetByID", AutomationID: id, Err: persistence.ErrAutomationNotFound}
	}

	clone := *automation

	return &clone, nil
}

func (r *automationRepository) List(ctx context.Context, tenantID string) ([]*models.Automation, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	automations := make([]*models.Automation, 0)

	for _, automation := range r.p.automations {
		if automation.TenantID != tenantID || automation.DeletedAt != nil {
			continue
		}

		clone := *automation
		automations = append(automations, &clone)
	}

	sort.Slice(automations, func(i, j int) bool {
		return automations[i].CreatedAt.After(automations[j].CreatedAt)
	})

	return automations, nil
}

func (r *automationRepository) SetPublishedVersion(ctx context.Context, id string, version int) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	automation, ok := r.p.automations[id]
	if !ok || automation.DeletedAt != nil {
		return &persistence.AutomationError{Op: "SetPublishedVersion", AutomationID: id, Err: persistence.ErrAutomationNotFound}
	}

	automation.PublishedVersion = version
	automation.UpdatedAt = time.Now().UTC()

	return nil
}

func (r *automationRepository) SetActive(ctx context.Context, id string, active bool) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	automation, ok := r.p.automations[id]
	if !ok || automation.DeletedAt != nil {
		return &persistence.AutomationError{Op: "SetActive", AutomationID: id, Err: persistence.ErrAutomationNotFound}
	}

	automation.Active = active
	automation.UpdatedAt = time.Now().UTC()

	return nil
}

func (r *automationRepository) Delete(ctx context.Context, id string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	automation, ok := r.p.automations[id]
	if !ok || automation.DeletedAt != nil {
		return nil
	}

	now := time.Now().UTC()
	automation.DeletedAt = &now

	return nil
}

type versionRepository struct {
	p *Persistence
}

func (r *versionRepository) Save(ctx context.Context, version *models.AutomationVersion) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if version.CreatedAt.IsZero() {
		version.CreatedAt = time.Now().UTC()
	}

	if version.ID == "" {
		id, err := newID()
		if err != nil {
			return err
		}

		version.ID = id
	}

	clone := *version
	r.p.versions[version.ID] = &clone

	return nil
}

func (r *versionRepository) GetByID(ctx context.Context, id string) (*models.AutomationVersion, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	version, ok := r.p.versions[id]
	if !ok {
		return nil, persistence.ErrVersionNotFound
	}

	clone := *version

	return &clone, nil
}

func (r *versionRepository) GetPublished(ctx context.Context, automationID string) (*models.AutomationVersion, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	for _, version := range r.p.versions {
		if version.AutomationID == automationID && version.Published {
			clone := *version

			return &clone, nil
		}
	}

	return nil, &persistence.AutomationError{Op: "GetPublished", AutomationID: automationID, Err: persistence.ErrNoPublishedVersion}
}

func (r *versionRepository) NextNumber(ctx context.Context, automationID string) (int, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	highest := 0

	for _, version := range r.p.versions {
		if version.AutomationID == automationID && version.Number > highest {
			highest = version.Number
		}
	}

	return highest + 1, nil
}

func (r *versionRepository) MarkPublished(ctx context.Context, automationID, versionID string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	target, ok := r.p.versions[versionID]
	if !ok || target.AutomationID != automationID {
		return persistence.ErrVersionNotFound
	}

	for _, version := range r.p.versions {
		if version.AutomationID == automationID {
			version.Published = false
		}
	}

	target.Published = true

	return nil
}

type triggerRepository struct {
	p *Persistence
}

func (r *triggerRepository) Save(ctx context.Context, trigger *models.AutomationTrigger) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if trigger.CreatedAt.IsZero() {
		trigger.CreatedAt = time.Now().UTC()
	}

	if trigger.ID == "" {
		id, err := newID()
		if err != nil {
			return err
		}

		trigger.ID = id
	}

	clone := *trigger
	r.p.triggers[trigger.ID] = &clone

	return nil
}

func (r *triggerRepository) GetByID(ctx context.Context, id string) (*models.AutomationTrigger, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	trigger, ok := r.p.triggers[id]
	if !ok {
		return nil, persistence.ErrTriggerNotFound
	}

	clone := *trigger

	return &clone, nil
}

func (r *triggerRepository) ListByAutomation(ctx context.Context, automationID string) ([]*models.AutomationTrigger, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	triggers := make([]*models.AutomationTrigger, 0)

	for _, trigger := range r.p.triggers {
		if trigger.AutomationID == automationID {
			clone := *trigger
			triggers = append(triggers, &clone)
		}
	}

	sortTriggers(triggers)

	return triggers, nil
}

func (r *triggerRepository) ListActiveByEventKey(ctx context.Context, eventKey string) ([]*models.AutomationTrigger, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	triggers := make([]*models.AutomationTrigger, 0)

	for _, trigger := range r.p.triggers {
		if trigger.EventKey == eventKey && trigger.Active {
			clone := *trigger
			triggers = append(triggers, &clone)
		}
	}

	sortTriggers(triggers)

	return triggers, nil
}

func (r *triggerRepository) Delete(ctx context.Context, id string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	delete(r.p.triggers, id)

	return nil
}

func sortTriggers(triggers []*models.AutomationTrigger) {
	sort.Slice(triggers, func(i, j int) bool {
		return triggers[i].CreatedAt.Before(triggers[j].CreatedAt)
	})
}

type runRepository struct {
	p *Persistence
}

func (r *runRepository) Create(ctx context.Context, run *models.AutomationRun) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}

	if run.ID == "" {
		id, err := newID()
		if err != nil {
			return err
		}

		run.ID = id
	}

	if run.Status == "" {
		run.Status = models.RunStatusRunning
	}

	clone := *run
	r.p.runs[run.ID] = &clone

	return nil
}

func (r *runRepository) GetByID(ctx context.Context, id string) (*models.AutomationRun, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	run, ok := r.p.runs[id]
	if !ok {
		return nil, &persistence.RunError{Op: "GetByID", RunID: id, Err: persistence.ErrRunNotFound}
	}

	clone := *run

	return &clone, nil
}

func (r *runRepository) ListByAutomation(ctx context.Context, automationID string, limit, offset int) ([]*models.AutomationRun, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	runs := make([]*models.AutomationRun, 0)

	for _, run := range r.p.runs {
		if run.AutomationID == automationID {
			clone := *run
			runs = append(runs, &clone)
		}
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})

	if offset >= len(runs) {
		return []*models.AutomationRun{}, nil
	}

	runs = runs[offset:]

	if limit > 0 && limit < len(runs) {
		runs = runs[:limit]
	}

	return runs, nil
}

func (r *runRepository) AddPending(ctx context.Context, runID string, delta int) (int, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	run, ok := r.p.runs[runID]
	if !ok {
		return 0, &persistence.RunError{Op: "AddPending", RunID: runID, Err: persistence.ErrRunNotFound}
	}

	run.PendingNodes += delta

	return run.PendingNodes, nil
}

func (r *runRepository) Finalize(ctx context.Context, runID string, status models.RunStatus, runErr string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	run, ok := r.p.runs[runID]
	if !ok {
		return &persistence.RunError{Op: "Finalize", RunID: runID, Err: persistence.ErrRunNotFound}
	}

	if run.Status != models.RunStatusRunning {
		return nil
	}

	now := time.Now().UTC()
	run.Status = status
	run.Error = runErr
	run.FinishedAt = &now

	return nil
}

type nodeRunRepository struct {
	p *Persistence
}

func nodeRunKey(runID, nodeID string) string {
	return runID + "/" + nodeID
}

func (r *nodeRunRepository) Claim(ctx context.Context, nodeRun *models.AutomationNodeRun) (bool, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	key := nodeRunKey(nodeRun.RunID, nodeRun.NodeID)

	if _, exists := r.p.nodeRuns[key]; exists {
		return false, nil
	}

	if nodeRun.StartedAt.IsZero() {
		nodeRun.StartedAt = time.Now().UTC()
	}

	clone := *nodeRun
	r.p.nodeRuns[key] = &clone

	return true, nil
}

func (r *nodeRunRepository) Update(ctx context.Context, nodeRun *models.AutomationNodeRun) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	key := nodeRunKey(nodeRun.RunID, nodeRun.NodeID)

	if _, exists := r.p.nodeRuns[key]; !exists {
		return &persistence.RunError{Op: "Update", RunID: nodeRun.RunID, Err: persistence.ErrNodeRunNotFound}
	}

	clone := *nodeRun
	r.p.nodeRuns[key] = &clone

	return nil
}

func (r *nodeRunRepository) Get(ctx context.Context, runID, nodeID string) (*models.AutomationNodeRun, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	nodeRun, ok := r.p.nodeRuns[nodeRunKey(runID, nodeID)]
	if !ok {
		return nil, persistence.ErrNodeRunNotFound
	}

	clone := *nodeRun

	return &clone, nil
}

func (r *nodeRunRepository) ListByRun(ctx context.Context, runID string) ([]*models.AutomationNodeRun, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	nodeRuns := make([]*models.AutomationNodeRun, 0)

	for _, nodeRun := range r.p.nodeRuns {
		if nodeRun.RunID == runID {
			clone := *nodeRun
			nodeRuns = append(nodeRuns, &clone)
		}
	}

	sort.Slice(nodeRuns, func(i, j int) bool {
		if nodeRuns[i].StartedAt.Equal(nodeRuns[j].StartedAt) {
			return nodeRuns[i].NodeID < nodeRuns[j].NodeID
		}

		return nodeRuns[i].StartedAt.Before(nodeRuns[j].StartedAt)
	})

	return nodeRuns, nil
}
