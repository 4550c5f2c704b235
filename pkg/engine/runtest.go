package engine

import (
	"context"
	"fmt"

	"github.com/praxishq/automation/pkg/models"
)

// RunTest executes the automation's published version synchronously against
// the given subject without performing side effects. Actions report what they
// would have done; conditions evaluate for real. The run is recorded in
// history with the dry-run flag set.
func (e *Engine) RunTest(ctx context.Context, automationID string, subject models.Subject, triggerData map[string]any) (*models.AutomationRun, []models.NodeResult, error) {
	automation, err := e.persistence.AutomationRepository().GetByID(ctx, automationID)
	if err != nil {
		return nil, nil, err
	}

	version, err := e.persistence.VersionRepository().GetPublished(ctx, automation.ID)
	if err != nil {
		return nil, nil, err
	}

	eventKey := ""

	for _, node := range version.Graph.Nodes {
		def, lookupErr := e.registry.Lookup(node.Type)
		if lookupErr != nil {
			continue
		}

		if def.Category == models.CategoryTypeTrigger {
			eventKey = def.EventKey

			break
		}
	}

	run := &models.AutomationRun{
		AutomationID: automation.ID,
		VersionID:    version.ID,
		EventKey:     eventKey,
		Subject:      subject,
		Status:       models.RunStatusRunning,
		PendingNodes: 1,
		DryRun:       true,
	}

	err = e.persistence.RunRepository().Create(ctx, run)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create test run: %w", err)
	}

	results, err := e.Execute(ctx, run, triggerData)
	if err != nil {
		return nil, nil, err
	}

	finished, err := e.persistence.RunRepository().GetByID(ctx, run.ID)
	if err != nil {
		return nil, nil, err
	}

	return finished, results, nil
}
