// Package trigger turns raised business events into automation runs.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/praxishq/automation/pkg/eventbus"
	"github.com/praxishq/automation/pkg/events"
	"github.com/praxishq/automation/pkg/models"
	"github.com/praxishq/automation/pkg/persistence"
)

// Service matches raised business events against active trigger bindings and
// creates one run per match, pinned to the published version at raise time.
type Service struct {
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
}

func NewService(store persistence.Persistence, publisher eventbus.EventPublisher, logger *slog.Logger) *Service {
	return &Service{
		persistence: store,
		publisher:   publisher,
		logger:      logger.With("module", "trigger"),
	}
}

// Raise fans a business event out into runs. A trigger fires when its event
// key matches and its scope fields, where set, match the event's scope. The
// returned runs have been dispatched to workers.
func (s *Service) Raise(ctx context.Context, eventKey string, subject models.Subject, scope map[string]string, payload map[string]any) ([]*models.AutomationRun, error) {
	triggers, err := s.persistence.TriggerRepository().ListActiveByEventKey(ctx, eventKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list triggers for %s: %w", eventKey, err)
	}

	runs := make([]*models.AutomationRun, 0)

	for _, trg := range triggers {
		if !trg.Matches(eventKey, scope) {
			continue
		}

		run, err := s.startRun(ctx, trg, eventKey, subject, scope, payload)
		if err != nil {
			// One broken automation must not block the others listening to
			// the same event.
			s.logger.ErrorContext(ctx, "Failed to start run",
				"automation_id", trg.AutomationID, "event_key", eventKey, "error", err)

			continue
		}

		if run != nil {
			runs = append(runs, run)
		}
	}

	return runs, nil
}

// Fire starts a run for one specific trigger binding, bypassing event key
// matching. The scheduler uses it to fire schedule triggers directly.
func (s *Service) Fire(ctx context.Context, trg *models.AutomationTrigger, subject models.Subject, payload map[string]any) (*models.AutomationRun, error) {
	return s.startRun(ctx, trg, trg.EventKey, subject, nil, payload)
}

func (s *Service) startRun(ctx context.Context, trg *models.AutomationTrigger, eventKey string, subject models.Subject, scope map[string]string, payload map[string]any) (*models.AutomationRun, error) {
	automation, err := s.persistence.AutomationRepository().GetByID(ctx, trg.AutomationID)
	if err != nil {
		if errors.Is(err, persistence.ErrAutomationNotFound) {
			return nil, nil
		}

		return nil, err
	}

	if !automation.Active || !automation.IsPublished() {
		return nil, nil
	}

	version, err := s.persistence.VersionRepository().GetPublished(ctx, automation.ID)
	if err != nil {
		return nil, err
	}

	run := &models.AutomationRun{
		AutomationID: automation.ID,
		VersionID:    version.ID,
		EventKey:     eventKey,
		Subject:      subject,
		Status:       models.RunStatusRunning,
		PendingNodes: 1,
	}

	err = s.persistence.RunRepository().Create(ctx, run)
	if err != nil {
		return nil, err
	}

	event := events.RunDispatched{
		BaseEvent:   events.NewBaseEvent(events.RunDispatchedEvent, automation.ID),
		RunID:       run.ID,
		VersionID:   version.ID,
		TriggerData: triggerData(eventKey, scope, payload),
	}

	err = s.publisher.Publish(ctx, run.ID, event)
	if err != nil {
		finalizeErr := s.persistence.RunRepository().Finalize(ctx, run.ID, models.RunStatusFailed, "failed to dispatch run")
		if finalizeErr != nil {
			s.logger.ErrorContext(ctx, "Failed to finalize undispatched run", "run_id", run.ID, "error", finalizeErr)
		}

		return nil, fmt.Errorf("failed to dispatch run %s: %w", run.ID, err)
	}

	s.logger.InfoContext(ctx, "Run dispatched",
		"run_id", run.ID, "automation_id", automation.ID, "event_key", eventKey)

	return run, nil
}

// triggerData builds the variable payload exposed to the graph under the
// "trigger" namespace.
func triggerData(eventKey string, scope map[string]string, payload map[string]any) map[string]any {
	data := make(map[string]any, len(payload)+len(scope)+1)

	for key, value := range payload {
		data[key] = value
	}

	for key, value := range scope {
		data[key] = value
	}

	data["event_key"] = eventKey

	return data
}
