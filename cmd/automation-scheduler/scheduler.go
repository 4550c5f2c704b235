package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/praxishq/automation/pkg/models"
	"github.com/praxishq/automation/pkg/persistence"
	"github.com/praxishq/automation/pkg/registry"
	"github.com/praxishq/automation/pkg/trigger"
)

const scheduleTriggerType = "trigger:schedule"

// Scheduler fires schedule triggers on their cron expressions. It reloads the
// active trigger bindings on an interval so new and retired schedules take
// effect without a restart.
type Scheduler struct {
	persistence persistence.Persistence
	triggers    *trigger.Service
	refresh     time.Duration
	logger      *slog.Logger

	runner *cron.Cron
}

func NewScheduler(store persistence.Persistence, triggers *trigger.Service, refresh time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		persistence: store,
		triggers:    triggers,
		refresh:     refresh,
		logger:      logger.With("module", "scheduler"),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	err := s.reload(ctx)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(s.refresh)
	defer ticker.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	s.logger.InfoContext(ctx, "Scheduler started", "refresh_interval", s.refresh)

	for {
		select {
		case <-ticker.C:
			err := s.reload(ctx)
			if err != nil {
				s.logger.ErrorContext(ctx, "Failed to reload schedules", "error", err)
			}
		case <-sigChan:
			s.logger.InfoContext(ctx, "Shutting down scheduler...")
			s.stopRunner()

			return nil
		case <-ctx.Done():
			s.stopRunner()

			return ctx.Err()
		}
	}
}

// reload swaps the cron runner for a fresh one built from the current set of
// active schedule triggers. Entries for a trigger whose automation is
// unpublished or inactive are simply not registered.
func (s *Scheduler) reload(ctx context.Context) error {
	triggers, err := s.persistence.TriggerRepository().ListActiveByEventKey(ctx, registry.EventKeyScheduleDue)
	if err != nil {
		return fmt.Errorf("failed to list schedule triggers: %w", err)
	}

	runner := cron.New()
	registered := 0

	for _, trg := range triggers {
		expression, err := s.cronExpression(ctx, trg)
		if err != nil {
			s.logger.WarnContext(ctx, "Skipping schedule trigger",
				"trigger_id", trg.ID, "automation_id", trg.AutomationID, "error", err)

			continue
		}

		if expression == "" {
			continue
		}

		_, err = runner.AddFunc(expression, s.fireFunc(trg))
		if err != nil {
			s.logger.WarnContext(ctx, "Invalid cron expression",
				"trigger_id", trg.ID, "automation_id", trg.AutomationID,
				"cron", expression, "error", err)

			continue
		}

		registered++
	}

	s.stopRunner()
	runner.Start()
	s.runner = runner

	s.logger.InfoContext(ctx, "Schedules reloaded", "count", registered)

	return nil
}

// cronExpression reads the cron expression from the schedule trigger node of
// the automation's published graph. It returns "" when the automation is not
// currently eligible to fire.
func (s *Scheduler) cronExpression(ctx context.Context, trg *models.AutomationTrigger) (string, error) {
	automation, err := s.persistence.AutomationRepository().GetByID(ctx, trg.AutomationID)
	if err != nil {
		return "", err
	}

	if !automation.Active || !automation.IsPublished() {
		return "", nil
	}

	version, err := s.persistence.VersionRepository().GetPublished(ctx, automation.ID)
	if err != nil {
		return "", err
	}

	for _, node := range version.Graph.Nodes {
		if node.Type != scheduleTriggerType {
			continue
		}

		expression, ok := node.Config["cron"].(string)
		if !ok || expression == "" {
			return "", fmt.Errorf("schedule node %s has no cron expression", node.ID)
		}

		return expression, nil
	}

	return "", fmt.Errorf("published graph has no %s node", scheduleTriggerType)
}

func (s *Scheduler) fireFunc(trg *models.AutomationTrigger) func() {
	return func() {
		ctx := context.Background()

		subject := models.Subject{
			Type: "automation",
			ID:   trg.AutomationID,
		}
		payload := map[string]any{
			"fired_at": time.Now().UTC().Format(time.RFC3339),
		}

		run, err := s.triggers.Fire(ctx, trg, subject, payload)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to fire schedule trigger",
				"trigger_id", trg.ID, "automation_id", trg.AutomationID, "error", err)

			return
		}

		if run != nil {
			s.logger.InfoContext(ctx, "Schedule trigger fired",
				"trigger_id", trg.ID, "run_id", run.ID)
		}
	}
}

func (s *Scheduler) stopRunner() {
	if s.runner != nil {
		s.runner.Stop()
	}
}
