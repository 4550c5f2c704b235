package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/praxishq/automation/pkg/models"
	"github.com/praxishq/automation/pkg/persistence"
)

// TriggerRepository handles trigger binding storage.
type TriggerRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewTriggerRepository(db *sql.DB, logger *slog.Logger) *TriggerRepository {
	return &TriggerRepository{db: db, logger: logger}
}

func (r *TriggerRepository) Save(ctx context.Context, trigger *models.AutomationTrigger) error {
	if trigger.CreatedAt.IsZero() {
		trigger.CreatedAt = time.Now().UTC()
	}

	if trigger.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate trigger ID: %w", err)
		}

		trigger.ID = id.String()
	}

	query := `
		INSERT INTO automation_triggers (id, automation_id, event_key, workflow_id, stage_id, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			event_key = EXCLUDED.event_key,
			workflow_id = EXCLUDED.workflow_id,
			stage_id = EXCLUDED.stage_id,
			active = EXCLUDED.active
	`

	_, err := r.db.ExecContext(ctx, query,
		trigger.ID,
		trigger.AutomationID,
		trigger.EventKey,
		trigger.WorkflowID,
		trigger.StageID,
		trigger.Active,
		trigger.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save trigger: %w", err)
	}

	return nil
}

func (r *TriggerRepository) GetByID(ctx context.Context, id string) (*models.AutomationTrigger, error) {
	query := triggerSelect + ` WHERE id = $1`

	trigger, err := scanTrigger(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrTriggerNotFound
		}

		return nil, fmt.Errorf("failed to scan trigger: %w", err)
	}

	return trigger, nil
}

func (r *TriggerRepository) ListByAutomation(ctx context.Context, automationID string) ([]*models.AutomationTrigger, error) {
	query := triggerSelect + ` WHERE automation_id = $1 ORDER BY created_at`

	return r.queryTriggers(ctx, query, automationID)
}

// ListActiveByEventKey returns every active trigger bound to the given event
// key; the matcher narrows these down by scope.
func (r *TriggerRepository) ListActiveByEventKey(ctx context.Context, eventKey string) ([]*models.AutomationTrigger, error) {
	query := triggerSelect + ` WHERE event_key = $1 AND active ORDER BY created_at`

	return r.queryTriggers(ctx, query, eventKey)
}

func (r *TriggerRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM automation_triggers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete trigger: %w", err)
	}

	return nil
}

func (r *TriggerRepository) queryTriggers(ctx context.Context, query string, args ...any) ([]*models.AutomationTrigger, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query triggers: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	triggers := make([]*models.AutomationTrigger, 0)

	for rows.Next() {
		trigger, err := scanTrigger(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trigger: %w", err)
		}

		triggers = append(triggers, trigger)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating triggers: %w", err)
	}

	return triggers, nil
}

const triggerSelect = `
	SELECT
		id
	  , automation_id
	  , event_key
	  , workflow_id
	  , stage_id
	  , active
	  , created_at
	FROM automation_triggers
`

func scanTrigger(scanner interface {
	Scan(dest ...any) error
}) (*models.AutomationTrigger, error) {
	var trigger models.AutomationTrigger

	err := scanner.Scan(
		&trigger.ID,
		&trigger.AutomationID,
		&trigger.EventKey,
		&trigger.WorkflowID,
		&trigger.StageID,
		&trigger.Active,
		&trigger.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &trigger, nil
}
