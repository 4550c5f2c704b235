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

// RunRepository handles automation run storage and the pending-node barrier.
type RunRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewRunRepository(db *sql.DB, logger *slog.Logger) *RunRepository {
	return &RunRepository{db: db, logger: logger}
}

func (r *RunRepository) Create(ctx context.Context, run *models.AutomationRun) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}

	if run.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate run ID: %w", err)
		}

		run.ID = id.String()
	}

	if run.Status == "" {
		run.Status = models.RunStatusRunning
	}

	query := `
		INSERT INTO automation_runs (id, automation_id, version_id, event_key, subject_type, subject_id, status, pending_nodes, dry_run, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.db.ExecContext(ctx, query,
		run.ID,
		run.AutomationID,
		run.VersionID,
		run.EventKey,
		run.Subject.Type,
		run.Subject.ID,
		run.Status,
		run.PendingNodes,
		run.DryRun,
		run.Error,
		run.StartedAt,
		run.FinishedAt,
	)
	if err != nil {
		return &persistence.RunError{Op: "Create", RunID: run.ID, Err: err}
	}

	return nil
}

func (r *RunRepository) GetByID(ctx context.Context, id string) (*models.AutomationRun, error) {
	query := runSelect + ` WHERE id = $1`

	run, err := scanRun(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &persistence.RunError{Op: "GetByID", RunID: id, Err: persistence.ErrRunNotFound}
		}

		return nil, &persistence.RunError{Op: "GetByID", RunID: id, Err: err}
	}

	return run, nil
}

func (r *RunRepository) ListByAutomation(ctx context.Context, automationID string, limit, offset int) ([]*models.AutomationRun, error) {
	query := runSelect + `
		WHERE automation_id = $1
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.QueryContext(ctx, query, automationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	runs := make([]*models.AutomationRun, 0)

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		runs = append(runs, run)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// AddPending atomically adjusts the run's pending-node counter and returns the
// remaining count. The caller that observes zero finalizes the run.
func (r *RunRepository) AddPending(ctx context.Context, runID string, delta int) (int, error) {
	var remaining int

	query := `
		UPDATE automation_runs
		SET pending_nodes = pending_nodes + $2
		WHERE id = $1
		RETURNING pending_nodes
	`

	err := r.db.QueryRowContext(ctx, query, runID, delta).Scan(&remaining)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, &persistence.RunError{Op: "AddPending", RunID: runID, Err: persistence.ErrRunNotFound}
		}

		return 0, &persistence.RunError{Op: "AddPending", RunID: runID, Err: err}
	}

	return remaining, nil
}

// Finalize transitions a run to its terminal status. Only a still-running run
// is finalized; a second caller is a no-op.
func (r *RunRepository) Finalize(ctx context.Context, runID string, status models.RunStatus, runErr string) error {
	query := `
		UPDATE automation_runs
		SET status = $2, error = $3, finished_at = NOW()
		WHERE id = $1 AND status = $4
	`

	_, err := r.db.ExecContext(ctx, query, runID, status, runErr, models.RunStatusRunning)
	if err != nil {
		return &persistence.RunError{Op: "Finalize", RunID: runID, Err: err}
	}

	return nil
}

const runSelect = `
	SELECT
		id
	  , automation_id
	  , version_id
	  , event_key
	  , subject_type
	  , subject_id
	  , status
	  , pending_nodes
	  , dry_run
	  , error
	  , started_at
	  , finished_at
	FROM automation_runs
`

func scanRun(scanner interface {
	Scan(dest ...any) error
}) (*models.AutomationRun, error) {
	var run models.AutomationRun

	err := scanner.Scan(
		&run.ID,
		&run.AutomationID,
		&run.VersionID,
		&run.EventKey,
		&run.Subject.Type,
		&run.Subject.ID,
		&run.Status,
		&run.PendingNodes,
		&run.DryRun,
		&run.Error,
		&run.StartedAt,
		&run.FinishedAt,
	)
	if err != nil {
		return nil, err
	}

	return &run, nil
}
