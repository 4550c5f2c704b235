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

// AutomationRepository handles automation-related database operations.
type AutomationRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewAutomationRepository(db *sql.DB, logger *slog.Logger) *AutomationRepository {
	return &AutomationRepository{db: db, logger: logger}
}

// Save inserts or updates an automation.
func (r *AutomationRepository) Save(ctx context.Context, automation *models.Automation) error {
	now := time.Now().UTC()

	if automation.CreatedAt.IsZero() {
		automation.CreatedAt = now
	}

	automation.UpdatedAt = now

	if automation.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate automation ID: %w", err)
		}

		automation.ID = id.String()
	}

	query := `
		INSERT INTO automations (id, tenant_id, name, active, published_version, created_by, created_at, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			active = EXCLUDED.active,
			published_version = EXCLUDED.published_version,
			updated_at = EXCLUDED.updated_at,
			deleted_at = EXCLUDED.deleted_at
	`

	_, err := r.db.ExecContext(ctx, query,
		automation.ID,
		automation.TenantID,
		automation.Name,
		automation.Active,
		automation.PublishedVersion,
		automation.CreatedBy,
		automation.CreatedAt,
		automation.UpdatedAt,
		automation.DeletedAt,
	)
	if err != nil {
		return &persistence.AutomationError{Op: "Save", AutomationID: automation.ID, Err: err}
	}

	return nil
}

func (r *AutomationRepository) GetByID(ctx context.Context, id string) (*models.Automation, error) {
	query := `
		SELECT
			id
		  , tenant_id
		  , name
		  , active
		  , published_version
		  , created_by
		  , created_at
		  , updated_at
		  , deleted_at
		FROM automations
		WHERE id = $1 AND deleted_at IS NULL
	`

	row := r.db.QueryRowContext(ctx, query, id)

	automation, err := scanAutomation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &persistence.AutomationError{Op: "GetByID", AutomationID: id, Err: persistence.ErrAutomationNotFound}
		}

		return nil, &persistence.AutomationError{Op: "GetByID", AutomationID: id, Err: err}
	}

	return automation, nil
}

// List returns all live automations of a tenant, newest first.
func (r *AutomationRepository) List(ctx context.Context, tenantID string) ([]*models.Automation, error) {
	query := `
		SELECT
			id
		  , tenant_id
		  , name
		  , active
		  , published_version
		  , created_by
		  , created_at
		  , updated_at
		  , deleted_at
		FROM automations
		WHERE tenant_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query automations: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	automations := make([]*models.Automation, 0)

	for rows.Next() {
		automation, err := scanAutomation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan automation: %w", err)
		}

		automations = append(automations, automation)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating automations: %w", err)
	}

	return automations, nil
}

// SetPublishedVersion points the automation at a new published version number.
func (r *AutomationRepository) SetPublishedVersion(ctx context.Context, id string, version int) error {
	query := `
		UPDATE automations
		SET published_version = $2, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, id, version)
	if err != nil {
		return &persistence.AutomationError{Op: "SetPublishedVersion", AutomationID: id, Err: err}
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return &persistence.AutomationError{Op: "SetPublishedVersion", AutomationID: id, Err: persistence.ErrAutomationNotFound}
	}

	return nil
}

func (r *AutomationRepository) SetActive(ctx context.Context, id string, active bool) error {
	query := `
		UPDATE automations
		SET active = $2, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, id, active)
	if err != nil {
		return &persistence.AutomationError{Op: "SetActive", AutomationID: id, Err: err}
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return &persistence.AutomationError{Op: "SetActive", AutomationID: id, Err: persistence.ErrAutomationNotFound}
	}

	return nil
}

// Delete soft deletes an automation by setting deleted_at. Past runs keep
// their pinned versions.
func (r *AutomationRepository) Delete(ctx context.Context, id string) error {
	query := `UPDATE automations SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`

	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return &persistence.AutomationError{Op: "Delete", AutomationID: id, Err: err}
	}

	return nil
}

func scanAutomation(scanner interface {
	Scan(dest ...any) error
}) (*models.Automation, error) {
	var automation models.Automation

	err := scanner.Scan(
		&automation.ID,
		&automation.TenantID,
		&automation.Name,
		&automation.Active,
		&automation.PublishedVersion,
		&automation.CreatedBy,
		&automation.CreatedAt,
		&automation.UpdatedAt,
		&automation.DeletedAt,
	)
	if err != nil {
		return nil, err
	}

	return &automation, nil
}
