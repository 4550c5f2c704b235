package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/praxishq/automation/pkg/models"
	"github.com/praxishq/automation/pkg/persistence"
)

// VersionRepository handles automation version storage. Versions are written
// once and never updated except for the published flag flip.
type VersionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewVersionRepository(db *sql.DB, logger *slog.Logger) *VersionRepository {
	return &VersionRepository{db: db, logger: logger}
}

func (r *VersionRepository) Save(ctx context.Context, version *models.AutomationVersion) error {
	if version.CreatedAt.IsZero() {
		version.CreatedAt = time.Now().UTC()
	}

	if version.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate version ID: %w", err)
		}

		version.ID = id.String()
	}

	graphJSON, err := json.Marshal(version.Graph)
	if err != nil {
		return fmt.Errorf("failed to marshal graph: %w", err)
	}

	query := `
		INSERT INTO automation_versions (id, automation_id, number, graph, published, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = r.db.ExecContext(ctx, query,
		version.ID,
		version.AutomationID,
		version.Number,
		graphJSON,
		version.Published,
		version.CreatedBy,
		version.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save version: %w", err)
	}

	return nil
}

func (r *VersionRepository) GetByID(ctx context.Context, id string) (*models.AutomationVersion, error) {
	query := versionSelect + ` WHERE id = $1`

	version, err := scanVersion(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrVersionNotFound
		}

		return nil, fmt.Errorf("failed to scan version: %w", err)
	}

	return version, nil
}

// GetPublished returns the single published version of an automation.
func (r *VersionRepository) GetPublished(ctx context.Context, automationID string) (*models.AutomationVersion, error) {
	query := versionSelect + ` WHERE automation_id = $1 AND published`

	version, err := scanVersion(r.db.QueryRowContext(ctx, query, automationID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &persistence.AutomationError{Op: "GetPublished", AutomationID: automationID, Err: persistence.ErrNoPublishedVersion}
		}

		return nil, fmt.Errorf("failed to scan published version: %w", err)
	}

	return version, nil
}

// NextNumber returns the next free version number for an automation.
func (r *VersionRepository) NextNumber(ctx context.Context, automationID string) (int, error) {
	var number int

	query := `SELECT COALESCE(MAX(number), 0) + 1 FROM automation_versions WHERE automation_id = $1`

	err := r.db.QueryRowContext(ctx, query, automationID).Scan(&number)
	if err != nil {
		return 0, fmt.Errorf("failed to query next version number: %w", err)
	}

	return number, nil
}

// MarkPublished flips the published flag to the given version, unpublishing
// the previous one in the same transaction.
func (r *VersionRepository) MarkPublished(ctx context.Context, automationID, versionID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE automation_versions SET published = FALSE WHERE automation_id = $1 AND published`,
		automationID)
	if err != nil {
		_ = tx.Rollback()

		return fmt.Errorf("failed to unpublish previous version: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE automation_versions SET published = TRUE WHERE id = $1 AND automation_id = $2`,
		versionID, automationID)
	if err != nil {
		_ = tx.Rollback()

		return fmt.Errorf("failed to publish version: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		_ = tx.Rollback()

		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		_ = tx.Rollback()

		return persistence.ErrVersionNotFound
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit publish: %w", err)
	}

	return nil
}

const versionSelect = `
	SELECT
		id
	  , automation_id
	  , number
	  , graph
	  , published
	  , created_by
	  , created_at
	FROM automation_versions
`

func scanVersion(scanner interface {
	Scan(dest ...any) error
}) (*models.AutomationVersion, error) {
	var (
		version   models.AutomationVersion
		graphJSON []byte
	)

	err := scanner.Scan(
		&version.ID,
		&version.AutomationID,
		&version.Number,
		&graphJSON,
		&version.Published,
		&version.CreatedBy,
		&version.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if graphJSON != nil {
		err := json.Unmarshal(graphJSON, &version.Graph)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal graph: %w", err)
		}
	}

	return &version, nil
}
