package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/praxishq/automation/pkg/models"
	"github.com/praxishq/automation/pkg/persistence"
)

// NodeRunRepository handles per-node execution records. The composite primary
// key on (run_id, node_id) backs the claim-or-skip protocol.
type NodeRunRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewNodeRunRepository(db *sql.DB, logger *slog.Logger) *NodeRunRepository {
	return &NodeRunRepository{db: db, logger: logger}
}

// Claim inserts the node run if no record exists yet for (run, node) and
// reports whether this caller won. Losing a claim is the normal outcome for
// the second branch arriving at a converging node.
func (r *NodeRunRepository) Claim(ctx context.Context, nodeRun *models.AutomationNodeRun) (bool, error) {
	if nodeRun.StartedAt.IsZero() {
		nodeRun.StartedAt = time.Now().UTC()
	}

	inputJSON, outputJSON, err := marshalNodeRunPayloads(nodeRun)
	if err != nil {
		return false, err
	}

	query := `
		INSERT INTO automation_node_runs (run_id, node_id, node_type, status, attempt, input, output, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (run_id, node_id) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query,
		nodeRun.RunID,
		nodeRun.NodeID,
		nodeRun.NodeType,
		nodeRun.Status,
		nodeRun.Attempt,
		inputJSON,
		outputJSON,
		nodeRun.Error,
		nodeRun.StartedAt,
		nodeRun.FinishedAt,
	)
	if err != nil {
		return false, &persistence.RunError{Op: "Claim", RunID: nodeRun.RunID, Err: err}
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// Update writes back the node run's current status, attempt and payloads.
func (r *NodeRunRepository) Update(ctx context.Context, nodeRun *models.AutomationNodeRun) error {
	inputJSON, outputJSON, err := marshalNodeRunPayloads(nodeRun)
	if err != nil {
		return err
	}

	query := `
		UPDATE automation_node_runs
		SET status = $3, attempt = $4, input = $5, output = $6, error = $7, finished_at = $8
		WHERE run_id = $1 AND node_id = $2
	`

	result, err := r.db.ExecContext(ctx, query,
		nodeRun.RunID,
		nodeRun.NodeID,
		nodeRun.Status,
		nodeRun.Attempt,
		inputJSON,
		outputJSON,
		nodeRun.Error,
		nodeRun.FinishedAt,
	)
	if err != nil {
		return &persistence.RunError{Op: "Update", RunID: nodeRun.RunID, Err: err}
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return &persistence.RunError{Op: "Update", RunID: nodeRun.RunID, Err: persistence.ErrNodeRunNotFound}
	}

	return nil
}

func (r *NodeRunRepository) Get(ctx context.Context, runID, nodeID string) (*models.AutomationNodeRun, error) {
	query := nodeRunSelect + ` WHERE run_id = $1 AND node_id = $2`

	nodeRun, err := scanNodeRun(r.db.QueryRowContext(ctx, query, runID, nodeID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrNodeRunNotFound
		}

		return nil, fmt.Errorf("failed to scan node run: %w", err)
	}

	return nodeRun, nil
}

func (r *NodeRunRepository) ListByRun(ctx context.Context, runID string) ([]*models.AutomationNodeRun, error) {
	query := nodeRunSelect + ` WHERE run_id = $1 ORDER BY started_at`

	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query node runs: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	nodeRuns := make([]*models.AutomationNodeRun, 0)

	for rows.Next() {
		nodeRun, err := scanNodeRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node run: %w", err)
		}

		nodeRuns = append(nodeRuns, nodeRun)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating node runs: %w", err)
	}

	return nodeRuns, nil
}

const nodeRunSelect = `
	SELECT
		run_id
	  , node_id
	  , node_type
	  , status
	  , attempt
	  , input
	  , output
	  , error
	  , started_at
	  , finished_at
	FROM automation_node_runs
`

func marshalNodeRunPayloads(nodeRun *models.AutomationNodeRun) ([]byte, []byte, error) {
	var (
		inputJSON, outputJSON []byte
		err                   error
	)

	if nodeRun.Input != nil {
		inputJSON, err = json.Marshal(nodeRun.Input)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal node run input: %w", err)
		}
	}

	if nodeRun.Output != nil {
		outputJSON, err = json.Marshal(nodeRun.Output)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal node run output: %w", err)
		}
	}

	return inputJSON, outputJSON, nil
}

func scanNodeRun(scanner interface {
	Scan(dest ...any) error
}) (*models.AutomationNodeRun, error) {
	var (
		nodeRun               models.AutomationNodeRun
		inputJSON, outputJSON []byte
	)

	err := scanner.Scan(
		&nodeRun.RunID,
		&nodeRun.NodeID,
		&nodeRun.NodeType,
		&nodeRun.Status,
		&nodeRun.Attempt,
		&inputJSON,
		&outputJSON,
		&nodeRun.Error,
		&nodeRun.StartedAt,
		&nodeRun.FinishedAt,
	)
	if err != nil {
		return nil, err
	}

	if inputJSON != nil {
		err := json.Unmarshal(inputJSON, &nodeRun.Input)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal node run input: %w", err)
		}
	}

	if outputJSON != nil {
		err := json.Unmarshal(outputJSON, &nodeRun.Output)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal node run output: %w", err)
		}
	}

	return &nodeRun, nil
}
