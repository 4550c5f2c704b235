// Package protocol defines the contracts between the execution engine and
// its pluggable dispatchers and external collaborators.
package protocol

import (
	"context"

	"github.com/praxishq/automation/pkg/models"
)

// Request carries everything a dispatcher needs for one node execution. The
// config arrives fully template-resolved; Vars carries the run's variable
// snapshot for node kinds that read values directly instead of through
// rendered strings.
type Request struct {
	NodeID string
	Config map[string]any
	Vars   *models.VariableContext
	DryRun bool
}

// Result is the successful outcome of a dispatcher call. Output is merged
// into the run's variable context under the node id.
type Result struct {
	Output map[string]any
}

// Dispatcher executes one node kind. Implementations are side-effecting and
// individually retryable; errors are surfaced on the node run and retried per
// the node type's policy. In dry-run mode a dispatcher must not perform its
// side effect and instead describes the call it would have made.
type Dispatcher interface {
	Key() string
	Execute(ctx context.Context, req Request) (Result, error)
}

// TransientError marks a dispatcher failure worth retrying (timeouts, 5xx,
// provider rate limits). Anything else is treated as a configuration error
// and fails the node run immediately.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err so the engine schedules a retry.
func Transient(err error) error {
	if err == nil {
		return nil
	}

	return &TransientError{Err: err}
}
