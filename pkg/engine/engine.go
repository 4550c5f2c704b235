// Package engine walks published automation graphs, executing one run at a
// time across concurrent branches with claim-or-skip convergence.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/praxishq/automation/pkg/models"
	"github.com/praxishq/automation/pkg/persistence"
	"github.com/praxishq/automation/pkg/protocol"
	"github.com/praxishq/automation/pkg/registry"
	"github.com/praxishq/automation/pkg/template"
)

const defaultNodeTimeout = 60 * time.Second

// Engine executes automation runs against their pinned version graphs.
type Engine struct {
	registry    *registry.Registry
	persistence persistence.Persistence
	subjects    protocol.SubjectSource
	logger      *slog.Logger
	nodeTimeout time.Duration
}

func NewEngine(reg *registry.Registry, store persistence.Persistence, subjects protocol.SubjectSource, logger *slog.Logger) *Engine {
	return &Engine{
		registry:    reg,
		persistence: store,
		subjects:    subjects,
		logger:      logger.With("module", "engine"),
		nodeTimeout: defaultNodeTimeout,
	}
}

// WithNodeTimeout overrides the per-dispatch timeout.
func (e *Engine) WithNodeTimeout(timeout time.Duration) *Engine {
	e.nodeTimeout = timeout

	return e
}

// Execute walks the run's pinned graph to completion. The returned results
// cover the nodes this process executed, in completion order; on the async
// path callers usually ignore them.
func (e *Engine) Execute(ctx context.Context, run *models.AutomationRun, triggerData map[string]any) ([]models.NodeResult, error) {
	version, err := e.persistence.VersionRepository().GetByID(ctx, run.VersionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load version %s: %w", run.VersionID, err)
	}

	graph, err := buildGraph(version.Graph, e.registry)
	if err != nil {
		finalizeErr := e.persistence.RunRepository().Finalize(ctx, run.ID, models.RunStatusFailed, err.Error())
		if finalizeErr != nil {
			e.logger.ErrorContext(ctx, "Failed to finalize broken run", "run_id", run.ID, "error", finalizeErr)
		}

		return nil, fmt.Errorf("failed to build execution graph: %w", err)
	}

	vars, err := e.seedVariables(ctx, run, triggerData)
	if err != nil {
		return nil, err
	}

	w := &walk{
		engine: e,
		run:    run,
		graph:  graph,
		vars:   vars,
		dead:   make(map[string]bool),
	}

	w.start(ctx)
	w.wg.Wait()

	return w.results, nil
}

func (e *Engine) seedVariables(ctx context.Context, run *models.AutomationRun, triggerData map[string]any) (*models.VariableContext, error) {
	seed := map[string]any{
		"subject": map[string]any{
			"type": run.Subject.Type,
			"id":   run.Subject.ID,
		},
		"trigger": triggerData,
	}

	if e.subjects != nil {
		fields, err := e.subjects.SubjectFields(ctx, run.Subject.Type, run.Subject.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load subject fields: %w", err)
		}

		for path, value := range fields {
			seed[path] = value
		}
	}

	return models.NewVariableContext(seed), nil
}

// walk carries the mutable state of one run execution.
type walk struct {
	engine *Engine
	run    *models.AutomationRun
	graph  *execGraph

	mu      sync.Mutex
	vars    *models.VariableContext
	dead    map[string]bool // edge ids resolved as never-traversable
	results []models.NodeResult
	failed  bool

	wg sync.WaitGroup
}

// start claims the trigger node and fans out into its successors. The run row
// was created with pending_nodes = 1 covering the trigger itself.
func (w *walk) start(ctx context.Context) {
	trigger := w.graph.trigger
	now := time.Now().UTC()

	triggerData, _ := w.lookupVar("trigger")
	output, _ := triggerData.(map[string]any)

	nodeRun := &models.AutomationNodeRun{
		RunID:      w.run.ID,
		NodeID:     trigger.ID,
		NodeType:   trigger.Type,
		Status:     models.NodeRunStatusSuccess,
		Attempt:    1,
		Output:     output,
		StartedAt:  now,
		FinishedAt: &now,
	}

	won, err := w.engine.persistence.NodeRunRepository().Claim(ctx, nodeRun)
	if err != nil {
		w.engine.logger.ErrorContext(ctx, "Failed to claim trigger node", "run_id", w.run.ID, "error", err)
		w.settleNode(ctx, models.NodeResult{NodeID: trigger.ID, NodeType: trigger.Type, Status: models.NodeRunStatusError, Error: err.Error()})

		return
	}

	if !won {
		// Redelivered run; another worker already walked it.
		w.addPending(ctx, -1)

		return
	}

	w.mu.Lock()
	w.vars.SetNodeOutput(trigger.ID, output)
	w.mu.Unlock()

	w.recordResult(models.NodeResult{NodeID: trigger.ID, NodeType: trigger.Type, Status: models.NodeRunStatusSuccess, Output: output})
	w.advance(ctx, trigger.ID, models.PortDefault)
	w.addPending(ctx, -1)
}

// advance follows the taken port's edges and resolves every other outgoing
// edge as dead, skipping targets whose every inbound edge is dead.
func (w *walk) advance(ctx context.Context, nodeID, takenPort string) {
	var deadEdges []models.GraphEdge

	for port, edges := range w.graph.outgoing[nodeID] {
		if port == takenPort {
			continue
		}

		deadEdges = append(deadEdges, edges...)
	}

	w.markDead(ctx, deadEdges)

	for _, edge := range w.graph.outgoingEdges(nodeID, takenPort) {
		w.spawn(ctx, edge.Target)
	}
}

// spawn increments the pending barrier and executes the target node in its
// own goroutine.
func (w *walk) spawn(ctx context.Context, nodeID string) {
	w.addPendingOnly(ctx, 1)
	w.wg.Add(1)

	go func() {
		defer w.wg.Done()
		w.executeNode(ctx, nodeID)
	}()
}

func (w *walk) executeNode(ctx context.Context, nodeID string) {
	node := w.graph.nodes[nodeID]
	def := w.graph.defs[nodeID]
	logger := w.engine.logger.With("run_id", w.run.ID, "node_id", nodeID, "node_type", node.Type)

	w.mu.Lock()
	snapshot := models.NewVariableContext(w.vars.Snapshot())
	w.mu.Unlock()

	resolvedConfig, warnings := template.ResolveConfig(node.Config, snapshot)
	for _, warning := range warnings {
		logger.WarnContext(ctx, "Unresolved template token", "token", warning.Token)
	}

	nodeRun := &models.AutomationNodeRun{
		RunID:    w.run.ID,
		NodeID:   nodeID,
		NodeType: node.Type,
		Status:   models.NodeRunStatusRunning,
		Attempt:  1,
		Input: map[string]any{
			"config": resolvedConfig,
			"vars":   snapshot.Snapshot(),
		},
	}

	won, err := w.engine.persistence.NodeRunRepository().Claim(ctx, nodeRun)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to claim node", "error", err)
		w.settleNode(ctx, models.NodeResult{NodeID: nodeID, NodeType: node.Type, Status: models.NodeRunStatusError, Error: err.Error()})

		return
	}

	if !won {
		// A sibling branch reached this node first; converging paths run it
		// exactly once.
		w.addPending(ctx, -1)

		return
	}

	result, execErr := w.dispatch(ctx, logger, def, nodeRun, resolvedConfig, snapshot)

	now := time.Now().UTC()
	nodeRun.FinishedAt = &now

	if execErr != nil {
		nodeRun.Status = models.NodeRunStatusError
		nodeRun.Error = execErr.Error()
	} else {
		nodeRun.Output = result.Output
		nodeRun.Status = models.NodeRunStatusSuccess

		if w.run.DryRun && def.Category == models.CategoryTypeAction {
			nodeRun.Status = models.NodeRunStatusDryRun
		}
	}

	err = w.engine.persistence.NodeRunRepository().Update(ctx, nodeRun)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to record node result", "error", err)
	}

	if execErr != nil {
		logger.ErrorContext(ctx, "Node failed", "error", execErr)

		// The failed branch dies here; siblings keep running and the run
		// finalizes as failed once the barrier drains.
		w.markDead(ctx, w.graph.allOutgoingEdges(nodeID))
		w.settleNode(ctx, models.NodeResult{NodeID: nodeID, NodeType: node.Type, Status: models.NodeRunStatusError, Error: execErr.Error()})

		return
	}

	w.mu.Lock()
	w.vars.SetNodeOutput(nodeID, result.Output)
	w.mu.Unlock()

	w.recordResult(models.NodeResult{NodeID: nodeID, NodeType: node.Type, Status: nodeRun.Status, Output: result.Output})

	takenPort := models.PortDefault
	if def.Category == models.CategoryTypeCondition {
		takenPort = models.PortFalse

		if outcome, ok := result.Output["result"].(bool); ok && outcome {
			takenPort = models.PortTrue
		}
	}

	w.advance(ctx, nodeID, takenPort)
	w.addPending(ctx, -1)
}

// dispatch runs the node's dispatcher with per-attempt timeouts and the node
// type's retry policy. Only transient failures are retried.
func (w *walk) dispatch(ctx context.Context, logger *slog.Logger, def *registry.Definition, nodeRun *models.AutomationNodeRun, config map[string]any, vars *models.VariableContext) (protocol.Result, error) {
	if def.Dispatcher == nil {
		return protocol.Result{}, fmt.Errorf("node type %s has no dispatcher", def.Key)
	}

	maxAttempts := def.Retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	req := protocol.Request{
		NodeID: nodeRun.NodeID,
		Config: config,
		Vars:   vars,
		DryRun: w.run.DryRun,
	}

	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			nodeRun.Attempt = attempt

			err := w.engine.persistence.NodeRunRepository().Update(ctx, nodeRun)
			if err != nil {
				logger.ErrorContext(ctx, "Failed to record retry attempt", "error", err)
			}

			backoff := def.Retry.BackoffFor(attempt)

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return protocol.Result{}, ctx.Err()
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, w.engine.nodeTimeout)
		result, err := def.Dispatcher.Execute(callCtx, req)

		cancel()

		if err == nil {
			return result, nil
		}

		lastErr = err

		var transient *protocol.TransientError
		if !errors.As(err, &transient) {
			return protocol.Result{}, err
		}

		logger.WarnContext(ctx, "Node attempt failed", "attempt", attempt, "error", err)
	}

	return protocol.Result{}, fmt.Errorf("failed after %d attempts: %w", maxAttempts, lastErr)
}

// markDead records edges as never-traversable and skips any target all of
// whose inbound edges are now dead. Skipped nodes kill their own outgoing
// edges, so whole dead subgraphs resolve without executing anything.
func (w *walk) markDead(ctx context.Context, edges []models.GraphEdge) {
	var toSkip []string

	w.mu.Lock()

	for _, edge := range edges {
		w.dead[edge.ID] = true
	}

	for _, edge := range edges {
		if w.allIncomingDeadLocked(edge.Target) {
			toSkip = append(toSkip, edge.Target)
		}
	}

	w.mu.Unlock()

	for _, nodeID := range toSkip {
		w.skipNode(ctx, nodeID)
	}
}

func (w *walk) allIncomingDeadLocked(nodeID string) bool {
	incoming := w.graph.incoming[nodeID]
	if len(incoming) == 0 {
		return false
	}

	for _, edge := range incoming {
		if !w.dead[edge.ID] {
			return false
		}
	}

	return true
}

// skipNode claims a node as skipped. Losing the claim means a live branch got
// there first, which takes precedence.
func (w *walk) skipNode(ctx context.Context, nodeID string) {
	node := w.graph.nodes[nodeID]
	now := time.Now().UTC()

	nodeRun := &models.AutomationNodeRun{
		RunID:      w.run.ID,
		NodeID:     nodeID,
		NodeType:   node.Type,
		Status:     models.NodeRunStatusSkipped,
		Attempt:    0,
		StartedAt:  now,
		FinishedAt: &now,
	}

	won, err := w.engine.persistence.NodeRunRepository().Claim(ctx, nodeRun)
	if err != nil {
		w.engine.logger.ErrorContext(ctx, "Failed to record skipped node", "run_id", w.run.ID, "node_id", nodeID, "error", err)

		return
	}

	if !won {
		return
	}

	w.recordResult(models.NodeResult{NodeID: nodeID, NodeType: node.Type, Status: models.NodeRunStatusSkipped})
	w.markDead(ctx, w.graph.allOutgoingEdges(nodeID))
}

// settleNode finishes a node on its failure path: record the outcome, mark
// the run failed and release the barrier slot.
func (w *walk) settleNode(ctx context.Context, result models.NodeResult) {
	w.recordResult(result)
	w.markFailed()
	w.addPending(ctx, -1)
}

func (w *walk) markFailed() {
	w.mu.Lock()
	w.failed = true
	w.mu.Unlock()
}

func (w *walk) recordResult(result models.NodeResult) {
	w.mu.Lock()
	w.results = append(w.results, result)
	w.mu.Unlock()
}

func (w *walk) lookupVar(path string) (any, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.vars.Lookup(path)
}

// addPendingOnly adjusts the barrier without finalization; used when adding
// work, where the counter can only move away from zero.
func (w *walk) addPendingOnly(ctx context.Context, delta int) {
	_, err := w.engine.persistence.RunRepository().AddPending(ctx, w.run.ID, delta)
	if err != nil {
		w.engine.logger.ErrorContext(ctx, "Failed to adjust pending counter", "run_id", w.run.ID, "error", err)
	}
}

// addPending adjusts the barrier and finalizes the run when it drains.
func (w *walk) addPending(ctx context.Context, delta int) {
	remaining, err := w.engine.persistence.RunRepository().AddPending(ctx, w.run.ID, delta)
	if err != nil {
		w.engine.logger.ErrorContext(ctx, "Failed to adjust pending counter", "run_id", w.run.ID, "error", err)

		return
	}

	if remaining > 0 {
		return
	}

	status := models.RunStatusCompleted
	runErr := ""

	w.mu.Lock()

	if w.failed {
		status = models.RunStatusFailed
		runErr = "one or more nodes failed"
	}

	w.mu.Unlock()

	err = w.engine.persistence.RunRepository().Finalize(ctx, w.run.ID, status, runErr)
	if err != nil {
		w.engine.logger.ErrorContext(ctx, "Failed to finalize run", "run_id", w.run.ID, "error", err)

		return
	}

	w.engine.logger.InfoContext(ctx, "Run finished", "run_id", w.run.ID, "status", status)
}
