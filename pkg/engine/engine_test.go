package engine

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxishq/automation/pkg/dispatchers/conditiondispatch"
	"github.com/praxishq/automation/pkg/models"
	"github.com/praxishq/automation/pkg/persistence/memory"
	"github.com/praxishq/automation/pkg/protocol"
	"github.com/praxishq/automation/pkg/registry"
	"github.com/praxishq/automation/pkg/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

// spyDispatcher records every executed request so tests can assert on call
// counts and side effects.
type spyDispatcher struct {
	mu       sync.Mutex
	requests []protocol.Request
	fail     error
	failOnce bool
	output   map[string]any
}

func (d *spyDispatcher) Key() string { return "action:spy" }

func (d *spyDispatcher) Execute(ctx context.Context, req protocol.Request) (protocol.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.requests = append(d.requests, req)

	if d.fail != nil {
		err := d.fail
		if d.failOnce {
			d.fail = nil
		}

		return protocol.Result{}, err
	}

	output := d.output
	if output == nil {
		output = map[string]any{"done": true}
	}

	return protocol.Result{Output: output}, nil
}

func (d *spyDispatcher) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.requests)
}

func (d *spyDispatcher) request(i int) protocol.Request {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.requests[i]
}

type fixture struct {
	engine *Engine
	store  *memory.Persistence
	spy    *spyDispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := testLogger()
	spy := &spyDispatcher{}

	reg := registry.NewRegistry(logger)
	reg.MustRegister(&registry.Definition{
		Key:      "trigger:stage_entered",
		Category: models.CategoryTypeTrigger,
		EventKey: "workflow.stage_entered",
	})
	reg.MustRegister(&registry.Definition{
		Key:           "action:spy",
		Category:      models.CategoryTypeAction,
		AllowMultiple: true,
		Retry:         registry.RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond},
		Dispatcher:    spy,
	})
	reg.MustRegister(&registry.Definition{
		Key:           "condition",
		Category:      models.CategoryTypeCondition,
		AllowMultiple: true,
		Retry:         registry.RetryPolicy{MaxAttempts: 1},
		Dispatcher:    conditiondispatch.NewDispatcher(logger),
	})

	store := memory.NewPersistence()

	return &fixture{
		engine: NewEngine(reg, store, nil, logger).WithNodeTimeout(time.Second),
		store:  store,
		spy:    spy,
	}
}

// startRun saves a published version and creates a running run pinned to it,
// the same shape the trigger service produces.
func (f *fixture) startRun(t *testing.T, graph models.GraphDefinition) *models.AutomationRun {
	t.Helper()

	ctx := context.Background()

	automation := testutil.CreateTestAutomation()
	require.NoError(t, f.store.AutomationRepository().Save(ctx, automation))

	version := testutil.CreateTestVersion(automation.ID, 1, graph)
	version.Published = true
	require.NoError(t, f.store.VersionRepository().Save(ctx, version))
	require.NoError(t, f.store.AutomationRepository().SetPublishedVersion(ctx, automation.ID, 1))

	run := &models.AutomationRun{
		AutomationID: automation.ID,
		VersionID:    version.ID,
		EventKey:     "workflow.stage_entered",
		Subject:      testutil.CreateTestSubject(),
		Status:       models.RunStatusRunning,
		PendingNodes: 1,
	}
	require.NoError(t, f.store.RunRepository().Create(ctx, run))

	return run
}

func (f *fixture) reload(t *testing.T, runID string) *models.AutomationRun {
	t.Helper()

	run, err := f.store.RunRepository().GetByID(context.Background(), runID)
	require.NoError(t, err)

	return run
}

func nodeStatuses(t *testing.T, store *memory.Persistence, runID string) map[string]models.NodeRunStatus {
	t.Helper()

	nodeRuns, err := store.NodeRunRepository().ListByRun(context.Background(), runID)
	require.NoError(t, err)

	statuses := make(map[string]models.NodeRunStatus, len(nodeRuns))
	for _, nodeRun := range nodeRuns {
		statuses[nodeRun.NodeID] = nodeRun.Status
	}

	return statuses
}

func spyGraph(nodeIDs ...string) models.GraphDefinition {
	nodes := []models.GraphNode{
		testutil.CreateTestNode(testutil.WithTriggerNode(), testutil.WithID("trigger-1")),
	}
	edges := []models.GraphEdge{}

	previous := "trigger-1"

	for _, id := range nodeIDs {
		nodes = append(nodes, testutil.CreateTestNode(testutil.WithID(id), testutil.WithType("action:spy"), testutil.WithConfig(map[string]any{})))
		edges = append(edges, testutil.Edge(previous, id))
		previous = id
	}

	return models.GraphDefinition{Nodes: nodes, Edges: edges}
}

func TestExecute_LinearRunCompletes(t *testing.T) {
	f := newFixture(t)
	run := f.startRun(t, spyGraph("a", "b"))

	results, err := f.engine.Execute(context.Background(), run, map[string]any{"stage_id": "stage-9"})
	require.NoError(t, err)
	assert.Len(t, results, 3)

	assert.Equal(t, 2, f.spy.callCount())

	finished := f.reload(t, run.ID)
	assert.Equal(t, models.RunStatusCompleted, finished.Status)
	assert.Equal(t, 0, finished.PendingNodes)
	assert.NotNil(t, finished.FinishedAt)

	statuses := nodeStatuses(t, f.store, run.ID)
	assert.Equal(t, models.NodeRunStatusSuccess, statuses["trigger-1"])
	assert.Equal(t, models.NodeRunStatusSuccess, statuses["a"])
	assert.Equal(t, models.NodeRunStatusSuccess, statuses["b"])
}

func TestExecute_TriggerDataReachesTemplates(t *testing.T) {
	f := newFixture(t)

	graph := spyGraph()
	action := testutil.CreateTestNode(
		testutil.WithID("a"),
		testutil.WithType("action:spy"),
		testutil.WithConfig(map[string]any{"note": "stage {{trigger.stage_id}} for {{subject.id}}"}),
	)
	graph.Nodes = append(graph.Nodes, action)
	graph.Edges = append(graph.Edges, testutil.Edge("trigger-1", "a"))

	run := f.startRun(t, graph)

	_, err := f.engine.Execute(context.Background(), run, map[string]any{"stage_id": "stage-9"})
	require.NoError(t, err)

	require.Equal(t, 1, f.spy.callCount())
	assert.Equal(t, "stage stage-9 for deal-42", f.spy.request(0).Config["note"])
}

func TestExecute_NodeRunInputCapturesVariables(t *testing.T) {
	f := newFixture(t)

	graph := spyGraph()
	action := testutil.CreateTestNode(
		testutil.WithID("a"),
		testutil.WithType("action:spy"),
		testutil.WithConfig(map[string]any{"note": "hi"}),
	)
	graph.Nodes = append(graph.Nodes, action)
	graph.Edges = append(graph.Edges, testutil.Edge("trigger-1", "a"))

	run := f.startRun(t, graph)

	_, err := f.engine.Execute(context.Background(), run, map[string]any{"stage_id": "stage-9"})
	require.NoError(t, err)

	nodeRun, err := f.store.NodeRunRepository().Get(context.Background(), run.ID, "a")
	require.NoError(t, err)

	config, ok := nodeRun.Input["config"].(map[string]any)
	require.True(t, ok, "input records the resolved config")
	assert.Equal(t, "hi", config["note"])

	vars, ok := nodeRun.Input["vars"].(map[string]any)
	require.True(t, ok, "input records the variables the node saw")

	trigger, ok := vars["trigger"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "stage-9", trigger["stage_id"])
}

func TestExecute_ConditionRoutesTrueBranch(t *testing.T) {
	f := newFixture(t)

	graph := models.GraphDefinition{
		Nodes: []models.GraphNode{
			testutil.CreateTestNode(testutil.WithTriggerNode(), testutil.WithID("trigger-1")),
			testutil.CreateTestNode(testutil.WithConditionNode("trigger.amount", "greater_than", "100"), testutil.WithID("cond-1")),
			testutil.CreateTestNode(testutil.WithID("yes"), testutil.WithType("action:spy"), testutil.WithConfig(map[string]any{})),
			testutil.CreateTestNode(testutil.WithID("no"), testutil.WithType("action:spy"), testutil.WithConfig(map[string]any{})),
		},
		Edges: []models.GraphEdge{
			testutil.Edge("trigger-1", "cond-1"),
			testutil.EdgeOn("cond-1", "yes", models.PortTrue),
			testutil.EdgeOn("cond-1", "no", models.PortFalse),
		},
	}

	run := f.startRun(t, graph)

	_, err := f.engine.Execute(context.Background(), run, map[string]any{"amount": 150.5})
	require.NoError(t, err)

	finished := f.reload(t, run.ID)
	assert.Equal(t, models.RunStatusCompleted, finished.Status)
	assert.Equal(t, 0, finished.PendingNodes)

	statuses := nodeStatuses(t, f.store, run.ID)
	assert.Equal(t, models.NodeRunStatusSuccess, statuses["cond-1"])
	assert.Equal(t, models.NodeRunStatusSuccess, statuses["yes"])
	assert.Equal(t, models.NodeRunStatusSkipped, statuses["no"])

	assert.Equal(t, 1, f.spy.callCount(), "only the true branch action executes")
}

func TestExecute_ConditionRoutesFalseBranch(t *testing.T) {
	f := newFixture(t)

	graph := models.GraphDefinition{
		Nodes: []models.GraphNode{
			testutil.CreateTestNode(testutil.WithTriggerNode(), testutil.WithID("trigger-1")),
			testutil.CreateTestNode(testutil.WithConditionNode("trigger.amount", "greater_than", "100"), testutil.WithID("cond-1")),
			testutil.CreateTestNode(testutil.WithID("yes"), testutil.WithType("action:spy"), testutil.WithConfig(map[string]any{})),
			testutil.CreateTestNode(testutil.WithID("no"), testutil.WithType("action:spy"), testutil.WithConfig(map[string]any{})),
		},
		Edges: []models.GraphEdge{
			testutil.Edge("trigger-1", "cond-1"),
			testutil.EdgeOn("cond-1", "yes", models.PortTrue),
			testutil.EdgeOn("cond-1", "no", models.PortFalse),
		},
	}

	run := f.startRun(t, graph)

	_, err := f.engine.Execute(context.Background(), run, map[string]any{"amount": 50})
	require.NoError(t, err)

	statuses := nodeStatuses(t, f.store, run.ID)
	assert.Equal(t, models.NodeRunStatusSkipped, statuses["yes"])
	assert.Equal(t, models.NodeRunStatusSuccess, statuses["no"])
}

func TestExecute_ConvergingBranchesRunTargetOnce(t *testing.T) {
	f := newFixture(t)

	// trigger fans out to a and b, both feed into join.
	graph := models.GraphDefinition{
		Nodes: []models.GraphNode{
			testutil.CreateTestNode(testutil.WithTriggerNode(), testutil.WithID("trigger-1")),
			testutil.CreateTestNode(testutil.WithID("a"), testutil.WithType("action:spy"), testutil.WithConfig(map[string]any{})),
			testutil.CreateTestNode(testutil.WithID("b"), testutil.WithType("action:spy"), testutil.WithConfig(map[string]any{})),
			testutil.CreateTestNode(testutil.WithID("join"), testutil.WithType("action:spy"), testutil.WithConfig(map[string]any{})),
		},
		Edges: []models.GraphEdge{
			testutil.Edge("trigger-1", "a"),
			testutil.Edge("trigger-1", "b"),
			testutil.Edge("a", "join"),
			testutil.Edge("b", "join"),
		},
	}

	run := f.startRun(t, graph)

	_, err := f.engine.Execute(context.Background(), run, nil)
	require.NoError(t, err)

	finished := f.reload(t, run.ID)
	assert.Equal(t, models.RunStatusCompleted, finished.Status)
	assert.Equal(t, 0, finished.PendingNodes)

	nodeRuns, err := f.store.NodeRunRepository().ListByRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Len(t, nodeRuns, 4, "join must have exactly one node run")

	assert.Equal(t, 3, f.spy.callCount(), "a, b and join each execute once")
}

func TestExecute_FailedBranchDoesNotBlockSibling(t *testing.T) {
	f := newFixture(t)
	f.spy.fail = errors.New("config rejected")

	// One failing action in parallel with a condition branch that still runs.
	graph := models.GraphDefinition{
		Nodes: []models.GraphNode{
			testutil.CreateTestNode(testutil.WithTriggerNode(), testutil.WithID("trigger-1")),
			testutil.CreateTestNode(testutil.WithID("broken"), testutil.WithType("action:spy"), testutil.WithConfig(map[string]any{})),
			testutil.CreateTestNode(testutil.WithConditionNode("subject.type", "equals", "deal"), testutil.WithID("cond-1")),
			testutil.CreateTestNode(testutil.WithID("downstream"), testutil.WithType("action:spy"), testutil.WithConfig(map[string]any{})),
		},
		Edges: []models.GraphEdge{
			testutil.Edge("trigger-1", "broken"),
			testutil.Edge("trigger-1", "cond-1"),
			testutil.EdgeOn("cond-1", "downstream", models.PortTrue),
		},
	}

	run := f.startRun(t, graph)

	_, err := f.engine.Execute(context.Background(), run, nil)
	require.NoError(t, err)

	finished := f.reload(t, run.ID)
	assert.Equal(t, models.RunStatusFailed, finished.Status)
	assert.Equal(t, "one or more nodes failed", finished.Error)
	assert.Equal(t, 0, finished.PendingNodes)

	statuses := nodeStatuses(t, f.store, run.ID)
	assert.Equal(t, models.NodeRunStatusError, statuses["broken"])
	assert.Equal(t, models.NodeRunStatusSuccess, statuses["cond-1"])
}

func TestExecute_FailureSkipsDownstream(t *testing.T) {
	f := newFixture(t)
	f.spy.fail = errors.New("config rejected")

	run := f.startRun(t, spyGraph("broken", "after"))

	_, err := f.engine.Execute(context.Background(), run, nil)
	require.NoError(t, err)

	statuses := nodeStatuses(t, f.store, run.ID)
	assert.Equal(t, models.NodeRunStatusError, statuses["broken"])
	assert.Equal(t, models.NodeRunStatusSkipped, statuses["after"])

	finished := f.reload(t, run.ID)
	assert.Equal(t, models.RunStatusFailed, finished.Status)
}

func TestExecute_TransientErrorRetries(t *testing.T) {
	f := newFixture(t)
	f.spy.fail = protocol.Transient(errors.New("upstream hiccup"))
	f.spy.failOnce = true

	run := f.startRun(t, spyGraph("a"))

	_, err := f.engine.Execute(context.Background(), run, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, f.spy.callCount(), "first attempt fails, second succeeds")

	finished := f.reload(t, run.ID)
	assert.Equal(t, models.RunStatusCompleted, finished.Status)

	nodeRun, err := f.store.NodeRunRepository().Get(context.Background(), run.ID, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, nodeRun.Attempt)
}

func TestExecute_ConfigErrorDoesNotRetry(t *testing.T) {
	f := newFixture(t)
	f.spy.fail = errors.New("bad config")

	run := f.startRun(t, spyGraph("a"))

	_, err := f.engine.Execute(context.Background(), run, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, f.spy.callCount(), "non-transient failures fail immediately")
}

func TestExecute_TransientExhaustsRetries(t *testing.T) {
	f := newFixture(t)
	f.spy.fail = protocol.Transient(errors.New("still down"))

	run := f.startRun(t, spyGraph("a"))

	_, err := f.engine.Execute(context.Background(), run, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, f.spy.callCount())

	finished := f.reload(t, run.ID)
	assert.Equal(t, models.RunStatusFailed, finished.Status)
}

func TestExecute_NodeOutputFlowsDownstream(t *testing.T) {
	f := newFixture(t)
	f.spy.output = map[string]any{"response": map[string]any{"status": 200}}

	graph := models.GraphDefinition{
		Nodes: []models.GraphNode{
			testutil.CreateTestNode(testutil.WithTriggerNode(), testutil.WithID("trigger-1")),
			testutil.CreateTestNode(testutil.WithID("first"), testutil.WithType("action:spy"), testutil.WithConfig(map[string]any{})),
			testutil.CreateTestNode(
				testutil.WithID("second"),
				testutil.WithType("action:spy"),
				testutil.WithConfig(map[string]any{"note": "status {{first.response.status}}"}),
			),
		},
		Edges: []models.GraphEdge{
			testutil.Edge("trigger-1", "first"),
			testutil.Edge("first", "second"),
		},
	}

	run := f.startRun(t, graph)

	_, err := f.engine.Execute(context.Background(), run, nil)
	require.NoError(t, err)

	require.Equal(t, 2, f.spy.callCount())
	assert.Equal(t, "status 200", f.spy.request(1).Config["note"])
}

func TestExecute_RedeliveredRunIsNotReExecuted(t *testing.T) {
	f := newFixture(t)

	run := f.startRun(t, spyGraph("a"))

	_, err := f.engine.Execute(context.Background(), run, nil)
	require.NoError(t, err)
	require.Equal(t, 1, f.spy.callCount())

	// Simulate a redelivery of the same dispatch message. The trigger claim
	// loses and nothing executes again.
	redelivered := f.reload(t, run.ID)
	_, err = f.store.RunRepository().AddPending(context.Background(), run.ID, 1)
	require.NoError(t, err)

	_, err = f.engine.Execute(context.Background(), redelivered, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, f.spy.callCount(), "redelivery must not re-run actions")
}

func TestExecute_BrokenGraphFinalizesFailed(t *testing.T) {
	f := newFixture(t)

	graph := spyGraph("a")
	graph.Nodes[1].Type = "action:retired"

	run := f.startRun(t, graph)

	_, err := f.engine.Execute(context.Background(), run, nil)
	require.Error(t, err)

	finished := f.reload(t, run.ID)
	assert.Equal(t, models.RunStatusFailed, finished.Status)
	assert.NotEmpty(t, finished.Error)
}

func TestRunTest_DryRunPerformsNoSideEffects(t *testing.T) {
	f := newFixture(t)

	graph := models.GraphDefinition{
		Nodes: []models.GraphNode{
			testutil.CreateTestNode(testutil.WithTriggerNode(), testutil.WithID("trigger-1")),
			testutil.CreateTestNode(testutil.WithConditionNode("trigger.amount", "greater_than", "100"), testutil.WithID("cond-1")),
			testutil.CreateTestNode(testutil.WithID("yes"), testutil.WithType("action:spy"), testutil.WithConfig(map[string]any{})),
		},
		Edges: []models.GraphEdge{
			testutil.Edge("trigger-1", "cond-1"),
			testutil.EdgeOn("cond-1", "yes", models.PortTrue),
		},
	}

	// Publish through the repositories directly.
	ctx := context.Background()
	automation := testutil.CreateTestAutomation()
	require.NoError(t, f.store.AutomationRepository().Save(ctx, automation))

	version := testutil.CreateTestVersion(automation.ID, 1, graph)
	require.NoError(t, f.store.VersionRepository().Save(ctx, version))
	require.NoError(t, f.store.VersionRepository().MarkPublished(ctx, automation.ID, version.ID))
	require.NoError(t, f.store.AutomationRepository().SetPublishedVersion(ctx, automation.ID, 1))

	run, results, err := f.engine.RunTest(ctx, automation.ID, testutil.CreateTestSubject(), map[string]any{"amount": 200})
	require.NoError(t, err)

	assert.True(t, run.DryRun)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Len(t, results, 3)

	statuses := nodeStatuses(t, f.store, run.ID)
	assert.Equal(t, models.NodeRunStatusSuccess, statuses["cond-1"], "conditions evaluate for real in dry runs")
	assert.Equal(t, models.NodeRunStatusDryRun, statuses["yes"], "actions record dry_run instead of success")

	require.Equal(t, 1, f.spy.callCount())
	assert.True(t, f.spy.request(0).DryRun, "the dispatcher sees the dry-run flag")
}

func TestRunTest_RequiresPublishedVersion(t *testing.T) {
	f := newFixture(t)

	ctx := context.Background()
	automation := testutil.CreateTestAutomation()
	require.NoError(t, f.store.AutomationRepository().Save(ctx, automation))

	_, _, err := f.engine.RunTest(ctx, automation.ID, testutil.CreateTestSubject(), nil)
	assert.Error(t, err)
}
