package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/praxishq/automation/pkg/models"
	"github.com/praxishq/automation/pkg/persistence"
	"github.com/praxishq/automation/pkg/persistence/postgresql"
	"github.com/praxishq/automation/pkg/testutil"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	for _, table := range []string{"automation_node_runs", "automation_runs", "automation_triggers", "automation_versions", "automations", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("automation_test"),
			postgres.WithUsername("automation"),
			postgres.WithPassword("automation"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = store.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return store, ctx
}

func TestNewPersistence_HealthCheck(t *testing.T) {
	store, ctx := setupTestDB(t)

	assert.NoError(t, store.HealthCheck(ctx))
}

func TestAutomationRepository_Roundtrip(t *testing.T) {
	store, ctx := setupTestDB(t)

	automation := testutil.CreateTestAutomation()
	automation.ID = ""

	require.NoError(t, store.AutomationRepository().Save(ctx, automation))
	require.NotEmpty(t, automation.ID)

	loaded, err := store.AutomationRepository().GetByID(ctx, automation.ID)
	require.NoError(t, err)
	assert.Equal(t, automation.Name, loaded.Name)
	assert.Equal(t, automation.TenantID, loaded.TenantID)
	assert.True(t, loaded.Active)

	loaded.Name = "Renamed"
	require.NoError(t, store.AutomationRepository().Save(ctx, loaded))

	reloaded, err := store.AutomationRepository().GetByID(ctx, automation.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", reloaded.Name)

	require.NoError(t, store.AutomationRepository().Delete(ctx, automation.ID))

	_, err = store.AutomationRepository().GetByID(ctx, automation.ID)
	assert.ErrorIs(t, err, persistence.ErrAutomationNotFound)
}

func TestVersionRepository_PublishFlow(t *testing.T) {
	store, ctx := setupTestDB(t)

	automation := testutil.CreateTestAutomation()
	require.NoError(t, store.AutomationRepository().Save(ctx, automation))

	first := testutil.CreateTestVersion(automation.ID, 1, testutil.CreateTestGraph())
	first.ID = ""
	require.NoError(t, store.VersionRepository().Save(ctx, first))

	second := testutil.CreateTestVersion(automation.ID, 2, testutil.CreateTestGraph())
	second.ID = ""
	require.NoError(t, store.VersionRepository().Save(ctx, second))

	number, err := store.VersionRepository().NextNumber(ctx, automation.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, number)

	_, err = store.VersionRepository().GetPublished(ctx, automation.ID)
	assert.ErrorIs(t, err, persistence.ErrNoPublishedVersion)

	require.NoError(t, store.VersionRepository().MarkPublished(ctx, automation.ID, first.ID))
	require.NoError(t, store.VersionRepository().MarkPublished(ctx, automation.ID, second.ID))

	published, err := store.VersionRepository().GetPublished(ctx, automation.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, published.ID)

	// The graph survives the JSONB roundtrip intact.
	assert.Len(t, published.Graph.Nodes, 2)
	assert.Len(t, published.Graph.Edges, 1)
}

func TestTriggerRepository_ActiveFilter(t *testing.T) {
	store, ctx := setupTestDB(t)

	automation := testutil.CreateTestAutomation()
	require.NoError(t, store.AutomationRepository().Save(ctx, automation))

	active := testutil.CreateTestTrigger(automation.ID, "invoice.created")
	active.ID = ""
	require.NoError(t, store.TriggerRepository().Save(ctx, active))

	inactive := testutil.CreateTestTrigger(automation.ID, "invoice.created")
	inactive.ID = ""
	inactive.Active = false
	require.NoError(t, store.TriggerRepository().Save(ctx, inactive))

	triggers, err := store.TriggerRepository().ListActiveByEventKey(ctx, "invoice.created")
	require.NoError(t, err)
	require.Len(t, triggers, 1)
	assert.Equal(t, active.ID, triggers[0].ID)

	all, err := store.TriggerRepository().ListByAutomation(ctx, automation.ID)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestRunRepository_PendingBarrier(t *testing.T) {
	store, ctx := setupTestDB(t)

	automation := testutil.CreateTestAutomation()
	require.NoError(t, store.AutomationRepository().Save(ctx, automation))

	version := testutil.CreateTestVersion(automation.ID, 1, testutil.CreateTestGraph())
	require.NoError(t, store.VersionRepository().Save(ctx, version))

	run := &models.AutomationRun{
		AutomationID: automation.ID,
		VersionID:    version.ID,
		EventKey:     "invoice.created",
		Subject:      testutil.CreateTestSubject(),
		PendingNodes: 1,
	}
	require.NoError(t, store.RunRepository().Create(ctx, run))

	remaining, err := store.RunRepository().AddPending(ctx, run.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, remaining)

	remaining, err = store.RunRepository().AddPending(ctx, run.ID, -3)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	require.NoError(t, store.RunRepository().Finalize(ctx, run.ID, models.RunStatusCompleted, ""))

	// Finalize is idempotent against later status changes.
	require.NoError(t, store.RunRepository().Finalize(ctx, run.ID, models.RunStatusFailed, "late"))

	loaded, err := store.RunRepository().GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, loaded.Status)
	assert.Empty(t, loaded.Error)
	assert.NotNil(t, loaded.FinishedAt)
}

func TestNodeRunRepository_ClaimUniqueness(t *testing.T) {
	store, ctx := setupTestDB(t)

	automation := testutil.CreateTestAutomation()
	require.NoError(t, store.AutomationRepository().Save(ctx, automation))

	version := testutil.CreateTestVersion(automation.ID, 1, testutil.CreateTestGraph())
	require.NoError(t, store.VersionRepository().Save(ctx, version))

	run := &models.AutomationRun{
		AutomationID: automation.ID,
		VersionID:    version.ID,
		Subject:      testutil.CreateTestSubject(),
		PendingNodes: 1,
	}
	require.NoError(t, store.RunRepository().Create(ctx, run))

	nodeRun := &models.AutomationNodeRun{
		RunID:    run.ID,
		NodeID:   "action-1",
		NodeType: "action:webhook",
		Status:   models.NodeRunStatusRunning,
		Attempt:  1,
		Input:    map[string]any{"url": "https://example.com"},
	}

	won, err := store.NodeRunRepository().Claim(ctx, nodeRun)
	require.NoError(t, err)
	assert.True(t, won)

	duplicate := &models.AutomationNodeRun{RunID: run.ID, NodeID: "action-1", Status: models.NodeRunStatusSkipped}
	won, err = store.NodeRunRepository().Claim(ctx, duplicate)
	require.NoError(t, err)
	assert.False(t, won)

	now := time.Now().UTC()
	nodeRun.Status = models.NodeRunStatusSuccess
	nodeRun.Output = map[string]any{"response": map[string]any{"status": float64(200)}}
	nodeRun.FinishedAt = &now
	require.NoError(t, store.NodeRunRepository().Update(ctx, nodeRun))

	loaded, err := store.NodeRunRepository().Get(ctx, run.ID, "action-1")
	require.NoError(t, err)
	assert.Equal(t, models.NodeRunStatusSuccess, loaded.Status)
	assert.Equal(t, map[string]any{"response": map[string]any{"status": float64(200)}}, loaded.Output)

	nodeRuns, err := store.NodeRunRepository().ListByRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, nodeRuns, 1)
}
