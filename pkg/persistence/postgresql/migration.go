package postgresql

// migrations returns the schema migrations keyed by version.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS automations (
				id TEXT PRIMARY KEY,
				tenant_id TEXT NOT NULL,
				name TEXT NOT NULL,
				active BOOLEAN NOT NULL DEFAULT FALSE,
				published_version INTEGER NOT NULL DEFAULT 0,
				created_by TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX IF NOT EXISTS idx_automations_tenant
				ON automations (tenant_id) WHERE deleted_at IS NULL;

			CREATE TABLE IF NOT EXISTS automation_versions (
				id TEXT PRIMARY KEY,
				automation_id TEXT NOT NULL REFERENCES automations (id),
				number INTEGER NOT NULL,
				graph JSONB NOT NULL,
				published BOOLEAN NOT NULL DEFAULT FALSE,
				created_by TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				UNIQUE (automation_id, number)
			);

			CREATE UNIQUE INDEX IF NOT EXISTS idx_versions_one_published
				ON automation_versions (automation_id) WHERE published;

			CREATE TABLE IF NOT EXISTS automation_triggers (
				id TEXT PRIMARY KEY,
				automation_id TEXT NOT NULL REFERENCES automations (id),
				event_key TEXT NOT NULL,
				workflow_id TEXT,
				stage_id TEXT,
				active BOOLEAN NOT NULL DEFAULT TRUE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_triggers_event_key
				ON automation_triggers (event_key) WHERE active;

			CREATE TABLE IF NOT EXISTS automation_runs (
				id TEXT PRIMARY KEY,
				automation_id TEXT NOT NULL,
				version_id TEXT NOT NULL REFERENCES automation_versions (id),
				event_key TEXT NOT NULL,
				subject_type TEXT NOT NULL,
				subject_id TEXT NOT NULL,
				status TEXT NOT NULL,
				pending_nodes INTEGER NOT NULL DEFAULT 0,
				dry_run BOOLEAN NOT NULL DEFAULT FALSE,
				error TEXT NOT NULL DEFAULT '',
				started_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				finished_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX IF NOT EXISTS idx_runs_automation
				ON automation_runs (automation_id, started_at DESC);

			CREATE TABLE IF NOT EXISTS automation_node_runs (
				run_id TEXT NOT NULL REFERENCES automation_runs (id),
				node_id TEXT NOT NULL,
				node_type TEXT NOT NULL,
				status TEXT NOT NULL,
				attempt INTEGER NOT NULL DEFAULT 1,
				input JSONB,
				output JSONB,
				error TEXT NOT NULL DEFAULT '',
				started_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				finished_at TIMESTAMP WITH TIME ZONE,
				PRIMARY KEY (run_id, node_id)
			);
		`,
	}
}
