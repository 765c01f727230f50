package storage

import "fmt"

// MinSchemaVersion is the oldest schema this build of the library will
// operate on. Startup refuses databases below it.
const MinSchemaVersion = 3

type migration struct {
	version     int
	description string
	statements  []string
}

// migrations are ordered and idempotent; schema_migrations.version gates
// which ones run. Never edit an applied migration, always append.
var migrations = []migration{
	{
		version:     1,
		description: "agent_runs table with status/counter checks and core indexes",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS agent_runs (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				event_id TEXT NOT NULL UNIQUE,
				run_id TEXT NOT NULL,
				created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
				updated_at TEXT,
				start_time TEXT NOT NULL,
				end_time TEXT,
				agent_name TEXT NOT NULL,
				job_type TEXT NOT NULL,
				status TEXT CHECK (status IS NULL OR status IN ('running','success','failure','partial','timeout','cancelled')),
				duration_ms INTEGER CHECK (duration_ms IS NULL OR duration_ms >= 0),
				items_discovered INTEGER CHECK (items_discovered IS NULL OR items_discovered >= 0),
				items_succeeded INTEGER CHECK (items_succeeded IS NULL OR items_succeeded >= 0),
				items_failed INTEGER CHECK (items_failed IS NULL OR items_failed >= 0),
				items_skipped INTEGER CHECK (items_skipped IS NULL OR items_skipped >= 0),
				input_summary TEXT,
				output_summary TEXT,
				error_summary TEXT,
				error_details TEXT,
				source_ref TEXT,
				target_ref TEXT,
				product TEXT,
				product_family TEXT,
				platform TEXT,
				subdomain TEXT,
				website TEXT,
				website_section TEXT,
				item_name TEXT,
				git_repo TEXT,
				git_branch TEXT,
				git_commit_hash TEXT,
				git_run_tag TEXT,
				git_commit_source TEXT CHECK (git_commit_source IS NULL OR git_commit_source IN ('manual','llm','ci')),
				git_commit_author TEXT,
				git_commit_timestamp TEXT,
				host TEXT,
				environment TEXT,
				trigger_type TEXT,
				metrics_json TEXT,
				context_json TEXT,
				api_posted INTEGER NOT NULL DEFAULT 0 CHECK (api_posted IN (0,1)),
				api_posted_at TEXT,
				api_retry_count INTEGER NOT NULL DEFAULT 0 CHECK (api_retry_count >= 0),
				insight_id TEXT,
				parent_run_id TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_runs_agent_status_created ON agent_runs (agent_name, status, created_at DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_runs_agent_created ON agent_runs (agent_name, created_at DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_runs_created ON agent_runs (created_at DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_runs_job_type ON agent_runs (job_type)`,
			`CREATE INDEX IF NOT EXISTS idx_runs_status ON agent_runs (status)`,
			`CREATE INDEX IF NOT EXISTS idx_runs_start_time ON agent_runs (start_time DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_runs_api_posted ON agent_runs (api_posted, api_posted_at)`,
		},
	},
	{
		version:     2,
		description: "commits dedup cache",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS commits (
				commit_hash TEXT PRIMARY KEY,
				repo_url TEXT,
				author TEXT,
				committed_at TEXT,
				first_seen_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
			)`,
		},
	},
	{
		version:     3,
		description: "partial indexes for sparse lookup columns",
		statements: []string{
			`CREATE INDEX IF NOT EXISTS idx_runs_insight ON agent_runs (insight_id) WHERE insight_id IS NOT NULL`,
			`CREATE INDEX IF NOT EXISTS idx_runs_commit_hash ON agent_runs (git_commit_hash) WHERE git_commit_hash IS NOT NULL`,
			`CREATE INDEX IF NOT EXISTS idx_runs_website ON agent_runs (website) WHERE website IS NOT NULL`,
			`CREATE INDEX IF NOT EXISTS idx_runs_website_section ON agent_runs (website_section) WHERE website_section IS NOT NULL`,
		},
	},
}

func (e *Engine) migrate() error {
	if _, err := e.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
		description TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	current, err := e.SchemaVersion()
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := e.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}
		for _, stmt := range m.statements {
			if _, err := tx.Exec(stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migration %d (%s): %w", m.version, m.description, err)
			}
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version, description) VALUES (?, ?)", m.version, m.description); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
	}
	return nil
}
