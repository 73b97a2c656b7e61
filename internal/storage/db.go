package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Roxonn-FutureTech/github-review-agent/internal/config"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS repos (
  id INTEGER PRIMARY KEY,
  owner TEXT NOT NULL,
  name TEXT NOT NULL,
  clone_url TEXT,
  default_branch TEXT,
  created_at TEXT NOT NULL DEFAULT (datetime('now')),
  UNIQUE(owner, name)
);

CREATE TABLE IF NOT EXISTS pull_requests (
  id INTEGER PRIMARY KEY,
  repo_id INTEGER NOT NULL REFERENCES repos(id),
  number INTEGER NOT NULL,
  title TEXT NOT NULL DEFAULT '',
  author TEXT NOT NULL DEFAULT '',
  head_sha TEXT NOT NULL DEFAULT '',
  base_branch TEXT,
  state TEXT NOT NULL DEFAULT 'open',
  merged INTEGER NOT NULL DEFAULT 0,
  created_at TEXT NOT NULL DEFAULT (datetime('now')),
  updated_at TEXT NOT NULL DEFAULT (datetime('now')),
  UNIQUE(repo_id, number)
);

CREATE TABLE IF NOT EXISTS review_jobs (
  id INTEGER PRIMARY KEY,
  uuid TEXT UNIQUE NOT NULL,
  repo_id INTEGER NOT NULL REFERENCES repos(id),
  pr_id INTEGER REFERENCES pull_requests(id),
  pr_number INTEGER NOT NULL,
  head_sha TEXT NOT NULL DEFAULT '',
  trigger_source TEXT NOT NULL DEFAULT 'api',
  status TEXT NOT NULL CHECK(status IN ('queued','running','done','failed','canceled')) DEFAULT 'queued',
  enqueued_at TEXT NOT NULL DEFAULT (datetime('now')),
  started_at TEXT,
  finished_at TEXT,
  worker_id TEXT,
  error TEXT,
  retry_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS reviews (
  id INTEGER PRIMARY KEY,
  job_id INTEGER UNIQUE NOT NULL REFERENCES review_jobs(id),
  verdict TEXT NOT NULL,
  summary TEXT NOT NULL,
  files_analyzed INTEGER NOT NULL DEFAULT 0,
  created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS findings (
  id INTEGER PRIMARY KEY,
  review_id INTEGER NOT NULL REFERENCES reviews(id),
  rule_id TEXT NOT NULL,
  category TEXT NOT NULL,
  severity TEXT NOT NULL,
  file TEXT NOT NULL,
  line INTEGER NOT NULL DEFAULT 0,
  message TEXT NOT NULL,
  suggestion TEXT
);

CREATE TABLE IF NOT EXISTS code_patterns (
  id INTEGER PRIMARY KEY,
  repo_id INTEGER NOT NULL REFERENCES repos(id),
  pattern_type TEXT NOT NULL,
  pattern_data TEXT NOT NULL,
  frequency INTEGER NOT NULL DEFAULT 1,
  updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS dependencies (
  id INTEGER PRIMARY KEY,
  repo_id INTEGER NOT NULL REFERENCES repos(id),
  source_file TEXT NOT NULL,
  target_file TEXT NOT NULL,
  dependency_type TEXT NOT NULL DEFAULT 'import',
  UNIQUE(repo_id, source_file, target_file)
);

CREATE TABLE IF NOT EXISTS webhooks (
  id INTEGER PRIMARY KEY,
  url TEXT NOT NULL,
  secret TEXT,
  events TEXT NOT NULL DEFAULT '*',
  active INTEGER NOT NULL DEFAULT 1,
  created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS webhook_deliveries (
  id INTEGER PRIMARY KEY,
  webhook_id INTEGER NOT NULL REFERENCES webhooks(id),
  event TEXT NOT NULL,
  payload TEXT NOT NULL,
  status_code INTEGER,
  error TEXT,
  attempts INTEGER NOT NULL DEFAULT 0,
  delivered_at TEXT,
  created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS archive_state (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_review_jobs_status ON review_jobs(status);
CREATE INDEX IF NOT EXISTS idx_review_jobs_repo ON review_jobs(repo_id);
CREATE INDEX IF NOT EXISTS idx_review_jobs_head_sha ON review_jobs(head_sha);
CREATE INDEX IF NOT EXISTS idx_findings_review ON findings(review_id);
CREATE INDEX IF NOT EXISTS idx_code_patterns_repo ON code_patterns(repo_id, pattern_type);
CREATE INDEX IF NOT EXISTS idx_dependencies_repo ON dependencies(repo_id);
CREATE INDEX IF NOT EXISTS idx_deliveries_webhook ON webhook_deliveries(webhook_id);
`

type DB struct {
	*sql.DB
}

// DefaultDBPath returns the default database path
func DefaultDBPath() string {
	return filepath.Join(config.DataDir(), "reviews.db")
}

// Open opens or creates the database at the given path
func Open(dbPath string) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Open with WAL mode and busy timeout
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	wrapped := &DB{db}

	// Initialize schema (CREATE IF NOT EXISTS is idempotent)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	// Run migrations for existing databases
	if err := wrapped.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return wrapped, nil
}

// migrate runs any needed migrations for existing databases
func (db *DB) migrate() error {
	hasColumn := func(table, column string) (bool, error) {
		var count int
		err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&count)
		return count > 0, err
	}

	// Migration: add retry_count column to review_jobs if missing
	has, err := hasColumn("review_jobs", "retry_count")
	if err != nil {
		return fmt.Errorf("check retry_count column: %w", err)
	}
	if !has {
		if _, err := db.Exec(`ALTER TABLE review_jobs ADD COLUMN retry_count INTEGER NOT NULL DEFAULT 0`); err != nil {
			return fmt.Errorf("add retry_count column: %w", err)
		}
	}

	// Migration: add merged column to pull_requests if missing
	has, err = hasColumn("pull_requests", "merged")
	if err != nil {
		return fmt.Errorf("check merged column: %w", err)
	}
	if !has {
		if _, err := db.Exec(`ALTER TABLE pull_requests ADD COLUMN merged INTEGER NOT NULL DEFAULT 0`); err != nil {
			return fmt.Errorf("add merged column: %w", err)
		}
	}

	// Migration: add suggestion column to findings if missing
	has, err = hasColumn("findings", "suggestion")
	if err != nil {
		return fmt.Errorf("check suggestion column: %w", err)
	}
	if !has {
		if _, err := db.Exec(`ALTER TABLE findings ADD COLUMN suggestion TEXT`); err != nil {
			return fmt.Errorf("add suggestion column: %w", err)
		}
	}

	// Migration: add active column to webhooks if missing
	has, err = hasColumn("webhooks", "active")
	if err != nil {
		return fmt.Errorf("check active column: %w", err)
	}
	if !has {
		if _, err := db.Exec(`ALTER TABLE webhooks ADD COLUMN active INTEGER NOT NULL DEFAULT 1`); err != nil {
			return fmt.Errorf("add active column: %w", err)
		}
	}

	return nil
}

// ResetStaleJobs marks all running jobs as queued (for daemon restart)
func (db *DB) ResetStaleJobs() error {
	_, err := db.Exec(`
		UPDATE review_jobs
		SET status = 'queued', worker_id = NULL, started_at = NULL
		WHERE status = 'running'
	`)
	return err
}

// CountStalledJobs returns the number of jobs that have been running longer than the threshold
func (db *DB) CountStalledJobs(threshold time.Duration) (int, error) {
	// Use threshold in seconds for SQLite datetime arithmetic
	// This avoids timezone issues with RFC3339 string comparison
	thresholdSecs := int64(threshold.Seconds())

	var count int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM review_jobs
		WHERE status = 'running'
		AND started_at IS NOT NULL
		AND datetime(started_at) < datetime('now', ? || ' seconds')
	`, -thresholdSecs).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}
