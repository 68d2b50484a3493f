package store

// schemaSQL is the DDL for all tables.
const schemaSQL = `
-- Plan snapshots, one row per plan, the document stored as canonical JSON
CREATE TABLE IF NOT EXISTS plans (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL DEFAULT '',
    subject TEXT NOT NULL DEFAULT '',
    document JSON NOT NULL,
    content_hash TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Ids of deleted nodes; never handed out again for the same plan
CREATE TABLE IF NOT EXISTS retired_ids (
    plan_id TEXT NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
    node_id TEXT NOT NULL,
    PRIMARY KEY (plan_id, node_id)
);

-- Generation runs
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    plan_id TEXT NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
    state TEXT NOT NULL,
    phase TEXT,
    error TEXT,
    total_tokens INTEGER DEFAULT 0,
    elapsed_ms INTEGER DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Run log lines in order
CREATE TABLE IF NOT EXISTS run_events (
    id INTEGER PRIMARY KEY,
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    at DATETIME NOT NULL,
    phase TEXT,
    message TEXT NOT NULL,
    error TEXT
);

-- Indexes
CREATE INDEX IF NOT EXISTS idx_runs_plan ON runs(plan_id);
CREATE INDEX IF NOT EXISTS idx_run_events_run ON run_events(run_id);
`
