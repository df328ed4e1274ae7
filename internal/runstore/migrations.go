package runstore

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    repo_url TEXT NOT NULL,
    branch TEXT,
    team_name TEXT,
    leader_name TEXT,
    status TEXT NOT NULL,
    time_taken TEXT,
    duration_seconds REAL,
    iterations_used INTEGER NOT NULL DEFAULT 0,
    max_iterations INTEGER NOT NULL DEFAULT 0,
    total_failures INTEGER NOT NULL DEFAULT 0,
    score INTEGER NOT NULL DEFAULT 0,
    last_failure TEXT,
    started_at TIMESTAMP,
    finished_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_runs_repo_url ON runs(repo_url);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);

CREATE TABLE IF NOT EXISTS fixes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    seq INTEGER NOT NULL,
    file TEXT NOT NULL,
    bug_type TEXT,
    line_number INTEGER,
    commit_message TEXT,
    status TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fixes_run_id ON fixes(run_id);
`
