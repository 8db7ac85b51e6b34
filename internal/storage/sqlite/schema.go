package sqlite

const schema = `
-- Replica records, one row per service replica slot (plus one-offs)
CREATE TABLE IF NOT EXISTS replicas (
    id TEXT PRIMARY KEY,
    project TEXT NOT NULL,
    service TEXT NOT NULL,
    ordinal INTEGER NOT NULL DEFAULT 0,
    container_id TEXT NOT NULL DEFAULT '',
    runtime TEXT NOT NULL DEFAULT 'docker',
    image TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'created',
    exit_code INTEGER,
    restarts INTEGER NOT NULL DEFAULT 0,
    one_off INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL,
    started_at TEXT,
    finished_at TEXT,
    updated_at TEXT NOT NULL
);

-- A scaled replica occupies exactly one (project, service, ordinal) slot.
CREATE UNIQUE INDEX IF NOT EXISTS idx_replicas_slot
    ON replicas(project, service, ordinal) WHERE one_off = 0;
CREATE INDEX IF NOT EXISTS idx_replicas_project ON replicas(project);
CREATE INDEX IF NOT EXISTS idx_replicas_status ON replicas(status);

-- Stack events (audit trail and captured log lines)
CREATE TABLE IF NOT EXISTS stack_events (
    id TEXT PRIMARY KEY,
    event_type TEXT NOT NULL,
    project TEXT NOT NULL,
    service TEXT NOT NULL DEFAULT '',
    replica INTEGER NOT NULL DEFAULT 0,
    severity TEXT NOT NULL DEFAULT 'info',
    message TEXT NOT NULL,
    data TEXT,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_stack_events_project ON stack_events(project, created_at);
CREATE INDEX IF NOT EXISTS idx_stack_events_service ON stack_events(project, service, created_at);
CREATE INDEX IF NOT EXISTS idx_stack_events_type ON stack_events(event_type);
`
