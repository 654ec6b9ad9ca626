package sqlite

// schema defines the four tables the engine owns. Each table carries
// the composite (test_id, entity_id) key with a timestamp index so
// partition scans and retention pruning are range queries.
const schema = `
CREATE TABLE IF NOT EXISTS executions (
	row_id       INTEGER PRIMARY KEY AUTOINCREMENT,
	execution_id TEXT NOT NULL,
	suite_id     TEXT NOT NULL DEFAULT '',
	run_id       TEXT NOT NULL DEFAULT '',
	test_id      TEXT NOT NULL,
	entity_id    TEXT NOT NULL,
	timestamp    DATETIME NOT NULL,
	status       TEXT NOT NULL,
	duration     REAL NOT NULL DEFAULT 0,
	coverage     TEXT,
	environment  TEXT
);

CREATE INDEX IF NOT EXISTS idx_executions_partition
	ON executions(test_id, entity_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_executions_timestamp
	ON executions(timestamp);

CREATE TABLE IF NOT EXISTS evolution_events (
	event_id       TEXT PRIMARY KEY,
	test_id        TEXT NOT NULL,
	entity_id      TEXT NOT NULL,
	timestamp      DATETIME NOT NULL,
	type           TEXT NOT NULL,
	previous_state TEXT,
	new_state      TEXT,
	change_set_id  TEXT NOT NULL DEFAULT '',
	metadata       TEXT
);

CREATE INDEX IF NOT EXISTS idx_events_partition
	ON evolution_events(test_id, entity_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_events_timestamp
	ON evolution_events(timestamp);

CREATE TABLE IF NOT EXISTS snapshots (
	snapshot_id TEXT PRIMARY KEY,
	timestamp   DATETIME NOT NULL,
	test_id     TEXT NOT NULL,
	entity_id   TEXT NOT NULL,
	status      TEXT NOT NULL,
	coverage    TEXT,
	metrics     TEXT NOT NULL,
	metadata    TEXT
);

CREATE INDEX IF NOT EXISTS idx_snapshots_partition
	ON snapshots(test_id, entity_id, timestamp);

CREATE TABLE IF NOT EXISTS relationships (
	relationship_id TEXT PRIMARY KEY,
	test_id         TEXT NOT NULL,
	entity_id       TEXT NOT NULL,
	type            TEXT NOT NULL,
	suite_id        TEXT NOT NULL DEFAULT '',
	valid_from      DATETIME NOT NULL,
	valid_to        DATETIME,
	active          INTEGER NOT NULL DEFAULT 1,
	confidence      REAL NOT NULL DEFAULT 0,
	evidence        TEXT,
	metadata        TEXT
);

CREATE INDEX IF NOT EXISTS idx_relationships_test
	ON relationships(test_id, active);
CREATE INDEX IF NOT EXISTS idx_relationships_entity
	ON relationships(entity_id, active);
`
