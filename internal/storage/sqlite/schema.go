package sqlite

// Schema is the complete relational schema. Every statement is idempotent so
// it is applied on each open.
const Schema = `
CREATE TABLE IF NOT EXISTS twins (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	specialization TEXT NOT NULL DEFAULT 'general',
	created_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sources (
	id             TEXT PRIMARY KEY,
	twin_id        TEXT NOT NULL,
	kind           TEXT NOT NULL,
	title          TEXT NOT NULL DEFAULT '',
	label          TEXT NOT NULL,
	status         TEXT NOT NULL,
	staging        TEXT NOT NULL DEFAULT '',
	health         TEXT NOT NULL DEFAULT 'raw',
	chunk_count    INTEGER NOT NULL DEFAULT 0,
	content        TEXT NOT NULL DEFAULT '',
	content_hash   TEXT NOT NULL DEFAULT '',
	metadata       TEXT NOT NULL DEFAULT '{}',
	error          TEXT NOT NULL DEFAULT '',
	deactivated_at TEXT,
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sources_twin ON sources(twin_id, status);

CREATE TABLE IF NOT EXISTS chunks (
	id         TEXT PRIMARY KEY,
	source_id  TEXT NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
	twin_id    TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	text       TEXT NOT NULL,
	vector_ref TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	UNIQUE(source_id, seq)
);

CREATE TABLE IF NOT EXISTS training_jobs (
	id          TEXT PRIMARY KEY,
	twin_id     TEXT NOT NULL,
	source_id   TEXT NOT NULL DEFAULT '',
	type        TEXT NOT NULL,
	status      TEXT NOT NULL,
	priority    INTEGER NOT NULL DEFAULT 0,
	retry_count INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	error_class TEXT NOT NULL DEFAULT '',
	payload     TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL,
	started_at  TEXT,
	finished_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_jobs_twin_status ON training_jobs(twin_id, status, priority DESC, created_at);

CREATE TABLE IF NOT EXISTS graph_nodes (
	id      TEXT PRIMARY KEY,
	twin_id TEXT NOT NULL,
	name    TEXT NOT NULL,
	type    TEXT NOT NULL,
	UNIQUE(twin_id, name, type)
);

CREATE TABLE IF NOT EXISTS graph_node_sources (
	node_id   TEXT NOT NULL REFERENCES graph_nodes(id) ON DELETE CASCADE,
	source_id TEXT NOT NULL,
	PRIMARY KEY (node_id, source_id)
);

CREATE TABLE IF NOT EXISTS graph_edges (
	id        TEXT PRIMARY KEY,
	twin_id   TEXT NOT NULL,
	from_id   TEXT NOT NULL REFERENCES graph_nodes(id) ON DELETE CASCADE,
	to_id     TEXT NOT NULL REFERENCES graph_nodes(id) ON DELETE CASCADE,
	type      TEXT NOT NULL,
	source_id TEXT NOT NULL,
	UNIQUE(from_id, to_id, type)
);

CREATE TABLE IF NOT EXISTS graph_edge_sources (
	edge_id   TEXT NOT NULL REFERENCES graph_edges(id) ON DELETE CASCADE,
	source_id TEXT NOT NULL,
	PRIMARY KEY (edge_id, source_id)
);

INSERT OR IGNORE INTO graph_edge_sources (edge_id, source_id)
	SELECT id, source_id FROM graph_edges WHERE source_id <> '';

CREATE TABLE IF NOT EXISTS memory_records (
	id          TEXT PRIMARY KEY,
	twin_id     TEXT NOT NULL,
	type        TEXT NOT NULL,
	content     TEXT NOT NULL,
	confidence  REAL NOT NULL,
	source_type TEXT NOT NULL DEFAULT '',
	session_id  TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS published_sources (
	twin_id   TEXT NOT NULL,
	source_id TEXT NOT NULL,
	PRIMARY KEY (twin_id, source_id)
);

CREATE TABLE IF NOT EXISTS published_topics (
	twin_id TEXT NOT NULL,
	topic   TEXT NOT NULL,
	PRIMARY KEY (twin_id, topic)
);

CREATE TABLE IF NOT EXISTS share_tokens (
	token      TEXT PRIMARY KEY,
	twin_id    TEXT NOT NULL,
	created_at TEXT NOT NULL,
	expires_at TEXT,
	revoked_at TEXT
);

CREATE TABLE IF NOT EXISTS verification_runs (
	id            TEXT PRIMARY KEY,
	twin_id       TEXT NOT NULL,
	queries       TEXT NOT NULL,
	cited_queries INTEGER NOT NULL,
	passed        INTEGER NOT NULL,
	ran_at        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS vector_entries (
	namespace TEXT NOT NULL,
	chunk_id  TEXT NOT NULL,
	source_id TEXT NOT NULL,
	dimension INTEGER NOT NULL,
	embedding BLOB NOT NULL,
	PRIMARY KEY (namespace, chunk_id)
);
CREATE INDEX IF NOT EXISTS idx_vectors_source ON vector_entries(namespace, source_id);
`
