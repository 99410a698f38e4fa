package store

import "fmt"

// schemaSQL returns the DDL for all tables. embeddingDim controls the
// vec0 virtual table dimension.
func schemaSQL(embeddingDim int) string {
	return fmt.Sprintf(`
-- Tenant-scoped agents: the compiled unit of knowledge a chat query runs against.
CREATE TABLE IF NOT EXISTS agents (
    id INTEGER PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    system_prompt TEXT NOT NULL,
    domain TEXT,
    sub_domain TEXT,
    domain_keywords JSON,
    embedding_model TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'compiling',
    chunk_count INTEGER NOT NULL DEFAULT 0,
    artifact_dir TEXT,
    metadata JSON,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(tenant_id, name)
);

-- Durable compilation jobs, one in_progress at a time per agent (enforced by the
-- caller, the compiler's per-agent lock; the store itself does not check it).
CREATE TABLE IF NOT EXISTS compilation_jobs (
    id INTEGER PRIMARY KEY,
    agent_id INTEGER NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
    status TEXT NOT NULL DEFAULT 'in_progress',
    progress INTEGER NOT NULL DEFAULT 0,
    current_step TEXT,
    error_message TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    completed_at DATETIME
);

-- Retrievable chunks, scoped to a single agent.
CREATE TABLE IF NOT EXISTS document_chunks (
    id INTEGER PRIMARY KEY,
    agent_id INTEGER NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
    content TEXT NOT NULL,
    source TEXT NOT NULL,
    chunk_index INTEGER NOT NULL,
    token_count INTEGER,
    content_hash TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(agent_id, source, chunk_index)
);

-- Vector embeddings via sqlite-vec, partitioned by agent so a KNN query
-- scoped to one agent does not have to scan every tenant's vectors.
CREATE VIRTUAL TABLE IF NOT EXISTS vec_chunks USING vec0(
    chunk_id INTEGER PRIMARY KEY,
    agent_id INTEGER PARTITION KEY,
    embedding float[%d] distance_metric=cosine
);

-- Full-text search via FTS5, kept in sync with document_chunks by trigger.
CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
    content,
    source,
    content='document_chunks',
    content_rowid='id',
    tokenize='porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS chunks_ai AFTER INSERT ON document_chunks BEGIN
    INSERT INTO chunks_fts(rowid, content, source) VALUES (new.id, new.content, new.source);
END;
CREATE TRIGGER IF NOT EXISTS chunks_ad AFTER DELETE ON document_chunks BEGIN
    INSERT INTO chunks_fts(chunks_fts, rowid, content, source) VALUES ('delete', old.id, old.content, old.source);
END;
CREATE TRIGGER IF NOT EXISTS chunks_au AFTER UPDATE ON document_chunks BEGIN
    INSERT INTO chunks_fts(chunks_fts, rowid, content, source) VALUES ('delete', old.id, old.content, old.source);
    INSERT INTO chunks_fts(rowid, content, source) VALUES (new.id, new.content, new.source);
END;

-- Query audit log, scoped to an agent for per-tenant observability.
CREATE TABLE IF NOT EXISTS query_log (
    id INTEGER PRIMARY KEY,
    agent_id INTEGER NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
    query TEXT NOT NULL,
    answer TEXT,
    confidence REAL,
    in_domain BOOLEAN,
    sources JSON,
    model_used TEXT,
    prompt_tokens INTEGER DEFAULT 0,
    completion_tokens INTEGER DEFAULT 0,
    total_tokens INTEGER DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Indexes
CREATE INDEX IF NOT EXISTS idx_document_chunks_agent ON document_chunks(agent_id);
CREATE INDEX IF NOT EXISTS idx_compilation_jobs_agent ON compilation_jobs(agent_id);
CREATE INDEX IF NOT EXISTS idx_compilation_jobs_status ON compilation_jobs(agent_id, status);
CREATE INDEX IF NOT EXISTS idx_query_log_agent ON query_log(agent_id);
`, embeddingDim)
}
