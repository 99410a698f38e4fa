// Package store persists agents, their compiled chunk indexes, and
// compilation job state in a single SQLite database, combining a
// sqlite-vec vector index and an FTS5 keyword index per agent.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// ErrNotFound is returned when a lookup by id or name finds no row.
var ErrNotFound = errors.New("store: not found")

// ErrClosed is returned by any operation attempted after Close.
var ErrClosed = errors.New("store: store is closed")

// Agent represents a row in the agents table.
type Agent struct {
	ID             int64  `json:"id"`
	TenantID       string `json:"tenant_id"`
	Name           string `json:"name"`
	SystemPrompt   string `json:"system_prompt"`
	Domain         string `json:"domain"`
	SubDomain      string `json:"sub_domain"`
	DomainKeywords string `json:"domain_keywords,omitempty"` // JSON array
	EmbeddingModel string `json:"embedding_model"`
	Status         string `json:"status"`
	ChunkCount     int    `json:"chunk_count"`
	ArtifactDir    string `json:"artifact_dir,omitempty"`
	Metadata       string `json:"metadata,omitempty"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

// CompilationJob represents a row in the compilation_jobs table.
type CompilationJob struct {
	ID           int64  `json:"id"`
	AgentID      int64  `json:"agent_id"`
	Status       string `json:"status"` // in_progress, completed, failed
	Progress     int    `json:"progress"`
	CurrentStep  string `json:"current_step"`
	ErrorMessage string `json:"error_message,omitempty"`
	CreatedAt    string `json:"created_at"`
	CompletedAt  string `json:"completed_at,omitempty"`
}

// DocumentChunk represents a row in the document_chunks table.
type DocumentChunk struct {
	ID          int64  `json:"id"`
	AgentID     int64  `json:"agent_id"`
	Content     string `json:"content"`
	Source      string `json:"source"`
	ChunkIndex  int    `json:"chunk_index"`
	TokenCount  int    `json:"token_count"`
	ContentHash string `json:"content_hash"`
}

// QueryLog represents a row in the query_log table.
type QueryLog struct {
	AgentID          int64       `json:"agent_id"`
	Query            string      `json:"query"`
	Answer           string      `json:"answer"`
	Confidence       float64     `json:"confidence"`
	InDomain         bool        `json:"in_domain"`
	Sources          interface{} `json:"sources"`
	ModelUsed        string      `json:"model_used"`
	PromptTokens     int         `json:"prompt_tokens"`
	CompletionTokens int         `json:"completion_tokens"`
	TotalTokens      int         `json:"total_tokens"`
}

// RetrievalResult holds a chunk with its retrieval score, as produced
// by either the vector index or the keyword index.
type RetrievalResult struct {
	ChunkID    int64   `json:"chunk_id"`
	Content    string  `json:"content"`
	Source     string  `json:"source"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"`
}

// Store wraps the SQLite database for all platform persistence.
type Store struct {
	db           *sql.DB
	embeddingDim int
	closed       atomic.Bool
}

// isClosed reports whether Close has already been called, guarding the
// data-access methods against use-after-close.
func (s *Store) isClosed() bool {
	return s.closed.Load()
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema including sqlite-vec and FTS5 virtual tables.
func New(dbPath string, embeddingDim int) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL(embeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, embeddingDim: embeddingDim}

	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection. After Close, every
// data-access method returns ErrClosed; DB, EmbeddingDim and Migrate do
// not check for closure.
func (s *Store) Close() error {
	s.closed.Store(true)
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// EmbeddingDim returns the configured embedding dimension.
func (s *Store) EmbeddingDim() int {
	return s.embeddingDim
}

// --- Agent operations ---

// CreateAgent inserts a new agent row. The caller is expected to have
// already normalized and uniqueness-checked (tenant_id, name).
func (s *Store) CreateAgent(ctx context.Context, a Agent) (int64, error) {
	if s.isClosed() {
		return 0, ErrClosed
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (tenant_id, name, system_prompt, domain, sub_domain,
			domain_keywords, embedding_model, status, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.TenantID, a.Name, a.SystemPrompt, a.Domain, a.SubDomain,
		a.DomainKeywords, a.EmbeddingModel, a.Status, a.Metadata)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetAgentByName looks up an agent by its tenant-scoped name.
func (s *Store) GetAgentByName(ctx context.Context, tenantID, name string) (*Agent, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	return s.scanAgent(s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, system_prompt, domain, sub_domain, domain_keywords,
			embedding_model, status, chunk_count, artifact_dir, metadata, created_at, updated_at
		FROM agents WHERE tenant_id = ? AND name = ?
	`, tenantID, name))
}

// GetAgent looks up an agent by its surrogate ID.
func (s *Store) GetAgent(ctx context.Context, id int64) (*Agent, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	return s.scanAgent(s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, system_prompt, domain, sub_domain, domain_keywords,
			embedding_model, status, chunk_count, artifact_dir, metadata, created_at, updated_at
		FROM agents WHERE id = ?
	`, id))
}

func (s *Store) scanAgent(row *sql.Row) (*Agent, error) {
	a := &Agent{}
	var domain, subDomain, keywords, artifactDir, metadata sql.NullString
	err := row.Scan(&a.ID, &a.TenantID, &a.Name, &a.SystemPrompt, &domain, &subDomain,
		&keywords, &a.EmbeddingModel, &a.Status, &a.ChunkCount, &artifactDir, &metadata,
		&a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Domain, a.SubDomain, a.DomainKeywords = domain.String, subDomain.String, keywords.String
	a.ArtifactDir, a.Metadata = artifactDir.String, metadata.String
	return a, nil
}

// ListAgents returns all agents for a tenant, newest first.
func (s *Store) ListAgents(ctx context.Context, tenantID string) ([]Agent, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, system_prompt, domain, sub_domain, domain_keywords,
			embedding_model, status, chunk_count, artifact_dir, metadata, created_at, updated_at
		FROM agents WHERE tenant_id = ? ORDER BY created_at DESC, id DESC
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []Agent
	for rows.Next() {
		var a Agent
		var domain, subDomain, keywords, artifactDir, metadata sql.NullString
		if err := rows.Scan(&a.ID, &a.TenantID, &a.Name, &a.SystemPrompt, &domain, &subDomain,
			&keywords, &a.EmbeddingModel, &a.Status, &a.ChunkCount, &artifactDir, &metadata,
			&a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		a.Domain, a.SubDomain, a.DomainKeywords = domain.String, subDomain.String, keywords.String
		a.ArtifactDir, a.Metadata = artifactDir.String, metadata.String
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// UpdateAgentStatus sets the status and chunk_count fields.
func (s *Store) UpdateAgentStatus(ctx context.Context, id int64, status string, chunkCount int) error {
	if s.isClosed() {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE agents SET status = ?, chunk_count = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		status, chunkCount, id)
	return err
}

// UpdateAgentDomainSignature records the domain/sub-domain/keywords the
// prompt analyzer derived during compilation.
func (s *Store) UpdateAgentDomainSignature(ctx context.Context, id int64, domain, subDomain, keywordsJSON string) error {
	if s.isClosed() {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE agents SET domain = ?, sub_domain = ?, domain_keywords = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		domain, subDomain, keywordsJSON, id)
	return err
}

// SetAgentArtifactDir records the on-disk directory holding an agent's
// compiled context/metadata artifacts, for cleanup on delete.
func (s *Store) SetAgentArtifactDir(ctx context.Context, id int64, dir string) error {
	if s.isClosed() {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx, "UPDATE agents SET artifact_dir = ? WHERE id = ?", dir, id)
	return err
}

// DeleteAgent removes an agent and cascades to its chunks, jobs, and
// query log via foreign keys. The caller is responsible for removing
// the returned on-disk artifact directory, if any.
func (s *Store) DeleteAgent(ctx context.Context, id int64) (artifactDir string, err error) {
	if s.isClosed() {
		return "", ErrClosed
	}
	var dir sql.NullString
	row := s.db.QueryRowContext(ctx, "SELECT artifact_dir FROM agents WHERE id = ?", id)
	if err := row.Scan(&dir); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM agents WHERE id = ?", id); err != nil {
		return "", err
	}
	return dir.String, nil
}

// --- Compilation job operations ---

// CreateJob inserts a new in_progress job for an agent. The caller must
// enforce the single-writer-per-agent invariant before calling this.
func (s *Store) CreateJob(ctx context.Context, agentID int64) (int64, error) {
	if s.isClosed() {
		return 0, ErrClosed
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO compilation_jobs (agent_id, status, progress) VALUES (?, 'in_progress', 0)",
		agentID)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// HasInProgressJob reports whether an agent already has a job running.
func (s *Store) HasInProgressJob(ctx context.Context, agentID int64) (bool, error) {
	if s.isClosed() {
		return false, ErrClosed
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM compilation_jobs WHERE agent_id = ? AND status = 'in_progress'",
		agentID).Scan(&n)
	return n > 0, err
}

// UpdateJobProgress advances a job's progress and current step. Progress
// must be non-decreasing; callers are expected to enforce that.
func (s *Store) UpdateJobProgress(ctx context.Context, jobID int64, progress int, step string) error {
	if s.isClosed() {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE compilation_jobs SET progress = ?, current_step = ? WHERE id = ?",
		progress, step, jobID)
	return err
}

// CompleteJob marks a job terminal: completed (errMsg empty) or failed.
func (s *Store) CompleteJob(ctx context.Context, jobID int64, errMsg string) error {
	if s.isClosed() {
		return ErrClosed
	}
	status := "completed"
	if errMsg != "" {
		status = "failed"
		if len(errMsg) > 500 {
			errMsg = errMsg[:500]
		}
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE compilation_jobs
		SET status = ?, progress = CASE WHEN ? = 'completed' THEN 100 ELSE progress END,
			error_message = ?, completed_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, status, status, errMsg, jobID)
	return err
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID int64) (*CompilationJob, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	j := &CompilationJob{}
	var step, errMsg, completedAt sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, agent_id, status, progress, current_step, error_message, created_at, completed_at
		FROM compilation_jobs WHERE id = ?
	`, jobID).Scan(&j.ID, &j.AgentID, &j.Status, &j.Progress, &step, &errMsg, &j.CreatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	j.CurrentStep, j.ErrorMessage, j.CompletedAt = step.String, errMsg.String, completedAt.String
	return j, nil
}

// LatestJobForAgent returns the most recently created job for an agent.
func (s *Store) LatestJobForAgent(ctx context.Context, agentID int64) (*CompilationJob, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	j := &CompilationJob{}
	var step, errMsg, completedAt sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, agent_id, status, progress, current_step, error_message, created_at, completed_at
		FROM compilation_jobs WHERE agent_id = ? ORDER BY created_at DESC, id DESC LIMIT 1
	`, agentID).Scan(&j.ID, &j.AgentID, &j.Status, &j.Progress, &step, &errMsg, &j.CreatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	j.CurrentStep, j.ErrorMessage, j.CompletedAt = step.String, errMsg.String, completedAt.String
	return j, nil
}

// --- Chunk operations ---

// ReplaceChunks atomically deletes all existing chunks (and their
// embeddings) for an agent and inserts the new set, so a recompile
// never leaves a partially-indexed agent visible to readers.
func (s *Store) ReplaceChunks(ctx context.Context, agentID int64, chunks []DocumentChunk, embeddings [][]float32) ([]int64, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	if len(chunks) != len(embeddings) {
		return nil, fmt.Errorf("store: %d chunks but %d embeddings", len(chunks), len(embeddings))
	}

	ids := make([]int64, len(chunks))
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM vec_chunks WHERE chunk_id IN (SELECT id FROM document_chunks WHERE agent_id = ?)
		`, agentID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM document_chunks WHERE agent_id = ?", agentID); err != nil {
			return err
		}

		chunkStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO document_chunks (agent_id, content, source, chunk_index, token_count, content_hash)
			VALUES (?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer chunkStmt.Close()

		vecStmt, err := tx.PrepareContext(ctx,
			"INSERT INTO vec_chunks (chunk_id, agent_id, embedding) VALUES (?, ?, ?)")
		if err != nil {
			return err
		}
		defer vecStmt.Close()

		for i, c := range chunks {
			res, err := chunkStmt.ExecContext(ctx, agentID, c.Content, c.Source, c.ChunkIndex,
				c.TokenCount, c.ContentHash)
			if err != nil {
				return err
			}
			id, err := res.LastInsertId()
			if err != nil {
				return err
			}
			ids[i] = id

			if _, err := vecStmt.ExecContext(ctx, id, agentID, serializeFloat32(embeddings[i])); err != nil {
				return err
			}
		}
		return nil
	})
	return ids, err
}

// ChunkCount returns the number of chunks currently indexed for an agent.
func (s *Store) ChunkCount(ctx context.Context, agentID int64) (int, error) {
	if s.isClosed() {
		return 0, ErrClosed
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM document_chunks WHERE agent_id = ?", agentID).Scan(&n)
	return n, err
}

// --- Retrieval ---

// VectorSearch performs a KNN search over a single agent's embeddings
// and returns the top-k nearest chunks, scored as cosine similarity.
func (s *Store) VectorSearch(ctx context.Context, agentID int64, queryEmbedding []float32, k int) ([]RetrievalResult, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.chunk_id, v.distance, c.content, c.source, c.chunk_index
		FROM vec_chunks v
		JOIN document_chunks c ON c.id = v.chunk_id
		WHERE v.embedding MATCH ? AND v.agent_id = ? AND k = ?
		ORDER BY v.distance
	`, serializeFloat32(queryEmbedding), agentID, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []RetrievalResult
	for rows.Next() {
		var r RetrievalResult
		var distance float64
		if err := rows.Scan(&r.ChunkID, &distance, &r.Content, &r.Source, &r.ChunkIndex); err != nil {
			return nil, err
		}
		r.Score = 1.0 - distance
		results = append(results, r)
	}
	return results, rows.Err()
}

// FTSSearch performs a full-text search over a single agent's chunks
// using FTS5 BM25 ranking.
func (s *Store) FTSSearch(ctx context.Context, agentID int64, query string, limit int) ([]RetrievalResult, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.rowid, f.rank, c.content, c.source, c.chunk_index
		FROM chunks_fts f
		JOIN document_chunks c ON c.id = f.rowid
		WHERE chunks_fts MATCH ? AND c.agent_id = ?
		ORDER BY f.rank
		LIMIT ?
	`, query, agentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []RetrievalResult
	for rows.Next() {
		var r RetrievalResult
		var rank float64
		if err := rows.Scan(&r.ChunkID, &rank, &r.Content, &r.Source, &r.ChunkIndex); err != nil {
			return nil, err
		}
		r.Score = -rank // FTS5 rank is negative (lower = better).
		results = append(results, r)
	}
	return results, rows.Err()
}

// --- Query log ---

// LogQuery records a completed chat turn for observability.
func (s *Store) LogQuery(ctx context.Context, q QueryLog) error {
	if s.isClosed() {
		return ErrClosed
	}
	var sourcesJSON []byte
	if q.Sources != nil {
		var err error
		sourcesJSON, err = json.Marshal(q.Sources)
		if err != nil {
			return fmt.Errorf("marshaling query log sources: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO query_log (agent_id, query, answer, confidence, in_domain, sources,
			model_used, prompt_tokens, completion_tokens, total_tokens)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, q.AgentID, q.Query, q.Answer, q.Confidence, q.InDomain, string(sourcesJSON),
		q.ModelUsed, q.PromptTokens, q.CompletionTokens, q.TotalTokens)
	return err
}

// --- internal helpers ---

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
