//go:build cgo

package store

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dbPath, 4) // dim=4 for test vectors
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleAgent(tenant, name string) Agent {
	return Agent{
		TenantID:       tenant,
		Name:           name,
		SystemPrompt:   "You are a helpful assistant.",
		EmbeddingModel: "bge-small-en-v1.5",
		Status:         "compiling",
	}
}

// ---------------------------------------------------------------------------
// Schema / construction
// ---------------------------------------------------------------------------

func TestNew(t *testing.T) {
	s := newTestStore(t)
	if s.EmbeddingDim() != 4 {
		t.Fatalf("expected embedding dim 4, got %d", s.EmbeddingDim())
	}
	if s.DB() == nil {
		t.Fatal("expected non-nil *sql.DB")
	}
}

func TestNewCreatesParentDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sub", "dir")
	dbPath := filepath.Join(dir, "test.db")
	s, err := New(dbPath, 4)
	if err != nil {
		t.Fatalf("creating store in nested dir: %v", err)
	}
	s.Close()
}

// ---------------------------------------------------------------------------
// Agent CRUD
// ---------------------------------------------------------------------------

func TestCreateAndGetAgent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateAgent(ctx, sampleAgent("acme", "support_bot"))
	if err != nil {
		t.Fatalf("creating agent: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero agent id")
	}

	got, err := s.GetAgent(ctx, id)
	if err != nil {
		t.Fatalf("getting agent: %v", err)
	}
	if got.Name != "support_bot" {
		t.Errorf("name: got %q, want %q", got.Name, "support_bot")
	}
	if got.Status != "compiling" {
		t.Errorf("status: got %q, want %q", got.Status, "compiling")
	}
}

func TestGetAgentByName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateAgent(ctx, sampleAgent("acme", "sales_bot")); err != nil {
		t.Fatalf("creating agent: %v", err)
	}

	got, err := s.GetAgentByName(ctx, "acme", "sales_bot")
	if err != nil {
		t.Fatalf("getting agent by name: %v", err)
	}
	if got.TenantID != "acme" {
		t.Errorf("tenant: got %q, want %q", got.TenantID, "acme")
	}
}

func TestGetAgentByNameNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetAgentByName(ctx, "acme", "nonexistent")
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateAgentUniquePerTenant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateAgent(ctx, sampleAgent("acme", "dup")); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := s.CreateAgent(ctx, sampleAgent("acme", "dup")); err == nil {
		t.Fatal("expected unique constraint violation for duplicate (tenant, name)")
	}
	// Same name under a different tenant is fine.
	if _, err := s.CreateAgent(ctx, sampleAgent("other-tenant", "dup")); err != nil {
		t.Fatalf("same name under different tenant should succeed: %v", err)
	}
}

func TestListAgentsScopedByTenant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.CreateAgent(ctx, sampleAgent("acme", "bot1"))
	s.CreateAgent(ctx, sampleAgent("acme", "bot2"))
	s.CreateAgent(ctx, sampleAgent("other", "bot3"))

	agents, err := s.ListAgents(ctx, "acme")
	if err != nil {
		t.Fatalf("listing agents: %v", err)
	}
	if len(agents) != 2 {
		t.Fatalf("expected 2 agents for tenant acme, got %d", len(agents))
	}
}

func TestUpdateAgentStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, _ := s.CreateAgent(ctx, sampleAgent("acme", "status_bot"))
	if err := s.UpdateAgentStatus(ctx, id, "ready", 42); err != nil {
		t.Fatalf("update status: %v", err)
	}

	got, err := s.GetAgent(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != "ready" {
		t.Errorf("status: got %q, want ready", got.Status)
	}
	if got.ChunkCount != 42 {
		t.Errorf("chunk_count: got %d, want 42", got.ChunkCount)
	}
}

func TestUpdateAgentDomainSignature(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, _ := s.CreateAgent(ctx, sampleAgent("acme", "domain_bot"))
	if err := s.UpdateAgentDomainSignature(ctx, id, "medical", "cardiology", `["heart","ecg"]`); err != nil {
		t.Fatalf("update domain signature: %v", err)
	}

	got, err := s.GetAgent(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Domain != "medical" || got.SubDomain != "cardiology" {
		t.Errorf("domain = %q/%q, want medical/cardiology", got.Domain, got.SubDomain)
	}
}

func TestDeleteAgentCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, _ := s.CreateAgent(ctx, sampleAgent("acme", "delete_me"))
	if err := s.SetAgentArtifactDir(ctx, id, "/tmp/agents/delete_me"); err != nil {
		t.Fatalf("set artifact dir: %v", err)
	}

	chunks := []DocumentChunk{{Content: "some content", Source: "doc.txt, Entry 1", ChunkIndex: 0, TokenCount: 2}}
	embeddings := [][]float32{{1, 0, 0, 0}}
	if _, err := s.ReplaceChunks(ctx, id, chunks, embeddings); err != nil {
		t.Fatalf("replace chunks: %v", err)
	}

	dir, err := s.DeleteAgent(ctx, id)
	if err != nil {
		t.Fatalf("delete agent: %v", err)
	}
	if dir != "/tmp/agents/delete_me" {
		t.Errorf("artifact dir: got %q", dir)
	}

	if _, err := s.GetAgent(ctx, id); err != ErrNotFound {
		t.Fatalf("expected agent gone, got err=%v", err)
	}

	n, err := s.ChunkCount(ctx, id)
	if err != nil {
		t.Fatalf("chunk count after delete: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 chunks after cascade delete, got %d", n)
	}
}

// ---------------------------------------------------------------------------
// Compilation jobs
// ---------------------------------------------------------------------------

func TestCreateAndCompleteJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	agentID, _ := s.CreateAgent(ctx, sampleAgent("acme", "job_bot"))

	jobID, err := s.CreateJob(ctx, agentID)
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	inProgress, err := s.HasInProgressJob(ctx, agentID)
	if err != nil {
		t.Fatalf("has in progress: %v", err)
	}
	if !inProgress {
		t.Fatal("expected an in-progress job")
	}

	if err := s.UpdateJobProgress(ctx, jobID, 40, "embedding chunks"); err != nil {
		t.Fatalf("update progress: %v", err)
	}

	if err := s.CompleteJob(ctx, jobID, ""); err != nil {
		t.Fatalf("complete job: %v", err)
	}

	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != "completed" {
		t.Errorf("status: got %q, want completed", job.Status)
	}
	if job.Progress != 100 {
		t.Errorf("progress: got %d, want 100", job.Progress)
	}

	inProgress, _ = s.HasInProgressJob(ctx, agentID)
	if inProgress {
		t.Fatal("expected no in-progress job after completion")
	}
}

func TestFailedJobRecordsTruncatedError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	agentID, _ := s.CreateAgent(ctx, sampleAgent("acme", "fail_bot"))
	jobID, _ := s.CreateJob(ctx, agentID)

	longErr := make([]byte, 800)
	for i := range longErr {
		longErr[i] = 'x'
	}
	if err := s.CompleteJob(ctx, jobID, string(longErr)); err != nil {
		t.Fatalf("complete job: %v", err)
	}

	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != "failed" {
		t.Errorf("status: got %q, want failed", job.Status)
	}
	if len(job.ErrorMessage) != 500 {
		t.Errorf("error message length: got %d, want 500", len(job.ErrorMessage))
	}
}

func TestLatestJobForAgent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	agentID, _ := s.CreateAgent(ctx, sampleAgent("acme", "multi_job_bot"))
	first, _ := s.CreateJob(ctx, agentID)
	s.CompleteJob(ctx, first, "")
	second, _ := s.CreateJob(ctx, agentID)

	latest, err := s.LatestJobForAgent(ctx, agentID)
	if err != nil {
		t.Fatalf("latest job: %v", err)
	}
	if latest.ID != second {
		t.Errorf("latest job id: got %d, want %d", latest.ID, second)
	}
}

// ---------------------------------------------------------------------------
// Chunks, vector search, FTS search
// ---------------------------------------------------------------------------

func TestReplaceChunksIsAtomicAndIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	agentID, _ := s.CreateAgent(ctx, sampleAgent("acme", "chunk_bot"))

	chunks := []DocumentChunk{
		{Content: "alpha content", Source: "doc.txt", ChunkIndex: 0, TokenCount: 2},
		{Content: "beta content", Source: "doc.txt", ChunkIndex: 1, TokenCount: 2},
	}
	embeddings := [][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}}

	ids, err := s.ReplaceChunks(ctx, agentID, chunks, embeddings)
	if err != nil {
		t.Fatalf("replace chunks: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 ids, got %d", len(ids))
	}

	n, err := s.ChunkCount(ctx, agentID)
	if err != nil {
		t.Fatalf("chunk count: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 chunks, got %d", n)
	}

	// Recompile with a different set: the old chunks must be entirely gone.
	newChunks := []DocumentChunk{
		{Content: "gamma content", Source: "doc2.txt", ChunkIndex: 0, TokenCount: 2},
	}
	newEmbeddings := [][]float32{{0, 0, 1, 0}}
	if _, err := s.ReplaceChunks(ctx, agentID, newChunks, newEmbeddings); err != nil {
		t.Fatalf("re-replace chunks: %v", err)
	}

	n, err = s.ChunkCount(ctx, agentID)
	if err != nil {
		t.Fatalf("chunk count after replace: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 chunk after replace, got %d", n)
	}
}

func TestReplaceChunksMismatchedLengthsErrors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	agentID, _ := s.CreateAgent(ctx, sampleAgent("acme", "mismatch_bot"))
	chunks := []DocumentChunk{{Content: "one", Source: "doc.txt", ChunkIndex: 0}}
	if _, err := s.ReplaceChunks(ctx, agentID, chunks, nil); err == nil {
		t.Fatal("expected error for mismatched chunks/embeddings lengths")
	}
}

func TestVectorSearchScopedByAgent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	agentA, _ := s.CreateAgent(ctx, sampleAgent("acme", "agent_a"))
	agentB, _ := s.CreateAgent(ctx, sampleAgent("acme", "agent_b"))

	s.ReplaceChunks(ctx, agentA, []DocumentChunk{
		{Content: "alpha content", Source: "a.txt", ChunkIndex: 0},
	}, [][]float32{{1, 0, 0, 0}})
	s.ReplaceChunks(ctx, agentB, []DocumentChunk{
		{Content: "beta content", Source: "b.txt", ChunkIndex: 0},
	}, [][]float32{{1, 0, 0, 0}})

	results, err := s.VectorSearch(ctx, agentA, []float32{1, 0, 0, 0}, 10)
	if err != nil {
		t.Fatalf("vector search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result scoped to agent A, got %d", len(results))
	}
	if results[0].Content != "alpha content" {
		t.Errorf("content: got %q, want alpha content", results[0].Content)
	}
}

func TestVectorSearchTopK(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	agentID, _ := s.CreateAgent(ctx, sampleAgent("acme", "topk_bot"))
	chunks := []DocumentChunk{
		{Content: "c1", Source: "s", ChunkIndex: 0},
		{Content: "c2", Source: "s", ChunkIndex: 1},
		{Content: "c3", Source: "s", ChunkIndex: 2},
	}
	embeddings := [][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}}
	s.ReplaceChunks(ctx, agentID, chunks, embeddings)

	results, err := s.VectorSearch(ctx, agentID, []float32{0, 0, 1, 0}, 1)
	if err != nil {
		t.Fatalf("vector search k=1: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Content != "c3" {
		t.Errorf("expected c3, got %q", results[0].Content)
	}
}

func TestFTSSearchScopedByAgent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	agentA, _ := s.CreateAgent(ctx, sampleAgent("acme", "fts_a"))
	agentB, _ := s.CreateAgent(ctx, sampleAgent("acme", "fts_b"))

	s.ReplaceChunks(ctx, agentA, []DocumentChunk{
		{Content: "artificial intelligence and machine learning", Source: "a.txt", ChunkIndex: 0},
	}, [][]float32{{1, 0, 0, 0}})
	s.ReplaceChunks(ctx, agentB, []DocumentChunk{
		{Content: "artificial intelligence research lab", Source: "b.txt", ChunkIndex: 0},
	}, [][]float32{{1, 0, 0, 0}})

	results, err := s.FTSSearch(ctx, agentA, "artificial intelligence", 10)
	if err != nil {
		t.Fatalf("fts search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result scoped to agent A, got %d", len(results))
	}
	if results[0].Score <= 0 {
		t.Errorf("expected positive score, got %f", results[0].Score)
	}
}

func TestFTSSearchNoMatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	agentID, _ := s.CreateAgent(ctx, sampleAgent("acme", "nomatch_bot"))
	s.ReplaceChunks(ctx, agentID, []DocumentChunk{
		{Content: "hello world", Source: "s", ChunkIndex: 0},
	}, [][]float32{{1, 0, 0, 0}})

	results, err := s.FTSSearch(ctx, agentID, "zzzyyyxxx", 10)
	if err != nil {
		t.Fatalf("fts search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected 0 results for nonsense query, got %d", len(results))
	}
}

// ---------------------------------------------------------------------------
// Query log
// ---------------------------------------------------------------------------

func TestLogQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	agentID, _ := s.CreateAgent(ctx, sampleAgent("acme", "log_bot"))

	q := QueryLog{
		AgentID:    agentID,
		Query:      "What is Go?",
		Answer:     "A programming language",
		Confidence: 0.95,
		InDomain:   true,
		Sources:    []string{"doc1.pdf"},
		ModelUsed:  "llama3",
	}

	if err := s.LogQuery(ctx, q); err != nil {
		t.Fatalf("log query: %v", err)
	}

	var count int
	if err := s.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM query_log WHERE agent_id = ?", agentID).Scan(&count); err != nil {
		t.Fatalf("count query_log: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 log entry, got %d", count)
	}
}
