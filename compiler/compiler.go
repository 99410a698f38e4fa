package compiler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mexar/ragcore/chunker"
	"github.com/mexar/ragcore/llm"
	"github.com/mexar/ragcore/parser"
	"github.com/mexar/ragcore/promptanalyzer"
	"github.com/mexar/ragcore/store"
)

// maxErrorMessageLen matches the CompilationJob.error_message cap.
const maxErrorMessageLen = 500

// embedBatchSize bounds how many chunks are embedded per provider call.
const embedBatchSize = 64

// ErrConflictingCompilation is returned by Begin when another
// compilation is already in progress for the same agent.
var ErrConflictingCompilation = errors.New("compiler: a compilation is already in progress for this agent")

// ErrParsingFailed is returned when every file in a compile batch fails
// to parse outright (distinct from ErrInsufficientContent, which covers
// sources that parse but yield no usable content).
var ErrParsingFailed = errors.New("compiler: all files failed to parse")

// ErrInsufficientContent is returned when every parsed source is empty.
var ErrInsufficientContent = errors.New("compiler: no usable content across all sources")

// ErrEmbeddingFailed is returned when the embedding provider fails on
// any chunk batch.
var ErrEmbeddingFailed = errors.New("compiler: embedding generation failed")

// ErrIndexWriteFailure is returned when the chunk index fails to
// atomically replace an agent's chunk set.
var ErrIndexWriteFailure = errors.New("compiler: failed to write chunk index")

func marshalKeywords(keywords []string) (string, error) {
	b, err := json.Marshal(keywords)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// File is one raw input to a compilation.
type File struct {
	Name string
	Data []byte
}

// Pipeline runs the compile(agent, system_prompt, files) orchestration,
// publishing progress milestones through a Registry as it goes.
type Pipeline struct {
	store    *store.Store
	registry *Registry
	parsers  *parser.Registry
	chunkr   *chunker.Chunker
	chat     llm.Provider
	embedder llm.Provider
}

// New creates a compilation pipeline.
func New(s *store.Store, registry *Registry, parsers *parser.Registry, chunkr *chunker.Chunker, chat, embedder llm.Provider) *Pipeline {
	return &Pipeline{store: s, registry: registry, parsers: parsers, chunkr: chunkr, chat: chat, embedder: embedder}
}

// Session is a claimed compilation slot for one agent, returned by
// Begin once the single-writer lock is held and a job record exists.
// Run must be called exactly once to perform the compilation and
// release the lock.
type Session struct {
	p       *Pipeline
	agentID int64
	jobID   int64
	b       *bus
}

// JobID returns the durable job record created for this session.
func (s *Session) JobID() int64 { return s.jobID }

// Abort releases the single-writer lock and marks the job failed
// without running the pipeline, for callers that claimed a Session via
// Begin but could not proceed to Run (e.g. a later state-mutation step
// failed). Must not be called after Run.
func (s *Session) Abort(ctx context.Context, reason error) {
	defer s.p.registry.release(s.agentID)
	msg := truncate(reason.Error(), maxErrorMessageLen)
	if err := s.p.store.CompleteJob(ctx, s.jobID, msg); err != nil {
		slog.Error("compiler: failed to record job abort", "job_id", s.jobID, "error", err)
	}
}

// Begin synchronously claims the single-writer lock for agentID and
// creates a durable job record. It returns ErrConflictingCompilation
// immediately if another compilation is already running for this
// agent, before the caller commits to any visible state change (e.g.
// flipping the agent's status to "compiling"). The returned Session's
// Run method does the actual work and may safely be called from a
// background goroutine since the conflict check has already happened.
func (p *Pipeline) Begin(ctx context.Context, agentID int64) (*Session, error) {
	b, acquired := p.registry.acquire(agentID)
	if !acquired {
		return nil, fmt.Errorf("%w: agent %d", ErrConflictingCompilation, agentID)
	}

	jobID, err := p.store.CreateJob(ctx, agentID)
	if err != nil {
		p.registry.release(agentID)
		return nil, fmt.Errorf("creating job record: %w", err)
	}

	return &Session{p: p, agentID: agentID, jobID: jobID, b: b}, nil
}

// Run executes the compilation claimed by Begin and releases the
// single-writer lock when it returns, whether it succeeds or fails.
func (s *Session) Run(ctx context.Context, systemPrompt string, files []File) (jobID int64, err error) {
	defer s.p.registry.release(s.agentID)

	if runErr := s.p.run(ctx, s.agentID, s.jobID, systemPrompt, files, s.b); runErr != nil {
		msg := truncate(runErr.Error(), maxErrorMessageLen)
		if err := s.p.store.CompleteJob(ctx, s.jobID, msg); err != nil {
			slog.Error("compiler: failed to record job failure", "job_id", s.jobID, "error", err)
		}
		if err := s.p.store.UpdateAgentStatus(ctx, s.agentID, "failed", 0); err != nil {
			slog.Error("compiler: failed to mark agent failed", "agent_id", s.agentID, "error", err)
		}
		s.b.publish(ProgressEvent{AgentStatus: "failed", Progress: 100, CurrentStep: "failed", ErrorMessage: msg})
		return s.jobID, runErr
	}

	return s.jobID, nil
}

// Start is a convenience wrapper combining Begin and Run for callers
// that want synchronous, one-shot compilation (tests, CLI tools).
// Engine callers that must observe a lock conflict before mutating
// caller-visible state should call Begin and Run separately.
func (p *Pipeline) Start(ctx context.Context, agentID int64, systemPrompt string, files []File) (jobID int64, err error) {
	sess, err := p.Begin(ctx, agentID)
	if err != nil {
		return 0, err
	}
	return sess.Run(ctx, systemPrompt, files)
}

func (p *Pipeline) run(ctx context.Context, agentID, jobID int64, systemPrompt string, files []File, b *bus) error {
	publish := func(progress int, step string) {
		if err := p.store.UpdateJobProgress(ctx, jobID, progress, step); err != nil {
			slog.Warn("compiler: failed to persist job progress", "job_id", jobID, "error", err)
		}
		b.publish(ProgressEvent{AgentStatus: "in_progress", Progress: progress, CurrentStep: step})
	}

	// 10% - analyze system prompt.
	publish(10, "analyzing_system_prompt")
	analysis, err := promptanalyzer.Analyze(ctx, p.chat, systemPrompt)
	if err != nil {
		return fmt.Errorf("analyzing system prompt: %w", err)
	}

	// 20% - instantiate embedding + index clients. The embedding and
	// store clients are already constructed; this milestone exists so
	// progress observers see a distinct step before parsing begins.
	publish(20, "preparing_index")

	// 30% - parse and validate files.
	publish(30, "parsing_files")
	var sources []*parser.ParsedSource
	var failed int
	for _, f := range files {
		src, err := p.parsers.Parse(ctx, f.Data, f.Name)
		if err != nil {
			failed++
			slog.Warn("compiler: failed to parse file, skipping", "file", f.Name, "error", err)
			continue
		}
		sources = append(sources, src)
	}
	if len(files) > 0 && failed == len(files) {
		return fmt.Errorf("%w: all %d files failed to parse", ErrParsingFailed, failed)
	}

	report := parser.Validate(sources, failed)
	if !report.Sufficient {
		slog.Warn("compiler: corpus below sufficiency threshold, proceeding anyway", "issues", report.Issues, "warnings", report.Warnings)
	}
	if report.TotalEntries == 0 && report.TotalChars == 0 {
		return fmt.Errorf("%w: %v", ErrInsufficientContent, report.Issues)
	}

	// 40-70% - chunk.
	publish(40, "chunking")
	var allChunks []chunker.Chunk
	for _, src := range sources {
		allChunks = append(allChunks, p.chunkr.Chunk(src)...)
	}
	publish(70, "chunked")

	// 70% - embed all chunks in batches.
	publish(70, "embedding")
	embeddings, err := p.embedAll(ctx, allChunks)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	// 80% - atomically replace the chunk set.
	publish(80, "writing_index")
	dbChunks := make([]store.DocumentChunk, len(allChunks))
	for i, c := range allChunks {
		dbChunks[i] = store.DocumentChunk{
			AgentID:     agentID,
			Content:     c.Content,
			Source:      c.Source,
			ChunkIndex:  c.ChunkIndex,
			TokenCount:  c.TokenCount,
			ContentHash: c.ContentHash,
		}
	}
	if _, err := p.store.ReplaceChunks(ctx, agentID, dbChunks, embeddings); err != nil {
		return fmt.Errorf("%w: %v", ErrIndexWriteFailure, err)
	}

	// 90% - update agent metadata.
	publish(90, "finalizing_agent")
	keywordsJSON, err := marshalKeywords(analysis.DomainKeywords)
	if err != nil {
		return fmt.Errorf("serializing domain keywords: %w", err)
	}
	if err := p.store.UpdateAgentDomainSignature(ctx, agentID, analysis.Domain, firstOrEmpty(analysis.SubDomains), keywordsJSON); err != nil {
		return fmt.Errorf("updating agent domain signature: %w", err)
	}
	if err := p.store.UpdateAgentStatus(ctx, agentID, "ready", len(allChunks)); err != nil {
		return fmt.Errorf("updating agent status: %w", err)
	}

	// 100% - complete.
	if err := p.store.CompleteJob(ctx, jobID, ""); err != nil {
		return fmt.Errorf("completing job: %w", err)
	}
	b.publish(ProgressEvent{AgentStatus: "ready", Progress: 100, CurrentStep: "completed"})

	return nil
}

func (p *Pipeline) embedAll(ctx context.Context, chunks []chunker.Chunk) ([][]float32, error) {
	out := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, end-start)
		for i, c := range chunks[start:end] {
			texts[i] = c.Content
		}
		embs, err := p.embedder.Embed(ctx, texts)
		if err != nil {
			return nil, err
		}
		out = append(out, embs...)
	}
	return out, nil
}

func firstOrEmpty(items []string) string {
	if len(items) == 0 {
		return ""
	}
	return items[0]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
