// Package ragcore is the core engine for a multi-tenant retrieval-augmented
// question-answering platform: parse and chunk a tenant's documents,
// compile them into a per-agent hybrid dense+sparse index, and answer
// questions against that index with attributed, faithfulness-scored
// responses.
package ragcore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/mexar/ragcore/chunker"
	"github.com/mexar/ragcore/compiler"
	"github.com/mexar/ragcore/guardrail"
	"github.com/mexar/ragcore/llm"
	"github.com/mexar/ragcore/parser"
	"github.com/mexar/ragcore/reasoning"
	"github.com/mexar/ragcore/rerank"
	"github.com/mexar/ragcore/retrieval"
	"github.com/mexar/ragcore/store"
)

// Engine is the main entry point for the RAG core.
type Engine interface {
	// CreateAndCompileAgent creates an agent and starts compiling its
	// knowledge base from files in the background. Returns the new
	// agent's ID immediately; progress is observed via
	// SubscribeCompilation or GetAgentStatus.
	CreateAndCompileAgent(ctx context.Context, tenantID, name, systemPrompt string, files []compiler.File, opts ...CreateOption) (int64, error)

	// Recompile re-runs compilation for an existing agent against a new
	// file set, enforcing the single-writer-per-agent invariant.
	Recompile(ctx context.Context, agentID int64, files []compiler.File) error

	// GetAgentStatus returns the agent's current persisted state.
	GetAgentStatus(ctx context.Context, agentID int64) (*store.Agent, error)

	// SubscribeCompilation returns a progress stream for an in-flight
	// or most-recently-finished compilation.
	SubscribeCompilation(agentID int64) <-chan compiler.ProgressEvent

	// Chat answers a question against an agent's compiled knowledge
	// base, returning the synthesized, attributed answer.
	Chat(ctx context.Context, agentID int64, query string, opts ...ChatOption) (*reasoning.Answer, error)

	// DeleteAgent removes an agent, its chunks, jobs, and on-disk
	// artifacts.
	DeleteAgent(ctx context.Context, agentID int64) error

	// ResolveAgent looks up an agent by its normalized (tenant, name).
	ResolveAgent(ctx context.Context, tenantID, name string) (*store.Agent, error)

	// Store returns the underlying store for diagnostic access.
	Store() *store.Store

	// Close cleanly shuts down the engine.
	Close() error
}

// CreateOption configures agent creation.
type CreateOption func(*createOptions)

type createOptions struct {
	embeddingModel string
}

// WithEmbeddingModel overrides the embedding model recorded for the
// agent. Defaults to the engine's configured embedding model.
func WithEmbeddingModel(model string) CreateOption {
	return func(o *createOptions) { o.embeddingModel = model }
}

// ChatOption configures a single Chat call.
type ChatOption func(*chatOptions)

type chatOptions struct {
	multimodalContext string
}

// WithMultimodalContext attaches additional context (e.g. a vision
// caption or a transcript) appended to the query before retrieval.
func WithMultimodalContext(context string) ChatOption {
	return func(o *chatOptions) { o.multimodalContext = context }
}

// engine is the concrete implementation of Engine.
type engine struct {
	cfg       Config
	store     *store.Store
	chatLLM   llm.Provider
	embedLLM  llm.Provider
	registry  *compiler.Registry
	pipeline  *compiler.Pipeline
	reasoner  *reasoning.Engine

	mu    sync.Mutex
	cache map[string]*store.Agent // key: tenantID + "\x00" + name
}

// New creates a new ragcore engine with the given configuration.
func New(cfg Config) (Engine, error) {
	dbPath := cfg.resolveDBPath()

	if cfg.EmbeddingDim == 0 {
		cfg.EmbeddingDim = 384
	}

	s, err := store.New(dbPath, cfg.EmbeddingDim)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	chatLLM, err := llm.NewProvider(llm.Config{
		Provider: cfg.Chat.Provider,
		Model:    cfg.Chat.Model,
		BaseURL:  cfg.Chat.BaseURL,
		APIKey:   cfg.Chat.APIKey,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("creating chat provider: %w", err)
	}

	embedLLM, err := llm.NewProvider(llm.Config{
		Provider: cfg.Embedding.Provider,
		Model:    cfg.Embedding.Model,
		BaseURL:  cfg.Embedding.BaseURL,
		APIKey:   cfg.Embedding.APIKey,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}

	var rerankEngine *rerank.Engine
	if cfg.Rerank.Provider != "" {
		rerankLLM, err := llm.NewProvider(llm.Config{
			Provider: cfg.Rerank.Provider,
			Model:    cfg.Rerank.Model,
			BaseURL:  cfg.Rerank.BaseURL,
			APIKey:   cfg.Rerank.APIKey,
		})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("creating rerank provider: %w", err)
		}
		rerankEngine = rerank.New(crossEncoderFromChat(rerankLLM))
	} else {
		rerankEngine = rerank.New(nil)
	}

	parsers := parser.NewRegistry()
	chunkr := chunker.New(chunker.Config{TargetWords: cfg.MaxChunkTokens})

	retriever := retrieval.New(s, embedLLM, retrieval.Config{
		WeightVector: cfg.WeightVector,
		WeightFTS:    cfg.WeightFTS,
		RRFK:         cfg.RRFK,
	})

	reasoner := reasoning.New(retriever, rerankEngine, chatLLM, embedLLM, cfg.QuickFaithfulness, reasoning.Config{
		ConfidenceWeights: cfg.ConfidenceWeights,
	})

	registry := compiler.NewRegistry()
	pipeline := compiler.New(s, registry, parsers, chunkr, chatLLM, embedLLM)

	return &engine{
		cfg:      cfg,
		store:    s,
		chatLLM:  chatLLM,
		embedLLM: embedLLM,
		registry: registry,
		pipeline: pipeline,
		reasoner: reasoner,
		cache:    make(map[string]*store.Agent),
	}, nil
}

// normalizeAgentName trims, lowercases, and replaces spaces with
// underscores, per the registry's name-normalization contract.
func normalizeAgentName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ToLower(name)
	return strings.ReplaceAll(name, " ", "_")
}

func (e *engine) cacheKey(tenantID, name string) string {
	return tenantID + "\x00" + name
}

func (e *engine) invalidateCache(tenantID, name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.cache, e.cacheKey(tenantID, name))
}

func (e *engine) CreateAndCompileAgent(ctx context.Context, tenantID, name, systemPrompt string, files []compiler.File, opts ...CreateOption) (int64, error) {
	options := &createOptions{embeddingModel: e.cfg.Embedding.Model}
	for _, o := range opts {
		o(options)
	}

	normalized := normalizeAgentName(name)
	if existing, err := e.store.GetAgentByName(ctx, tenantID, normalized); err == nil && existing != nil {
		return 0, ErrAgentExists
	}

	agentID, err := e.store.CreateAgent(ctx, store.Agent{
		TenantID:       tenantID,
		Name:           normalized,
		SystemPrompt:   systemPrompt,
		EmbeddingModel: options.embeddingModel,
		Status:         "compiling",
	})
	if err != nil {
		return 0, fmt.Errorf("creating agent: %w", err)
	}

	session, err := e.pipeline.Begin(ctx, agentID)
	if err != nil {
		if uerr := e.store.UpdateAgentStatus(ctx, agentID, "failed", 0); uerr != nil {
			slog.Error("ragcore: failed to mark agent failed after compile begin error", "agent_id", agentID, "error", uerr)
		}
		return 0, err
	}

	go func() {
		// Failure is already recorded on the job and the agent by the
		// pipeline; callers observe state via SubscribeCompilation or
		// GetAgentStatus.
		_, _ = session.Run(context.Background(), systemPrompt, files)
		e.invalidateCache(tenantID, normalized)
	}()

	return agentID, nil
}

func (e *engine) Recompile(ctx context.Context, agentID int64, files []compiler.File) error {
	agent, err := e.store.GetAgent(ctx, agentID)
	if err != nil {
		return ErrAgentNotFound
	}

	// Begin claims the single-writer lock and surfaces
	// ErrConflictingCompilation synchronously, before the agent's status
	// is touched. Otherwise a rejected Recompile would still flip the
	// agent to "compiling" and leave it stuck there forever, since the
	// goroutine's failed acquire would have nothing to undo that state.
	session, err := e.pipeline.Begin(ctx, agentID)
	if err != nil {
		return err
	}

	if err := e.store.UpdateAgentStatus(ctx, agentID, "compiling", agent.ChunkCount); err != nil {
		session.Abort(ctx, err)
		return fmt.Errorf("marking agent compiling: %w", err)
	}
	e.invalidateCache(agent.TenantID, agent.Name)

	go func() {
		_, _ = session.Run(context.Background(), agent.SystemPrompt, files)
		e.invalidateCache(agent.TenantID, agent.Name)
	}()

	return nil
}

func (e *engine) GetAgentStatus(ctx context.Context, agentID int64) (*store.Agent, error) {
	agent, err := e.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, ErrAgentNotFound
	}
	return agent, nil
}

func (e *engine) SubscribeCompilation(agentID int64) <-chan compiler.ProgressEvent {
	return e.registry.Subscribe(agentID)
}

func (e *engine) Chat(ctx context.Context, agentID int64, query string, opts ...ChatOption) (*reasoning.Answer, error) {
	options := &chatOptions{}
	for _, o := range opts {
		o(options)
	}

	agent, err := e.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, ErrAgentNotFound
	}
	if agent.Status != "ready" {
		return nil, ErrNotReady
	}

	subDomains := splitNonEmpty(agent.SubDomain)
	keywords := decodeKeywords(agent.DomainKeywords)

	sig := guardrail.Signature{
		Domain:         agent.Domain,
		SubDomains:     subDomains,
		DomainKeywords: keywords,
		Terms:          flattenSignatureTerms(agent.Domain, subDomains, keywords),
	}

	return e.reasoner.Reason(ctx, agentID, reasoning.Request{
		Query:             query,
		MultimodalContext: options.multimodalContext,
		SystemPrompt:      agent.SystemPrompt,
		Signature:         sig,
	})
}

func (e *engine) DeleteAgent(ctx context.Context, agentID int64) error {
	agent, err := e.store.GetAgent(ctx, agentID)
	if err != nil {
		return ErrAgentNotFound
	}

	artifactDir, err := e.store.DeleteAgent(ctx, agentID)
	if err != nil {
		return fmt.Errorf("deleting agent: %w", err)
	}

	if artifactDir != "" {
		if err := os.RemoveAll(artifactDir); err != nil {
			return fmt.Errorf("removing artifact directory: %w", err)
		}
	}

	e.invalidateCache(agent.TenantID, agent.Name)
	return nil
}

func (e *engine) ResolveAgent(ctx context.Context, tenantID, name string) (*store.Agent, error) {
	normalized := normalizeAgentName(name)
	key := e.cacheKey(tenantID, normalized)

	e.mu.Lock()
	if cached, ok := e.cache[key]; ok {
		e.mu.Unlock()
		return cached, nil
	}
	e.mu.Unlock()

	agent, err := e.store.GetAgentByName(ctx, tenantID, normalized)
	if err != nil {
		return nil, ErrAgentNotFound
	}

	e.mu.Lock()
	e.cache[key] = agent
	e.mu.Unlock()

	return agent, nil
}

func (e *engine) Store() *store.Store { return e.store }

func (e *engine) Close() error { return e.store.Close() }

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}

// flattenSignatureTerms builds the guardrail's fuzzy-match vocabulary
// from an agent's domain, sub-domains, and domain keywords.
func flattenSignatureTerms(domain string, subDomains, keywords []string) []string {
	terms := make([]string, 0, 1+len(subDomains)+len(keywords))
	if domain != "" {
		terms = append(terms, domain)
	}
	terms = append(terms, subDomains...)
	terms = append(terms, keywords...)
	return terms
}
