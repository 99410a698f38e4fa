// Package retrieval implements hybrid dense+sparse chunk retrieval,
// fused by Reciprocal Rank Fusion, scoped to a single agent.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mexar/ragcore/llm"
	"github.com/mexar/ragcore/store"
)

// Config holds retrieval engine configuration.
type Config struct {
	WeightVector float64
	WeightFTS    float64

	// RRFK is the Reciprocal Rank Fusion constant (the "k" in
	// 1/(k+rank)). Defaults to 60, the standard value from the RRF
	// literature, when left at zero.
	RRFK int
}

// DefaultConfig returns equal weighting for the dense and sparse lists
// and the standard RRF constant.
func DefaultConfig() Config {
	return Config{WeightVector: 1.0, WeightFTS: 1.0, RRFK: defaultRRFK}
}

// SearchOptions configures a single search operation.
type SearchOptions struct {
	MaxResults int
	WeightVec  float64
	WeightFTS  float64
}

// SearchTrace records the breakdown of a hybrid search operation, for
// explainability in chat responses.
type SearchTrace struct {
	VecResults   int                       `json:"vec_results"`
	FTSResults   int                       `json:"fts_results"`
	FusedResults int                       `json:"fused_results"`
	VecWeight    float64                   `json:"vec_weight"`
	FTSWeight    float64                   `json:"fts_weight"`
	DegradedMode bool                      `json:"degraded_mode"` // sparse retrieval unavailable
	FTSQuery     string                    `json:"fts_query"`
	ElapsedMs    int64                     `json:"elapsed_ms"`
	PerResult    map[int64]FusedResultInfo `json:"per_result,omitempty"`
}

// Engine performs hybrid retrieval combining dense (vector) and sparse
// (full-text) search for a single agent's chunk index.
type Engine struct {
	store    *store.Store
	embedder llm.Provider
	cfg      Config
}

// New creates a new retrieval engine.
func New(s *store.Store, embedder llm.Provider, cfg Config) *Engine {
	if cfg.WeightVector == 0 && cfg.WeightFTS == 0 {
		cfg = DefaultConfig()
	}
	if cfg.RRFK == 0 {
		cfg.RRFK = defaultRRFK
	}
	return &Engine{store: s, embedder: embedder, cfg: cfg}
}

// Search performs hybrid_search(agent_id, query_text, query_embedding, k)
// per the chunk index contract: two independent retrievals (dense and
// sparse) fused by RRF. An empty or blank query returns an empty list,
// not an error. If sparse retrieval fails, falls back to dense-only as
// a documented degraded mode rather than failing the whole search.
func (e *Engine) Search(ctx context.Context, agentID int64, query string, opts SearchOptions) ([]store.RetrievalResult, *SearchTrace, error) {
	if strings.TrimSpace(query) == "" {
		return nil, &SearchTrace{}, nil
	}

	if opts.MaxResults <= 0 {
		opts.MaxResults = 20
	}
	if opts.WeightVec == 0 {
		opts.WeightVec = e.cfg.WeightVector
	}
	if opts.WeightFTS == 0 {
		opts.WeightFTS = e.cfg.WeightFTS
	}

	trace := &SearchTrace{VecWeight: opts.WeightVec, FTSWeight: opts.WeightFTS}

	// k1 = k2 = 2k, per the chunk index contract's default fan-out.
	candidateK := opts.MaxResults * 2

	ftsQuery := sanitizeFTSQuery(query)
	trace.FTSQuery = ftsQuery

	start := time.Now()

	type result struct {
		results []store.RetrievalResult
		err     error
	}
	vecCh := make(chan result, 1)
	ftsCh := make(chan result, 1)

	go func() {
		r, err := e.vectorSearch(ctx, agentID, query, candidateK)
		vecCh <- result{r, err}
	}()
	go func() {
		r, err := e.store.FTSSearch(ctx, agentID, ftsQuery, candidateK)
		ftsCh <- result{r, err}
	}()

	vecRes := <-vecCh
	ftsRes := <-ftsCh

	if ftsRes.err != nil {
		slog.Warn("retrieval: sparse search failed, degrading to dense-only", "error", ftsRes.err)
		ftsRes.results = nil
		trace.DegradedMode = true
	}
	if vecRes.err != nil && ftsRes.err != nil {
		return nil, trace, fmt.Errorf("both dense and sparse retrieval failed: dense=%w sparse=%v", vecRes.err, ftsRes.err)
	}

	trace.VecResults = len(vecRes.results)
	trace.FTSResults = len(ftsRes.results)

	fused, infoMap := fuseRRF(vecRes.results, ftsRes.results, opts.WeightVec, opts.WeightFTS, opts.MaxResults, e.cfg.RRFK)

	trace.FusedResults = len(fused)
	trace.PerResult = infoMap
	trace.ElapsedMs = time.Since(start).Milliseconds()

	return fused, trace, nil
}

// vectorSearch embeds the query and runs a KNN search scoped to the agent.
func (e *Engine) vectorSearch(ctx context.Context, agentID int64, query string, k int) ([]store.RetrievalResult, error) {
	embeddings, err := e.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 || len(embeddings[0]) == 0 {
		return nil, fmt.Errorf("empty embedding returned")
	}
	return e.store.VectorSearch(ctx, agentID, embeddings[0], k)
}
