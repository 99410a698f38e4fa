// Package rerank scores (query, candidate) pairs with a cross-encoder to
// sharpen the ordering hybrid retrieval produces.
package rerank

import (
	"context"
	"log/slog"
	"sort"

	"github.com/mexar/ragcore/store"
)

// maxContentChars truncates candidate content before scoring, matching the
// cross-encoder's practical token window.
const maxContentChars = 512

// degradedScore is the raw score assigned to every candidate when the
// cross-encoder is unavailable. It is chosen so that the orchestrator's
// normalized-rerank formula, (score+10)/20, evaluates to exactly 0.5 — the
// documented degraded-mode component.
const degradedScore = 0.0

// Scored pairs a retrieval result with its cross-encoder score.
type Scored struct {
	Result store.RetrievalResult
	Score  float64
}

// Reranker scores (query, candidate) pairs.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []store.RetrievalResult, k int) ([]Scored, bool, error)
}

// CrossEncoderFunc scores a single (query, content) pair. Implementations
// wrap an actual cross-encoder model; nil falls back to the degraded mode.
type CrossEncoderFunc func(ctx context.Context, query, content string) (float64, error)

// Engine reranks candidates with a cross-encoder, degrading gracefully to
// input order with a constant placeholder score if none is configured or
// scoring fails.
type Engine struct {
	score CrossEncoderFunc
}

// New creates a reranker. A nil scoreFn always operates in degraded mode.
func New(scoreFn CrossEncoderFunc) *Engine {
	return &Engine{score: scoreFn}
}

// Rerank scores candidates and returns the top-k in descending score order.
// The second return value reports whether the cross-encoder was actually
// used (false means degraded mode: input order, constant placeholder score).
func (e *Engine) Rerank(ctx context.Context, query string, candidates []store.RetrievalResult, k int) ([]Scored, bool, error) {
	if len(candidates) == 0 {
		return nil, true, nil
	}

	if e == nil || e.score == nil {
		return degrade(candidates, k), false, nil
	}

	scored := make([]Scored, len(candidates))
	for i, c := range candidates {
		content := c.Content
		if len(content) > maxContentChars {
			content = content[:maxContentChars]
		}
		s, err := e.score(ctx, query, content)
		if err != nil {
			slog.Warn("rerank: cross-encoder scoring failed, degrading to input order", "error", err)
			return degrade(candidates, k), false, nil
		}
		scored[i] = Scored{Result: c, Score: s}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if k > 0 && len(scored) > k {
		scored = scored[:k]
	}
	return scored, true, nil
}

func degrade(candidates []store.RetrievalResult, k int) []Scored {
	if k <= 0 || k > len(candidates) {
		k = len(candidates)
	}
	out := make([]Scored, k)
	for i := 0; i < k; i++ {
		out[i] = Scored{Result: candidates[i], Score: degradedScore}
	}
	return out
}
