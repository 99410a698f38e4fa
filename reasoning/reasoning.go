// Package reasoning implements the end-to-end per-query pipeline: domain
// guardrail, hybrid retrieval, reranking, answer synthesis, source
// attribution, faithfulness scoring, and calibrated confidence.
package reasoning

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mexar/ragcore/attribution"
	"github.com/mexar/ragcore/faithfulness"
	"github.com/mexar/ragcore/guardrail"
	"github.com/mexar/ragcore/llm"
	"github.com/mexar/ragcore/rerank"
	"github.com/mexar/ragcore/retrieval"
	"github.com/mexar/ragcore/store"
)

// retrievalTopK and rerankTopK are the fixed fan-out sizes of the
// pipeline's two retrieval stages.
const retrievalTopK = 20
const rerankTopK = 5

// contextCharLimit truncates the concatenated top-k context passed to
// the synthesizer.
const contextCharLimit = 80000

const outOfDomainConfidence = 0.1
const noResultsConfidence = 0.2

// Config holds reasoning engine configuration.
type Config struct {
	SystemPromptTemplate string

	// ConfidenceWeights controls the confidence formula's blend of
	// retrieval, rerank, and faithfulness signals. Zero value resolves
	// to DefaultConfidenceWeights.
	ConfidenceWeights ConfidenceWeights
}

// Request is a single query against an agent's compiled knowledge base.
type Request struct {
	Query             string
	MultimodalContext string
	SystemPrompt      string
	Signature         guardrail.Signature
}

// Answer is the final output of the reasoning pipeline.
type Answer struct {
	Text             string            `json:"text"`
	Confidence       float64           `json:"confidence"`
	InDomain         bool              `json:"in_domain"`
	Sources          []Source          `json:"sources"`
	Explainability   Explainability    `json:"explainability"`
	ModelUsed        string            `json:"model_used"`
	PromptTokens     int               `json:"prompt_tokens"`
	CompletionTokens int               `json:"completion_tokens"`
	TotalTokens      int               `json:"total_tokens"`
}

// Source is one cited chunk underlying the answer.
type Source struct {
	Citation   string  `json:"citation"`
	ChunkID    int64   `json:"chunk_id"`
	Source     string  `json:"source"`
	Preview    string  `json:"preview"`
	Similarity float64 `json:"similarity"`
}

// Explainability records why the pipeline produced the answer it did,
// independent of the answer text itself.
type Explainability struct {
	Summary            string   `json:"summary"`
	DomainScore        float64  `json:"domain_relevance"`
	RetrievalScore     float64  `json:"retrieval_quality"`
	RerankScore        float64  `json:"rerank_score"`
	Faithfulness       float64  `json:"faithfulness"`
	ClaimsSupported    int      `json:"claims_supported"`
	ClaimsTotal        int      `json:"claims_total"`
	UnsupportedClaims  []string `json:"unsupported_claims,omitempty"`
	RejectionReason    string   `json:"rejection_reason,omitempty"`
	ChunksRetrieved    int      `json:"chunks_retrieved"`
	ElapsedMs          int64    `json:"elapsed_ms"`
}

// Searcher performs hybrid_search for a single agent, matching
// retrieval.Engine's Search method. Abstracted so the orchestrator can
// be exercised with a stub in tests.
type Searcher interface {
	Search(ctx context.Context, agentID int64, query string, opts retrieval.SearchOptions) ([]store.RetrievalResult, *retrieval.SearchTrace, error)
}

// Engine runs the fixed single-pass reasoning pipeline for one agent's
// compiled knowledge base.
type Engine struct {
	retrieval  Searcher
	reranker   rerank.Reranker
	chat       llm.Provider
	embedder   llm.Provider
	quickFaith bool
	cfg        Config
}

// New creates a reasoning engine. embedder may be nil, in which case
// source attribution falls back to its single-candidate default. If
// quickFaithfulness is true, faithfulness is estimated via word overlap
// instead of per-claim LLM verification.
func New(retriever Searcher, reranker rerank.Reranker, chat, embedder llm.Provider, quickFaithfulness bool, cfg Config) *Engine {
	if cfg.ConfidenceWeights.isZero() {
		cfg.ConfidenceWeights = DefaultConfidenceWeights()
	}
	return &Engine{
		retrieval:  retriever,
		reranker:   reranker,
		chat:       chat,
		embedder:   embedder,
		quickFaith: quickFaithfulness,
		cfg:        cfg,
	}
}

// Reason runs the pipeline: guardrail, hybrid search, rerank, synthesis,
// attribution, faithfulness scoring, and confidence calibration.
func (e *Engine) Reason(ctx context.Context, agentID int64, req Request) (*Answer, error) {
	start := time.Now()

	fullQuery := req.Query
	if req.MultimodalContext != "" {
		fullQuery = req.Query + "\n\n[ADDITIONAL CONTEXT]\n" + req.MultimodalContext
	}

	// Step 3: domain guardrail.
	guardResult := guardrail.Check(fullQuery, req.Signature)
	if !guardResult.InDomain {
		slog.Info("reasoning: query rejected by guardrail", "score", guardResult.Score, "domain", req.Signature.Domain)
		return outOfDomainAnswer(req, guardResult, start), nil
	}

	// Step 4: hybrid search.
	results, trace, err := e.retrieval.Search(ctx, agentID, fullQuery, retrieval.SearchOptions{MaxResults: retrievalTopK})
	if err != nil {
		return nil, fmt.Errorf("hybrid search: %w", err)
	}
	if len(results) == 0 {
		return noResultsAnswer(req, guardResult, start), nil
	}

	topRRF := results[0].Score

	// Step 5: rerank top-20 to top-5.
	reranked, rerankUsed, err := e.reranker.Rerank(ctx, fullQuery, results, rerankTopK)
	if err != nil {
		return nil, fmt.Errorf("rerank: %w", err)
	}
	topChunks := make([]store.RetrievalResult, len(reranked))
	for i, r := range reranked {
		topChunks[i] = r.Result
	}

	var topRerank float64
	if rerankUsed && len(reranked) > 0 {
		topRerank = reranked[0].Score
	}

	// Step 6: concatenate context.
	contextStr := buildContext(topChunks)

	// Step 7: synthesize.
	answerText, resp := e.generate(ctx, req, contextStr)

	// Step 8: source attribution.
	attributed, err := attribution.Attribute(ctx, e.embedder, answerText, topChunks)
	if err != nil {
		slog.Warn("reasoning: source attribution failed", "error", err)
		attributed = attribution.AttributedAnswer{AnswerWithCitations: answerText}
	}

	// Step 9: faithfulness scoring.
	var faith faithfulness.Result
	if e.quickFaith {
		faith = faithfulness.Result{Score: faithfulness.QuickScore(answerText, contextStr)}
	} else {
		faith = faithfulness.Score(ctx, e.chat, answerText, contextStr)
	}

	// Step 10: confidence.
	confidence := computeConfidence(topRRF, topRerank, faith.Score, e.cfg.ConfidenceWeights)

	sources := make([]Source, len(attributed.Sources))
	for i, s := range attributed.Sources {
		sources[i] = Source{
			Citation:   s.Citation,
			ChunkID:    s.ChunkID,
			Source:     s.Source,
			Preview:    s.Preview,
			Similarity: s.Similarity,
		}
	}

	answer := &Answer{
		Text:       attributed.AnswerWithCitations,
		Confidence: confidence,
		InDomain:   true,
		Sources:    sources,
		Explainability: Explainability{
			Summary:           fmt.Sprintf("Answer derived from %d retrieved sources with %.0f%% faithfulness", len(topChunks), faith.Score*100),
			DomainScore:       guardResult.Score,
			RetrievalScore:    topRRF,
			RerankScore:       topRerank,
			Faithfulness:      faith.Score,
			ClaimsSupported:   faith.SupportedClaims,
			ClaimsTotal:       faith.TotalClaims,
			UnsupportedClaims: faith.UnsupportedClaims,
			ChunksRetrieved:   len(results),
			ElapsedMs:         time.Since(start).Milliseconds(),
		},
	}
	if resp != nil {
		answer.ModelUsed = resp.Model
		answer.PromptTokens = resp.PromptTokens
		answer.CompletionTokens = resp.CompletionTokens
		answer.TotalTokens = resp.TotalTokens
	}

	slog.Info("reasoning: complete", "confidence", confidence, "chunks", len(topChunks), "faithfulness", faith.Score, "degraded_retrieval", trace.DegradedMode)
	return answer, nil
}

func (e *Engine) generate(ctx context.Context, req Request, contextStr string) (string, *llm.ChatResponse) {
	multimodalSection := ""
	if req.MultimodalContext != "" {
		multimodalSection = "\n\nMULTIMODAL INPUT:\n" + req.MultimodalContext +
			"\n\nWhen the user asks about uploaded media, use the descriptions above to answer."
	}

	truncatedContext := contextStr
	if len(truncatedContext) > contextCharLimit {
		truncatedContext = truncatedContext[:contextCharLimit]
	}

	fullSystemPrompt := fmt.Sprintf(`%s

RETRIEVED KNOWLEDGE BASE CONTEXT:
%s%s

IMPORTANT INSTRUCTIONS:
1. Use the retrieved context to answer knowledge-base questions.
2. Use the multimodal input section for questions about uploaded media.
3. If information is not available in any source, say "I don't have information about that".
4. Quote directly from the context when possible.`, req.SystemPrompt, truncatedContext, multimodalSection)

	resp, err := e.chat.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: fullSystemPrompt},
			{Role: "user", Content: req.Query},
		},
	})
	if err != nil {
		slog.Error("reasoning: answer synthesis failed", "error", err)
		return "I apologize, but I encountered an error processing your query. Please try again.", nil
	}
	return resp.Content, resp
}

func buildContext(chunks []store.RetrievalResult) string {
	contents := make([]string, len(chunks))
	for i, c := range chunks {
		contents[i] = c.Content
	}
	return strings.Join(contents, "\n\n---\n\n")
}

func outOfDomainAnswer(req Request, guardResult guardrail.Result, start time.Time) *Answer {
	domain := req.Signature.Domain
	if domain == "" {
		domain = "unknown"
	}
	text := fmt.Sprintf(`I apologize, but your question appears to be outside my area of expertise.

I am a specialized %s assistant and can only answer questions related to that domain based on my knowledge base.

Your query doesn't seem to match the topics I'm trained on (relevance score: %.0f%%).

Would you like to rephrase your question to focus on %s?`, strings.ToUpper(domain[:1])+domain[1:], guardResult.Score*100, domain)

	return &Answer{
		Text:       text,
		Confidence: outOfDomainConfidence,
		InDomain:   false,
		Explainability: Explainability{
			Summary:         "Query rejected - outside domain expertise",
			DomainScore:     guardResult.Score,
			RejectionReason: "out_of_domain",
			ElapsedMs:       time.Since(start).Milliseconds(),
		},
	}
}

func noResultsAnswer(req Request, guardResult guardrail.Result, start time.Time) *Answer {
	domain := req.Signature.Domain
	if domain == "" {
		domain = "the domain"
	}
	text := fmt.Sprintf(`I couldn't find relevant information in my knowledge base to answer your question.

This could mean:
- The topic isn't covered in my training data
- Try rephrasing your question with different keywords
- Ask about a more specific aspect of %s`, domain)

	return &Answer{
		Text:       text,
		Confidence: noResultsConfidence,
		InDomain:   true,
		Explainability: Explainability{
			Summary:         "No relevant chunks found in knowledge base",
			DomainScore:     guardResult.Score,
			RejectionReason: "no_relevant_retrieval",
			ElapsedMs:       time.Since(start).Milliseconds(),
		},
	}
}
