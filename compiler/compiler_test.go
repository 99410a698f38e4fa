//go:build cgo

package compiler

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/mexar/ragcore/chunker"
	"github.com/mexar/ragcore/llm"
	"github.com/mexar/ragcore/parser"
	"github.com/mexar/ragcore/store"
)

const testEmbeddingDim = 4

type stubProvider struct {
	analysisJSON string
}

func (s *stubProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	return &llm.ChatResponse{Content: s.analysisJSON}, nil
}

func (s *stubProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, testEmbeddingDim)
	}
	return out, nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.New(dbPath, testEmbeddingDim)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestPipeline(t *testing.T, analysis map[string]any) (*Pipeline, int64) {
	t.Helper()
	s := newTestStore(t)
	agentID, err := s.CreateAgent(context.Background(), store.Agent{
		TenantID:       "acme",
		Name:           "cook_bot",
		SystemPrompt:   "You are a cooking assistant.",
		EmbeddingModel: "bge-small-en-v1.5",
		Status:         "compiling",
	})
	if err != nil {
		t.Fatalf("creating agent: %v", err)
	}

	b, err := json.Marshal(analysis)
	if err != nil {
		t.Fatalf("marshaling analysis: %v", err)
	}

	chat := &stubProvider{analysisJSON: string(b)}
	p := New(s, NewRegistry(), parser.NewRegistry(), chunker.New(chunker.DefaultConfig()), chat, chat)
	return p, agentID
}

func sampleAnalysis() map[string]any {
	return map[string]any{
		"domain":          "cooking",
		"sub_domains":     []string{"italian"},
		"personality":     "warm",
		"constraints":     []string{},
		"suggested_name":  "Chef Bot",
		"domain_keywords": []string{"recipe", "ingredient", "cuisine", "cooking", "flavor", "dish", "kitchen", "chef", "menu", "taste"},
		"tone":            "friendly",
		"capabilities":    []string{"recipes"},
	}
}

func TestPipelineStartHappyPath(t *testing.T) {
	p, agentID := newTestPipeline(t, sampleAnalysis())

	files := []File{
		{Name: "notes.txt", Data: []byte(repeatWords("pasta ", 600))},
	}

	jobID, err := p.Start(context.Background(), agentID, "You are a cooking assistant.", files)
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if jobID == 0 {
		t.Fatal("expected non-zero job id")
	}

	agent, err := p.store.GetAgent(context.Background(), agentID)
	if err != nil {
		t.Fatalf("fetching agent: %v", err)
	}
	if agent.Status != "ready" {
		t.Errorf("expected agent status ready, got %q", agent.Status)
	}
	if agent.Domain != "cooking" {
		t.Errorf("expected domain cooking, got %q", agent.Domain)
	}

	count, err := p.store.ChunkCount(context.Background(), agentID)
	if err != nil {
		t.Fatalf("counting chunks: %v", err)
	}
	if count == 0 {
		t.Error("expected at least one chunk to have been written")
	}
}

func TestPipelineStartRejectsConcurrentCompilation(t *testing.T) {
	p, agentID := newTestPipeline(t, sampleAnalysis())
	b, ok := p.registry.acquire(agentID)
	if !ok {
		t.Fatal("expected first acquire to succeed")
	}
	defer p.registry.release(agentID)
	_ = b

	_, err := p.Start(context.Background(), agentID, "sys", nil)
	if err == nil {
		t.Fatal("expected Start to fail while a compilation is already in progress")
	}
}

func TestPipelineStartFailsOnEmptyCorpus(t *testing.T) {
	p, agentID := newTestPipeline(t, sampleAnalysis())

	files := []File{{Name: "empty.txt", Data: []byte("")}}
	_, err := p.Start(context.Background(), agentID, "sys", files)
	if err == nil {
		t.Fatal("expected Start to fail on a corpus with no usable content")
	}

	agent, gerr := p.store.GetAgent(context.Background(), agentID)
	if gerr != nil {
		t.Fatalf("fetching agent: %v", gerr)
	}
	if agent.Status != "failed" {
		t.Errorf("expected agent status failed, got %q", agent.Status)
	}
}

func TestPipelineReleasesLockAfterCompletion(t *testing.T) {
	p, agentID := newTestPipeline(t, sampleAnalysis())
	files := []File{{Name: "notes.txt", Data: []byte(repeatWords("pasta ", 600))}}

	if _, err := p.Start(context.Background(), agentID, "sys", files); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if _, ok := p.registry.acquire(agentID); !ok {
		t.Error("expected lock to be released after Start completes")
	}
}

func repeatWords(word string, n int) string {
	out := make([]byte, 0, len(word)*n)
	for i := 0; i < n; i++ {
		out = append(out, word...)
	}
	return string(out)
}
