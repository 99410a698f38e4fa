package attribution

import (
	"context"
	"strings"
	"testing"

	"github.com/mexar/ragcore/llm"
	"github.com/mexar/ragcore/store"
)

func TestSplitSentences(t *testing.T) {
	got := splitSentences("Apples are fruit. Oranges are too! What about cars?")
	want := []string{"Apples are fruit.", "Oranges are too!", "What about cars?"}
	if len(got) != len(want) {
		t.Fatalf("got %d sentences, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sentence %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestAttributeEmptyAnswerOrChunks(t *testing.T) {
	a, err := Attribute(context.Background(), nil, "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.AnswerWithCitations != "" || len(a.Sources) != 0 {
		t.Errorf("expected empty result for empty answer, got %+v", a)
	}

	a, err = Attribute(context.Background(), nil, "Some answer.", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.AnswerWithCitations != "Some answer." {
		t.Errorf("expected answer unchanged when no chunks, got %q", a.AnswerWithCitations)
	}
}

func TestAttributeWithoutEmbedderUsesFirstChunk(t *testing.T) {
	chunks := []store.RetrievalResult{
		{ChunkID: 1, Content: "apples are a fruit", Source: "fruit.txt"},
		{ChunkID: 2, Content: "cars are a vehicle", Source: "cars.txt"},
	}
	a, err := Attribute(context.Background(), nil, "Apples are a delicious fruit choice.", chunks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(a.AnswerWithCitations, "[1]") {
		t.Errorf("expected citation marker [1], got %q", a.AnswerWithCitations)
	}
	if len(a.Sources) != 1 || a.Sources[0].ChunkID != 1 {
		t.Errorf("expected single source citing chunk 1, got %+v", a.Sources)
	}
}

func TestAttributeSkipsShortSentences(t *testing.T) {
	chunks := []store.RetrievalResult{{ChunkID: 1, Content: "apples are a fruit", Source: "fruit.txt"}}
	a, err := Attribute(context.Background(), nil, "Yes. Apples are indeed a delicious fruit.", chunks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(a.AnswerWithCitations, "Yes. [1]") {
		t.Errorf("expected short sentence 'Yes.' to remain uncited, got %q", a.AnswerWithCitations)
	}
}

func TestAttributeDenseCitationNumbering(t *testing.T) {
	embedder := fakeEmbedder{
		"Apples are delicious and healthy fruit.": {1, 0, 0},
		"Cars need regular maintenance and fuel.": {0, 1, 0},
		"apples are a fruit":                      {1, 0, 0},
		"cars are a vehicle":                       {0, 1, 0},
	}
	chunks := []store.RetrievalResult{
		{ChunkID: 5, Content: "apples are a fruit", Source: "fruit.txt"},
		{ChunkID: 9, Content: "cars are a vehicle", Source: "cars.txt"},
	}
	answer := "Apples are delicious and healthy fruit. Cars need regular maintenance and fuel."
	a, err := Attribute(context.Background(), embedder, answer, chunks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(a.Sources) != 2 {
		t.Fatalf("expected 2 dense citation numbers, got %d: %+v", len(a.Sources), a.Sources)
	}
	if a.Sources[0].ChunkID != 5 || a.Sources[1].ChunkID != 9 {
		t.Errorf("expected citations ordered by first appearance, got %+v", a.Sources)
	}
}

func TestAttributeIdempotentInsertion(t *testing.T) {
	chunks := []store.RetrievalResult{{ChunkID: 1, Content: "apples are a fruit", Source: "fruit.txt"}}
	answer := "Apples are a great fruit. Apples are a great fruit."
	a, err := Attribute(context.Background(), nil, answer, chunks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Count(a.AnswerWithCitations, "[1]") != 2 {
		t.Errorf("expected one [1] marker per duplicate sentence occurrence, got %q", a.AnswerWithCitations)
	}
}

func TestCosineSimilarity(t *testing.T) {
	if sim := cosineSimilarity([]float32{1, 0}, []float32{1, 0}); sim != 1.0 {
		t.Errorf("expected identical vectors to have similarity 1.0, got %f", sim)
	}
	if sim := cosineSimilarity([]float32{1, 0}, []float32{0, 1}); sim != 0.0 {
		t.Errorf("expected orthogonal vectors to have similarity 0.0, got %f", sim)
	}
	if sim := cosineSimilarity(nil, nil); sim != 0.0 {
		t.Errorf("expected empty vectors to have similarity 0.0, got %f", sim)
	}
}

type fakeEmbedder map[string][]float32

func (f fakeEmbedder) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	return nil, nil
}

func (f fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f[t]
	}
	return out, nil
}
