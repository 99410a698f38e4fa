package promptanalyzer

import (
	"context"
	"errors"
	"testing"

	"github.com/mexar/ragcore/llm"
)

type stubProvider struct {
	content string
	err     error
}

func (s *stubProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &llm.ChatResponse{Content: s.content}, nil
}

func (s *stubProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("not implemented")
}

func TestAnalyzeParsesLLMJSON(t *testing.T) {
	p := &stubProvider{content: `{"domain":"medical","sub_domains":["oncology"],"personality":"empathetic","constraints":["be accurate"],"suggested_name":"Doc Bot","domain_keywords":["health","patient","doctor","treatment","diagnosis","symptoms","medicine","hospital","disease","therapy","prescription"],"tone":"empathetic","capabilities":["answer questions"]}`}
	a, err := Analyze(context.Background(), p, "You are a medical assistant.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Domain != "medical" {
		t.Errorf("expected domain medical, got %q", a.Domain)
	}
	if len(a.DomainKeywords) < minKeywords {
		t.Errorf("expected at least %d keywords, got %d", minKeywords, len(a.DomainKeywords))
	}
}

func TestAnalyzePadsShortKeywordList(t *testing.T) {
	p := &stubProvider{content: `{"domain":"legal","domain_keywords":["law","court"]}`}
	a, err := Analyze(context.Background(), p, "You are a legal assistant.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(a.DomainKeywords) < minKeywords {
		t.Errorf("expected padded keywords >= %d, got %d", minKeywords, len(a.DomainKeywords))
	}
	found := false
	for _, k := range a.DomainKeywords {
		if k == "legal" {
			found = true
		}
	}
	if !found {
		t.Error("expected domain itself to be included in domain_keywords")
	}
}

func TestAnalyzeFallsBackOnLLMError(t *testing.T) {
	p := &stubProvider{err: errors.New("provider down")}
	a, err := Analyze(context.Background(), p, "You are a friendly recipe chef helping with cooking.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Domain != "cooking" {
		t.Errorf("expected lexical fallback to detect cooking domain, got %q", a.Domain)
	}
}

func TestAnalyzeFallsBackOnInvalidJSON(t *testing.T) {
	p := &stubProvider{content: "not json"}
	a, err := Analyze(context.Background(), p, "You are a financial advisor discussing budget and savings.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Domain != "finance" {
		t.Errorf("expected lexical fallback to detect finance domain, got %q", a.Domain)
	}
}

func TestFallbackUnknownDomainIsGeneral(t *testing.T) {
	a := fallback("You are a friendly assistant for general conversation.")
	if a.Domain != "general" {
		t.Errorf("expected general domain when no indicators match, got %q", a.Domain)
	}
}

func TestExpandKeywordsCapsAtMax(t *testing.T) {
	existing := make([]string, 0, 25)
	for i := 0; i < 25; i++ {
		existing = append(existing, "kw")
	}
	got := expandKeywords(existing, "technology")
	if len(got) > maxKeywords {
		t.Errorf("expected at most %d keywords, got %d", maxKeywords, len(got))
	}
}
