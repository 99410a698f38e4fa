// Package promptanalyzer extracts a structured domain profile from an
// agent's free-form system prompt; its domain signature is what the
// guardrail checks queries against to stay on-topic.
package promptanalyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/mexar/ragcore/llm"
)

var titleCaser = cases.Title(language.English)

// Analysis is the structured metadata extracted from a system prompt.
type Analysis struct {
	Domain         string   `json:"domain"`
	SubDomains     []string `json:"sub_domains"`
	Personality    string   `json:"personality"`
	Constraints    []string `json:"constraints"`
	SuggestedName  string   `json:"suggested_name"`
	DomainKeywords []string `json:"domain_keywords"`
	Tone           string   `json:"tone"`
	Capabilities   []string `json:"capabilities"`
}

const minKeywords = 10
const maxKeywords = 20

// domainDefaults seeds domain_keywords when the LLM (or the lexical
// fallback) produces too few, covering the domains most agents compile
// against out of the box.
var domainDefaults = map[string][]string{
	"medical": {
		"health", "patient", "doctor", "treatment", "diagnosis", "symptoms",
		"medicine", "hospital", "disease", "therapy", "prescription", "clinic",
		"medical", "healthcare", "wellness", "condition", "care", "physician",
		"nurse", "medication",
	},
	"legal": {
		"law", "court", "legal", "attorney", "lawyer", "case", "contract",
		"rights", "litigation", "judge", "verdict", "lawsuit", "compliance",
		"regulation", "statute", "defendant", "plaintiff", "trial", "evidence",
		"testimony",
	},
	"cooking": {
		"recipe", "cook", "ingredient", "food", "kitchen", "meal", "dish",
		"flavor", "cuisine", "bake", "chef", "cooking", "taste", "serve",
		"prepare", "dinner", "lunch", "breakfast", "snack", "dessert",
	},
	"technology": {
		"software", "code", "programming", "computer", "system", "data",
		"network", "security", "cloud", "application", "development",
		"algorithm", "database", "api", "server", "hardware", "digital",
		"technology", "tech", "it",
	},
	"finance": {
		"money", "investment", "bank", "finance", "budget", "tax", "stock",
		"credit", "loan", "savings", "financial", "accounting", "capital",
		"asset", "portfolio", "market", "trading", "insurance", "wealth",
		"income",
	},
}

// domainIndicators is a smaller indicator set used by the lexical fallback
// path to guess a domain from raw prompt words.
var domainIndicators = map[string][]string{
	"medical":    {"medical", "doctor", "patient", "health", "hospital", "treatment"},
	"legal":      {"legal", "law", "attorney", "court", "contract", "rights"},
	"cooking":    {"cook", "recipe", "food", "chef", "kitchen", "ingredient"},
	"technology": {"tech", "software", "code", "programming", "computer"},
	"finance":    {"finance", "money", "bank", "investment", "budget"},
}

const analysisPrompt = `You are a prompt analysis expert. Analyze the following system prompt and extract structured metadata.

SYSTEM PROMPT TO ANALYZE:
"""
%s
"""

Respond with a JSON object containing:
{
    "domain": "primary domain (e.g., medical, legal, cooking, technology, finance, education)",
    "sub_domains": ["list", "of", "related", "sub-domains"],
    "personality": "brief personality description (e.g., friendly, professional, empathetic)",
    "constraints": ["list", "of", "behavioral", "constraints"],
    "suggested_name": "creative agent name based on domain and personality",
    "domain_keywords": ["20", "keywords", "that", "define", "this", "domain"],
    "tone": "communication tone (formal/casual/empathetic/technical)",
    "capabilities": ["list", "of", "what", "agent", "can", "do"]
}

Be thorough with domain_keywords - these are crucial for query filtering.`

// Analyze extracts a domain profile from systemPrompt, asking the LLM
// first and falling back to lexical detection on any failure.
func Analyze(ctx context.Context, chat llm.Provider, systemPrompt string) (Analysis, error) {
	resp, err := chat.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: "You are a JSON extraction assistant. Return only valid JSON, no markdown or explanation."},
			{Role: "user", Content: fmt.Sprintf(analysisPrompt, systemPrompt)},
		},
		ResponseFormat: "json_object",
	})
	if err != nil {
		slog.Warn("promptanalyzer: llm analysis failed, falling back to lexical detection", "error", err)
		return fallback(systemPrompt), nil
	}

	var a Analysis
	if err := json.Unmarshal([]byte(resp.Content), &a); err != nil {
		slog.Warn("promptanalyzer: failed to parse llm response as json, falling back to lexical detection", "error", err)
		return fallback(systemPrompt), nil
	}

	return ensureFields(a), nil
}

// ensureFields fills missing fields with defaults and pads domain_keywords
// from the domain-defaults table.
func ensureFields(a Analysis) Analysis {
	if a.Domain == "" {
		a.Domain = "general"
	}
	if a.Personality == "" {
		a.Personality = "helpful and professional"
	}
	if a.SuggestedName == "" {
		a.SuggestedName = "Knowledge Agent"
	}
	if a.Tone == "" {
		a.Tone = "professional"
	}
	if len(a.DomainKeywords) < minKeywords {
		a.DomainKeywords = expandKeywords(a.DomainKeywords, a.Domain)
	} else {
		hasDomain := false
		for _, k := range a.DomainKeywords {
			if strings.EqualFold(k, a.Domain) {
				hasDomain = true
				break
			}
		}
		if !hasDomain {
			a.DomainKeywords = append([]string{a.Domain}, a.DomainKeywords...)
		}
	}
	return a
}

// expandKeywords pads an existing keyword list with domain defaults,
// always including the domain itself, up to maxKeywords entries.
func expandKeywords(existing []string, domain string) []string {
	keywords := append([]string(nil), existing...)
	seen := make(map[string]bool, len(keywords))
	for _, k := range keywords {
		seen[strings.ToLower(k)] = true
	}
	if !seen[strings.ToLower(domain)] {
		keywords = append([]string{domain}, keywords...)
		seen[strings.ToLower(domain)] = true
	}

	if defaults, ok := domainDefaults[strings.ToLower(domain)]; ok {
		for _, kw := range defaults {
			if len(keywords) >= maxKeywords {
				break
			}
			if !seen[strings.ToLower(kw)] {
				keywords = append(keywords, kw)
				seen[strings.ToLower(kw)] = true
			}
		}
	}

	if len(keywords) > maxKeywords {
		keywords = keywords[:maxKeywords]
	}
	return keywords
}

// fallback performs lexical domain detection when the LLM is unavailable
// or returns unparseable output. The first matching domain wins; if none
// match, the domain is "general".
func fallback(systemPrompt string) Analysis {
	words := strings.Fields(strings.ToLower(systemPrompt))
	wordSet := make(map[string]bool, len(words))
	for _, w := range words {
		wordSet[w] = true
	}

	detected := "general"
	for _, domain := range []string{"medical", "legal", "cooking", "technology", "finance"} {
		for _, ind := range domainIndicators[domain] {
			if wordSet[ind] {
				detected = domain
				break
			}
		}
		if detected != "general" {
			break
		}
	}

	return Analysis{
		Domain:         detected,
		SubDomains:     nil,
		Personality:    "helpful assistant",
		Constraints:    []string{"Stay within knowledge base", "Be accurate"},
		SuggestedName:  fmt.Sprintf("%s Agent", titleCaser.String(detected)),
		DomainKeywords: expandKeywords(nil, detected),
		Tone:           "professional",
		Capabilities:   []string{"Answer questions", "Provide information"},
	}
}
