// Package faithfulness measures how well a generated answer is grounded
// in the context it was synthesized from.
package faithfulness

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strings"

	"github.com/mexar/ragcore/llm"
)

const claimCharLimit = 2000
const contextCharLimit = 4000
const maxUnsupportedDisplay = 5
const maxFallbackClaims = 10
const minFallbackClaimLen = 20

var sentenceSplitRe = regexp.MustCompile(`(?:[.!?])\s+`)

// Result is the outcome of scoring an answer's faithfulness to its context.
type Result struct {
	Score             float64
	TotalClaims       int
	SupportedClaims   int
	UnsupportedClaims []string
}

const claimExtractionPrompt = `Extract individual factual claims from this answer.
A claim is a specific statement that can be verified as true or false.
Return ONLY a JSON array of strings, no explanation.

Answer: %q

Example output: ["Claim 1", "Claim 2", "Claim 3"]`

const claimVerificationPrompt = `Is this claim supported by the context? Answer only YES or NO.

Claim: %q

Context (first 4000 chars):
%q

Answer YES if the context contains information that supports this claim.
Answer NO if the claim cannot be verified from the context or contradicts it.`

// Score extracts atomic claims from answer via the LLM and verifies each
// against context, falling back to sentence splitting on claim-extraction
// failure and to an optimistic "supported" default on verification
// failure.
func Score(ctx context.Context, chat llm.Provider, answer, context string) Result {
	if answer == "" || context == "" {
		return Result{Score: 1.0}
	}

	claims := extractClaims(ctx, chat, answer)
	if len(claims) == 0 {
		return Result{Score: 1.0}
	}

	var supported int
	var unsupported []string
	for _, claim := range claims {
		if isSupported(ctx, chat, claim, context) {
			supported++
		} else {
			unsupported = append(unsupported, claim)
		}
	}

	if len(unsupported) > maxUnsupportedDisplay {
		unsupported = unsupported[:maxUnsupportedDisplay]
	}

	score := float64(supported) / float64(len(claims))
	return Result{
		Score:             math.Round(score*1000) / 1000,
		TotalClaims:       len(claims),
		SupportedClaims:   supported,
		UnsupportedClaims: unsupported,
	}
}

// QuickScore estimates faithfulness without any LLM calls, using answer/
// context word overlap as a proxy for grounding. Intended only for paths
// that explicitly opt out of the full claim-by-claim verification.
func QuickScore(answer, context string) float64 {
	if answer == "" || context == "" {
		return 0.5
	}

	answerWords := make(map[string]bool)
	for _, w := range strings.Fields(answer) {
		w = strings.ToLower(w)
		if len(w) > 4 {
			answerWords[w] = true
		}
	}
	if len(answerWords) == 0 {
		return 0.5
	}

	contextLower := strings.ToLower(context)
	var found int
	for w := range answerWords {
		if strings.Contains(contextLower, w) {
			found++
		}
	}

	overlap := float64(found) / float64(len(answerWords))
	score := overlap * 1.5
	if score > 1.0 {
		score = 1.0
	}
	return score
}

func extractClaims(ctx context.Context, chat llm.Provider, answer string) []string {
	truncated := answer
	if len(truncated) > claimCharLimit {
		truncated = truncated[:claimCharLimit]
	}

	resp, err := chat.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: "You extract factual claims. Return only valid JSON array."},
			{Role: "user", Content: fmt.Sprintf(claimExtractionPrompt, truncated)},
		},
		ResponseFormat: "json_object",
	})
	if err != nil {
		slog.Warn("faithfulness: claim extraction failed, falling back to sentence splitting", "error", err)
		return fallbackExtractClaims(answer)
	}

	var asList []string
	if err := json.Unmarshal([]byte(resp.Content), &asList); err == nil {
		return filterEmpty(asList)
	}

	var asObject map[string][]string
	if err := json.Unmarshal([]byte(resp.Content), &asObject); err == nil {
		if claims, ok := asObject["claims"]; ok {
			return filterEmpty(claims)
		}
		if claims, ok := asObject["statements"]; ok {
			return filterEmpty(claims)
		}
	}

	slog.Warn("faithfulness: failed to parse claims json, falling back to sentence splitting")
	return fallbackExtractClaims(answer)
}

func filterEmpty(claims []string) []string {
	out := claims[:0]
	for _, c := range claims {
		if strings.TrimSpace(c) != "" {
			out = append(out, c)
		}
	}
	return out
}

func fallbackExtractClaims(answer string) []string {
	var claims []string
	last := 0
	locs := sentenceSplitRe.FindAllStringIndex(answer, -1)
	for _, loc := range locs {
		end := loc[0] + 1
		claims = append(claims, strings.TrimSpace(answer[last:end]))
		last = loc[1]
	}
	if last < len(answer) {
		claims = append(claims, strings.TrimSpace(answer[last:]))
	}

	out := make([]string, 0, len(claims))
	for _, c := range claims {
		if len(c) > minFallbackClaimLen {
			out = append(out, c)
		}
		if len(out) == maxFallbackClaims {
			break
		}
	}
	return out
}

func isSupported(ctx context.Context, chat llm.Provider, claim, context string) bool {
	truncated := context
	if len(truncated) > contextCharLimit {
		truncated = truncated[:contextCharLimit]
	}

	resp, err := chat.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: "You verify claims. Answer only YES or NO."},
			{Role: "user", Content: fmt.Sprintf(claimVerificationPrompt, claim, truncated)},
		},
	})
	if err != nil {
		slog.Warn("faithfulness: claim verification failed, defaulting to supported", "error", err)
		return true
	}
	return strings.Contains(strings.ToUpper(resp.Content), "YES")
}
