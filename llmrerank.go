package ragcore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/mexar/ragcore/llm"
	"github.com/mexar/ragcore/rerank"
)

// crossEncoderFromChat adapts a chat-completion provider into a
// rerank.CrossEncoderFunc: it asks the model to rate query/content
// relevance on the same -10..10 scale a ms-marco-style cross-encoder
// produces, so the orchestrator's (score+10)/20 normalization stays
// correct whether the score came from a real cross-encoder or this
// LLM-backed substitute.
func crossEncoderFromChat(chat llm.Provider) rerank.CrossEncoderFunc {
	return func(ctx context.Context, query, content string) (float64, error) {
		resp, err := chat.Chat(ctx, llm.ChatRequest{
			Messages: []llm.Message{
				{Role: "system", Content: "You score how relevant a passage is to a query on a scale from -10 (irrelevant) to 10 (perfectly relevant). Respond with only the number."},
				{Role: "user", Content: fmt.Sprintf("Query: %s\n\nPassage: %s", query, content)},
			},
			Temperature: 0,
		})
		if err != nil {
			return 0, err
		}
		return parseRelevanceScore(resp.Content)
	}
}

func parseRelevanceScore(text string) (float64, error) {
	text = strings.TrimSpace(text)
	if score, err := strconv.ParseFloat(text, 64); err == nil {
		return clampScore(score), nil
	}

	var fields []string
	for _, f := range strings.Fields(text) {
		fields = append(fields, strings.Trim(f, ".,;:"))
	}
	for _, f := range fields {
		if score, err := strconv.ParseFloat(f, 64); err == nil {
			return clampScore(score), nil
		}
	}
	return 0, fmt.Errorf("ragcore: could not parse relevance score from %q", text)
}

func clampScore(score float64) float64 {
	if score < -10 {
		return -10
	}
	if score > 10 {
		return 10
	}
	return score
}

// decodeKeywords unmarshals the JSON array stored in
// store.Agent.DomainKeywords, returning nil on any decode failure
// rather than propagating it — an agent with malformed keyword
// metadata still answers, just without the keyword bonus.
func decodeKeywords(raw string) []string {
	if raw == "" {
		return nil
	}
	var keywords []string
	if err := json.Unmarshal([]byte(raw), &keywords); err != nil {
		return nil
	}
	return keywords
}
