// Package attribution links each sentence of a generated answer back to
// the retrieved chunk that best supports it, producing inline citations.
package attribution

import (
	"context"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/mexar/ragcore/llm"
	"github.com/mexar/ragcore/store"
)

// minCitableWords is the minimum sentence length, in words, for a
// sentence to be eligible for citation. Shorter sentences are left
// uncited as non-substantive.
const minCitableWords = 4

// previewChars is the length of the source preview shown alongside a
// citation.
const previewChars = 150

var sentenceSplitRe = regexp.MustCompile(`(?:[.!?])\s+`)

// Source is one entry in an AttributedAnswer's ordered source list.
type Source struct {
	Citation   string
	ChunkID    int64
	Source     string
	Preview    string
	Similarity float64
}

// AttributedAnswer is the result of attributing an answer's sentences to
// their supporting chunks.
type AttributedAnswer struct {
	AnswerWithCitations string
	Sources             []Source
}

// Attribute splits answer into sentences, assigns each to its most
// similar candidate chunk by cosine similarity of embeddings, and
// inserts dense "[N]" citation markers in order of first appearance.
// If embedder is nil, every eligible sentence is attributed to the
// first candidate with a placeholder similarity of 0.5.
func Attribute(ctx context.Context, embedder llm.Provider, answer string, chunks []store.RetrievalResult) (AttributedAnswer, error) {
	if answer == "" || len(chunks) == 0 {
		return AttributedAnswer{AnswerWithCitations: answer}, nil
	}

	var chunkEmbeddings [][]float32
	if embedder != nil {
		contents := make([]string, len(chunks))
		for i, c := range chunks {
			contents[i] = c.Content
		}
		embs, err := embedder.Embed(ctx, contents)
		if err == nil && len(embs) == len(chunks) {
			chunkEmbeddings = embs
		}
	}

	sentences := splitSentences(answer)

	type attributed struct {
		text       string
		citation   int
		chunk      store.RetrievalResult
		similarity float64
	}

	citationByChunk := make(map[int64]int)
	var order []attributed

	for _, sentence := range sentences {
		if len(strings.Fields(sentence)) < minCitableWords {
			continue
		}

		chunk, similarity, err := findBestSource(ctx, embedder, sentence, chunks, chunkEmbeddings)
		if err != nil {
			chunk, similarity = chunks[0], 0.5
		}

		num, ok := citationByChunk[chunk.ChunkID]
		if !ok {
			num = len(citationByChunk) + 1
			citationByChunk[chunk.ChunkID] = num
		}

		order = append(order, attributed{text: sentence, citation: num, chunk: chunk, similarity: similarity})
	}

	cited := answer
	for i := len(order) - 1; i >= 0; i-- {
		a := order[i]
		if idx := strings.Index(cited, a.text); idx >= 0 {
			cited = cited[:idx] + a.text + " [" + strconv.Itoa(a.citation) + "]" + cited[idx+len(a.text):]
		}
	}

	sources := make([]Source, 0, len(citationByChunk))
	seen := make(map[int]bool)
	for _, a := range order {
		if seen[a.citation] {
			continue
		}
		seen[a.citation] = true
		preview := a.chunk.Content
		if len(preview) > previewChars {
			preview = preview[:previewChars]
		}
		sources = append(sources, Source{
			Citation:   "[" + strconv.Itoa(a.citation) + "]",
			ChunkID:    a.chunk.ChunkID,
			Source:     a.chunk.Source,
			Preview:    preview,
			Similarity: round3(a.similarity),
		})
	}

	return AttributedAnswer{AnswerWithCitations: cited, Sources: sources}, nil
}

// splitSentences breaks text on sentence-ending punctuation followed by
// whitespace, matching Python's `re.split(r'(?<=[.!?])\s+', text)` without
// relying on lookbehind.
func splitSentences(text string) []string {
	var sentences []string
	last := 0
	locs := sentenceSplitRe.FindAllStringIndex(text, -1)
	for _, loc := range locs {
		end := loc[0] + 1 // include the punctuation, exclude the whitespace
		sentences = append(sentences, strings.TrimSpace(text[last:end]))
		last = loc[1]
	}
	if last < len(text) {
		sentences = append(sentences, strings.TrimSpace(text[last:]))
	}

	out := sentences[:0]
	for _, s := range sentences {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func findBestSource(ctx context.Context, embedder llm.Provider, sentence string, chunks []store.RetrievalResult, chunkEmbeddings [][]float32) (store.RetrievalResult, float64, error) {
	if embedder == nil || len(chunkEmbeddings) == 0 {
		return chunks[0], 0.5, nil
	}

	sentenceEmb, err := embedder.Embed(ctx, []string{sentence})
	if err != nil || len(sentenceEmb) == 0 {
		return chunks[0], 0.5, err
	}

	best := chunks[0]
	bestSim := -1.0
	for i, c := range chunks {
		sim := cosineSimilarity(sentenceEmb[0], chunkEmbeddings[i])
		if sim > bestSim {
			bestSim = sim
			best = c
		}
	}
	if bestSim < 0 {
		bestSim = 0
	}
	return best, bestSim, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
