// Package chunker converts a parsed source into bounded semantic
// chunks with overlap, ready for embedding and indexing.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/mexar/ragcore/parser"
)

// Chunk is one retrievable unit produced from a ParsedSource.
type Chunk struct {
	Content     string
	Source      string // e.g. "menu.csv, Entry 3" or the file name for unstructured text
	TokenCount  int
	ChunkIndex  int
	ContentHash string
}

// Config controls chunking behaviour.
type Config struct {
	// TargetWords is the greedy-accumulation target for unstructured
	// paragraphs, approximated as whitespace-separated words.
	TargetWords int
}

// DefaultConfig returns the spec's default: 400 words per chunk.
func DefaultConfig() Config {
	return Config{TargetWords: 400}
}

// Chunker converts a ParsedSource into chunks.
type Chunker struct {
	cfg Config
}

// New returns a Chunker. A zero TargetWords is replaced with the default.
func New(cfg Config) *Chunker {
	if cfg.TargetWords <= 0 {
		cfg.TargetWords = DefaultConfig().TargetWords
	}
	return &Chunker{cfg: cfg}
}

// Chunk converts a single ParsedSource into an ordered list of chunks.
// An empty source yields an empty list, never an error.
func (c *Chunker) Chunk(src *parser.ParsedSource) []Chunk {
	if src == nil {
		return nil
	}
	if len(src.Entries) > 0 {
		return c.chunkStructured(src)
	}
	if strings.TrimSpace(src.Text) == "" {
		return nil
	}
	return c.chunkUnstructured(src)
}

// chunkStructured emits exactly one chunk per record, formatted
// "Entry i from FILE:\n  Key: Value\n...".
func (c *Chunker) chunkStructured(src *parser.ParsedSource) []Chunk {
	chunks := make([]Chunk, 0, len(src.Entries))
	for i, entry := range src.Entries {
		keys := make([]string, 0, len(entry))
		for k := range entry {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var b strings.Builder
		fmt.Fprintf(&b, "Entry %d from %s:\n", i+1, src.FileName)
		for _, k := range keys {
			if v := entry[k]; v != "" {
				fmt.Fprintf(&b, "  %s: %s\n", k, v)
			}
		}
		content := strings.TrimRight(b.String(), "\n")

		chunks = append(chunks, Chunk{
			Content:     content,
			Source:      fmt.Sprintf("%s, Entry %d", src.FileName, i+1),
			TokenCount:  wordCount(content),
			ChunkIndex:  i,
			ContentHash: hash(content),
		})
	}
	return chunks
}

// chunkUnstructured splits on blank-line paragraph boundaries and
// greedily accumulates paragraphs until TargetWords is exceeded, then
// seeds the next chunk with the last paragraph of the previous one for
// continuity. A paragraph is never split mid-paragraph.
func (c *Chunker) chunkUnstructured(src *parser.ParsedSource) []Chunk {
	paragraphs := splitParagraphs(src.Text)
	if len(paragraphs) == 0 {
		return nil
	}

	var chunks []Chunk
	var current []string
	currentWords := 0
	idx := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		content := strings.Join(current, "\n\n")
		chunks = append(chunks, Chunk{
			Content:     content,
			Source:      src.FileName,
			TokenCount:  wordCount(content),
			ChunkIndex:  idx,
			ContentHash: hash(content),
		})
		idx++
	}

	for _, para := range paragraphs {
		paraWords := wordCount(para)

		if currentWords > 0 && currentWords+paraWords > c.cfg.TargetWords {
			last := current[len(current)-1]
			flush()
			current = []string{last, para}
			currentWords = wordCount(last) + paraWords
			continue
		}

		current = append(current, para)
		currentWords += paraWords
	}
	flush()

	return chunks
}

func splitParagraphs(text string) []string {
	raw := strings.Split(text, "\n\n")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func wordCount(text string) int {
	return len(strings.Fields(text))
}

func hash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}
