package parser

import (
	"context"
	"strings"
)

// TextParser handles plain text (.txt) files: the file body is kept as
// unstructured text, paragraph-split by the chunker on blank lines.
type TextParser struct{}

func (p *TextParser) SupportedFormats() []string { return []string{"txt"} }

func (p *TextParser) Parse(ctx context.Context, data []byte, fileName string) (*ParsedSource, error) {
	text := strings.TrimRight(string(data), "\n")
	lines := strings.Split(text, "\n")
	nonEmpty := 0
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			nonEmpty++
		}
	}
	return &ParsedSource{
		FileName:     fileName,
		Format:       "txt",
		Text:         text,
		EntriesCount: nonEmpty,
	}, nil
}
