package parser

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFParser extracts page text from PDF files. Per the spec's C1
// contract, pages are concatenated and entries_count is the paragraph
// count (blank-line separated) of the combined text.
type PDFParser struct{}

func (p *PDFParser) SupportedFormats() []string { return []string{"pdf"} }

func (p *PDFParser) Parse(ctx context.Context, data []byte, fileName string) (*ParsedSource, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening pdf: %w", err)
	}

	var pages []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := extractPageTextOrdered(page)
		if err != nil {
			continue // skip pages that fail to extract, matching teacher's tolerant behavior
		}
		text = strings.TrimSpace(text)
		if text != "" {
			pages = append(pages, text)
		}
	}

	fullText := strings.Join(pages, "\n\n")
	return &ParsedSource{
		FileName:     fileName,
		Format:       "pdf",
		Text:         fullText,
		EntriesCount: countParagraphs(fullText),
	}, nil
}

// extractPageTextOrdered groups content-stream text elements into
// visual lines by Y proximity and orders lines top-to-bottom, avoiding
// the garbling that naive X-sorting produces on PDFs using negative
// text matrices. Falls back to the library's plain-text extraction
// when the content stream yields nothing usable.
func extractPageTextOrdered(page pdf.Page) (string, error) {
	content := page.Content()
	if len(content.Text) == 0 {
		return page.GetPlainText(nil)
	}

	const lineTolerance = 3.0

	type visualLine struct {
		y   float64
		buf strings.Builder
	}

	var lines []*visualLine
	var cur *visualLine

	for _, t := range content.Text {
		if cur == nil || math.Abs(t.Y-cur.y) > lineTolerance {
			lines = append(lines, &visualLine{y: t.Y})
			cur = lines[len(lines)-1]
		}
		cur.buf.WriteString(t.S)
	}

	sort.SliceStable(lines, func(i, j int) bool {
		return lines[i].y > lines[j].y
	})

	var parts []string
	for _, l := range lines {
		text := strings.TrimSpace(l.buf.String())
		if text != "" {
			parts = append(parts, text)
		}
	}

	result := strings.Join(parts, "\n")
	if strings.TrimSpace(result) == "" {
		return page.GetPlainText(nil)
	}
	return result, nil
}

// countParagraphs counts blank-line-separated paragraphs in text.
func countParagraphs(text string) int {
	count := 0
	for _, p := range strings.Split(text, "\n\n") {
		if strings.TrimSpace(p) != "" {
			count++
		}
	}
	return count
}
