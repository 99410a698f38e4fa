// Package parser normalizes heterogeneous source files into a uniform
// ParsedSource so the chunker never needs to know the origin format.
package parser

import (
	"context"
	"fmt"
	"strings"
)

// ParsedSource is the uniform shape every Parser produces.
//
// Structured sources (CSV, JSON, XLSX) populate Entries and also render
// them into Text, one "Entry i: ..." line per entry; unstructured
// sources (PDF, DOCX, TXT) populate Text only.
type ParsedSource struct {
	FileName     string
	Format       string // "csv", "json", "pdf", "docx", "txt", "xlsx"
	Entries      []map[string]string
	Text         string
	EntriesCount int
}

// Parser parses one source format from raw bytes.
type Parser interface {
	Parse(ctx context.Context, data []byte, fileName string) (*ParsedSource, error)
	SupportedFormats() []string
}

// Registry dispatches to a Parser by file extension.
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry returns a Registry with the built-in CSV, JSON, PDF, DOCX,
// TXT and XLSX parsers already registered.
func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]Parser)}
	for _, p := range []Parser{
		&CSVParser{},
		&JSONParser{},
		&PDFParser{},
		&DOCXParser{},
		&TextParser{},
		&XLSXParser{},
	} {
		for _, f := range p.SupportedFormats() {
			r.parsers[f] = p
		}
	}
	return r
}

// Register adds or overrides the parser used for format.
func (r *Registry) Register(format string, p Parser) {
	r.parsers[format] = p
}

// Get returns the parser registered for format, or ErrUnsupportedFormat.
func (r *Registry) Get(format string) (Parser, error) {
	p, ok := r.parsers[strings.ToLower(format)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	return p, nil
}

// Parse extracts the extension from fileName and dispatches to the
// matching Parser.
func (r *Registry) Parse(ctx context.Context, data []byte, fileName string) (*ParsedSource, error) {
	ext := strings.ToLower(strings.TrimPrefix(extOf(fileName), "."))
	p, err := r.Get(ext)
	if err != nil {
		return nil, err
	}
	return p.Parse(ctx, data, fileName)
}

func extOf(fileName string) string {
	idx := strings.LastIndexByte(fileName, '.')
	if idx < 0 {
		return ""
	}
	return fileName[idx:]
}
