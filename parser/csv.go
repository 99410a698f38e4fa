package parser

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strings"
)

// CSVParser parses comma-separated value files into structured entries,
// one per data row, keyed by the header row.
type CSVParser struct{}

func (p *CSVParser) SupportedFormats() []string { return []string{"csv"} }

func (p *CSVParser) Parse(ctx context.Context, data []byte, fileName string) (*ParsedSource, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1 // tolerate ragged rows rather than failing the whole file

	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing csv: %w", err)
	}
	if len(rows) == 0 {
		return &ParsedSource{FileName: fileName, Format: "csv"}, nil
	}

	header := rows[0]
	var entries []map[string]string
	var textParts []string

	for i, row := range rows[1:] {
		entry := make(map[string]string, len(header))
		var lineParts []string
		for j, col := range header {
			var val string
			if j < len(row) {
				val = strings.TrimSpace(row[j])
			}
			entry[col] = val
			if val != "" {
				lineParts = append(lineParts, fmt.Sprintf("%s: %s", col, val))
			}
		}
		entries = append(entries, entry)
		textParts = append(textParts, fmt.Sprintf("Entry %d: %s", i+1, strings.Join(lineParts, ", ")))
	}

	return &ParsedSource{
		FileName:     fileName,
		Format:       "csv",
		Entries:      entries,
		Text:         strings.Join(textParts, "\n"),
		EntriesCount: len(entries),
	}, nil
}
