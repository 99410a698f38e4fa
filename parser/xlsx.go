package parser

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// XLSXParser is a bonus structured format beyond the spec's required
// set: each row of the first non-empty sheet becomes one entry, keyed
// by its header row, the same way CSVParser does.
type XLSXParser struct{}

func (p *XLSXParser) SupportedFormats() []string { return []string{"xlsx", "xls"} }

func (p *XLSXParser) Parse(ctx context.Context, data []byte, fileName string) (*ParsedSource, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("opening xlsx: %w", err)
	}
	defer f.Close()

	var rows [][]string
	for _, sheet := range f.GetSheetList() {
		r, err := f.GetRows(sheet)
		if err != nil || len(r) < 2 {
			continue
		}
		rows = r
		break
	}
	if len(rows) < 2 {
		return &ParsedSource{FileName: fileName, Format: "xlsx"}, nil
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
		Format:       "xlsx",
		Entries:      entries,
		Text:         strings.Join(textParts, "\n"),
		EntriesCount: len(entries),
	}, nil
}
