package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// JSONParser accepts: a top-level array of records; an object holding a
// list under any of "data", "items", "records", "entries"; or any other
// object, wrapped as a singleton entry.
type JSONParser struct{}

func (p *JSONParser) SupportedFormats() []string { return []string{"json"} }

var listKeys = []string{"data", "items", "records", "entries"}

func (p *JSONParser) Parse(ctx context.Context, data []byte, fileName string) (*ParsedSource, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing json: %w", err)
	}

	var records []any
	switch v := raw.(type) {
	case []any:
		records = v
	case map[string]any:
		found := false
		for _, key := range listKeys {
			if list, ok := v[key].([]any); ok {
				records = list
				found = true
				break
			}
		}
		if !found {
			records = []any{v}
		}
	default:
		records = []any{v}
	}

	entries := make([]map[string]string, 0, len(records))
	textParts := make([]string, 0, len(records))
	for i, rec := range records {
		entry := flattenRecord(rec)
		entries = append(entries, entry)

		keys := make([]string, 0, len(entry))
		for k := range entry {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var parts []string
		for _, k := range keys {
			if v := entry[k]; v != "" {
				parts = append(parts, fmt.Sprintf("%s: %s", k, v))
			}
		}
		if len(parts) == 0 {
			textParts = append(textParts, fmt.Sprintf("Entry %d", i+1))
		} else {
			textParts = append(textParts, fmt.Sprintf("Entry %d: %s", i+1, strings.Join(parts, ", ")))
		}
	}

	return &ParsedSource{
		FileName:     fileName,
		Format:       "json",
		Entries:      entries,
		Text:         strings.Join(textParts, "\n"),
		EntriesCount: len(entries),
	}, nil
}

// flattenRecord converts an arbitrary JSON value into a flat
// string-keyed map suitable for a ParsedSource entry. Non-object
// values are wrapped under a "value" key.
func flattenRecord(rec any) map[string]string {
	m, ok := rec.(map[string]any)
	if !ok {
		return map[string]string{"value": fmt.Sprintf("%v", rec)}
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if v == nil {
			continue
		}
		switch vv := v.(type) {
		case string:
			out[k] = vv
		default:
			b, err := json.Marshal(vv)
			if err != nil {
				out[k] = fmt.Sprintf("%v", vv)
			} else {
				out[k] = string(b)
			}
		}
	}
	return out
}
