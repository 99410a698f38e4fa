package parser

import (
	"context"
	"strings"
	"testing"
)

func TestRegistryGet(t *testing.T) {
	reg := NewRegistry()
	for _, format := range []string{"csv", "json", "pdf", "docx", "txt", "xlsx"} {
		if _, err := reg.Get(format); err != nil {
			t.Errorf("Get(%q) returned error: %v", format, err)
		}
	}
}

func TestRegistryUnsupportedFormat(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Get("rtf")
	if err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestCSVParser(t *testing.T) {
	data := []byte("name,price\nCaesar Salad,9.50\nGreek Salad,8.00\n")
	p := &CSVParser{}
	src, err := p.Parse(context.Background(), data, "menu.csv")
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if len(src.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(src.Entries))
	}
	if src.Entries[0]["name"] != "Caesar Salad" {
		t.Errorf("entry[0][name] = %q, want Caesar Salad", src.Entries[0]["name"])
	}
	if !strings.Contains(src.Text, "Entry 1:") {
		t.Errorf("expected formatted entry text, got %q", src.Text)
	}
}

func TestJSONParserArray(t *testing.T) {
	data := []byte(`[{"name": "A"}, {"name": "B"}]`)
	p := &JSONParser{}
	src, err := p.Parse(context.Background(), data, "a.json")
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if len(src.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(src.Entries))
	}
}

func TestJSONParserKeyedList(t *testing.T) {
	data := []byte(`{"data": [{"name": "A"}]}`)
	p := &JSONParser{}
	src, err := p.Parse(context.Background(), data, "a.json")
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if len(src.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(src.Entries))
	}
}

func TestJSONParserSingletonObject(t *testing.T) {
	data := []byte(`{"name": "A", "value": 42}`)
	p := &JSONParser{}
	src, err := p.Parse(context.Background(), data, "a.json")
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if len(src.Entries) != 1 {
		t.Fatalf("expected 1 entry (singleton wrap), got %d", len(src.Entries))
	}
}

func TestTextParserLines(t *testing.T) {
	p := &TextParser{}
	src, err := p.Parse(context.Background(), []byte("line one\nline two\n\nline three"), "notes.txt")
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if src.EntriesCount != 3 {
		t.Errorf("EntriesCount = %d, want 3", src.EntriesCount)
	}
}

func TestValidateSufficientByEntries(t *testing.T) {
	entries := make([]map[string]string, 20)
	for i := range entries {
		entries[i] = map[string]string{"x": "y"}
	}
	sources := []*ParsedSource{{FileName: "a.csv", Entries: entries, EntriesCount: 20}}
	report := Validate(sources, 0)
	if !report.Sufficient {
		t.Errorf("expected sufficient with 20 entries, issues=%v warnings=%v", report.Issues, report.Warnings)
	}
}

func TestValidateInsufficientBelowThreshold(t *testing.T) {
	entries := make([]map[string]string, 19)
	for i := range entries {
		entries[i] = map[string]string{"x": "y"}
	}
	sources := []*ParsedSource{{FileName: "a.csv", Entries: entries, Text: "short"}}
	report := Validate(sources, 0)
	if report.Sufficient {
		t.Error("expected insufficient with 19 entries and <2000 chars")
	}
}

func TestValidateSufficientByChars(t *testing.T) {
	sources := []*ParsedSource{{FileName: "a.txt", Text: strings.Repeat("x", 2000)}}
	report := Validate(sources, 0)
	if !report.Sufficient {
		t.Errorf("expected sufficient with 2000 chars, issues=%v", report.Issues)
	}
}

func TestValidateFailsOnParseFailure(t *testing.T) {
	sources := []*ParsedSource{{FileName: "a.txt", Text: strings.Repeat("x", 5000)}}
	report := Validate(sources, 1)
	if report.Sufficient {
		t.Error("expected insufficient when a source failed to parse")
	}
}

func TestValidateFailsOnEmptySource(t *testing.T) {
	sources := []*ParsedSource{
		{FileName: "a.txt", Text: strings.Repeat("x", 5000)},
		{FileName: "b.txt"},
	}
	report := Validate(sources, 0)
	if report.Sufficient {
		t.Error("expected insufficient when one source is empty")
	}
}
