package parser

// ValidationReport is the result of checking a batch of ParsedSources
// for sufficiency before compilation proceeds.
type ValidationReport struct {
	Sufficient bool
	TotalEntries int
	TotalChars   int
	Issues       []string
	Warnings     []string
	Stats        map[string]int // file_name -> entries or char count used
}

// minSufficientEntries and minSufficientChars are the thresholds C1's
// sufficiency check uses: data is sufficient iff entries >= 20 OR
// chars >= 2000, no source failed to parse, and no source is empty.
const (
	minSufficientEntries = 20
	minSufficientChars   = 2000
)

// Validate checks a batch of successfully parsed sources (failed is the
// count of sources that errored during parsing) for sufficiency.
func Validate(sources []*ParsedSource, failed int) *ValidationReport {
	report := &ValidationReport{Stats: make(map[string]int)}

	if failed > 0 {
		report.Issues = append(report.Issues, "one or more sources failed to parse")
	}

	for _, s := range sources {
		if s == nil {
			continue
		}
		entries := len(s.Entries)
		chars := len(s.Text)
		report.TotalEntries += entries
		report.TotalChars += chars

		if entries == 0 && chars == 0 {
			report.Issues = append(report.Issues, s.FileName+" is empty")
			continue
		}

		if entries > 0 {
			report.Stats[s.FileName] = entries
		} else {
			report.Stats[s.FileName] = chars
		}
	}

	if len(sources) == 0 {
		report.Issues = append(report.Issues, "no sources to compile")
	}

	hasEmpty := false
	for _, s := range sources {
		if s != nil && len(s.Entries) == 0 && len(s.Text) == 0 {
			hasEmpty = true
		}
	}

	sufficient := (report.TotalEntries >= minSufficientEntries || report.TotalChars >= minSufficientChars) &&
		failed == 0 && !hasEmpty && len(sources) > 0

	if !sufficient && len(report.Issues) == 0 {
		report.Warnings = append(report.Warnings,
			"corpus is below the recommended sufficiency threshold (20 entries or 2000 characters)")
	}

	report.Sufficient = sufficient
	return report
}
