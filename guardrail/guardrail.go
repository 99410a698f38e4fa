// Package guardrail decides whether a query falls within an agent's
// configured domain before retrieval and generation are attempted.
package guardrail

import (
	"strings"
)

// Signature is the domain fingerprint an agent carries, derived by the
// prompt analyzer and used to score incoming queries.
type Signature struct {
	Domain         string
	SubDomains     []string
	DomainKeywords []string
	// Terms is the flattened signature vocabulary (domain + sub-domains +
	// keywords + any additional corpus-derived terms) fuzzy-matched
	// against query words. Only the first 100 entries are considered.
	Terms []string
}

// Threshold is the minimum score for a query to be considered in-domain.
// Deliberately low to favor recall: borderline queries are still answered
// but carry a low confidence downstream.
const Threshold = 0.05

const maxSignatureTerms = 100

// Result is the outcome of a single guardrail check.
type Result struct {
	InDomain bool
	Score    float64
	Matches  float64
	Bonus    float64
}

// Check scores query against an agent's domain signature.
func Check(query string, sig Signature) Result {
	queryLower := strings.ToLower(query)
	words := strings.Fields(queryLower)

	var bonus float64
	if sig.Domain != "" && strings.Contains(queryLower, strings.ToLower(sig.Domain)) {
		bonus += 3
	}
	for _, sub := range sig.SubDomains {
		if sub != "" && strings.Contains(queryLower, strings.ToLower(sub)) {
			bonus += 2
		}
	}
	for _, kw := range sig.DomainKeywords {
		if kw != "" && strings.Contains(queryLower, strings.ToLower(kw)) {
			bonus += 1.5
		}
	}

	terms := sig.Terms
	if len(terms) > maxSignatureTerms {
		terms = terms[:maxSignatureTerms]
	}
	lowerTerms := make([]string, len(terms))
	for i, t := range terms {
		lowerTerms[i] = strings.ToLower(t)
	}

	seen := make(map[string]bool, len(words))
	var matches float64
	for _, w := range words {
		if seen[w] || len(w) < 3 {
			continue
		}
		seen[w] = true
		for _, kw := range lowerTerms {
			if fuzzyRatio(w, kw) >= 0.75 {
				matches++
				break
			}
			if strings.Contains(kw, w) || strings.Contains(w, kw) {
				matches += 0.5
				break
			}
		}
	}

	maxPossible := len(words)
	if maxPossible > 10 {
		maxPossible = 10
	}
	if maxPossible < 1 {
		maxPossible = 1
	}

	base := matches / float64(maxPossible)
	bonusComponent := bonus * 0.1
	if bonusComponent > 0.5 {
		bonusComponent = 0.5
	}
	score := base + bonusComponent
	if score > 1.0 {
		score = 1.0
	}
	if bonus >= 1 && score < 0.2 {
		score = 0.2
	}

	return Result{
		InDomain: score >= Threshold,
		Score:    score,
		Matches:  matches,
		Bonus:    bonus,
	}
}

// fuzzyRatio reports a Ratcliff/Obershelp-style similarity ratio between
// two strings, in [0, 1], computed as 2*matching / (len(a) + len(b))
// where matching is the longest common subsequence length.
func fuzzyRatio(a, b string) float64 {
	if a == "" && b == "" {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}
	lcs := longestCommonSubsequence(a, b)
	return 2.0 * float64(lcs) / float64(len(a)+len(b))
}

func longestCommonSubsequence(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	n, m := len(ra), len(rb)
	prev := make([]int, m+1)
	curr := make([]int, m+1)
	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			if ra[i-1] == rb[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return prev[m]
}
