package iocs

import (
	"bytes"
	"strings"

	"github.com/cloudflare/ahocorasick"
)

// termCounter counts occurrences of a fixed term set in a byte buffer.
// Input is matched as-is; callers lowercase it first.
type termCounter interface {
	CountBytes(content []byte) map[string]int
}

const (
	autoAhoMinTerms        = 8
	autoAhoMinContentBytes = 4 * 1024
)

type naiveTermCounter struct {
	terms     []string
	termBytes [][]byte
}

func (c naiveTermCounter) CountBytes(content []byte) map[string]int {
	var hits map[string]int
	for i, term := range c.terms {
		count := bytes.Count(content, c.termBytes[i])
		if count > 0 {
			if hits == nil {
				hits = make(map[string]int, 4)
			}
			hits[term] = count
		}
	}
	return hits
}

type ahoTermCounter struct {
	terms     []string
	termBytes [][]byte
	matcher   *ahocorasick.Matcher
}

func (c ahoTermCounter) CountBytes(content []byte) map[string]int {
	matches := c.matcher.MatchThreadSafe(content)
	if len(matches) == 0 {
		return nil
	}

	candidates := make([]bool, len(c.terms))
	for _, idx := range matches {
		if idx < 0 || idx >= len(c.terms) {
			continue
		}
		candidates[idx] = true
	}

	var hits map[string]int
	for i := range candidates {
		if !candidates[i] {
			continue
		}
		count := bytes.Count(content, c.termBytes[i])
		if count > 0 {
			if hits == nil {
				hits = make(map[string]int, len(candidates))
			}
			hits[c.terms[i]] = count
		}
	}
	return hits
}

// autoTermCounter picks the scan strategy per call: plain bytes.Count
// wins for few terms or short buffers, Aho-Corasick for the rest.
type autoTermCounter struct {
	naive naiveTermCounter
	aho   ahoTermCounter
}

func (c autoTermCounter) CountBytes(content []byte) map[string]int {
	if len(c.naive.terms) < autoAhoMinTerms || len(content) < autoAhoMinContentBytes {
		return c.naive.CountBytes(content)
	}
	return c.aho.CountBytes(content)
}

func buildTermCounter(terms []string) termCounter {
	normalized := normalizeTerms(terms)
	termBytes := make([][]byte, len(normalized))
	for i := range normalized {
		termBytes[i] = []byte(normalized[i])
	}
	naive := naiveTermCounter{terms: normalized, termBytes: termBytes}
	if len(normalized) == 0 {
		return naive
	}

	aho := ahoTermCounter{terms: normalized, termBytes: termBytes, matcher: ahocorasick.NewStringMatcher(normalized)}
	return autoTermCounter{naive: naive, aho: aho}
}

// normalizeTerms trims, lowercases, and dedupes the term list while
// keeping its order.
func normalizeTerms(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	normalized := make([]string, 0, len(terms))
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		if _, ok := seen[term]; ok {
			continue
		}
		seen[term] = struct{}{}
		normalized = append(normalized, term)
	}
	return normalized
}
