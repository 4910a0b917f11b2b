package domain

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/cases"
)

// DefaultCompetitorSimilarity is the minimum normalized Levenshtein
// similarity for a surfaced name to count as a known competitor.
const DefaultCompetitorSimilarity = 0.85

// CompetitorMention counts how often a competitor surfaced across a
// snapshot's successful extractions.
type CompetitorMention struct {
	Name string `json:"name"`
	// Known is true when Name is on the client's competitor list.
	Known    bool `json:"known"`
	Mentions int  `json:"mentions"`
	// Share is Mentions divided by the number of records considered.
	Share float64 `json:"share"`
}

// SummarizeCompetitors matches the names surfaced in records to the client's
// known competitors. Surfaced names close enough to a known name are counted
// under the known name; the rest are counted under their first surfaced
// spelling. A name repeated inside a single record counts once for that
// record. The result is sorted by mentions, then name.
//
// This is a reporting view; scoring never consults it.
func SummarizeCompetitors(known []string, records []ExtractionRecord, minSimilarity float64) []CompetitorMention {
	if minSimilarity <= 0 {
		minSimilarity = DefaultCompetitorSimilarity
	}

	counts := make(map[string]*CompetitorMention)
	order := make([]string, 0, len(known))
	for _, name := range known {
		key := normalizeName(name)
		if key == "" {
			continue
		}
		if _, dup := counts[key]; dup {
			continue
		}
		counts[key] = &CompetitorMention{Name: name, Known: true}
		order = append(order, key)
	}
	knownKeys := append([]string(nil), order...)

	for _, r := range records {
		seen := make(map[string]bool)
		for _, surfaced := range r.CompetitorsMentioned {
			key := normalizeName(surfaced)
			if key == "" {
				continue
			}
			if match, ok := bestMatch(key, knownKeys, minSimilarity); ok {
				key = match
			}
			if seen[key] {
				continue
			}
			seen[key] = true

			m, ok := counts[key]
			if !ok {
				m = &CompetitorMention{Name: strings.TrimSpace(surfaced)}
				counts[key] = m
				order = append(order, key)
			}
			m.Mentions++
		}
	}

	out := make([]CompetitorMention, 0, len(order))
	for _, key := range order {
		m := *counts[key]
		if len(records) > 0 {
			m.Share = float64(m.Mentions) / float64(len(records))
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Mentions != out[j].Mentions {
			return out[i].Mentions > out[j].Mentions
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func normalizeName(s string) string {
	return strings.Join(strings.Fields(cases.Fold().String(s)), " ")
}

func bestMatch(key string, candidates []string, minSimilarity float64) (string, bool) {
	best, bestScore := "", 0.0
	for _, c := range candidates {
		if s := similarity(key, c); s > bestScore {
			best, bestScore = c, s
		}
	}
	return best, bestScore >= minSimilarity
}

// similarity is 1 - distance/maxRuneLength, so 1.0 means identical.
func similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	maxLen := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > maxLen {
		maxLen = n
	}
	if maxLen == 0 {
		return 1.0
	}
	return 1.0 - float64(levenshtein.ComputeDistance(a, b))/float64(maxLen)
}
