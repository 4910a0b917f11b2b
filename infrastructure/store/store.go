// Package store implements ports.SnapshotStore on Postgres, SQLite and
// process memory.
package store

import (
	"encoding/json"
	"slices"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/ahrav/go-beacon/internal/domain"
)

// runningIndex is the partial unique index that keeps at most one running
// snapshot per client in the SQL stores.
const runningIndex = "snapshots_one_running"

// responseOrder sorts rows by canonical provider order, then ordinal.
const responseOrder = `CASE provider WHEN 'openai' THEN 0 WHEN 'anthropic' THEN 1 WHEN 'google' THEN 2 ELSE 3 END, prompt_ordinal`

// providerRank mirrors responseOrder for in-memory sorting.
func providerRank(p domain.Provider) int {
	if i := slices.Index(domain.KnownProviders, p); i >= 0 {
		return i
	}
	return len(domain.KnownProviders)
}

// ensureResponseID assigns an id to rows inserted without one.
func ensureResponseID(r *domain.ProviderResponse) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
}

// scoreColumns encodes the two score maps for storage.
func scoreColumns(s *domain.Snapshot) (byProvider, breakdown []byte, err error) {
	byProvider, err = json.Marshal(nonNilInts(s.ScoreByProvider))
	if err != nil {
		return nil, nil, eris.Wrap(err, "marshal score_by_provider")
	}
	breakdown, err = json.Marshal(nonNilFloats(s.ScoreBreakdown))
	if err != nil {
		return nil, nil, eris.Wrap(err, "marshal score_breakdown")
	}
	return byProvider, breakdown, nil
}

// decodeScores fills the score maps from their stored JSON.
func decodeScores(s *domain.Snapshot, byProvider, breakdown []byte) error {
	s.ScoreByProvider = map[string]int{}
	s.ScoreBreakdown = map[string]float64{}
	if len(byProvider) > 0 {
		if err := json.Unmarshal(byProvider, &s.ScoreByProvider); err != nil {
			return eris.Wrapf(err, "unmarshal score_by_provider for %s", s.ID)
		}
	}
	if len(breakdown) > 0 {
		if err := json.Unmarshal(breakdown, &s.ScoreBreakdown); err != nil {
			return eris.Wrapf(err, "unmarshal score_breakdown for %s", s.ID)
		}
	}
	return nil
}

// decodeExtraction rebuilds the record of a parse_ok row from parsed_json.
func decodeExtraction(r *domain.ProviderResponse) error {
	if !r.ParseOK || len(r.ParsedJSON) == 0 {
		return nil
	}
	var rec domain.ExtractionRecord
	if err := json.Unmarshal(r.ParsedJSON, &rec); err != nil {
		return eris.Wrapf(err, "unmarshal extraction for response %s", r.ID)
	}
	r.Extraction = &rec
	return nil
}

// nullableJSON maps an empty payload to SQL NULL.
func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func nonNilInts(m map[string]int) map[string]int {
	if m == nil {
		return map[string]int{}
	}
	return m
}

func nonNilFloats(m map[string]float64) map[string]float64 {
	if m == nil {
		return map[string]float64{}
	}
	return m
}
