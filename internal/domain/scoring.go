package domain

import (
	"math"
	"sort"
)

// Composite weights. They sum to 100.
const (
	PresenceWeight  = 40.0
	PositionWeight  = 30.0
	StrengthWeight  = 20.0
	AuthorityWeight = 10.0
)

// Breakdown metric names, stored as "<provider>.<metric>".
const (
	MetricPresenceRate   = "presence_rate"
	MetricAvgPosition    = "avg_position"
	MetricAvgStrength    = "avg_strength"
	MetricAuthorityRate  = "authority_rate"
	MetricFeaturesRate   = "features_rate"
	MetricPresenceScore  = "presence_score"
	MetricPositionScore  = "position_score"
	MetricStrengthScore  = "strength_score"
	MetricAuthorityScore = "authority_score"
)

const (
	maxPositionPoints = 30.0
	maxStrengthPoints = 20.0
)

// PositionPoints returns the points a position earns. Unknown values earn 0.
func PositionPoints(p Position) float64 {
	switch p {
	case PositionTop:
		return 30
	case PositionMiddle:
		return 18
	case PositionBottom:
		return 9
	default:
		return 0
	}
}

// StrengthPoints returns the points a recommendation strength earns.
func StrengthPoints(s Strength) float64 {
	switch s {
	case StrengthStrong:
		return 20
	case StrengthMedium:
		return 12
	case StrengthWeak:
		return 6
	default:
		return 0
	}
}

// ProviderScore is the scored result for one provider.
type ProviderScore struct {
	Provider Provider
	// N is the number of records the score was computed over.
	N int

	PresenceRate  float64
	AvgPosition   float64
	AvgStrength   float64
	AuthorityRate float64
	FeaturesRate  float64

	PresenceScore  float64
	PositionScore  float64
	StrengthScore  float64
	AuthorityScore float64

	// Score is the rounded, clamped composite in [0, 100].
	Score int
}

// ScoreProvider computes the composite score for one provider's successful
// extractions. It returns false when records is empty, in which case the
// provider contributes nothing.
//
// Records are scored literally: a record with client_mentioned=false and
// client_position=top still earns the top position points.
func ScoreProvider(p Provider, records []ExtractionRecord) (ProviderScore, bool) {
	n := len(records)
	if n == 0 {
		return ProviderScore{}, false
	}

	var mentioned, cited, featured int
	var positionSum, strengthSum float64
	for _, r := range records {
		if r.ClientMentioned {
			mentioned++
		}
		if r.HasSourcesOrCitations {
			cited++
		}
		if r.HasSpecificFeatures {
			featured++
		}
		positionSum += PositionPoints(r.ClientPosition)
		strengthSum += StrengthPoints(r.RecommendationStrength)
	}

	fn := float64(n)
	ps := ProviderScore{
		Provider:      p,
		N:             n,
		PresenceRate:  float64(mentioned) / fn,
		AvgPosition:   positionSum / fn,
		AvgStrength:   strengthSum / fn,
		AuthorityRate: float64(cited) / fn,
		FeaturesRate:  float64(featured) / fn,
	}
	ps.PresenceScore = ps.PresenceRate * PresenceWeight
	ps.PositionScore = (ps.AvgPosition / maxPositionPoints) * PositionWeight
	ps.StrengthScore = (ps.AvgStrength / maxStrengthPoints) * StrengthWeight
	ps.AuthorityScore = ((ps.AuthorityRate*5 + ps.FeaturesRate*5) / 10) * AuthorityWeight

	ps.Score = roundClamp(ps.PresenceScore + ps.PositionScore + ps.StrengthScore + ps.AuthorityScore)
	return ps, true
}

// SnapshotScore is the aggregate written onto a completed Snapshot.
type SnapshotScore struct {
	Overall    int
	ByProvider map[string]int
	Breakdown  map[string]float64
	Providers  []ProviderScore
}

// ScoreSnapshot scores every provider that has at least one record and
// averages the per-provider scores, unweighted. With no records anywhere
// the overall score is 0. It never fails on partial data.
func ScoreSnapshot(records map[Provider][]ExtractionRecord) SnapshotScore {
	out := SnapshotScore{
		ByProvider: make(map[string]int),
		Breakdown:  make(map[string]float64),
	}

	providers := make([]Provider, 0, len(records))
	for p := range records {
		providers = append(providers, p)
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i] < providers[j] })

	var total float64
	for _, p := range providers {
		ps, ok := ScoreProvider(p, records[p])
		if !ok {
			continue
		}
		out.Providers = append(out.Providers, ps)
		out.ByProvider[string(p)] = ps.Score
		total += float64(ps.Score)

		prefix := string(p) + "."
		out.Breakdown[prefix+MetricPresenceRate] = ps.PresenceRate
		out.Breakdown[prefix+MetricAvgPosition] = ps.AvgPosition
		out.Breakdown[prefix+MetricAvgStrength] = ps.AvgStrength
		out.Breakdown[prefix+MetricAuthorityRate] = ps.AuthorityRate
		out.Breakdown[prefix+MetricFeaturesRate] = ps.FeaturesRate
		out.Breakdown[prefix+MetricPresenceScore] = ps.PresenceScore
		out.Breakdown[prefix+MetricPositionScore] = ps.PositionScore
		out.Breakdown[prefix+MetricStrengthScore] = ps.StrengthScore
		out.Breakdown[prefix+MetricAuthorityScore] = ps.AuthorityScore
	}

	if len(out.Providers) > 0 {
		out.Overall = roundClamp(total / float64(len(out.Providers)))
	}
	return out
}

// roundClamp rounds half away from zero and clamps to [0, 100].
func roundClamp(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	r := math.Round(v)
	if r < 0 {
		return 0
	}
	if r > 100 {
		return 100
	}
	return int(r)
}
