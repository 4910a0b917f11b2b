package domain

// MaxEvidenceSnippetLength bounds ExtractionRecord.EvidenceSnippet, counted
// in characters (runes), not bytes.
const MaxEvidenceSnippetLength = 200

// Position describes where in a model's answer the client brand appears.
type Position string

// Supported client positions.
const (
	PositionTop          Position = "top"
	PositionMiddle       Position = "middle"
	PositionBottom       Position = "bottom"
	PositionNotMentioned Position = "not_mentioned"
)

// Positions lists every valid Position in ranking order.
var Positions = []Position{PositionTop, PositionMiddle, PositionBottom, PositionNotMentioned}

// Valid reports whether p is one of the enumerated positions.
func (p Position) Valid() bool {
	switch p {
	case PositionTop, PositionMiddle, PositionBottom, PositionNotMentioned:
		return true
	default:
		return false
	}
}

// Strength describes how strongly a model recommends the client.
type Strength string

// Supported recommendation strengths.
const (
	StrengthStrong Strength = "strong"
	StrengthMedium Strength = "medium"
	StrengthWeak   Strength = "weak"
	StrengthNone   Strength = "none"
)

// Strengths lists every valid Strength from strongest to weakest.
var Strengths = []Strength{StrengthStrong, StrengthMedium, StrengthWeak, StrengthNone}

// Valid reports whether s is one of the enumerated strengths.
func (s Strength) Valid() bool {
	switch s {
	case StrengthStrong, StrengthMedium, StrengthWeak, StrengthNone:
		return true
	default:
		return false
	}
}

// ExtractionRecord is the validated structured judgment derived from one
// provider's answer to one prompt. Values of this type are only ever built
// by the extraction validator; a record that failed validation never exists
// as an ExtractionRecord.
type ExtractionRecord struct {
	ClientMentioned        bool     `json:"client_mentioned"`
	ClientPosition         Position `json:"client_position"`
	RecommendationStrength Strength `json:"recommendation_strength"`
	// CompetitorsMentioned keeps the names exactly as the model surfaced them,
	// in order, without deduplication against the known competitor list.
	CompetitorsMentioned  []string `json:"competitors_mentioned"`
	HasSourcesOrCitations bool     `json:"has_sources_or_citations"`
	HasSpecificFeatures   bool     `json:"has_specific_features"`
	EvidenceSnippet       string   `json:"evidence_snippet"`
}
