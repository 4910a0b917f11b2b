package extraction

import (
	"encoding/json"

	"github.com/ahrav/go-beacon/internal/domain"
)

// Kind tags an Outcome.
type Kind int

const (
	// NoCandidate means the text contained no parsable JSON.
	NoCandidate Kind = iota
	// Parsed means a candidate passed schema validation.
	Parsed
	// Invalid means a candidate was found but failed schema validation.
	Invalid
)

// String returns the outcome label used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case Parsed:
		return "parsed"
	case Invalid:
		return "invalid"
	default:
		return "no_candidate"
	}
}

// Outcome is the result of turning raw model text into an extraction.
// Record is set only for Parsed; Errors only for Invalid.
type Outcome struct {
	Kind   Kind
	Record *domain.ExtractionRecord
	Errors FieldErrors
}

// Evaluate runs ExtractJSON and Validate over raw.
func Evaluate(raw string) Outcome {
	value, ok := ExtractJSON(raw)
	if !ok {
		return Outcome{Kind: NoCandidate}
	}
	rec, errs := Validate(value)
	if len(errs) > 0 {
		return Outcome{Kind: Invalid, Errors: errs}
	}
	return Outcome{Kind: Parsed, Record: &rec}
}

// OK reports whether the outcome produced a record.
func (o Outcome) OK() bool { return o.Kind == Parsed }

// ParsedJSON returns the payload persisted alongside a response: the record
// when parsed, the field errors when invalid, and nil when there was no
// candidate.
func (o Outcome) ParsedJSON() (json.RawMessage, error) {
	switch o.Kind {
	case Parsed:
		return json.Marshal(o.Record)
	case Invalid:
		return json.Marshal(o.Errors)
	default:
		return nil, nil
	}
}
