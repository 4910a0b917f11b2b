package extraction

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ahrav/go-beacon/internal/domain"
)

// Field names as they appear in model output.
const (
	FieldClientMentioned        = "client_mentioned"
	FieldClientPosition         = "client_position"
	FieldRecommendationStrength = "recommendation_strength"
	FieldCompetitorsMentioned   = "competitors_mentioned"
	FieldHasSourcesOrCitations  = "has_sources_or_citations"
	FieldHasSpecificFeatures    = "has_specific_features"
	FieldEvidenceSnippet        = "evidence_snippet"
)

// fieldOrder fixes the order in which field errors are reported.
var fieldOrder = []string{
	FieldClientMentioned,
	FieldClientPosition,
	FieldRecommendationStrength,
	FieldCompetitorsMentioned,
	FieldHasSourcesOrCitations,
	FieldHasSpecificFeatures,
	FieldEvidenceSnippet,
}

// FieldError describes why one field failed validation.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"error"`
}

// FieldErrors is the exhaustive list of validation failures for one value.
// It serializes as {"validation_errors": [...]} and is persisted in place of
// the extraction so the diagnostic survives.
type FieldErrors []FieldError

// Error implements the error interface.
func (fe FieldErrors) Error() string {
	parts := make([]string, len(fe))
	for i, e := range fe {
		parts[i] = e.Field + ": " + e.Reason
	}
	return "extraction invalid: " + strings.Join(parts, "; ")
}

// MarshalJSON wraps the list in a validation_errors envelope.
func (fe FieldErrors) MarshalJSON() ([]byte, error) {
	list := []FieldError(fe)
	if list == nil {
		list = []FieldError{}
	}
	return json.Marshal(struct {
		Errors []FieldError `json:"validation_errors"`
	}{Errors: list})
}

// candidate mirrors ExtractionRecord with pointer fields so that presence
// can be checked separately from zero values.
type candidate struct {
	ClientMentioned        *bool    `json:"client_mentioned" validate:"required"`
	ClientPosition         *string  `json:"client_position" validate:"required,oneof=top middle bottom not_mentioned"`
	RecommendationStrength *string  `json:"recommendation_strength" validate:"required,oneof=strong medium weak none"`
	CompetitorsMentioned   []string `json:"competitors_mentioned" validate:"required"`
	HasSourcesOrCitations  *bool    `json:"has_sources_or_citations" validate:"required"`
	HasSpecificFeatures    *bool    `json:"has_specific_features" validate:"required"`
	EvidenceSnippet        *string  `json:"evidence_snippet" validate:"required,max=200"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks value against the extraction schema. Every field must be
// present with the exact JSON type; "true" is not a boolean and 1 is not a
// string. All failing fields are reported, not just the first.
func Validate(value any) (domain.ExtractionRecord, FieldErrors) {
	obj, ok := value.(map[string]any)
	if !ok {
		return domain.ExtractionRecord{}, FieldErrors{{Field: "$", Reason: "must be a JSON object"}}
	}

	var (
		c      candidate
		errs   FieldErrors
		mistyp = make(map[string]bool)
	)
	typeErr := func(field, want string) {
		mistyp[field] = true
		errs = append(errs, FieldError{Field: field, Reason: "must be " + want})
	}

	c.ClientMentioned = boolField(obj, FieldClientMentioned, typeErr)
	c.HasSourcesOrCitations = boolField(obj, FieldHasSourcesOrCitations, typeErr)
	c.HasSpecificFeatures = boolField(obj, FieldHasSpecificFeatures, typeErr)
	c.ClientPosition = stringField(obj, FieldClientPosition, typeErr)
	c.RecommendationStrength = stringField(obj, FieldRecommendationStrength, typeErr)
	c.EvidenceSnippet = stringField(obj, FieldEvidenceSnippet, typeErr)
	c.CompetitorsMentioned = stringListField(obj, FieldCompetitorsMentioned, typeErr)

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return domain.ExtractionRecord{}, append(errs, FieldError{Field: "$", Reason: err.Error()})
		}
		for _, fe := range verrs {
			if mistyp[fe.Field()] {
				continue
			}
			errs = append(errs, FieldError{Field: fe.Field(), Reason: describe(fe)})
		}
	}

	if len(errs) > 0 {
		sortFieldErrors(errs)
		return domain.ExtractionRecord{}, errs
	}

	return domain.ExtractionRecord{
		ClientMentioned:        *c.ClientMentioned,
		ClientPosition:         domain.Position(*c.ClientPosition),
		RecommendationStrength: domain.Strength(*c.RecommendationStrength),
		CompetitorsMentioned:   c.CompetitorsMentioned,
		HasSourcesOrCitations:  *c.HasSourcesOrCitations,
		HasSpecificFeatures:    *c.HasSpecificFeatures,
		EvidenceSnippet:        *c.EvidenceSnippet,
	}, nil
}

// A null value is treated the same as a missing key.
func boolField(obj map[string]any, key string, typeErr func(string, string)) *bool {
	raw, ok := obj[key]
	if !ok || raw == nil {
		return nil
	}
	b, ok := raw.(bool)
	if !ok {
		typeErr(key, "a boolean")
		return nil
	}
	return &b
}

func stringField(obj map[string]any, key string, typeErr func(string, string)) *string {
	raw, ok := obj[key]
	if !ok || raw == nil {
		return nil
	}
	s, ok := raw.(string)
	if !ok {
		typeErr(key, "a string")
		return nil
	}
	return &s
}

func stringListField(obj map[string]any, key string, typeErr func(string, string)) []string {
	raw, ok := obj[key]
	if !ok || raw == nil {
		return nil
	}
	items, ok := raw.([]any)
	if !ok {
		typeErr(key, "a list of strings")
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			typeErr(key, "a list of strings")
			return nil
		}
		out = append(out, s)
	}
	return out
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

func sortFieldErrors(errs FieldErrors) {
	rank := make(map[string]int, len(fieldOrder))
	for i, f := range fieldOrder {
		rank[f] = i
	}
	sort.SliceStable(errs, func(i, j int) bool {
		ri, okI := rank[errs[i].Field]
		rj, okJ := rank[errs[j].Field]
		if !okI {
			ri = -1
		}
		if !okJ {
			rj = -1
		}
		return ri < rj
	})
}
