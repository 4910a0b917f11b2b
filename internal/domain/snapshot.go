package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Provider identifies one external language-model vendor integration.
type Provider string

// The three provider integrations the engine ships with.
const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGoogle    Provider = "google"
)

// KnownProviders lists the supported providers in their canonical order.
// The order is used whenever providers are enumerated.
var KnownProviders = []Provider{ProviderOpenAI, ProviderAnthropic, ProviderGoogle}

// ParseProvider maps a configured name onto a known Provider.
func ParseProvider(name string) (Provider, error) {
	for _, p := range KnownProviders {
		if string(p) == name {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProvider, name)
}

// Status is the lifecycle state of a Snapshot.
type Status string

// Snapshot lifecycle states. Complete and failed are terminal.
const (
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool { return s == StatusComplete || s == StatusFailed }

// Client is the brand a snapshot scores, as read from the persistence
// collaborator.
type Client struct {
	ID       string `json:"id"`
	AgencyID string `json:"agency_id"`
	Name     string `json:"name"`
	Industry string `json:"industry"`
}

// Snapshot is the unit of work: one run of the prompt pack across the
// runnable providers for a single client.
type Snapshot struct {
	ID                string             `json:"id"`
	ClientID          string             `json:"client_id"`
	AgencyID          string             `json:"agency_id"`
	PromptPackVersion string             `json:"prompt_pack_version"`
	Status            Status             `json:"status"`
	StartedAt         time.Time          `json:"started_at"`
	CompletedAt       *time.Time         `json:"completed_at,omitempty"`
	OverallScore      *int               `json:"overall_score,omitempty"`
	ScoreByProvider   map[string]int     `json:"score_by_provider"`
	ScoreBreakdown    map[string]float64 `json:"score_breakdown"`
	Error             *string            `json:"error,omitempty"`
}

// NewSnapshot builds a running snapshot for client. The caller assigns the ID.
func NewSnapshot(id string, client Client, packVersion string, now time.Time) *Snapshot {
	return &Snapshot{
		ID:                id,
		ClientID:          client.ID,
		AgencyID:          client.AgencyID,
		PromptPackVersion: packVersion,
		Status:            StatusRunning,
		StartedAt:         now,
		ScoreByProvider:   map[string]int{},
		ScoreBreakdown:    map[string]float64{},
	}
}

// Complete moves a running snapshot to complete with the given score.
func (s *Snapshot) Complete(score SnapshotScore, now time.Time) error {
	if s.Status != StatusRunning {
		return fmt.Errorf("%w: snapshot %s is %s", ErrInvalidTransition, s.ID, s.Status)
	}
	overall := score.Overall
	s.Status = StatusComplete
	s.OverallScore = &overall
	s.ScoreByProvider = score.ByProvider
	s.ScoreBreakdown = score.Breakdown
	s.CompletedAt = &now
	return nil
}

// Fail moves a running snapshot to failed, recording reason.
func (s *Snapshot) Fail(reason string, now time.Time) error {
	if s.Status != StatusRunning {
		return fmt.Errorf("%w: snapshot %s is %s", ErrInvalidTransition, s.ID, s.Status)
	}
	s.Status = StatusFailed
	s.Error = &reason
	s.CompletedAt = &now
	return nil
}

// ProviderResponse records one attempt of one prompt against one provider.
// Rows are created once and never updated.
type ProviderResponse struct {
	ID            string            `json:"id"`
	SnapshotID    string            `json:"snapshot_id"`
	PromptOrdinal int               `json:"prompt_ordinal"`
	PromptKey     string            `json:"prompt_key"`
	Provider      Provider          `json:"provider"`
	ModelUsed     string            `json:"model_used"`
	RawText       string            `json:"raw_text"`
	ParseOK       bool              `json:"parse_ok"`
	Extraction    *ExtractionRecord `json:"extraction,omitempty"`
	// ParsedJSON is the record on success, the validator's field errors on a
	// validation failure, and nil otherwise.
	ParsedJSON json.RawMessage `json:"parsed_json,omitempty"`
	Error      *string         `json:"error,omitempty"`
	LatencyMS  int64           `json:"latency_ms"`
	CreatedAt  time.Time       `json:"created_at"`
}
