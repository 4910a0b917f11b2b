package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/ahrav/go-beacon/internal/domain"
	"github.com/ahrav/go-beacon/internal/ports"
)

// Report is a read-only view of one snapshot and its rows.
type Report struct {
	Snapshot    *domain.Snapshot           `json:"snapshot"`
	Responses   []domain.ProviderResponse  `json:"responses"`
	Competitors []domain.CompetitorMention `json:"competitors"`
}

// Reporter assembles reports from stored data. It never writes.
type Reporter struct {
	store         ports.SnapshotStore
	minSimilarity float64
}

// NewReporter creates a Reporter. minSimilarity tunes competitor name
// matching; zero uses domain.DefaultCompetitorSimilarity.
func NewReporter(store ports.SnapshotStore, minSimilarity float64) (*Reporter, error) {
	if store == nil {
		return nil, errors.New("reporter: store is required")
	}
	return &Reporter{store: store, minSimilarity: minSimilarity}, nil
}

// Report loads the snapshot, its responses in provider then ordinal order,
// and a competitor mention summary over the parsed rows.
func (r *Reporter) Report(ctx context.Context, snapshotID string) (*Report, error) {
	snap, err := r.store.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", snapshotID, err)
	}
	responses, err := r.store.ListResponses(ctx, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("load responses for %s: %w", snapshotID, err)
	}
	known, err := r.store.ListCompetitors(ctx, snap.ClientID)
	if err != nil {
		return nil, fmt.Errorf("load competitors for %s: %w", snap.ClientID, err)
	}

	var records []domain.ExtractionRecord
	for _, resp := range responses {
		if resp.ParseOK && resp.Extraction != nil {
			records = append(records, *resp.Extraction)
		}
	}

	return &Report{
		Snapshot:    snap,
		Responses:   responses,
		Competitors: domain.SummarizeCompetitors(known, records, r.minSimilarity),
	}, nil
}
