package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/ahrav/go-beacon/internal/domain"
	"github.com/ahrav/go-beacon/internal/ports"
)

var _ ports.SnapshotStore = (*Memory)(nil)

// Memory is a SnapshotStore held in process memory, used for tests and dry
// runs. Every method copies on the way in and out.
type Memory struct {
	mu          sync.RWMutex
	clients     map[string]domain.Client
	competitors map[string][]string
	snapshots   map[string]*domain.Snapshot
	responses   map[string][]domain.ProviderResponse
	// running maps client id to its running snapshot id.
	running map[string]string
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		clients:     make(map[string]domain.Client),
		competitors: make(map[string][]string),
		snapshots:   make(map[string]*domain.Snapshot),
		responses:   make(map[string][]domain.ProviderResponse),
		running:     make(map[string]string),
	}
}

// SaveClient creates or replaces a client and its competitor list.
func (m *Memory) SaveClient(_ context.Context, c domain.Client, competitors []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[c.ID] = c
	m.competitors[c.ID] = slices.Clone(competitors)
	return nil
}

// GetClient implements ports.SnapshotStore.
func (m *Memory) GetClient(_ context.Context, clientID string) (domain.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[clientID]
	if !ok {
		return domain.Client{}, fmt.Errorf("%w: %s", domain.ErrClientNotFound, clientID)
	}
	return c, nil
}

// ListCompetitors implements ports.SnapshotStore.
func (m *Memory) ListCompetitors(_ context.Context, clientID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.competitors[clientID]), nil
}

// CreateSnapshot implements ports.SnapshotStore.
func (m *Memory) CreateSnapshot(_ context.Context, s *domain.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.snapshots[s.ID]; exists {
		return fmt.Errorf("snapshot %s already exists", s.ID)
	}
	if s.Status == domain.StatusRunning {
		if id, busy := m.running[s.ClientID]; busy {
			return fmt.Errorf("%w: client %s, snapshot %s", domain.ErrRunInProgress, s.ClientID, id)
		}
		m.running[s.ClientID] = s.ID
	}
	m.snapshots[s.ID] = copySnapshot(s)
	return nil
}

// HasRunningSnapshot implements ports.SnapshotStore.
func (m *Memory) HasRunningSnapshot(_ context.Context, clientID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.running[clientID]
	return ok, nil
}

// GetSnapshot implements ports.SnapshotStore.
func (m *Memory) GetSnapshot(_ context.Context, snapshotID string) (*domain.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.snapshots[snapshotID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSnapshotNotFound, snapshotID)
	}
	return copySnapshot(s), nil
}

// FinalizeSnapshot implements ports.SnapshotStore.
func (m *Memory) FinalizeSnapshot(_ context.Context, s *domain.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.snapshots[s.ID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrSnapshotNotFound, s.ID)
	}
	if stored.Status != domain.StatusRunning {
		return fmt.Errorf("%w: %s is %s", domain.ErrSnapshotNotRunning, s.ID, stored.Status)
	}
	if !s.Status.Terminal() {
		return fmt.Errorf("%w: finalize %s with status %s", domain.ErrInvalidTransition, s.ID, s.Status)
	}

	m.snapshots[s.ID] = copySnapshot(s)
	delete(m.running, s.ClientID)
	return nil
}

// InsertResponse implements ports.SnapshotStore.
func (m *Memory) InsertResponse(_ context.Context, r *domain.ProviderResponse) error {
	ensureResponseID(r)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.snapshots[r.SnapshotID]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrSnapshotNotFound, r.SnapshotID)
	}
	for _, existing := range m.responses[r.SnapshotID] {
		if existing.Provider == r.Provider && existing.PromptOrdinal == r.PromptOrdinal {
			return fmt.Errorf("response for %s prompt %d already recorded in snapshot %s",
				r.Provider, r.PromptOrdinal, r.SnapshotID)
		}
	}
	m.responses[r.SnapshotID] = append(m.responses[r.SnapshotID], copyResponse(*r))
	return nil
}

// ListResponses implements ports.SnapshotStore.
func (m *Memory) ListResponses(_ context.Context, snapshotID string) ([]domain.ProviderResponse, error) {
	m.mu.RLock()
	rows := make([]domain.ProviderResponse, 0, len(m.responses[snapshotID]))
	for _, r := range m.responses[snapshotID] {
		rows = append(rows, copyResponse(r))
	}
	m.mu.RUnlock()

	sort.SliceStable(rows, func(i, j int) bool {
		ri, rj := providerRank(rows[i].Provider), providerRank(rows[j].Provider)
		if ri != rj {
			return ri < rj
		}
		return rows[i].PromptOrdinal < rows[j].PromptOrdinal
	})
	return rows, nil
}

// ListRunningSnapshots implements ports.SnapshotStore.
func (m *Memory) ListRunningSnapshots(_ context.Context, clientID string) ([]domain.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.Snapshot
	for _, s := range m.snapshots {
		if s.ClientID == clientID && s.Status == domain.StatusRunning {
			out = append(out, *copySnapshot(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

// FailRunningSnapshots implements ports.SnapshotStore.
func (m *Memory) FailRunningSnapshots(_ context.Context, clientID, errMsg string, at time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for _, s := range m.snapshots {
		if s.ClientID != clientID || s.Status != domain.StatusRunning {
			continue
		}
		if err := s.Fail(errMsg, at); err != nil {
			return ids, err
		}
		ids = append(ids, s.ID)
	}
	delete(m.running, clientID)
	sort.Strings(ids)
	return ids, nil
}

func copySnapshot(s *domain.Snapshot) *domain.Snapshot {
	c := *s
	c.ScoreByProvider = maps.Clone(nonNilInts(s.ScoreByProvider))
	c.ScoreBreakdown = maps.Clone(nonNilFloats(s.ScoreBreakdown))
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	if s.OverallScore != nil {
		v := *s.OverallScore
		c.OverallScore = &v
	}
	if s.Error != nil {
		e := *s.Error
		c.Error = &e
	}
	return &c
}

func copyResponse(r domain.ProviderResponse) domain.ProviderResponse {
	r.ParsedJSON = slices.Clone(r.ParsedJSON)
	if r.Extraction != nil {
		rec := *r.Extraction
		rec.CompetitorsMentioned = slices.Clone(rec.CompetitorsMentioned)
		r.Extraction = &rec
	}
	if r.Error != nil {
		e := *r.Error
		r.Error = &e
	}
	return r
}
