package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/ahrav/go-beacon/infrastructure/lock"
	"github.com/ahrav/go-beacon/infrastructure/store"
	"github.com/ahrav/go-beacon/internal/domain"
	"github.com/ahrav/go-beacon/internal/ports"
	"github.com/ahrav/go-beacon/internal/prompts"
	"github.com/ahrav/go-beacon/internal/testutils"
)

const (
	perfectJSON = testutils.AnswerPerfect
	absentJSON  = testutils.AnswerAbsent
	invalidJSON = testutils.AnswerInvalid
)

var (
	testClient = domain.Client{ID: "client-1", AgencyID: "agency-1", Name: "Acme", Industry: "payroll"}
	fixedTime  = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
)

// reply is one scripted adapter answer.
type reply struct {
	text string
	err  error
}

// scriptedAdapter answers prompts in call order and repeats the last reply
// once the script runs out.
type scriptedAdapter struct {
	model string

	mu      sync.Mutex
	replies []reply
	calls   []string
	gate    chan struct{}
	entered chan struct{}
}

func (a *scriptedAdapter) Run(ctx context.Context, system, userPrompt, modelOverride string) (ports.Completion, error) {
	a.mu.Lock()
	a.calls = append(a.calls, userPrompt)
	idx := len(a.calls) - 1
	gate, entered := a.gate, a.entered
	a.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ports.Completion{ModelUsed: a.model}, ctx.Err()
		}
	}

	model := a.model
	if modelOverride != "" {
		model = modelOverride
	}
	if len(a.replies) == 0 {
		return ports.Completion{ModelUsed: model}, errors.New("no scripted reply")
	}
	r := a.replies[min(idx, len(a.replies)-1)]
	return ports.Completion{RawText: r.text, ModelUsed: model, Latency: 25 * time.Millisecond}, r.err
}

func (a *scriptedAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

// fakeSource serves fixed adapters; providers without one are disabled.
type fakeSource struct {
	adapters map[domain.Provider]*scriptedAdapter
	broken   map[domain.Provider]error
}

func (s *fakeSource) EnabledProviders() []domain.Provider {
	var out []domain.Provider
	for _, p := range domain.KnownProviders {
		if _, ok := s.adapters[p]; ok {
			out = append(out, p)
		} else if _, ok := s.broken[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

func (s *fakeSource) Adapter(p domain.Provider) (ports.Adapter, error) {
	if err, ok := s.broken[p]; ok {
		return nil, err
	}
	a, ok := s.adapters[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ports.ErrProviderDisabled, p)
	}
	return a, nil
}

// failingInsertStore fails InsertResponse after the first n inserts.
type failingInsertStore struct {
	*store.Memory
	mu    sync.Mutex
	after int
}

func (s *failingInsertStore) InsertResponse(ctx context.Context, r *domain.ProviderResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.after == 0 {
		return &ports.StoreError{Operation: "insert response", Key: r.SnapshotID, Err: ports.ErrStoreUnavailable}
	}
	s.after--
	return s.Memory.InsertResponse(ctx, r)
}

func twoPromptPack(t *testing.T) *prompts.Pack {
	t.Helper()
	p, err := prompts.Parse(strings.NewReader(`
version: test-1
system: reply in json
prompts:
  - key: best
    text: "Best {{.Industry}} vendor? Brand {{.ClientName}}; rivals {{.Competitors}}."
  - key: compare
    text: "Compare {{.ClientName}}."
`))
	require.NoError(t, err)
	return p
}

func seededMemory(t *testing.T) *store.Memory {
	t.Helper()
	st := store.NewMemory()
	require.NoError(t, st.SaveClient(context.Background(), testClient, []string{"Globex", "Initech"}))
	return st
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%03d", n)
	}
}

func testOptions(t *testing.T, extra ...Option) []Option {
	opts := []Option{
		WithLogger(zaptest.NewLogger(t, zaptest.Level(zap.WarnLevel))),
		WithClock(func() time.Time { return fixedTime }),
		WithIDGenerator(sequentialIDs()),
	}
	return append(opts, extra...)
}

func newTestOrchestrator(
	t *testing.T,
	st ports.SnapshotStore,
	src ports.AdapterSource,
	cfg OrchestratorConfig,
	extra ...Option,
) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(st, src, lock.NewLocal(), twoPromptPack(t), cfg, testOptions(t, extra...)...)
	require.NoError(t, err)
	return o
}

var allProviders = OrchestratorConfig{ExecutionSet: domain.KnownProviders, MaxConcurrency: 3}
