package store

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-beacon/internal/domain"
	"github.com/ahrav/go-beacon/internal/ports"
)

// seedableStore is a SnapshotStore that can also write client profiles.
type seedableStore interface {
	ports.SnapshotStore
	SaveClient(ctx context.Context, c domain.Client, competitors []string) error
}

var (
	testClient = domain.Client{ID: "client-1", AgencyID: "agency-1", Name: "Acme Corp", Industry: "fintech"}
	testStart  = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
)

// runStoreContract exercises the behavior every SnapshotStore shares.
func runStoreContract(t *testing.T, newStore func(t *testing.T) seedableStore) {
	t.Run("client profile", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()

		_, err := st.GetClient(ctx, "missing")
		require.ErrorIs(t, err, domain.ErrClientNotFound)

		require.NoError(t, st.SaveClient(ctx, testClient, []string{"Globex", "Initech"}))
		got, err := st.GetClient(ctx, testClient.ID)
		require.NoError(t, err)
		assert.Equal(t, testClient, got)

		names, err := st.ListCompetitors(ctx, testClient.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"Globex", "Initech"}, names)

		require.NoError(t, st.SaveClient(ctx, testClient, []string{"Umbrella"}))
		names, err = st.ListCompetitors(ctx, testClient.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"Umbrella"}, names)

		names, err = st.ListCompetitors(ctx, "nobody")
		require.NoError(t, err)
		assert.Empty(t, names)
	})

	t.Run("one running snapshot per client", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		require.NoError(t, st.SaveClient(ctx, testClient, nil))

		running, err := st.HasRunningSnapshot(ctx, testClient.ID)
		require.NoError(t, err)
		assert.False(t, running)

		first := domain.NewSnapshot("snap-1", testClient, "2025.1", testStart)
		require.NoError(t, st.CreateSnapshot(ctx, first))

		running, err = st.HasRunningSnapshot(ctx, testClient.ID)
		require.NoError(t, err)
		assert.True(t, running)

		second := domain.NewSnapshot("snap-2", testClient, "2025.1", testStart.Add(time.Second))
		require.ErrorIs(t, st.CreateSnapshot(ctx, second), domain.ErrRunInProgress)

		require.NoError(t, first.Fail("boom", testStart.Add(time.Minute)))
		require.NoError(t, st.FinalizeSnapshot(ctx, first))
		require.NoError(t, st.CreateSnapshot(ctx, second))
	})

	t.Run("concurrent creates admit one", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		require.NoError(t, st.SaveClient(ctx, testClient, nil))

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			ok       int
			conflict int
		)
		for i := range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				snap := domain.NewSnapshot("snap-c"+string(rune('a'+i)), testClient, "2025.1", testStart)
				err := st.CreateSnapshot(ctx, snap)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					ok++
				case assert.ErrorIs(t, err, domain.ErrRunInProgress):
					conflict++
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, ok)
		assert.Equal(t, 7, conflict)
	})

	t.Run("finalize complete round trip", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		require.NoError(t, st.SaveClient(ctx, testClient, nil))

		snap := domain.NewSnapshot("snap-1", testClient, "2025.1", testStart)
		require.NoError(t, st.CreateSnapshot(ctx, snap))

		score := domain.SnapshotScore{
			Overall:    72,
			ByProvider: map[string]int{"openai": 72},
			Breakdown:  map[string]float64{"openai.presence_rate": 0.5},
		}
		require.NoError(t, snap.Complete(score, testStart.Add(time.Minute)))
		require.NoError(t, st.FinalizeSnapshot(ctx, snap))

		got, err := st.GetSnapshot(ctx, "snap-1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusComplete, got.Status)
		assert.Equal(t, "2025.1", got.PromptPackVersion)
		assert.Equal(t, "agency-1", got.AgencyID)
		require.NotNil(t, got.OverallScore)
		assert.Equal(t, 72, *got.OverallScore)
		assert.Equal(t, map[string]int{"openai": 72}, got.ScoreByProvider)
		assert.Equal(t, map[string]float64{"openai.presence_rate": 0.5}, got.ScoreBreakdown)
		require.NotNil(t, got.CompletedAt)
		assert.True(t, got.CompletedAt.Equal(testStart.Add(time.Minute)))
		assert.True(t, got.StartedAt.Equal(testStart))
		assert.Nil(t, got.Error)

		// Terminal rows are immutable.
		again := *got
		require.ErrorIs(t, st.FinalizeSnapshot(ctx, &again), domain.ErrSnapshotNotRunning)

		_, err = st.GetSnapshot(ctx, "missing")
		require.ErrorIs(t, err, domain.ErrSnapshotNotFound)
	})

	t.Run("responses ordered by provider then ordinal", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		require.NoError(t, st.SaveClient(ctx, testClient, nil))
		snap := domain.NewSnapshot("snap-1", testClient, "2025.1", testStart)
		require.NoError(t, st.CreateSnapshot(ctx, snap))

		rec := domain.ExtractionRecord{
			ClientMentioned:        true,
			ClientPosition:         domain.PositionTop,
			RecommendationStrength: domain.StrengthStrong,
			CompetitorsMentioned:   []string{"Globex"},
			EvidenceSnippet:        "Acme leads",
		}
		recJSON, err := json.Marshal(rec)
		require.NoError(t, err)
		errText := "anthropic error (HTTP 500)"

		rows := []domain.ProviderResponse{
			{SnapshotID: "snap-1", PromptOrdinal: 1, PromptKey: "b", Provider: domain.ProviderOpenAI, ModelUsed: "gpt-4o",
				RawText: "{}", ParsedJSON: json.RawMessage(`{"validation_errors":[]}`), LatencyMS: 5, CreatedAt: testStart},
			{SnapshotID: "snap-1", PromptOrdinal: 0, PromptKey: "a", Provider: domain.ProviderAnthropic, ModelUsed: "claude",
				Error: &errText, LatencyMS: 7, CreatedAt: testStart},
			{SnapshotID: "snap-1", PromptOrdinal: 0, PromptKey: "a", Provider: domain.ProviderOpenAI, ModelUsed: "gpt-4o",
				RawText: string(recJSON), ParseOK: true, Extraction: &rec, ParsedJSON: recJSON, LatencyMS: 3, CreatedAt: testStart},
		}
		for i := range rows {
			require.NoError(t, st.InsertResponse(ctx, &rows[i]))
			assert.NotEmpty(t, rows[i].ID)
		}

		dup := rows[2]
		dup.ID = ""
		require.Error(t, st.InsertResponse(ctx, &dup))

		got, err := st.ListResponses(ctx, "snap-1")
		require.NoError(t, err)
		require.Len(t, got, 3)

		assert.Equal(t, domain.ProviderOpenAI, got[0].Provider)
		assert.Equal(t, 0, got[0].PromptOrdinal)
		assert.True(t, got[0].ParseOK)
		require.NotNil(t, got[0].Extraction)
		assert.Equal(t, rec, *got[0].Extraction)
		assert.JSONEq(t, string(recJSON), string(got[0].ParsedJSON))

		assert.Equal(t, domain.ProviderOpenAI, got[1].Provider)
		assert.Equal(t, 1, got[1].PromptOrdinal)
		assert.False(t, got[1].ParseOK)
		assert.Nil(t, got[1].Extraction)
		assert.JSONEq(t, `{"validation_errors":[]}`, string(got[1].ParsedJSON))

		assert.Equal(t, domain.ProviderAnthropic, got[2].Provider)
		assert.Empty(t, got[2].ParsedJSON)
		require.NotNil(t, got[2].Error)
		assert.Equal(t, errText, *got[2].Error)
		assert.Equal(t, int64(7), got[2].LatencyMS)
	})

	t.Run("fail running snapshots", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		require.NoError(t, st.SaveClient(ctx, testClient, nil))
		other := domain.Client{ID: "client-2", AgencyID: "agency-1", Name: "Other"}
		require.NoError(t, st.SaveClient(ctx, other, nil))

		require.NoError(t, st.CreateSnapshot(ctx, domain.NewSnapshot("snap-1", testClient, "v", testStart)))
		require.NoError(t, st.CreateSnapshot(ctx, domain.NewSnapshot("snap-2", other, "v", testStart)))

		list, err := st.ListRunningSnapshots(ctx, testClient.ID)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "snap-1", list[0].ID)

		at := testStart.Add(time.Hour)
		ids, err := st.FailRunningSnapshots(ctx, testClient.ID, "reset", at)
		require.NoError(t, err)
		assert.Equal(t, []string{"snap-1"}, ids)

		ids, err = st.FailRunningSnapshots(ctx, testClient.ID, "reset", at)
		require.NoError(t, err)
		assert.Empty(t, ids)

		got, err := st.GetSnapshot(ctx, "snap-1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusFailed, got.Status)
		require.NotNil(t, got.Error)
		assert.Equal(t, "reset", *got.Error)
		require.NotNil(t, got.CompletedAt)
		assert.True(t, got.CompletedAt.Equal(at))
		assert.Nil(t, got.OverallScore)

		running, err := st.HasRunningSnapshot(ctx, other.ID)
		require.NoError(t, err)
		assert.True(t, running, "other clients are untouched")

		// A late finalization of the reset snapshot does nothing.
		late := domain.NewSnapshot("snap-1", testClient, "v", testStart)
		require.NoError(t, late.Complete(domain.SnapshotScore{Overall: 90}, at.Add(time.Minute)))
		require.ErrorIs(t, st.FinalizeSnapshot(ctx, late), domain.ErrSnapshotNotRunning)

		got, err = st.GetSnapshot(ctx, "snap-1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusFailed, got.Status)
	})

	t.Run("finalize rejects non-terminal status", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		require.NoError(t, st.SaveClient(ctx, testClient, nil))
		snap := domain.NewSnapshot("snap-1", testClient, "v", testStart)
		require.NoError(t, st.CreateSnapshot(ctx, snap))

		require.ErrorIs(t, st.FinalizeSnapshot(ctx, snap), domain.ErrInvalidTransition)
	})
}
