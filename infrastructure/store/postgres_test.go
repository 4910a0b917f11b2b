package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-beacon/internal/domain"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return NewPostgresWithPool(mock), mock
}

var snapshotCols = []string{
	"id", "client_id", "agency_id", "prompt_pack_version", "status", "started_at", "completed_at",
	"overall_score", "score_by_provider", "score_breakdown", "error",
}

func ptr[T any](v T) *T { return &v }

func TestPostgresStore_GetClient(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, agency_id, name, industry FROM clients WHERE id = \$1`).
		WithArgs("client-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "agency_id", "name", "industry"}).
			AddRow("client-1", "agency-1", "Acme Corp", "fintech"))

	c, err := s.GetClient(context.Background(), "client-1")
	require.NoError(t, err)
	assert.Equal(t, testClient, c)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetClient_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM clients WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetClient(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrClientNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListCompetitors(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT name FROM competitors WHERE client_id = \$1 ORDER BY position`).
		WithArgs("client-1").
		WillReturnRows(pgxmock.NewRows([]string{"name"}).AddRow("Globex").AddRow("Initech"))

	names, err := s.ListCompetitors(context.Background(), "client-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Globex", "Initech"}, names)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveClient(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO clients .* ON CONFLICT \(id\) DO UPDATE`).
		WithArgs("client-1", "agency-1", "Acme Corp", "fintech").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM competitors WHERE client_id = \$1`).
		WithArgs("client-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec(`INSERT INTO competitors`).
		WithArgs("client-1", 0, "Globex").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, s.SaveClient(context.Background(), testClient, []string{"Globex"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveClient_RollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO clients`).
		WithArgs("client-1", "agency-1", "Acme Corp", "fintech").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := s.SaveClient(context.Background(), testClient, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert client")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateSnapshot(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	snap := domain.NewSnapshot("snap-1", testClient, "2025.1", testStart)

	mock.ExpectExec(`INSERT INTO snapshots`).
		WithArgs("snap-1", "client-1", "agency-1", "2025.1", "running", testStart,
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.CreateSnapshot(context.Background(), snap))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateSnapshot_Conflict(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantConflict bool
	}{
		{
			name:         "running index violation",
			err:          &pgconn.PgError{Code: "23505", ConstraintName: "snapshots_one_running"},
			wantConflict: true,
		},
		{
			name: "primary key violation",
			err:  &pgconn.PgError{Code: "23505", ConstraintName: "snapshots_pkey"},
		},
		{
			name: "foreign key violation",
			err:  &pgconn.PgError{Code: "23503", ConstraintName: "snapshots_client_id_fkey"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockPostgresStore(t)
			mock.ExpectExec(`INSERT INTO snapshots`).
				WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
					pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
				WillReturnError(tt.err)

			err := s.CreateSnapshot(context.Background(), domain.NewSnapshot("snap-2", testClient, "v", testStart))
			require.Error(t, err)
			assert.Equal(t, tt.wantConflict, errors.Is(err, domain.ErrRunInProgress))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresStore_HasRunningSnapshot(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("client-1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	running, err := s.HasRunningSnapshot(context.Background(), "client-1")
	require.NoError(t, err)
	assert.True(t, running)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetSnapshot(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	done := testStart.Add(time.Minute)

	mock.ExpectQuery(`FROM snapshots WHERE id = \$1`).
		WithArgs("snap-1").
		WillReturnRows(pgxmock.NewRows(snapshotCols).AddRow(
			"snap-1", "client-1", "agency-1", "2025.1", "complete", testStart, ptr(done),
			ptr(int32(72)), []byte(`{"openai":72}`), []byte(`{"openai.presence_rate":0.5}`), nil,
		))

	snap, err := s.GetSnapshot(context.Background(), "snap-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusComplete, snap.Status)
	require.NotNil(t, snap.OverallScore)
	assert.Equal(t, 72, *snap.OverallScore)
	require.NotNil(t, snap.CompletedAt)
	assert.True(t, snap.CompletedAt.Equal(done))
	assert.Equal(t, map[string]int{"openai": 72}, snap.ScoreByProvider)
	assert.Equal(t, map[string]float64{"openai.presence_rate": 0.5}, snap.ScoreBreakdown)
	assert.Nil(t, snap.Error)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetSnapshot_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM snapshots WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetSnapshot(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrSnapshotNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FinalizeSnapshot(t *testing.T) {
	tests := []struct {
		name    string
		rows    int64
		wantErr error
	}{
		{name: "running row updated", rows: 1},
		{name: "already terminal", rows: 0, wantErr: domain.ErrSnapshotNotRunning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockPostgresStore(t)
			snap := domain.NewSnapshot("snap-1", testClient, "v", testStart)
			require.NoError(t, snap.Fail("no providers enabled", testStart))

			mock.ExpectExec(`UPDATE snapshots SET status = \$2, completed_at = \$3,.* WHERE id = \$1 AND status = 'running'`).
				WithArgs("snap-1", "failed", pgxmock.AnyArg(), pgxmock.AnyArg(),
					pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
				WillReturnResult(pgxmock.NewResult("UPDATE", tt.rows))

			err := s.FinalizeSnapshot(context.Background(), snap)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresStore_InsertResponse(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	r := &domain.ProviderResponse{
		SnapshotID: "snap-1", PromptOrdinal: 0, PromptKey: "best", Provider: domain.ProviderOpenAI,
		ModelUsed: "gpt-4o", RawText: "no json here", LatencyMS: 12, CreatedAt: testStart,
	}

	mock.ExpectExec(`INSERT INTO provider_responses`).
		WithArgs(pgxmock.AnyArg(), "snap-1", 0, "best", "openai", "gpt-4o", "no json here", false,
			nil, pgxmock.AnyArg(), int64(12), testStart).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.InsertResponse(context.Background(), r))
	assert.NotEmpty(t, r.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListResponses(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	recJSON := []byte(`{"client_mentioned":true,"client_position":"top","recommendation_strength":"strong",` +
		`"competitors_mentioned":[],"has_sources_or_citations":false,"has_specific_features":true,"evidence_snippet":"x"}`)

	cols := []string{"id", "snapshot_id", "prompt_ordinal", "prompt_key", "provider", "model_used",
		"raw_text", "parse_ok", "parsed_json", "error", "latency_ms", "created_at"}
	mock.ExpectQuery(`FROM provider_responses WHERE snapshot_id = \$1 ORDER BY CASE provider`).
		WithArgs("snap-1").
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow("r1", "snap-1", int32(0), "best", "openai", "gpt-4o", string(recJSON), true,
				recJSON, nil, int64(10), testStart).
			AddRow("r2", "snap-1", int32(0), "best", "google", "gemini", "", false,
				nil, ptr("google error (HTTP 503)"), int64(4), testStart))

	rows, err := s.ListResponses(context.Background(), "snap-1")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, domain.ProviderOpenAI, rows[0].Provider)
	require.NotNil(t, rows[0].Extraction)
	assert.Equal(t, domain.PositionTop, rows[0].Extraction.ClientPosition)
	assert.True(t, rows[0].Extraction.HasSpecificFeatures)

	assert.Equal(t, domain.ProviderGoogle, rows[1].Provider)
	assert.Nil(t, rows[1].Extraction)
	require.NotNil(t, rows[1].Error)
	assert.Equal(t, "google error (HTTP 503)", *rows[1].Error)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRunningSnapshots(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM snapshots WHERE client_id = \$1 AND status = 'running' ORDER BY started_at`).
		WithArgs("client-1").
		WillReturnRows(pgxmock.NewRows(snapshotCols).AddRow(
			"snap-1", "client-1", "agency-1", "v", "running", testStart, nil,
			nil, []byte(`{}`), []byte(`{}`), nil,
		))

	list, err := s.ListRunningSnapshots(context.Background(), "client-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.StatusRunning, list[0].Status)
	assert.Nil(t, list[0].CompletedAt)
	assert.Nil(t, list[0].OverallScore)
	assert.NotNil(t, list[0].ScoreByProvider)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FailRunningSnapshots(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	at := testStart.Add(time.Hour)

	mock.ExpectQuery(`UPDATE snapshots SET status = 'failed', error = \$2,.* RETURNING id`).
		WithArgs("client-1", "manually reset by ops: snapshot was stuck in running state", at).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("snap-1").AddRow("snap-0"))

	ids, err := s.FailRunningSnapshots(context.Background(), "client-1",
		"manually reset by ops: snapshot was stuck in running state", at)
	require.NoError(t, err)
	assert.Equal(t, []string{"snap-1", "snap-0"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}
