package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/ahrav/go-beacon/internal/domain"
	"github.com/ahrav/go-beacon/internal/ports"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

var _ ports.SnapshotStore = (*PostgresStore)(nil)

// PostgresStore implements SnapshotStore using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `mapstructure:"max_conns"`
	MinConns int32 `mapstructure:"min_conns"`
}

// NewPostgres connects a pool and pings it. The schema is managed by
// Migrate, not here.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(errors.Join(ports.ErrStoreUnavailable, err), "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool.
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	if s.closeFn != nil {
		s.closeFn()
	}
}

// SaveClient upserts a client and replaces its competitor list.
func (s *PostgresStore) SaveClient(ctx context.Context, c domain.Client, competitors []string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save client")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`INSERT INTO clients (id, agency_id, name, industry) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET agency_id = EXCLUDED.agency_id, name = EXCLUDED.name, industry = EXCLUDED.industry`,
		c.ID, c.AgencyID, c.Name, c.Industry,
	); err != nil {
		return eris.Wrapf(err, "postgres: upsert client %s", c.ID)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM competitors WHERE client_id = $1`, c.ID); err != nil {
		return eris.Wrapf(err, "postgres: clear competitors %s", c.ID)
	}
	for i, name := range competitors {
		if _, err := tx.Exec(ctx,
			`INSERT INTO competitors (client_id, position, name) VALUES ($1, $2, $3)`,
			c.ID, i, name,
		); err != nil {
			return eris.Wrapf(err, "postgres: insert competitor %s", name)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit save client")
}

// GetClient implements ports.SnapshotStore.
func (s *PostgresStore) GetClient(ctx context.Context, clientID string) (domain.Client, error) {
	var c domain.Client
	err := s.pool.QueryRow(ctx,
		`SELECT id, agency_id, name, industry FROM clients WHERE id = $1`, clientID,
	).Scan(&c.ID, &c.AgencyID, &c.Name, &c.Industry)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Client{}, fmt.Errorf("%w: %s", domain.ErrClientNotFound, clientID)
	}
	if err != nil {
		return domain.Client{}, eris.Wrapf(err, "postgres: get client %s", clientID)
	}
	return c, nil
}

// ListCompetitors implements ports.SnapshotStore.
func (s *PostgresStore) ListCompetitors(ctx context.Context, clientID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name FROM competitors WHERE client_id = $1 ORDER BY position`, clientID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list competitors %s", clientID)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: scan competitors %s", clientID)
	}
	return names, nil
}

// CreateSnapshot implements ports.SnapshotStore. A violation of the
// running-snapshot index maps to domain.ErrRunInProgress.
func (s *PostgresStore) CreateSnapshot(ctx context.Context, snap *domain.Snapshot) error {
	byProvider, breakdown, err := scoreColumns(snap)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO snapshots (id, client_id, agency_id, prompt_pack_version, status, started_at, score_by_provider, score_breakdown)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		snap.ID, snap.ClientID, snap.AgencyID, snap.PromptPackVersion, string(snap.Status),
		snap.StartedAt.UTC(), byProvider, breakdown,
	)
	if isRunningConflict(err) {
		return fmt.Errorf("%w: client %s", domain.ErrRunInProgress, snap.ClientID)
	}
	return eris.Wrapf(err, "postgres: insert snapshot %s", snap.ID)
}

func isRunningConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == runningIndex
}

// HasRunningSnapshot implements ports.SnapshotStore.
func (s *PostgresStore) HasRunningSnapshot(ctx context.Context, clientID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM snapshots WHERE client_id = $1 AND status = 'running')`, clientID,
	).Scan(&exists)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: check running %s", clientID)
	}
	return exists, nil
}

const snapshotColumns = `id, client_id, agency_id, prompt_pack_version, status, started_at, completed_at,
	overall_score, score_by_provider, score_breakdown, error`

// GetSnapshot implements ports.SnapshotStore.
func (s *PostgresStore) GetSnapshot(ctx context.Context, snapshotID string) (*domain.Snapshot, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+snapshotColumns+` FROM snapshots WHERE id = $1`, snapshotID)
	snap, err := scanPgSnapshot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrSnapshotNotFound, snapshotID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get snapshot %s", snapshotID)
	}
	return snap, nil
}

// FinalizeSnapshot implements ports.SnapshotStore. The status guard makes a
// late finalization after recovery a no-op.
func (s *PostgresStore) FinalizeSnapshot(ctx context.Context, snap *domain.Snapshot) error {
	if !snap.Status.Terminal() {
		return fmt.Errorf("%w: finalize %s with status %s", domain.ErrInvalidTransition, snap.ID, snap.Status)
	}
	byProvider, breakdown, err := scoreColumns(snap)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE snapshots SET status = $2, completed_at = $3, overall_score = $4,
		 score_by_provider = $5, score_breakdown = $6, error = $7
		 WHERE id = $1 AND status = 'running'`,
		snap.ID, string(snap.Status), utcPtr(snap.CompletedAt), snap.OverallScore,
		byProvider, breakdown, snap.Error,
	)
	if err != nil {
		return ports.NewStoreError("FinalizeSnapshot", snap.ID, eris.Wrap(err, "postgres: finalize snapshot"))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", domain.ErrSnapshotNotRunning, snap.ID)
	}
	return nil
}

// InsertResponse implements ports.SnapshotStore.
func (s *PostgresStore) InsertResponse(ctx context.Context, r *domain.ProviderResponse) error {
	ensureResponseID(r)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO provider_responses (id, snapshot_id, prompt_ordinal, prompt_key, provider, model_used,
		 raw_text, parse_ok, parsed_json, error, latency_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.ID, r.SnapshotID, r.PromptOrdinal, r.PromptKey, string(r.Provider), r.ModelUsed,
		r.RawText, r.ParseOK, nullableJSON(r.ParsedJSON), r.Error, r.LatencyMS, r.CreatedAt.UTC(),
	)
	if err != nil {
		return ports.NewStoreError("InsertResponse", r.SnapshotID,
			eris.Wrapf(err, "postgres: insert response %s/%d", r.Provider, r.PromptOrdinal))
	}
	return nil
}

// ListResponses implements ports.SnapshotStore.
func (s *PostgresStore) ListResponses(ctx context.Context, snapshotID string) ([]domain.ProviderResponse, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, snapshot_id, prompt_ordinal, prompt_key, provider, model_used, raw_text, parse_ok,
		 parsed_json, error, latency_ms, created_at
		 FROM provider_responses WHERE snapshot_id = $1 ORDER BY `+responseOrder, snapshotID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list responses %s", snapshotID)
	}
	defer rows.Close()

	var out []domain.ProviderResponse
	for rows.Next() {
		var (
			r        domain.ProviderResponse
			provider string
			ordinal  int32
			parsed   []byte
		)
		if err := rows.Scan(&r.ID, &r.SnapshotID, &ordinal, &r.PromptKey, &provider, &r.ModelUsed,
			&r.RawText, &r.ParseOK, &parsed, &r.Error, &r.LatencyMS, &r.CreatedAt); err != nil {
			return nil, eris.Wrapf(err, "postgres: scan response %s", snapshotID)
		}
		r.Provider = domain.Provider(provider)
		r.PromptOrdinal = int(ordinal)
		r.ParsedJSON = parsed
		if err := decodeExtraction(&r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "postgres: iterate responses %s", snapshotID)
	}
	return out, nil
}

// ListRunningSnapshots implements ports.SnapshotStore.
func (s *PostgresStore) ListRunningSnapshots(ctx context.Context, clientID string) ([]domain.Snapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+snapshotColumns+` FROM snapshots WHERE client_id = $1 AND status = 'running' ORDER BY started_at`,
		clientID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list running %s", clientID)
	}
	defer rows.Close()

	var out []domain.Snapshot
	for rows.Next() {
		snap, err := scanPgSnapshot(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: scan running %s", clientID)
		}
		out = append(out, *snap)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "postgres: iterate running %s", clientID)
	}
	return out, nil
}

// FailRunningSnapshots implements ports.SnapshotStore in one statement.
func (s *PostgresStore) FailRunningSnapshots(ctx context.Context, clientID, errMsg string, at time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE snapshots SET status = 'failed', error = $2, completed_at = $3
		 WHERE client_id = $1 AND status = 'running' RETURNING id`,
		clientID, errMsg, at.UTC())
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: fail running %s", clientID)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: collect failed ids %s", clientID)
	}
	return ids, nil
}

func scanPgSnapshot(row pgx.Row) (*domain.Snapshot, error) {
	var (
		snap       domain.Snapshot
		status     string
		overall    *int32
		byProvider []byte
		breakdown  []byte
	)
	if err := row.Scan(&snap.ID, &snap.ClientID, &snap.AgencyID, &snap.PromptPackVersion, &status,
		&snap.StartedAt, &snap.CompletedAt, &overall, &byProvider, &breakdown, &snap.Error); err != nil {
		return nil, err
	}
	snap.Status = domain.Status(status)
	if overall != nil {
		v := int(*overall)
		snap.OverallScore = &v
	}
	if err := decodeScores(&snap, byProvider, breakdown); err != nil {
		return nil, err
	}
	return &snap, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
