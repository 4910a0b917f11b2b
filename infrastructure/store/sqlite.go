package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/ahrav/go-beacon/internal/domain"
	"github.com/ahrav/go-beacon/internal/ports"
)

var _ ports.SnapshotStore = (*SQLiteStore)(nil)

// SQLiteStore implements SnapshotStore using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn. A single connection is kept so
// pragmas and ":memory:" databases stay consistent.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS clients (
	id         TEXT PRIMARY KEY,
	agency_id  TEXT NOT NULL,
	name       TEXT NOT NULL,
	industry   TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS competitors (
	client_id TEXT NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
	position  INTEGER NOT NULL,
	name      TEXT NOT NULL,
	PRIMARY KEY (client_id, position)
);

CREATE TABLE IF NOT EXISTS snapshots (
	id                  TEXT PRIMARY KEY,
	client_id           TEXT NOT NULL REFERENCES clients(id),
	agency_id           TEXT NOT NULL,
	prompt_pack_version TEXT NOT NULL,
	status              TEXT NOT NULL CHECK (status IN ('running', 'complete', 'failed')),
	started_at          DATETIME NOT NULL,
	completed_at        DATETIME,
	overall_score       INTEGER CHECK (overall_score BETWEEN 0 AND 100),
	score_by_provider   TEXT NOT NULL DEFAULT '{}',
	score_breakdown     TEXT NOT NULL DEFAULT '{}',
	error               TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS snapshots_one_running ON snapshots(client_id) WHERE status = 'running';
CREATE INDEX IF NOT EXISTS idx_snapshots_client_started ON snapshots(client_id, started_at);

CREATE TABLE IF NOT EXISTS provider_responses (
	id             TEXT PRIMARY KEY,
	snapshot_id    TEXT NOT NULL REFERENCES snapshots(id),
	prompt_ordinal INTEGER NOT NULL,
	prompt_key     TEXT NOT NULL,
	provider       TEXT NOT NULL,
	model_used     TEXT NOT NULL,
	raw_text       TEXT NOT NULL,
	parse_ok       BOOLEAN NOT NULL,
	parsed_json    TEXT,
	error          TEXT,
	latency_ms     INTEGER NOT NULL,
	created_at     DATETIME NOT NULL,
	UNIQUE (snapshot_id, provider, prompt_ordinal)
);

CREATE INDEX IF NOT EXISTS idx_provider_responses_snapshot ON provider_responses(snapshot_id);
`

// Migrate creates the schema if it does not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteSchema)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveClient upserts a client and replaces its competitor list.
func (s *SQLiteStore) SaveClient(ctx context.Context, c domain.Client, competitors []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save client")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO clients (id, agency_id, name, industry) VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET agency_id = excluded.agency_id, name = excluded.name, industry = excluded.industry`,
		c.ID, c.AgencyID, c.Name, c.Industry,
	); err != nil {
		return eris.Wrapf(err, "sqlite: upsert client %s", c.ID)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM competitors WHERE client_id = ?`, c.ID); err != nil {
		return eris.Wrapf(err, "sqlite: clear competitors %s", c.ID)
	}
	for i, name := range competitors {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO competitors (client_id, position, name) VALUES (?, ?, ?)`, c.ID, i, name,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert competitor %s", name)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit save client")
}

// GetClient implements ports.SnapshotStore.
func (s *SQLiteStore) GetClient(ctx context.Context, clientID string) (domain.Client, error) {
	var c domain.Client
	err := s.db.QueryRowContext(ctx,
		`SELECT id, agency_id, name, industry FROM clients WHERE id = ?`, clientID,
	).Scan(&c.ID, &c.AgencyID, &c.Name, &c.Industry)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Client{}, fmt.Errorf("%w: %s", domain.ErrClientNotFound, clientID)
	}
	if err != nil {
		return domain.Client{}, eris.Wrapf(err, "sqlite: get client %s", clientID)
	}
	return c, nil
}

// ListCompetitors implements ports.SnapshotStore.
func (s *SQLiteStore) ListCompetitors(ctx context.Context, clientID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM competitors WHERE client_id = ? ORDER BY position`, clientID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list competitors %s", clientID)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrapf(err, "sqlite: scan competitor %s", clientID)
		}
		names = append(names, name)
	}
	return names, eris.Wrap(rows.Err(), "sqlite: iterate competitors")
}

// CreateSnapshot implements ports.SnapshotStore.
func (s *SQLiteStore) CreateSnapshot(ctx context.Context, snap *domain.Snapshot) error {
	byProvider, breakdown, err := scoreColumns(snap)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (id, client_id, agency_id, prompt_pack_version, status, started_at, score_by_provider, score_breakdown)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.ClientID, snap.AgencyID, snap.PromptPackVersion, string(snap.Status),
		snap.StartedAt.UTC(), string(byProvider), string(breakdown),
	)
	if isSQLiteRunningConflict(err) {
		return fmt.Errorf("%w: client %s", domain.ErrRunInProgress, snap.ClientID)
	}
	return eris.Wrapf(err, "sqlite: insert snapshot %s", snap.ID)
}

// isSQLiteRunningConflict matches a unique violation on the running index.
// SQLite names the indexed column rather than the index in the message.
func isSQLiteRunningConflict(err error) bool {
	var sqlErr *sqlite.Error
	if !errors.As(err, &sqlErr) {
		return false
	}
	return sqlErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT &&
		strings.Contains(sqlErr.Error(), "UNIQUE constraint failed: snapshots.client_id")
}

// HasRunningSnapshot implements ports.SnapshotStore.
func (s *SQLiteStore) HasRunningSnapshot(ctx context.Context, clientID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM snapshots WHERE client_id = ? AND status = 'running')`, clientID,
	).Scan(&exists)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: check running %s", clientID)
	}
	return exists, nil
}

// GetSnapshot implements ports.SnapshotStore.
func (s *SQLiteStore) GetSnapshot(ctx context.Context, snapshotID string) (*domain.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+snapshotColumns+` FROM snapshots WHERE id = ?`, snapshotID)
	snap, err := scanSQLiteSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrSnapshotNotFound, snapshotID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get snapshot %s", snapshotID)
	}
	return snap, nil
}

// FinalizeSnapshot implements ports.SnapshotStore.
func (s *SQLiteStore) FinalizeSnapshot(ctx context.Context, snap *domain.Snapshot) error {
	if !snap.Status.Terminal() {
		return fmt.Errorf("%w: finalize %s with status %s", domain.ErrInvalidTransition, snap.ID, snap.Status)
	}
	byProvider, breakdown, err := scoreColumns(snap)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE snapshots SET status = ?, completed_at = ?, overall_score = ?,
		 score_by_provider = ?, score_breakdown = ?, error = ?
		 WHERE id = ? AND status = 'running'`,
		string(snap.Status), nullTime(snap.CompletedAt), nullInt(snap.OverallScore),
		string(byProvider), string(breakdown), nullString(snap.Error), snap.ID,
	)
	if err != nil {
		return ports.NewStoreError("FinalizeSnapshot", snap.ID, eris.Wrap(err, "sqlite: finalize snapshot"))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrSnapshotNotRunning, snap.ID)
	}
	return nil
}

// InsertResponse implements ports.SnapshotStore.
func (s *SQLiteStore) InsertResponse(ctx context.Context, r *domain.ProviderResponse) error {
	ensureResponseID(r)
	var parsed any
	if len(r.ParsedJSON) > 0 {
		parsed = string(r.ParsedJSON)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO provider_responses (id, snapshot_id, prompt_ordinal, prompt_key, provider, model_used,
		 raw_text, parse_ok, parsed_json, error, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SnapshotID, r.PromptOrdinal, r.PromptKey, string(r.Provider), r.ModelUsed,
		r.RawText, r.ParseOK, parsed, nullString(r.Error), r.LatencyMS, r.CreatedAt.UTC(),
	)
	if err != nil {
		return ports.NewStoreError("InsertResponse", r.SnapshotID,
			eris.Wrapf(err, "sqlite: insert response %s/%d", r.Provider, r.PromptOrdinal))
	}
	return nil
}

// ListResponses implements ports.SnapshotStore.
func (s *SQLiteStore) ListResponses(ctx context.Context, snapshotID string) ([]domain.ProviderResponse, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, snapshot_id, prompt_ordinal, prompt_key, provider, model_used, raw_text, parse_ok,
		 parsed_json, error, latency_ms, created_at
		 FROM provider_responses WHERE snapshot_id = ? ORDER BY `+responseOrder, snapshotID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list responses %s", snapshotID)
	}
	defer rows.Close()

	var out []domain.ProviderResponse
	for rows.Next() {
		var (
			r        domain.ProviderResponse
			provider string
			parsed   sql.NullString
			errText  sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.SnapshotID, &r.PromptOrdinal, &r.PromptKey, &provider, &r.ModelUsed,
			&r.RawText, &r.ParseOK, &parsed, &errText, &r.LatencyMS, &r.CreatedAt); err != nil {
			return nil, eris.Wrapf(err, "sqlite: scan response %s", snapshotID)
		}
		r.Provider = domain.Provider(provider)
		if parsed.Valid {
			r.ParsedJSON = []byte(parsed.String)
		}
		r.Error = nullStringPtr(errText)
		if err := decodeExtraction(&r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate responses")
}

// ListRunningSnapshots implements ports.SnapshotStore.
func (s *SQLiteStore) ListRunningSnapshots(ctx context.Context, clientID string) ([]domain.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+snapshotColumns+` FROM snapshots WHERE client_id = ? AND status = 'running' ORDER BY started_at`,
		clientID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list running %s", clientID)
	}
	defer rows.Close()

	var out []domain.Snapshot
	for rows.Next() {
		snap, err := scanSQLiteSnapshot(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: scan running %s", clientID)
		}
		out = append(out, *snap)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate running")
}

// FailRunningSnapshots implements ports.SnapshotStore in one statement.
func (s *SQLiteStore) FailRunningSnapshots(ctx context.Context, clientID, errMsg string, at time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`UPDATE snapshots SET status = 'failed', error = ?, completed_at = ?
		 WHERE client_id = ? AND status = 'running' RETURNING id`,
		errMsg, at.UTC(), clientID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: fail running %s", clientID)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan failed id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "sqlite: iterate failed ids")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteSnapshot(row scannable) (*domain.Snapshot, error) {
	var (
		snap        domain.Snapshot
		status      string
		completedAt sql.NullTime
		overall     sql.NullInt64
		byProvider  string
		breakdown   string
		errText     sql.NullString
	)
	if err := row.Scan(&snap.ID, &snap.ClientID, &snap.AgencyID, &snap.PromptPackVersion, &status,
		&snap.StartedAt, &completedAt, &overall, &byProvider, &breakdown, &errText); err != nil {
		return nil, err
	}
	snap.Status = domain.Status(status)
	if completedAt.Valid {
		t := completedAt.Time
		snap.CompletedAt = &t
	}
	if overall.Valid {
		v := int(overall.Int64)
		snap.OverallScore = &v
	}
	snap.Error = nullStringPtr(errText)
	if err := decodeScores(&snap, []byte(byProvider), []byte(breakdown)); err != nil {
		return nil, err
	}
	return &snap, nil
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
