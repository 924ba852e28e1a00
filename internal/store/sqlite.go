package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/zoning-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS prompt_cache (
	key        TEXT PRIMARY KEY,
	model      TEXT NOT NULL,
	value      TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	method     TEXT NOT NULL,
	terms      TEXT NOT NULL,
	top_k      INTEGER NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	error      TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS lookup_results (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	seq        INTEGER NOT NULL,
	town       TEXT NOT NULL,
	district   TEXT NOT NULL,
	result     TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_lookup_results_run_id ON lookup_results(run_id, seq);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Ping checks that the database file is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetPrompt(ctx context.Context, key string) ([]byte, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM prompt_cache WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: get prompt")
	}
	return []byte(value), true, nil
}

func (s *SQLiteStore) SetPrompt(ctx context.Context, key, model string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO prompt_cache (key, model, value, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, created_at = excluded.created_at`,
		key, model, string(value), time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: set prompt")
}

func (s *SQLiteStore) CreateRun(ctx context.Context, method model.ExtractionMethod, terms []string, topK int) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	termsJSON, err := json.Marshal(terms)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal terms")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, method, terms, top_k, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, string(method), string(termsJSON), topK, string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		Method:    method,
		Terms:     terms,
		TopK:      topK,
		Status:    model.RunStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, runErr error) error {
	status, msg := finishState(runErr)
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), msg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, method, terms, top_k, status, error, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: run %s", runID)
	}
	return r, err
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, method, terms, top_k, status, error, created_at, updated_at FROM runs WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, pageLimit(filter), filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: iterate runs")
}

func (s *SQLiteStore) SaveLookups(ctx context.Context, runID string, outs []model.AllLookupOutput) error {
	if len(outs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save lookups")
	}
	defer tx.Rollback() //nolint:errcheck

	var seq int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), -1) + 1 FROM lookup_results WHERE run_id = ?`, runID,
	).Scan(&seq); err != nil {
		return eris.Wrap(err, "sqlite: next lookup seq")
	}

	now := time.Now().UTC()
	for i, out := range outs {
		resultJSON, err := json.Marshal(out)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal lookup")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO lookup_results (id, run_id, seq, town, district, result, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), runID, seq+i, out.Town, out.District.ShortName, string(resultJSON), now,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert lookup %s/%s", out.Town, out.District.ShortName)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit lookups")
}

func (s *SQLiteStore) ListLookups(ctx context.Context, runID string) ([]model.AllLookupOutput, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT result FROM lookup_results WHERE run_id = ? ORDER BY seq`, runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list lookups")
	}
	defer rows.Close()

	var out []model.AllLookupOutput
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lookup")
		}
		var l model.AllLookupOutput
		if err := json.Unmarshal([]byte(raw), &l); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal lookup")
		}
		out = append(out, l)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate lookups")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var (
		r         model.Run
		method    string
		status    string
		termsJSON string
	)
	if err := row.Scan(&r.ID, &method, &termsJSON, &r.TopK, &status, &r.Error, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	r.Method = model.ExtractionMethod(method)
	r.Status = model.RunStatus(status)
	if err := json.Unmarshal([]byte(termsJSON), &r.Terms); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal terms")
	}
	return &r, nil
}
