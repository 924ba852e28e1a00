package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/zoning-cli/internal/db"
	"github.com/sells-group/zoning-cli/internal/model"
)

// PostgresStore implements Store using a pgx pool.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgres connects to Postgres and returns a store over the pool.
func NewPostgres(ctx context.Context, connString string, poolCfg db.PoolConfig) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, connString, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS prompt_cache (
	key        TEXT PRIMARY KEY,
	model      TEXT NOT NULL,
	value      JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	method     TEXT NOT NULL,
	terms      JSONB NOT NULL,
	top_k      INTEGER NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	error      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS lookup_results (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	seq        INTEGER NOT NULL,
	town       TEXT NOT NULL,
	district   TEXT NOT NULL,
	result     JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_lookup_results_run_id ON lookup_results(run_id, seq);
`

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) GetPrompt(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM prompt_cache WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "postgres: get prompt")
	}
	return value, true, nil
}

func (s *PostgresStore) SetPrompt(ctx context.Context, key, model string, value []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO prompt_cache (key, model, value, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, created_at = EXCLUDED.created_at`,
		key, model, value, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: set prompt")
}

func (s *PostgresStore) CreateRun(ctx context.Context, method model.ExtractionMethod, terms []string, topK int) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	termsJSON, err := json.Marshal(terms)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal terms")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, method, terms, top_k, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, string(method), termsJSON, topK, string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
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

func (s *PostgresStore) FinishRun(ctx context.Context, runID string, runErr error) error {
	status, msg := finishState(runErr)
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
		string(status), msg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: run %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	r, err := scanPgRun(s.pool.QueryRow(ctx,
		`SELECT id, method, terms, top_k, status, error, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, method, terms, top_k, status, error, created_at, updated_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, argIdx, argIdx+1)
	args = append(args, pageLimit(filter), filter.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: iterate runs")
}

var lookupColumns = []string{"id", "run_id", "seq", "town", "district", "result", "created_at"}

// SaveLookups bulk-loads results with COPY.
func (s *PostgresStore) SaveLookups(ctx context.Context, runID string, outs []model.AllLookupOutput) error {
	if len(outs) == 0 {
		return nil
	}

	var seq int
	if err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), -1) + 1 FROM lookup_results WHERE run_id = $1`, runID,
	).Scan(&seq); err != nil {
		return eris.Wrap(err, "postgres: next lookup seq")
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(outs))
	for i, out := range outs {
		resultJSON, err := json.Marshal(out)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal lookup")
		}
		rows = append(rows, []any{uuid.New().String(), runID, seq + i, out.Town, out.District.ShortName, resultJSON, now})
	}

	if _, err := db.CopyFrom(ctx, s.pool, "lookup_results", lookupColumns, rows); err != nil {
		return eris.Wrap(err, "postgres: save lookups")
	}
	return nil
}

func (s *PostgresStore) ListLookups(ctx context.Context, runID string) ([]model.AllLookupOutput, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT result FROM lookup_results WHERE run_id = $1 ORDER BY seq`, runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list lookups")
	}
	defer rows.Close()

	var out []model.AllLookupOutput
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "postgres: scan lookup")
		}
		var l model.AllLookupOutput
		if err := json.Unmarshal(raw, &l); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal lookup")
		}
		out = append(out, l)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate lookups")
}

func scanPgRun(row pgx.Row) (*model.Run, error) {
	var (
		r         model.Run
		method    string
		status    string
		termsJSON []byte
	)
	if err := row.Scan(&r.ID, &method, &termsJSON, &r.TopK, &status, &r.Error, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Method = model.ExtractionMethod(method)
	r.Status = model.RunStatus(status)
	if err := json.Unmarshal(termsJSON, &r.Terms); err != nil {
		return nil, eris.Wrap(err, "unmarshal terms")
	}
	return &r, nil
}
