package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS utterances (
    id          UUID         PRIMARY KEY,
    session_id  UUID         NOT NULL,
    search      TEXT         NOT NULL,
    text        TEXT         NOT NULL,
    score       INTEGER      NOT NULL DEFAULT 0,
    start_ns    BIGINT       NOT NULL DEFAULT 0,
    end_ns      BIGINT       NOT NULL DEFAULT 0,
    words       JSONB        NOT NULL DEFAULT '[]',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_utterances_session
    ON utterances (session_id, start_ns);
`

// Postgres is a [Store] on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// OpenPostgres connects to dsn and creates the schema.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: postgres: migrate: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) SaveUtterance(ctx context.Context, u Utterance) error {
	prepare(&u)
	const q = `
		INSERT INTO utterances
		    (id, session_id, search, text, score, start_ns, end_ns, words, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	// pgx encodes Go values as json for a JSONB parameter.
	_, err := s.pool.Exec(ctx, q,
		u.ID, u.SessionID, u.Search, u.Text, u.Score,
		u.Start.Nanoseconds(), u.End.Nanoseconds(), u.Words, u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: postgres: save utterance: %w", err)
	}
	return nil
}

func (s *Postgres) Utterances(ctx context.Context, sessionID uuid.UUID) ([]Utterance, error) {
	const q = `
		SELECT id, session_id, search, text, score, start_ns, end_ns, words, created_at
		FROM   utterances
		WHERE  session_id = $1
		ORDER  BY start_ns, created_at`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: postgres: utterances: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Utterance, error) {
		var (
			u          Utterance
			start, end int64
		)
		err := row.Scan(&u.ID, &u.SessionID, &u.Search, &u.Text, &u.Score, &start, &end, &u.Words, &u.CreatedAt)
		u.Start, u.End = time.Duration(start), time.Duration(end)
		return u, err
	})
	if err != nil {
		return nil, fmt.Errorf("store: postgres: utterances: %w", err)
	}
	return out, nil
}

func (s *Postgres) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}
