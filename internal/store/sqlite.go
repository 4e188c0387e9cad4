package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS utterances (
    id          TEXT     PRIMARY KEY,
    session_id  TEXT     NOT NULL,
    search      TEXT     NOT NULL,
    text        TEXT     NOT NULL,
    score       INTEGER  NOT NULL DEFAULT 0,
    start_ns    INTEGER  NOT NULL DEFAULT 0,
    end_ns      INTEGER  NOT NULL DEFAULT 0,
    words       TEXT     NOT NULL DEFAULT '[]',
    created_at  INTEGER  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_utterances_session
    ON utterances (session_id, start_ns);
`

// SQLite is a [Store] on an embedded database file.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens or creates the database at path. ":memory:" opens a
// private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	dsn := path
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("store: sqlite: create directory: %w", err)
			}
		}
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		dsn = path + sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: sqlite: open: %w", err)
	}
	// One writer; SQLite serialises writes anyway and an in-memory
	// database exists per connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: sqlite: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: sqlite: migrate: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) SaveUtterance(ctx context.Context, u Utterance) error {
	prepare(&u)
	words, err := json.Marshal(u.Words)
	if err != nil {
		return fmt.Errorf("store: sqlite: encode words: %w", err)
	}
	const q = `
		INSERT INTO utterances
		    (id, session_id, search, text, score, start_ns, end_ns, words, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, q,
		u.ID.String(), u.SessionID.String(), u.Search, u.Text, u.Score,
		u.Start.Nanoseconds(), u.End.Nanoseconds(), string(words), u.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("store: sqlite: save utterance: %w", err)
	}
	return nil
}

func (s *SQLite) Utterances(ctx context.Context, sessionID uuid.UUID) ([]Utterance, error) {
	const q = `
		SELECT id, session_id, search, text, score, start_ns, end_ns, words, created_at
		FROM   utterances
		WHERE  session_id = ?
		ORDER  BY start_ns, created_at`

	rows, err := s.db.QueryContext(ctx, q, sessionID.String())
	if err != nil {
		return nil, fmt.Errorf("store: sqlite: utterances: %w", err)
	}
	defer rows.Close()

	var out []Utterance
	for rows.Next() {
		var (
			u                   Utterance
			id, session, words  string
			start, end, created int64
		)
		if err := rows.Scan(&id, &session, &u.Search, &u.Text, &u.Score, &start, &end, &words, &created); err != nil {
			return nil, fmt.Errorf("store: sqlite: scan: %w", err)
		}
		if u.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("store: sqlite: id: %w", err)
		}
		if u.SessionID, err = uuid.Parse(session); err != nil {
			return nil, fmt.Errorf("store: sqlite: session id: %w", err)
		}
		if err := json.Unmarshal([]byte(words), &u.Words); err != nil {
			return nil, fmt.Errorf("store: sqlite: decode words: %w", err)
		}
		u.Start, u.End = time.Duration(start), time.Duration(end)
		u.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: sqlite: utterances: %w", err)
	}
	return out, nil
}

func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLite) Close() error { return s.db.Close() }
