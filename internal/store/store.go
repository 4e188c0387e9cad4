// Package store persists recognised utterances.
//
// Two drivers are provided: PostgreSQL through pgx and an embedded SQLite
// database through modernc.org/sqlite. Both create their schema on open.
// Streaming sessions write through a [Guard], which keeps decoding alive
// when the database is not.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Driver names accepted by [Open].
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// ErrUnknownDriver is returned by [Open] for an unsupported driver name.
var ErrUnknownDriver = errors.New("store: unknown driver")

// Word is one recognised word with its frame span.
type Word struct {
	Text  string `json:"word"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	Prob  int32  `json:"prob"`
}

// Utterance is one finished utterance of a streaming session. Start and End
// are offsets from the start of the session's audio.
type Utterance struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	Search    string
	Text      string
	Score     int32
	Start     time.Duration
	End       time.Duration
	Words     []Word
	CreatedAt time.Time
}

// Store is a transcript store. Implementations are safe for concurrent use.
type Store interface {
	// SaveUtterance writes u. A zero ID or CreatedAt is filled in.
	SaveUtterance(ctx context.Context, u Utterance) error

	// Utterances returns the utterances of a session, oldest first.
	Utterances(ctx context.Context, sessionID uuid.UUID) ([]Utterance, error)

	Ping(ctx context.Context) error
	Close() error
}

// Open connects to the store selected by driver.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case DriverPostgres:
		return OpenPostgres(ctx, dsn)
	case DriverSQLite:
		return OpenSQLite(ctx, dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}

// prepare fills in the generated fields of u.
func prepare(u *Utterance) {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	if u.Words == nil {
		u.Words = []Word{}
	}
}
