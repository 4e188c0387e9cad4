package store_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mmende/pocketsphinx-go/internal/store"
)

// testStores returns every driver available in this environment. SQLite
// always runs; PostgreSQL needs SPHINX_TEST_POSTGRES_DSN.
func testStores(t *testing.T) map[string]func(t *testing.T) store.Store {
	t.Helper()
	stores := map[string]func(t *testing.T) store.Store{
		"sqlite": func(t *testing.T) store.Store {
			s, err := store.Open(context.Background(), store.DriverSQLite, filepath.Join(t.TempDir(), "db", "sphinx.db"))
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
	if dsn := os.Getenv("SPHINX_TEST_POSTGRES_DSN"); dsn != "" {
		stores["postgres"] = func(t *testing.T) store.Store {
			s, err := store.Open(context.Background(), store.DriverPostgres, dsn)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			t.Cleanup(func() { _ = s.Close() })
			return s
		}
	}
	return stores
}

func TestStore_SaveAndList(t *testing.T) {
	t.Parallel()
	for name, open := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			s := open(t)
			ctx := context.Background()
			session, other := uuid.New(), uuid.New()

			second := store.Utterance{
				SessionID: session,
				Search:    "commands",
				Text:      "go forward ten meters",
				Score:     -1200,
				Start:     2 * time.Second,
				End:       3500 * time.Millisecond,
				Words: []store.Word{
					{Text: "go", Start: 200, End: 230, Prob: -10},
					{Text: "forward", Start: 231, End: 290},
				},
			}
			first := store.Utterance{SessionID: session, Search: "wake", Text: "oh mighty computer", End: time.Second}
			for _, u := range []store.Utterance{second, first, {SessionID: other, Search: "wake", Text: "x"}} {
				if err := s.SaveUtterance(ctx, u); err != nil {
					t.Fatalf("SaveUtterance: %v", err)
				}
			}

			got, err := s.Utterances(ctx, session)
			if err != nil {
				t.Fatalf("Utterances: %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("got %d utterances, want 2", len(got))
			}
			if got[0].Text != first.Text || got[1].Text != second.Text {
				t.Errorf("order = %q, %q", got[0].Text, got[1].Text)
			}
			u := got[1]
			if u.ID == uuid.Nil || u.CreatedAt.IsZero() {
				t.Errorf("generated fields not set: %+v", u)
			}
			if u.SessionID != session || u.Search != "commands" || u.Score != -1200 {
				t.Errorf("utterance = %+v", u)
			}
			if u.Start != 2*time.Second || u.End != 3500*time.Millisecond {
				t.Errorf("span = %v..%v", u.Start, u.End)
			}
			if len(u.Words) != 2 || u.Words[0] != second.Words[0] {
				t.Errorf("words = %+v", u.Words)
			}
			if got[0].Words == nil || len(got[0].Words) != 0 {
				t.Errorf("empty words = %#v, want empty slice", got[0].Words)
			}

			if err := s.Ping(ctx); err != nil {
				t.Errorf("Ping: %v", err)
			}
		})
	}
}

func TestStore_DuplicateID(t *testing.T) {
	t.Parallel()
	for name, open := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			s := open(t)
			u := store.Utterance{ID: uuid.New(), SessionID: uuid.New(), Search: "s", Text: "t"}
			if err := s.SaveUtterance(context.Background(), u); err != nil {
				t.Fatal(err)
			}
			if err := s.SaveUtterance(context.Background(), u); err == nil {
				t.Error("duplicate id accepted")
			}
		})
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := store.Open(context.Background(), "mysql", ""); !errors.Is(err, store.ErrUnknownDriver) {
		t.Errorf("err = %v, want ErrUnknownDriver", err)
	}
}

func TestOpenSQLite_Memory(t *testing.T) {
	t.Parallel()
	s, err := store.OpenSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	id := uuid.New()
	if err := s.SaveUtterance(context.Background(), store.Utterance{SessionID: id, Text: "a"}); err != nil {
		t.Fatal(err)
	}
	got, err := s.Utterances(context.Background(), id)
	if err != nil || len(got) != 1 {
		t.Fatalf("got %v, %v", got, err)
	}
}
