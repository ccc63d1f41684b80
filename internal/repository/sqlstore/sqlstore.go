// Package sqlstore is the SQL-backed Repository implementation (spec §6):
// sqlx over modernc.org/sqlite, schema-versioned with goose. It mirrors the
// dual-connection shape of a single-writer SQLite store — one connection
// pinned to one open conn for writes, a separate read-only pool for
// queries — since SQLite only ever allows one writer at a time.
package sqlstore

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/opsdeck/foreman/internal/model"
	"github.com/opsdeck/foreman/internal/repository"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store is a goose-migrated, sqlx-driven Repository.
type Store struct {
	write *sqlx.DB // single connection; SQLite allows one writer at a time
	read  *sqlx.DB // pooled, read-only
}

// Open connects to the SQLite file at path, applying pending goose
// migrations, and returns a ready Store. Both connections enable WAL so
// readers never block on the writer.
func Open(path string) (*Store, error) {
	writeDSN := path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	write, err := sqlx.Connect("sqlite", writeDSN)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open write connection: %w", err)
	}
	write.SetMaxOpenConns(1)

	readDSN := path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&mode=ro&_pragma=busy_timeout(1000)"
	read, err := sqlx.Connect("sqlite", readDSN)
	if err != nil {
		write.Close()
		return nil, fmt.Errorf("sqlstore: open read connection: %w", err)
	}
	read.SetMaxOpenConns(10)

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		write.Close()
		read.Close()
		return nil, fmt.Errorf("sqlstore: set dialect: %w", err)
	}
	if err := goose.Up(write.DB, "migrations"); err != nil {
		write.Close()
		read.Close()
		return nil, fmt.Errorf("sqlstore: migrate: %w", err)
	}

	return &Store{write: write, read: read}, nil
}

// Close releases both connections.
func (s *Store) Close() error {
	werr := s.write.Close()
	rerr := s.read.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

var _ repository.Repository = (*Store)(nil)

// classify turns a raw driver error into the core's error taxonomy so the
// domain-level retry decorator (internal/repository.WithRetry) knows what's
// safe to retry. Busy/locked errors are transient; everything else is
// treated as terminal.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if isBusy(err) {
		return model.NewError(model.PersistenceTransient, op+": database busy", err)
	}
	return model.NewError(model.PersistenceTerminal, op+" failed", err)
}

func isBusy(err error) bool {
	s := err.Error()
	return strings.Contains(s, "database is locked") ||
		strings.Contains(s, "SQLITE_BUSY") ||
		strings.Contains(s, "SQLITE_LOCKED")
}

func marshalJSON(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalJSON(s string, v interface{}) error {
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
