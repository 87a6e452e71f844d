// Package store implements the durable, database-backed representation of
// items, per-stage artifacts, endpoint bindings, settings, pause flags, and
// the fallback log described in spec.md §3–§4.1.
package store

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"contentpipe/internal/logx"
)

// Sentinel errors returned by store operations.
var (
	ErrNotFound         = errors.New("store: not found")
	ErrAlreadyDecided   = errors.New("store: write_result already called for this attempt")
	ErrInvalidDirective = errors.New("store: invalid directive")
	ErrUnknownSetting   = errors.New("store: unknown setting key")
)

// Store wraps a single-writer SQLite connection with the operations the
// worker pool, recovery manager, and control API need.
type Store struct {
	db     *sql.DB
	logger *logx.Logger
}

// Open opens (creating if necessary) the SQLite database at path, applies
// the schema, and returns a ready Store. Mirrors the teacher's
// persistence.Initialize: WAL mode, a bounded busy timeout, and a single
// writer connection since SQLite allows only one writer at a time.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applySchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	s := &Store{db: db, logger: logx.NewLogger("store")}
	if err := s.seedDefaultSettings(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("seed default settings: %w", err)
	}

	s.logger.Info("database ready: %s", path)
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// DB exposes the raw *sql.DB for callers (e.g. tests) that need direct access.
func (s *Store) DB() *sql.DB { return s.db }
