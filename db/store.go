package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/maxpert/livestore/entity"
	"github.com/rs/zerolog/log"
)

// ErrNotFound is returned when a keyed update or delete matches no row
var ErrNotFound = errors.New("entity not found")

// ErrClosed is returned by operations on a closed Store
var ErrClosed = errors.New("store database is closed")

// Options tune how the SQLite database is opened
type Options struct {
	// PoolSize bounds open connections. Pull streams hold a connection while
	// they wait for demand, so this should exceed the expected number of
	// concurrent pull subscriptions.
	PoolSize    int
	BusyTimeout time.Duration
	// ForeignKeys enables ON DELETE CASCADE for declared relations
	ForeignKeys bool
}

// DefaultOptions returns the options used when a zero Options is given
func DefaultOptions() Options {
	return Options{
		PoolSize:    8,
		BusyTimeout: 5 * time.Second,
		ForeignKeys: true,
	}
}

// Store is the relational persistence layer for one entity model.
// It renders every statement through goqu and decodes rows into records.
type Store struct {
	ops
	db     *sql.DB
	path   string
	closed atomic.Bool
}

// Open opens (or creates) the SQLite database at path in WAL mode
func Open(path string, model *entity.Model, opts Options) (*Store, error) {
	if model == nil {
		return nil, fmt.Errorf("model is required")
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = DefaultOptions().PoolSize
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = DefaultOptions().BusyTimeout
	}

	inMemory := path == ":memory:" || strings.Contains(path, "mode=memory")
	dsn := buildDSN(path, opts, inMemory)

	sqlDB, err := sql.Open(SQLiteDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	// A private in-memory database only exists on its own connection
	if inMemory {
		opts.PoolSize = 1
	}
	sqlDB.SetMaxOpenConns(opts.PoolSize)
	sqlDB.SetMaxIdleConns(opts.PoolSize)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping %s: %w", path, err)
	}

	log.Debug().
		Str("path", path).
		Int("pool_size", opts.PoolSize).
		Dur("busy_timeout", opts.BusyTimeout).
		Msg("Opened database")

	return &Store{
		ops:  ops{ex: sqlDB, model: model},
		db:   sqlDB,
		path: path,
	}, nil
}

func buildDSN(path string, opts Options, inMemory bool) string {
	params := url.Values{}
	params.Set("_busy_timeout", fmt.Sprintf("%d", opts.BusyTimeout.Milliseconds()))
	params.Set("_txlock", "immediate")
	if opts.ForeignKeys {
		params.Set("_foreign_keys", "on")
	}
	if !inMemory {
		params.Set("_journal_mode", "WAL")
		params.Set("_synchronous", "NORMAL")
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	if !strings.HasPrefix(path, "file:") && path != ":memory:" {
		path = "file:" + path
	}
	return path + sep + params.Encode()
}

// Model returns the entity model the store was opened with
func (s *Store) Model() *entity.Model {
	return s.model
}

// Path returns the database path
func (s *Store) Path() string {
	return s.path
}

// DB exposes the underlying handle for diagnostics
func (s *Store) DB() *sql.DB {
	return s.db
}

// Begin starts a database transaction. SQLite serializes writers, so the
// transaction takes the write lock up front (BEGIN IMMEDIATE).
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &Tx{ops: ops{ex: sqlTx, model: s.model}, tx: sqlTx}, nil
}

// Close closes the database; open cursors must be closed first
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}
