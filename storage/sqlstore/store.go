// Package sqlstore implements storage.SessionFactory on database/sql.
//
// Each session is one database transaction. The SQL is adapted to the configured
// Dialect: bind parameters, id representation, and the row limiting clause.
//
// The optimistic concurrency check for saga state runs inside the UPDATE itself
// (WHERE version = expected), so it holds across processes sharing the database.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/medbridge/transponder/storage"
)

var ErrUnknownDialect = errors.New("sqlstore: unknown dialect")

// Default table names.
const (
	DefaultOutboxTable = "outbox_messages"
	DefaultSagaTable   = "saga_states"
)

// Store is a storage.SessionFactory over a SQL database.
type Store struct {
	db          DB
	dialect     Dialect
	outboxTable string
	sagaTable   string
}

// Option is a function that configures a Store instance.
type Option func(*Store)

// WithOutboxTable sets a custom table name for outbox messages.
// Default is "outbox_messages".
// The table name must be a valid SQL identifier matching the pattern [a-zA-Z_][a-zA-Z0-9_]*.
// An invalid table name will cause a panic when creating the Store.
func WithOutboxTable(name string) Option {
	return func(s *Store) {
		s.outboxTable = name
	}
}

// WithSagaTable sets a custom table name for saga state. Default is "saga_states".
// The same naming rules as WithOutboxTable apply.
func WithSagaTable(name string) Option {
	return func(s *Store) {
		s.sagaTable = name
	}
}

// New creates a Store from a standard *sql.DB.
func New(db *sql.DB, dialect Dialect, opts ...Option) *Store {
	return NewWithDB(&dbAdapter{db: db}, dialect, opts...)
}

// NewWithDB creates a Store with a custom DB implementation.
func NewWithDB(db DB, dialect Dialect, opts ...Option) *Store {
	s := &Store{
		db:          db,
		dialect:     dialect,
		outboxTable: DefaultOutboxTable,
		sagaTable:   DefaultSagaTable,
	}

	for _, opt := range opts {
		opt(s)
	}

	for _, name := range []string{s.outboxTable, s.sagaTable} {
		if err := validateTableName(name); err != nil {
			panic(err)
		}
	}

	return s
}

// Dialect returns the dialect the store generates SQL for.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// CreateSession begins a transaction.
func (s *Store) CreateSession(ctx context.Context) (storage.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	return &session{store: s, tx: tx}, nil
}

// Migrate creates the outbox and saga tables.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.Schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
	}
	return nil
}

type session struct {
	store *Store
	tx    Tx
	done  bool
}

func (s *session) Outbox() storage.OutboxStore { return &outboxStore{store: s.store, q: s.tx} }
func (s *session) Sagas() storage.SagaStore    { return &sagaStore{store: s.store, q: s.tx} }

func (s *session) Commit() error {
	if s.done {
		return storage.ErrSessionClosed
	}
	s.done = true

	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *session) Rollback() error {
	if s.done {
		return nil
	}
	s.done = true
	return s.tx.Rollback()
}
