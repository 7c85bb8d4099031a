// Package storage defines the transactional storage session used by the outbox
// dispatcher and the saga repositories.
//
// A Session is a unit of work: everything written through its stores becomes
// visible atomically on Commit and is discarded on Rollback. Implementations must
// be safe for concurrent use of distinct sessions.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/medbridge/transponder"
)

var (
	// ErrNotFound is returned by SagaStore.Get when no state exists.
	ErrNotFound = errors.New("storage: not found")

	// ErrConflict is returned when an insert hits an existing row or an update
	// does not match the expected version.
	ErrConflict = errors.New("storage: optimistic concurrency conflict")

	// ErrSessionClosed is returned when a committed or rolled back session is used.
	ErrSessionClosed = errors.New("storage: session closed")
)

// SessionFactory opens storage sessions.
type SessionFactory interface {
	CreateSession(ctx context.Context) (Session, error)
}

// Session is a transactional unit of work.
type Session interface {
	Outbox() OutboxStore
	Sagas() SagaStore

	Commit() error

	// Rollback discards the session. Calling it after Commit is a no-op so that it
	// can always be deferred.
	Rollback() error
}

// OutboxStore persists outbox messages.
type OutboxStore interface {
	Add(ctx context.Context, msg *transponder.Message) error

	// GetPending returns up to batchSize unsent messages, oldest first.
	GetPending(ctx context.Context, batchSize int) ([]*transponder.Message, error)

	MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error
}

// SagaRecord is the persisted form of one saga instance.
type SagaRecord struct {
	StateType      string
	CorrelationID  uuid.UUID
	ConversationID uuid.UUID
	Version        int64
	Data           []byte
	UpdatedAt      time.Time
}

// SagaStore persists saga state keyed by state type and correlation id.
type SagaStore interface {
	Get(ctx context.Context, stateType string, correlationID uuid.UUID) (*SagaRecord, error)
	Insert(ctx context.Context, rec *SagaRecord) error
	Update(ctx context.Context, rec *SagaRecord, expectedVersion int64) error
	Delete(ctx context.Context, stateType string, correlationID uuid.UUID) error
}
