// Package memory implements storage.SessionFactory in process memory.
//
// Session writes are buffered and applied atomically on Commit. Saga writes are
// checked against the session's view when staged, and the committed state the
// session first observed is checked again at commit, so two sessions racing on
// the same saga state see exactly one winner.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medbridge/transponder"
	"github.com/medbridge/transponder/storage"
)

type sagaKey struct {
	stateType string
	id        uuid.UUID
}

// Store is the committed state shared by all sessions.
type Store struct {
	mu       sync.RWMutex
	messages map[uuid.UUID]*transponder.Message
	sagas    map[sagaKey]*storage.SagaRecord
}

func New() *Store {
	return &Store{
		messages: make(map[uuid.UUID]*transponder.Message),
		sagas:    make(map[sagaKey]*storage.SagaRecord),
	}
}

// CreateSession implements storage.SessionFactory.
func (s *Store) CreateSession(ctx context.Context) (storage.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &session{store: s}, nil
}

// Message returns a copy of a stored message.
func (s *Store) Message(id uuid.UUID) (*transponder.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, false
	}
	return msg.Clone(), true
}

// PendingCount returns the number of committed messages not yet sent.
func (s *Store) PendingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, msg := range s.messages {
		if msg.SentTime == nil {
			n++
		}
	}
	return n
}

// Saga returns a copy of a stored saga record.
func (s *Store) Saga(stateType string, id uuid.UUID) (*storage.SagaRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.sagas[sagaKey{stateType, id}]
	if !ok {
		return nil, false
	}
	return cloneRecord(rec), true
}

// base is the committed state of a saga key as first observed by a session.
type base struct {
	exists  bool
	version int64
}

type session struct {
	store *Store

	mu     sync.Mutex
	closed bool
	added  []*transponder.Message
	sent   map[uuid.UUID]time.Time

	// nil record means deleted
	sagas map[sagaKey]*storage.SagaRecord
	bases map[sagaKey]base
}

func (s *session) Outbox() storage.OutboxStore { return (*outboxStore)(s) }
func (s *session) Sagas() storage.SagaStore    { return (*sagaStore)(s) }

func (s *session) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrSessionClosed
	}
	s.closed = true

	st := s.store
	st.mu.Lock()
	defer st.mu.Unlock()

	for _, msg := range s.added {
		if _, exists := st.messages[msg.MessageID]; exists {
			return fmt.Errorf("outbox message %s: %w", msg.MessageID, storage.ErrConflict)
		}
	}
	for id := range s.sent {
		if _, exists := st.messages[id]; !exists && !s.addedInSession(id) {
			return fmt.Errorf("outbox message %s: %w", id, storage.ErrNotFound)
		}
	}
	for key, b := range s.bases {
		if st.observe(key) != b {
			return fmt.Errorf("saga %s/%s: %w", key.stateType, key.id, storage.ErrConflict)
		}
	}

	for _, msg := range s.added {
		st.messages[msg.MessageID] = msg
	}
	for id, at := range s.sent {
		sentAt := at
		st.messages[id].SentTime = &sentAt
	}
	for key, rec := range s.sagas {
		if rec == nil {
			delete(st.sagas, key)
			continue
		}
		st.sagas[key] = rec
	}

	return nil
}

func (s *session) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *session) addedInSession(id uuid.UUID) bool {
	for _, msg := range s.added {
		if msg.MessageID == id {
			return true
		}
	}
	return false
}

// view returns the saga record as seen by the session, recording the committed
// base on first access. Must be called with s.mu held.
func (s *session) view(key sagaKey) *storage.SagaRecord {
	if rec, ok := s.sagas[key]; ok {
		return rec
	}

	s.store.mu.RLock()
	defer s.store.mu.RUnlock()

	if s.bases == nil {
		s.bases = make(map[sagaKey]base)
	}
	if _, ok := s.bases[key]; !ok {
		s.bases[key] = s.store.observe(key)
	}
	return s.store.sagas[key]
}

// observe must be called with st.mu held.
func (st *Store) observe(key sagaKey) base {
	rec, ok := st.sagas[key]
	if !ok {
		return base{}
	}
	return base{exists: true, version: rec.Version}
}

type outboxStore session

func (o *outboxStore) Add(ctx context.Context, msg *transponder.Message) error {
	if msg == nil {
		return transponder.ErrMessageRequired
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s := (*session)(o)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrSessionClosed
	}
	s.added = append(s.added, msg.Clone())
	return nil
}

func (o *outboxStore) GetPending(ctx context.Context, batchSize int) ([]*transponder.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := (*session)(o)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, storage.ErrSessionClosed
	}

	s.store.mu.RLock()
	pending := make([]*transponder.Message, 0, len(s.store.messages))
	for _, msg := range s.store.messages {
		if msg.SentTime == nil {
			pending = append(pending, msg.Clone())
		}
	}
	s.store.mu.RUnlock()

	for _, msg := range s.added {
		pending = append(pending, msg.Clone())
	}

	filtered := pending[:0]
	for _, msg := range pending {
		if _, sent := s.sent[msg.MessageID]; !sent {
			filtered = append(filtered, msg)
		}
	}
	pending = filtered

	sort.Slice(pending, func(i, j int) bool {
		if !pending[i].EnqueuedTime.Equal(pending[j].EnqueuedTime) {
			return pending[i].EnqueuedTime.Before(pending[j].EnqueuedTime)
		}
		return pending[i].MessageID.String() < pending[j].MessageID.String()
	})

	if batchSize > 0 && len(pending) > batchSize {
		pending = pending[:batchSize]
	}
	return pending, nil
}

func (o *outboxStore) MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s := (*session)(o)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrSessionClosed
	}
	if s.sent == nil {
		s.sent = make(map[uuid.UUID]time.Time)
	}
	s.sent[id] = sentAt.UTC()
	return nil
}

type sagaStore session

func (g *sagaStore) Get(ctx context.Context, stateType string, id uuid.UUID) (*storage.SagaRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := (*session)(g)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, storage.ErrSessionClosed
	}

	rec := s.view(sagaKey{stateType, id})
	if rec == nil {
		return nil, storage.ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (g *sagaStore) Insert(ctx context.Context, rec *storage.SagaRecord) error {
	return g.write(ctx, rec.StateType, rec.CorrelationID, func(current *storage.SagaRecord) (*storage.SagaRecord, error) {
		if current != nil {
			return nil, storage.ErrConflict
		}
		return stamp(rec), nil
	})
}

func (g *sagaStore) Update(ctx context.Context, rec *storage.SagaRecord, expectedVersion int64) error {
	return g.write(ctx, rec.StateType, rec.CorrelationID, func(current *storage.SagaRecord) (*storage.SagaRecord, error) {
		if current == nil || current.Version != expectedVersion {
			return nil, storage.ErrConflict
		}
		return stamp(rec), nil
	})
}

func (g *sagaStore) Delete(ctx context.Context, stateType string, id uuid.UUID) error {
	return g.write(ctx, stateType, id, func(*storage.SagaRecord) (*storage.SagaRecord, error) {
		return nil, nil
	})
}

func (g *sagaStore) write(ctx context.Context, stateType string, id uuid.UUID, apply func(current *storage.SagaRecord) (*storage.SagaRecord, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s := (*session)(g)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrSessionClosed
	}

	key := sagaKey{stateType, id}
	next, err := apply(s.view(key))
	if err != nil {
		return fmt.Errorf("saga %s/%s: %w", stateType, id, err)
	}

	if s.sagas == nil {
		s.sagas = make(map[sagaKey]*storage.SagaRecord)
	}
	s.sagas[key] = next
	return nil
}

func stamp(rec *storage.SagaRecord) *storage.SagaRecord {
	c := cloneRecord(rec)
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}
	return c
}

func cloneRecord(rec *storage.SagaRecord) *storage.SagaRecord {
	c := *rec
	if rec.Data != nil {
		c.Data = append([]byte(nil), rec.Data...)
	}
	return &c
}
