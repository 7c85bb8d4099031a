package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/medbridge/transponder/storage"
)

// Repository loads and persists saga state of one type.
type Repository[S State] interface {
	// Get returns the state for correlationID; found is false when none exists.
	Get(ctx context.Context, correlationID uuid.UUID) (state S, found bool, err error)

	// Save inserts a never saved state or updates a loaded one if its version
	// still matches. It returns false on an optimistic concurrency conflict. On
	// success the state's version is advanced.
	Save(ctx context.Context, state S) (bool, error)

	Delete(ctx context.Context, correlationID uuid.UUID) error
}

// StoreRepository is a Repository over storage sessions. State is stored as JSON;
// each call runs in its own session.
type StoreRepository[S State] struct {
	sessions  storage.SessionFactory
	stateType string
	newState  func() S
}

// NewStoreRepository creates a repository for states stored under stateType.
func NewStoreRepository[S State](sessions storage.SessionFactory, stateType string, newState func() S) *StoreRepository[S] {
	return &StoreRepository[S]{
		sessions:  sessions,
		stateType: stateType,
		newState:  newState,
	}
}

func (r *StoreRepository[S]) Get(ctx context.Context, correlationID uuid.UUID) (S, bool, error) {
	var zero S

	session, err := r.sessions.CreateSession(ctx)
	if err != nil {
		return zero, false, fmt.Errorf("creating session: %w", err)
	}
	defer func() {
		_ = session.Rollback()
	}()

	rec, err := session.Sagas().Get(ctx, r.stateType, correlationID)
	if errors.Is(err, storage.ErrNotFound) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, err
	}

	state, err := r.decode(rec)
	if err != nil {
		return zero, false, err
	}
	return state, true, nil
}

func (r *StoreRepository[S]) Save(ctx context.Context, state S) (bool, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return false, fmt.Errorf("encoding %s state: %w", r.stateType, err)
	}

	version := state.GetVersion()
	rec := &storage.SagaRecord{
		StateType:      r.stateType,
		CorrelationID:  state.GetCorrelationID(),
		ConversationID: state.GetConversationID(),
		Version:        version + 1,
		Data:           data,
	}

	err = r.inSession(ctx, func(sagas storage.SagaStore) error {
		if version == 0 {
			return sagas.Insert(ctx, rec)
		}
		return sagas.Update(ctx, rec, version)
	})
	if errors.Is(err, storage.ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	state.SetVersion(rec.Version)
	return true, nil
}

func (r *StoreRepository[S]) Delete(ctx context.Context, correlationID uuid.UUID) error {
	return r.inSession(ctx, func(sagas storage.SagaStore) error {
		return sagas.Delete(ctx, r.stateType, correlationID)
	})
}

func (r *StoreRepository[S]) inSession(ctx context.Context, fn func(storage.SagaStore) error) (err error) {
	session, err := r.sessions.CreateSession(ctx)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	defer func() {
		if err != nil {
			_ = session.Rollback()
		}
	}()

	if err = fn(session.Sagas()); err != nil {
		return err
	}
	if err = session.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

func (r *StoreRepository[S]) decode(rec *storage.SagaRecord) (S, error) {
	state := r.newState()
	if len(rec.Data) > 0 {
		if err := json.Unmarshal(rec.Data, state); err != nil {
			var zero S
			return zero, fmt.Errorf("decoding %s state %s: %w", r.stateType, rec.CorrelationID, err)
		}
	}

	state.SetCorrelationID(rec.CorrelationID)
	if rec.ConversationID != uuid.Nil {
		state.SetConversationID(rec.ConversationID)
	}
	state.SetVersion(rec.Version)
	return state, nil
}
