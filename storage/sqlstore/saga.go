package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/medbridge/transponder/storage"
)

type sagaStore struct {
	store *Store
	q     Queryer
}

func (g *sagaStore) Get(ctx context.Context, stateType string, id uuid.UUID) (*storage.SagaRecord, error) {
	var (
		correlationID, conversationID dbUUID
		rec                           = storage.SagaRecord{StateType: stateType}
	)

	err := g.q.QueryRowContext(ctx, g.store.selectSagaQuery(), stateType, g.store.dialect.formatID(id)).
		Scan(&correlationID, &conversationID, &rec.Version, &rec.Data, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading saga %s/%s: %w", stateType, id, err)
	}

	rec.CorrelationID = uuid.UUID(correlationID)
	rec.ConversationID = uuid.UUID(conversationID)
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}

func (g *sagaStore) Insert(ctx context.Context, rec *storage.SagaRecord) error {
	d := g.store.dialect
	_, err := g.q.ExecContext(ctx, g.store.insertSagaQuery(),
		rec.StateType,
		d.formatID(rec.CorrelationID),
		d.formatID(rec.ConversationID),
		rec.Version,
		rec.Data,
		updatedAt(rec),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("inserting saga %s/%s: %w", rec.StateType, rec.CorrelationID, storage.ErrConflict)
		}
		return fmt.Errorf("inserting saga %s/%s: %w", rec.StateType, rec.CorrelationID, err)
	}
	return nil
}

func (g *sagaStore) Update(ctx context.Context, rec *storage.SagaRecord, expectedVersion int64) error {
	d := g.store.dialect
	res, err := g.q.ExecContext(ctx, g.store.updateSagaQuery(),
		d.formatID(rec.ConversationID),
		rec.Version,
		rec.Data,
		updatedAt(rec),
		rec.StateType,
		d.formatID(rec.CorrelationID),
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("updating saga %s/%s: %w", rec.StateType, rec.CorrelationID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating saga %s/%s: %w", rec.StateType, rec.CorrelationID, err)
	}
	if n == 0 {
		return fmt.Errorf("updating saga %s/%s version %d: %w", rec.StateType, rec.CorrelationID, expectedVersion, storage.ErrConflict)
	}
	return nil
}

func (g *sagaStore) Delete(ctx context.Context, stateType string, id uuid.UUID) error {
	if _, err := g.q.ExecContext(ctx, g.store.deleteSagaQuery(), stateType, g.store.dialect.formatID(id)); err != nil {
		return fmt.Errorf("deleting saga %s/%s: %w", stateType, id, err)
	}
	return nil
}

func (s *Store) selectSagaQuery() string {
	return fmt.Sprintf("SELECT correlation_id, conversation_id, version, data, updated_at FROM %s WHERE state_type = %s AND correlation_id = %s",
		s.sagaTable, s.dialect.placeholder(1), s.dialect.placeholder(2))
}

func (s *Store) insertSagaQuery() string {
	return fmt.Sprintf("INSERT INTO %s (state_type, correlation_id, conversation_id, version, data, updated_at) VALUES (%s, %s, %s, %s, %s, %s)",
		append([]any{s.sagaTable}, s.dialect.placeholders(1, 6)...)...)
}

func (s *Store) updateSagaQuery() string {
	return fmt.Sprintf("UPDATE %s SET conversation_id = %s, version = %s, data = %s, updated_at = %s WHERE state_type = %s AND correlation_id = %s AND version = %s",
		append([]any{s.sagaTable}, s.dialect.placeholders(1, 7)...)...)
}

func (s *Store) deleteSagaQuery() string {
	return fmt.Sprintf("DELETE FROM %s WHERE state_type = %s AND correlation_id = %s",
		s.sagaTable, s.dialect.placeholder(1), s.dialect.placeholder(2))
}

func updatedAt(rec *storage.SagaRecord) any {
	if rec.UpdatedAt.IsZero() {
		return nowUTC()
	}
	return rec.UpdatedAt.UTC()
}
