package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/medbridge/transponder"
	"github.com/medbridge/transponder/storage"
)

type fakeResult struct{ rows int64 }

func (r fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r fakeResult) RowsAffected() (int64, error) { return r.rows, nil }

type execCall struct {
	query string
	args  []any
}

type fakeDB struct {
	beginTxErr error
	execErr    error
	tx         *fakeTx
	execs      []execCall
}

func (f *fakeDB) BeginTx(_ context.Context, _ *sql.TxOptions) (Tx, error) {
	if f.beginTxErr != nil {
		return nil, f.beginTxErr
	}
	return f.tx, nil
}

func (f *fakeDB) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	f.execs = append(f.execs, execCall{query: query, args: args})
	return fakeResult{}, f.execErr
}

type fakeTx struct {
	execErr      error
	commitErr    error
	rowsAffected int64

	execs      []execCall
	committed  bool
	rolledBack bool
}

func (f *fakeTx) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	f.execs = append(f.execs, execCall{query: query, args: args})
	if f.execErr != nil {
		return nil, f.execErr
	}
	return fakeResult{rows: f.rowsAffected}, nil
}

func (f *fakeTx) QueryContext(_ context.Context, _ string, _ ...any) (*sql.Rows, error) {
	return nil, errors.New("not supported by fake")
}

func (f *fakeTx) QueryRowContext(_ context.Context, _ string, _ ...any) *sql.Row {
	return nil
}

func (f *fakeTx) Commit() error {
	f.committed = true
	return f.commitErr
}

func (f *fakeTx) Rollback() error {
	f.rolledBack = true
	return nil
}

func openSession(t *testing.T, tx *fakeTx) storage.Session {
	t.Helper()
	store := NewWithDB(&fakeDB{tx: tx}, DialectPostgres)
	session, err := store.CreateSession(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return session
}

func TestCreateSessionBeginError(t *testing.T) {
	db := &fakeDB{beginTxErr: errors.New("failed to begin transaction")}
	store := NewWithDB(db, DialectPostgres)

	if _, err := store.CreateSession(context.Background()); !errors.Is(err, db.beginTxErr) {
		t.Fatalf("expected error to be %v, got: %v", db.beginTxErr, err)
	}
}

func TestSessionCommitAndRollback(t *testing.T) {
	tx := &fakeTx{}
	session := openSession(t, tx)

	if err := session.Commit(); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if err := session.Rollback(); err != nil {
		t.Fatalf("expected rollback after commit to be a no-op, got: %v", err)
	}
	if !tx.committed || tx.rolledBack {
		t.Fatalf("expected committed and not rolled back, got committed=%v rolledBack=%v", tx.committed, tx.rolledBack)
	}
	if err := session.Commit(); !errors.Is(err, storage.ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got: %v", err)
	}
}

func TestSessionCommitError(t *testing.T) {
	tx := &fakeTx{commitErr: errors.New("failed to commit transaction")}
	session := openSession(t, tx)

	if err := session.Commit(); !errors.Is(err, tx.commitErr) {
		t.Fatalf("expected error to be %v, got: %v", tx.commitErr, err)
	}
}

func TestOutboxAddArguments(t *testing.T) {
	tx := &fakeTx{}
	session := openSession(t, tx)

	enqueuedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	msg := transponder.NewMessage([]byte(`{"alarm":1}`),
		transponder.WithDestinationAddress("queue:alarms"),
		transponder.WithHeader("trace_id", "abc"),
		transponder.WithEnqueuedTime(enqueuedAt),
	)

	if err := session.Outbox().Add(context.Background(), msg); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if len(tx.execs) != 1 {
		t.Fatalf("expected one statement, got %d", len(tx.execs))
	}

	args := tx.execs[0].args
	if args[0] != msg.MessageID {
		t.Errorf("expected message id argument, got %v", args[0])
	}
	if args[1] != nil || args[3] != nil || args[5] != nil {
		t.Errorf("expected unset optional fields to be NULL, got %v", args)
	}
	if args[4] != "queue:alarms" {
		t.Errorf("expected destination address, got %v", args[4])
	}
	if args[8] != `{"trace_id":"abc"}` {
		t.Errorf("expected JSON headers, got %v", args[8])
	}
	if got := args[9].(time.Time); got.Location() != time.UTC || !got.Equal(enqueuedAt) {
		t.Errorf("expected enqueued time in UTC, got %v", got)
	}

	if err := session.Outbox().Add(context.Background(), nil); !errors.Is(err, transponder.ErrMessageRequired) {
		t.Errorf("expected ErrMessageRequired, got %v", err)
	}
}

func TestOutboxAddDuplicate(t *testing.T) {
	tests := []error{
		&pq.Error{Code: "23505"},
		&mysql.MySQLError{Number: 1062},
		errors.New("UNIQUE constraint failed: outbox_messages.message_id"),
		errors.New("ORA-00001: unique constraint violated"),
	}

	for _, cause := range tests {
		t.Run(fmt.Sprintf("%T", cause), func(t *testing.T) {
			session := openSession(t, &fakeTx{execErr: cause})
			err := session.Outbox().Add(context.Background(), transponder.NewMessage(nil, transponder.WithMessageType("AlarmRaised")))
			if !errors.Is(err, storage.ErrConflict) {
				t.Errorf("expected ErrConflict for %v, got %v", cause, err)
			}
		})
	}

	session := openSession(t, &fakeTx{execErr: errors.New("connection reset")})
	err := session.Outbox().Add(context.Background(), transponder.NewMessage(nil, transponder.WithMessageType("AlarmRaised")))
	if err == nil || errors.Is(err, storage.ErrConflict) {
		t.Errorf("expected plain error, got %v", err)
	}
}

func TestMarkSentNotFound(t *testing.T) {
	session := openSession(t, &fakeTx{rowsAffected: 0})
	if err := session.Outbox().MarkSent(context.Background(), uuid.New(), time.Now()); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	tx := &fakeTx{rowsAffected: 1}
	session = openSession(t, tx)
	if err := session.Outbox().MarkSent(context.Background(), uuid.New(), time.Now()); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestSagaUpdateConflict(t *testing.T) {
	rec := &storage.SagaRecord{StateType: "Admission", CorrelationID: uuid.New(), Version: 3, Data: []byte("{}")}

	tx := &fakeTx{rowsAffected: 0}
	session := openSession(t, tx)
	if err := session.Sagas().Update(context.Background(), rec, 2); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	args := tx.execs[0].args
	if args[1] != int64(3) || args[6] != int64(2) {
		t.Errorf("expected new version 3 and expected version 2, got %v and %v", args[1], args[6])
	}

	session = openSession(t, &fakeTx{rowsAffected: 1})
	if err := session.Sagas().Update(context.Background(), rec, 2); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestSagaInsertDuplicate(t *testing.T) {
	session := openSession(t, &fakeTx{execErr: &pq.Error{Code: "23505"}})
	rec := &storage.SagaRecord{StateType: "Admission", CorrelationID: uuid.New(), Version: 1}

	if err := session.Sagas().Insert(context.Background(), rec); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestMigrate(t *testing.T) {
	db := &fakeDB{}
	store := NewWithDB(db, DialectSQLite)

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if len(db.execs) != 3 || !strings.HasPrefix(db.execs[0].query, "CREATE TABLE") {
		t.Errorf("expected schema statements, got %v", db.execs)
	}

	db.execErr = errors.New("permission denied")
	if err := store.Migrate(context.Background()); !errors.Is(err, db.execErr) {
		t.Errorf("expected wrapped error, got %v", err)
	}
}
