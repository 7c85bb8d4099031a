package outbox

import (
	"context"
	"fmt"

	"github.com/medbridge/transponder"
	"github.com/medbridge/transponder/storage"
)

// WorkFunc is the user supplied callback for [Dispatcher.Write].
// It performs business changes through the session and stores messages through
// msgWriter. The Dispatcher commits or rolls back the session once the callback
// completes.
type WorkFunc func(ctx context.Context, session storage.Session, msgWriter MessageWriter) error

// MessageWriter allows storing messages within a managed session.
type MessageWriter interface {
	// Store adds a message to the outbox.
	// The message is persisted when the enclosing session commits.
	Store(ctx context.Context, msg *transponder.Message) error
}

// Write runs fn in a new storage session and commits it if fn returns nil. The
// session is rolled back if fn returns an error or panics.
//
// Messages stored through the MessageWriter are offered to the in-memory queue
// only after a successful commit. A full queue is not an error: the messages are
// durable and the next poll cycle picks them up.
//
// Example:
//
//	err := dispatcher.Write(ctx, func(ctx context.Context, s storage.Session, w outbox.MessageWriter) error {
//	    if err := s.Sagas().Update(ctx, record, version); err != nil {
//	        return err
//	    }
//	    return w.Store(ctx, transponder.NewMessage(body,
//	        transponder.WithDestinationAddress("kafka://broker/alarms"),
//	        transponder.WithMessageType("AlarmRaised"),
//	    ))
//	})
func (d *Dispatcher) Write(ctx context.Context, fn WorkFunc) error {
	session, err := d.sessions.CreateSession(ctx)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}

	var committed bool
	defer func() {
		if !committed {
			_ = session.Rollback()
		}
	}()

	msgWriter := &messageWriter{outbox: session.Outbox()}

	if err := fn(ctx, session, msgWriter); err != nil {
		return err
	}

	err = session.Commit()
	committed = err == nil
	if err != nil {
		return fmt.Errorf("committing session: %w", err)
	}

	if d.running.Load() {
		for _, msg := range msgWriter.msgs {
			d.tryQueue(ctx, msg.Clone())
		}
	}

	return nil
}

// Enqueue persists a single message in its own session and offers it to the
// in-memory queue after commit.
func (d *Dispatcher) Enqueue(ctx context.Context, msg *transponder.Message) error {
	if msg == nil {
		return transponder.ErrMessageRequired
	}
	if err := msg.Validate(); err != nil {
		return err
	}

	return d.Write(ctx, func(ctx context.Context, _ storage.Session, msgWriter MessageWriter) error {
		return msgWriter.Store(ctx, msg)
	})
}

type messageWriter struct {
	outbox storage.OutboxStore
	msgs   []*transponder.Message
}

func (w *messageWriter) Store(ctx context.Context, msg *transponder.Message) error {
	if msg == nil {
		return transponder.ErrMessageRequired
	}
	if err := msg.Validate(); err != nil {
		return err
	}

	if err := w.outbox.Add(ctx, msg); err != nil {
		return fmt.Errorf("adding message %s to outbox: %w", msg.MessageID, err)
	}
	w.msgs = append(w.msgs, msg)
	return nil
}
