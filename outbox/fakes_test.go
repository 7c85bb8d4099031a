package outbox_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/medbridge/transponder"
	"github.com/medbridge/transponder/storage"
	"github.com/medbridge/transponder/transport"
)

type delivery struct {
	address string
	msg     *transport.Message
}

// fakeBus is both the HostProvider and the Host of every address.
type fakeBus struct {
	onSend    func(ctx context.Context, address string, msg *transport.Message) error
	onPublish func(ctx context.Context, messageType transport.MessageType, msg *transport.Message) error

	mu        sync.Mutex
	sent      []delivery
	published []delivery
}

func (b *fakeBus) GetHost(_ context.Context, _ string) (transport.Host, error) {
	return b, nil
}

func (b *fakeBus) GetSendTransport(_ context.Context, address string) (transport.SendTransport, error) {
	return sendFunc(func(ctx context.Context, msg *transport.Message) error {
		if b.onSend != nil {
			if err := b.onSend(ctx, address, msg); err != nil {
				return err
			}
		}
		b.mu.Lock()
		b.sent = append(b.sent, delivery{address: address, msg: msg.Clone()})
		b.mu.Unlock()
		return nil
	}), nil
}

func (b *fakeBus) GetPublishTransport(_ context.Context, messageType transport.MessageType) (transport.PublishTransport, error) {
	return publishFunc(func(ctx context.Context, msg *transport.Message) error {
		if b.onPublish != nil {
			if err := b.onPublish(ctx, messageType, msg); err != nil {
				return err
			}
		}
		b.mu.Lock()
		b.published = append(b.published, delivery{address: messageType.Entity(), msg: msg.Clone()})
		b.mu.Unlock()
		return nil
	}), nil
}

func (b *fakeBus) sentTo(address string) []*transport.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	var msgs []*transport.Message
	for _, d := range b.sent {
		if d.address == address {
			msgs = append(msgs, d.msg)
		}
	}
	return msgs
}

func (b *fakeBus) sentCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sent)
}

func (b *fakeBus) publishedMessages() []delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]delivery(nil), b.published...)
}

type sendFunc func(ctx context.Context, msg *transport.Message) error

func (f sendFunc) Send(ctx context.Context, msg *transport.Message) error { return f(ctx, msg) }

type publishFunc func(ctx context.Context, msg *transport.Message) error

func (f publishFunc) Publish(ctx context.Context, msg *transport.Message) error { return f(ctx, msg) }

// countingSessions wraps a session factory and counts outbox calls.
type countingSessions struct {
	storage.SessionFactory

	polls    atomic.Int32
	markSent atomic.Int32
}

func (c *countingSessions) CreateSession(ctx context.Context) (storage.Session, error) {
	s, err := c.SessionFactory.CreateSession(ctx)
	if err != nil {
		return nil, err
	}
	return &countingSession{Session: s, counts: c}, nil
}

type countingSession struct {
	storage.Session
	counts *countingSessions
}

func (s *countingSession) Outbox() storage.OutboxStore {
	return &countingOutbox{OutboxStore: s.Session.Outbox(), counts: s.counts}
}

type countingOutbox struct {
	storage.OutboxStore
	counts *countingSessions
}

func (o *countingOutbox) GetPending(ctx context.Context, batchSize int) ([]*transponder.Message, error) {
	o.counts.polls.Add(1)
	return o.OutboxStore.GetPending(ctx, batchSize)
}

func (o *countingOutbox) MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error {
	o.counts.markSent.Add(1)
	return o.OutboxStore.MarkSent(ctx, id, sentAt)
}

var errSessionCommit = errors.New("commit failed")

// fakeSessions hands out fakeSession values with configurable failures.
type fakeSessions struct {
	createErr error
	commitErr error
	addErr    error

	mu       sync.Mutex
	sessions []*fakeSession
}

func (f *fakeSessions) CreateSession(_ context.Context) (storage.Session, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	s := &fakeSession{commitErr: f.commitErr, addErr: f.addErr}
	f.mu.Lock()
	f.sessions = append(f.sessions, s)
	f.mu.Unlock()
	return s, nil
}

func (f *fakeSessions) last() *fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sessions) == 0 {
		return nil
	}
	return f.sessions[len(f.sessions)-1]
}

type fakeSession struct {
	commitErr error
	addErr    error

	added      int
	committed  bool
	rolledBack bool
}

func (s *fakeSession) Outbox() storage.OutboxStore { return (*fakeOutbox)(s) }
func (s *fakeSession) Sagas() storage.SagaStore    { return nil }

func (s *fakeSession) Commit() error {
	s.committed = true
	return s.commitErr
}

func (s *fakeSession) Rollback() error {
	s.rolledBack = true
	return nil
}

type fakeOutbox fakeSession

func (o *fakeOutbox) Add(_ context.Context, _ *transponder.Message) error {
	if o.addErr != nil {
		return o.addErr
	}
	o.added++
	return nil
}

func (o *fakeOutbox) GetPending(_ context.Context, _ int) ([]*transponder.Message, error) {
	return nil, nil
}

func (o *fakeOutbox) MarkSent(_ context.Context, _ uuid.UUID, _ time.Time) error {
	return nil
}
