// Package nats implements a transport host over nats-io/nats.go. Addresses and
// message type topics map to subjects.
package nats

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/medbridge/transponder/transport"
)

// Conn is the subset of *nats.Conn used by the host.
type Conn interface {
	PublishMsg(m *nats.Msg) error
}

// Host publishes transport messages on NATS subjects.
type Host struct {
	conn Conn
}

func NewHost(conn Conn) *Host {
	return &Host{conn: conn}
}

func (h *Host) GetSendTransport(_ context.Context, address string) (transport.SendTransport, error) {
	addr, err := transport.ParseAddress(address)
	if err != nil {
		return nil, err
	}
	return &subject{conn: h.conn, name: addr.Entity}, nil
}

func (h *Host) GetPublishTransport(_ context.Context, messageType transport.MessageType) (transport.PublishTransport, error) {
	return &subject{conn: h.conn, name: messageType.Entity()}, nil
}

type subject struct {
	conn Conn
	name string
}

func (s *subject) Send(ctx context.Context, msg *transport.Message) error {
	return s.publish(ctx, msg)
}

func (s *subject) Publish(ctx context.Context, msg *transport.Message) error {
	return s.publish(ctx, msg)
}

// PublishMsg does not take a context, so cancellation is only observed before the
// message is handed to the connection.
func (s *subject) publish(ctx context.Context, msg *transport.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := &nats.Msg{
		Subject: s.name,
		Data:    msg.Body,
		Header:  make(nats.Header),
	}
	for k, v := range transport.WireHeaders(msg) {
		m.Header.Set(k, v)
	}

	if err := s.conn.PublishMsg(m); err != nil {
		return fmt.Errorf("nats: publish to %s: %w", s.name, err)
	}
	return nil
}

// FromMsg converts a received NATS message back into a transport message.
func FromMsg(m *nats.Msg) *transport.Message {
	headers := make(map[string]string, len(m.Header))
	for k := range m.Header {
		headers[k] = m.Header.Get(k)
	}
	return transport.FromWireHeaders(m.Data, headers)
}
