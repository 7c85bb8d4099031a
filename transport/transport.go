// Package transport defines the contracts the outbox dispatcher and the saga
// handler use to reach message brokers, and the transport message they exchange.
package transport

import (
	"context"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/medbridge/transponder"
)

// HostProvider resolves an address to the host able to serve it.
type HostProvider interface {
	GetHost(ctx context.Context, address string) (Host, error)
}

// Host resolves channels capable of delivering transport messages.
type Host interface {
	// GetSendTransport returns a channel delivering to one concrete address.
	GetSendTransport(ctx context.Context, address string) (SendTransport, error)

	// GetPublishTransport returns a channel broadcasting messages of the given type.
	GetPublishTransport(ctx context.Context, messageType MessageType) (PublishTransport, error)
}

// SendTransport delivers a message to a single address.
// Send may be called multiple times for the same message; consumers must be idempotent.
type SendTransport interface {
	Send(ctx context.Context, msg *Message) error
}

// PublishTransport broadcasts a message to every subscriber of its type.
type PublishTransport interface {
	Publish(ctx context.Context, msg *Message) error
}

// MessageType describes a resolved logical message type.
type MessageType struct {
	// Name is the logical type name carried by messages.
	Name string

	// Topic is the broker entity messages of this type are published to.
	// Empty means the name is used.
	Topic string
}

// Entity returns the broker entity name for the type.
func (t MessageType) Entity() string {
	if t.Topic != "" {
		return t.Topic
	}
	return t.Name
}

// TypeResolver resolves a message type by name. ok is false for unknown types.
type TypeResolver interface {
	Resolve(name string) (messageType MessageType, ok bool)
}

// Message is what travels over a transport.
type Message struct {
	MessageID          uuid.UUID
	CorrelationID      uuid.UUID
	ConversationID     uuid.UUID
	SourceAddress      string
	DestinationAddress string
	MessageType        string
	ContentType        string
	Body               []byte
	Headers            map[string]string
	SentTime           time.Time
}

// FromEnvelope builds a transport message from an outbox envelope. Headers are
// copied so the transport may add to them; Body is shared and must not be modified.
func FromEnvelope(msg *transponder.Message, sentAt time.Time) *Message {
	headers := maps.Clone(msg.Headers)
	if headers == nil {
		headers = make(map[string]string)
	}

	return &Message{
		MessageID:          msg.MessageID,
		CorrelationID:      msg.CorrelationID,
		ConversationID:     msg.ConversationID,
		SourceAddress:      msg.SourceAddress,
		DestinationAddress: msg.DestinationAddress,
		MessageType:        msg.MessageType,
		ContentType:        msg.ContentType,
		Body:               msg.Body,
		Headers:            headers,
		SentTime:           sentAt,
	}
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	c := *m
	if m.Body != nil {
		c.Body = append([]byte(nil), m.Body...)
	}
	c.Headers = maps.Clone(m.Headers)
	return &c
}
