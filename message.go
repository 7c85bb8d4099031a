package transponder

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// MessageOption is a function that can be used to configure a Message.
type MessageOption func(*Message)

// Message is the outbox envelope. It is created by a producer inside a storage
// session, persisted as pending and later delivered by the outbox dispatcher.
//
// A message with a DestinationAddress is sent to that address. A message without
// one is published by MessageType, which requires a SourceAddress to resolve the
// publishing host.
type Message struct {
	// MessageID is a time ordered unique identifier (UUIDv7).
	MessageID uuid.UUID

	// CorrelationID and ConversationID are optional; uuid.Nil means unset.
	CorrelationID  uuid.UUID
	ConversationID uuid.UUID

	// SourceAddress and DestinationAddress are URIs, empty when unset.
	SourceAddress      string
	DestinationAddress string

	// MessageType is the logical type name used to resolve a publish channel
	// and, on the receiving side, a deserializer.
	MessageType string
	ContentType string

	// Body is opaque to the dispatcher and never modified by it.
	Body []byte

	Headers map[string]string

	EnqueuedTime time.Time

	// SentTime is set by the storage once delivery succeeded.
	SentTime *time.Time
}

// WithID sets the message identifier. If not provided, a new UUIDv7 is generated.
func WithID(id uuid.UUID) MessageOption {
	return func(m *Message) {
		m.MessageID = id
	}
}

// WithCorrelationID sets the correlation identifier used to route the message to saga state.
func WithCorrelationID(id uuid.UUID) MessageOption {
	return func(m *Message) {
		m.CorrelationID = id
	}
}

// WithConversationID sets the conversation identifier.
func WithConversationID(id uuid.UUID) MessageOption {
	return func(m *Message) {
		m.ConversationID = id
	}
}

// WithSourceAddress sets the address the message is published from.
func WithSourceAddress(address string) MessageOption {
	return func(m *Message) {
		m.SourceAddress = address
	}
}

// WithDestinationAddress makes the message a send to the given address.
func WithDestinationAddress(address string) MessageOption {
	return func(m *Message) {
		m.DestinationAddress = address
	}
}

// WithMessageType sets the logical message type name.
func WithMessageType(messageType string) MessageOption {
	return func(m *Message) {
		m.MessageType = messageType
	}
}

// WithContentType sets the body content type. Default is application/json.
func WithContentType(contentType string) MessageOption {
	return func(m *Message) {
		m.ContentType = contentType
	}
}

// WithHeader adds a single header.
func WithHeader(key, value string) MessageOption {
	return func(m *Message) {
		if m.Headers == nil {
			m.Headers = make(map[string]string)
		}
		m.Headers[key] = value
	}
}

// WithHeaders merges the given headers into the message headers.
func WithHeaders(headers map[string]string) MessageOption {
	return func(m *Message) {
		if m.Headers == nil {
			m.Headers = make(map[string]string, len(headers))
		}
		maps.Copy(m.Headers, headers)
	}
}

// WithEnqueuedTime sets the time the message was enqueued.
// If not provided, the current time will be used.
func WithEnqueuedTime(t time.Time) MessageOption {
	return func(m *Message) {
		m.EnqueuedTime = t
	}
}

// NewMessage creates a new Message with the given body.
func NewMessage(body []byte, opts ...MessageOption) *Message {
	m := &Message{
		MessageID:    uuid.Must(uuid.NewV7()),
		ContentType:  "application/json",
		Body:         body,
		Headers:      map[string]string{},
		EnqueuedTime: time.Now().UTC(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Validate reports ErrUndispatchable for a message that has neither a
// destination address nor a message type.
func (m *Message) Validate() error {
	if m.DestinationAddress == "" && m.MessageType == "" {
		return ErrUndispatchable
	}
	return nil
}

// IsSend reports whether the message targets a concrete destination address.
func (m *Message) IsSend() bool {
	return m.DestinationAddress != ""
}

// DestinationKey returns the routing identity used to serialize deliveries:
// the destination address for sends, "publish:" + MessageType otherwise.
func (m *Message) DestinationKey() string {
	if m.DestinationAddress != "" {
		return m.DestinationAddress
	}
	return PublishKeyPrefix + m.MessageType
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	c := *m
	if m.Body != nil {
		c.Body = append([]byte(nil), m.Body...)
	}
	c.Headers = maps.Clone(m.Headers)
	if m.SentTime != nil {
		t := *m.SentTime
		c.SentTime = &t
	}
	return &c
}
