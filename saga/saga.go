// Package saga routes inbound transport messages to long running, correlation
// scoped saga instances.
//
// A saga is registered for an input address and a message type name. When a
// message arrives on that address, the Handler resolves its correlation id,
// loads (or, for starting registrations, creates) the saga state, runs the saga
// and persists the result with optimistic concurrency. A saga that reports
// completion has its state deleted.
//
// Saga state types embed Instance:
//
//	type OrderState struct {
//	    saga.Instance
//	    Status string `json:"status"`
//	}
package saga

import (
	"errors"

	"github.com/google/uuid"

	"github.com/medbridge/transponder/transport"
)

var (
	ErrAlreadyRegistered  = errors.New("saga: already registered for this endpoint and message type")
	ErrInvalidDefinition  = errors.New("saga: invalid definition")
	ErrDecode             = errors.New("saga: decoding message payload")
	ErrUnsupportedContent = errors.New("saga: unsupported content type")
	ErrMessageRequired    = errors.New("saga: message is required")
)

// State is implemented by saga state types, usually through an embedded Instance.
type State interface {
	GetCorrelationID() uuid.UUID
	SetCorrelationID(id uuid.UUID)
	GetConversationID() uuid.UUID
	SetConversationID(id uuid.UUID)

	// GetVersion returns the optimistic concurrency token. Zero means the state
	// has never been saved.
	GetVersion() int64
	SetVersion(version int64)
}

// Instance holds the identity and version every saga state carries.
type Instance struct {
	CorrelationID  uuid.UUID `json:"correlation_id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	Version        int64     `json:"-"`
}

func (i *Instance) GetCorrelationID() uuid.UUID    { return i.CorrelationID }
func (i *Instance) SetCorrelationID(id uuid.UUID)  { i.CorrelationID = id }
func (i *Instance) GetConversationID() uuid.UUID   { return i.ConversationID }
func (i *Instance) SetConversationID(id uuid.UUID) { i.ConversationID = id }
func (i *Instance) GetVersion() int64              { return i.Version }
func (i *Instance) SetVersion(version int64)       { i.Version = version }

// DispatchStyle is an opaque tag attached to a registration and handed to the saga.
type DispatchStyle string

const (
	StyleDefault DispatchStyle = ""
	StyleEvent   DispatchStyle = "event"
	StyleCommand DispatchStyle = "command"
)

// Context is what a saga sees for one message.
type Context[S State, M any] struct {
	// Message is the inbound transport message.
	Message *transport.Message

	// Payload is the decoded message body. It is shared by every registration
	// handling the same message and must not be modified.
	Payload M

	State S

	// IsNew reports whether State was created for this message.
	IsNew bool

	Style DispatchStyle

	completed bool
}

// Complete marks the saga as finished. Its state is deleted instead of saved.
func (c *Context[S, M]) Complete() { c.completed = true }

// Completed reports whether Complete was called.
func (c *Context[S, M]) Completed() bool { return c.completed }
