package outbox

import (
	"errors"
	"fmt"

	"github.com/medbridge/transponder"
)

var (
	ErrSessionFactoryRequired = errors.New("outbox: storage session factory is required")
	ErrHostProviderRequired   = errors.New("outbox: transport host provider is required")
	ErrTypeResolverRequired   = errors.New("outbox: message type resolver is required")

	ErrUnresolvableMessageType = errors.New("message type could not be resolved")
	ErrMissingSourceAddress    = errors.New("publishing requires a source address")
)

// DeliveryError reports a failed delivery attempt that will be retried.
type DeliveryError struct {
	Message *transponder.Message
	Attempt int
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivering message %s (attempt %d): %v", e.Message.MessageID, e.Attempt+1, e.Err)
}
func (e *DeliveryError) Unwrap() error { return e.Err }

// StructuralError reports a message that cannot be delivered as configured and
// could not be dead-lettered because no dead-letter address is set. The message
// stays pending.
type StructuralError struct {
	Message *transponder.Message
	Reason  string
	Err     error
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("message %s is undeliverable (%s): %v", e.Message.MessageID, e.Reason, e.Err)
}
func (e *StructuralError) Unwrap() error { return e.Err }

// MarkSentError reports a delivered message that could not be marked as sent.
// It will be delivered again by a later poll cycle.
type MarkSentError struct {
	Message *transponder.Message
	Err     error
}

func (e *MarkSentError) Error() string {
	return fmt.Sprintf("marking message %s as sent: %v", e.Message.MessageID, e.Err)
}
func (e *MarkSentError) Unwrap() error { return e.Err }

// PollError reports a failed poll cycle.
type PollError struct {
	Err error
}

func (e *PollError) Error() string { return fmt.Sprintf("polling pending messages: %v", e.Err) }

func (e *PollError) Unwrap() error { return e.Err }
