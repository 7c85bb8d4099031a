package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medbridge/transponder/transport"
)

// Registry looks up the registrations serving a message type on an input address.
type Registry interface {
	TryGetHandlers(inputAddress, messageType string) ([]*Registration, bool)
}

// Definition describes one saga registration.
type Definition[S State, M any] struct {
	// Name identifies the saga in logs. Defaults to the state type name.
	Name string

	InputAddress string
	MessageType  string

	// CanStart allows the registration to create state for an unknown correlation id.
	CanStart bool
	Style    DispatchStyle

	// New returns a zero state.
	New func() S

	Repository Repository[S]

	// Handle is the saga message handler.
	Handle func(ctx context.Context, sc *Context[S, M]) error

	// Steps optionally returns an ordered pipeline run before Handle. When the
	// pipeline does not complete, Handle is skipped for this message.
	Steps func(state S, payload M) []Step[S, M]

	// Decode overrides the JSON payload decoder.
	Decode func(msg *transport.Message) (M, error)
}

// Registration is a type erased Definition held by the EndpointRegistry.
type Registration struct {
	SagaName     string
	InputAddress string
	MessageType  string
	CanStart     bool
	Style        DispatchStyle

	payloadType reflect.Type
	decode      func(msg *transport.Message) (any, error)
	handle      func(ctx context.Context, inv *invocation) error
}

type invocation struct {
	msg     *transport.Message
	payload any
	logger  zerolog.Logger
}

// Register validates def and adds it to r.
func Register[S State, M any](r *EndpointRegistry, def Definition[S, M]) error {
	def.InputAddress = strings.TrimSpace(def.InputAddress)
	def.MessageType = strings.TrimSpace(def.MessageType)

	switch {
	case def.InputAddress == "":
		return fmt.Errorf("%w: input address is required", ErrInvalidDefinition)
	case def.MessageType == "":
		return fmt.Errorf("%w: message type is required", ErrInvalidDefinition)
	case def.New == nil:
		return fmt.Errorf("%w: state constructor is required", ErrInvalidDefinition)
	case def.Repository == nil:
		return fmt.Errorf("%w: repository is required", ErrInvalidDefinition)
	case def.Handle == nil && def.Steps == nil:
		return fmt.Errorf("%w: a handler or a step pipeline is required", ErrInvalidDefinition)
	}

	if def.Name == "" {
		def.Name = stateTypeName(def.New())
	}

	decode := def.Decode
	if decode == nil {
		decode = decodeJSON[M]
	}

	reg := &Registration{
		SagaName:     def.Name,
		InputAddress: def.InputAddress,
		MessageType:  def.MessageType,
		CanStart:     def.CanStart,
		Style:        def.Style,
		payloadType:  reflect.TypeOf((*M)(nil)).Elem(),
		decode: func(msg *transport.Message) (any, error) {
			return decode(msg)
		},
		handle: func(ctx context.Context, inv *invocation) error {
			payload, _ := inv.payload.(M)
			return handleMessage(ctx, def, inv, payload)
		},
	}

	return r.add(reg)
}

// handleMessage correlates msg to saga state, runs the saga and persists the outcome.
func handleMessage[S State, M any](ctx context.Context, def Definition[S, M], inv *invocation, payload M) error {
	msg := inv.msg
	logger := inv.logger.With().Str("saga", def.Name).Logger()

	correlationID := msg.CorrelationID
	if correlationID == uuid.Nil {
		correlationID = msg.ConversationID
	}
	if correlationID == uuid.Nil {
		logger.Warn().Msg("message has no correlation or conversation id, dropping it")
		return nil
	}
	logger = logger.With().Stringer("correlation_id", correlationID).Logger()

	state, found, err := def.Repository.Get(ctx, correlationID)
	if err != nil {
		return fmt.Errorf("loading %s state %s: %w", def.Name, correlationID, err)
	}

	isNew := false
	if !found {
		if !def.CanStart {
			logger.Debug().Msg("no saga state and registration cannot start one, dropping message")
			return nil
		}
		state = def.New()
		state.SetCorrelationID(correlationID)
		state.SetConversationID(msg.ConversationID)
		isNew = true
	} else {
		if state.GetCorrelationID() == uuid.Nil {
			state.SetCorrelationID(correlationID)
		}
		if state.GetConversationID() == uuid.Nil && msg.ConversationID != uuid.Nil {
			state.SetConversationID(msg.ConversationID)
		}
	}

	sc := &Context[S, M]{
		Message: msg,
		Payload: payload,
		State:   state,
		IsNew:   isNew,
		Style:   def.Style,
	}

	runHandler := def.Handle != nil
	if def.Steps != nil {
		if steps := def.Steps(state, payload); len(steps) > 0 {
			status, err := RunSteps(ctx, sc, steps)
			if err != nil {
				return fmt.Errorf("running %s steps: %w", def.Name, err)
			}
			if status != StepCompleted {
				logger.Debug().Stringer("status", status).Msg("step pipeline not completed, skipping handler")
				runHandler = false
			}
		}
	}

	if runHandler {
		if err := def.Handle(ctx, sc); err != nil {
			return fmt.Errorf("handling %s in %s: %w", msg.MessageType, def.Name, err)
		}
	}

	if sc.Completed() {
		if isNew {
			logger.Debug().Msg("saga completed on its first message")
			return nil
		}
		if err := def.Repository.Delete(ctx, correlationID); err != nil {
			return fmt.Errorf("deleting %s state %s: %w", def.Name, correlationID, err)
		}
		logger.Debug().Msg("saga completed")
		return nil
	}

	saved, err := def.Repository.Save(ctx, state)
	if err != nil {
		return fmt.Errorf("saving %s state %s: %w", def.Name, correlationID, err)
	}
	if !saved {
		logger.Warn().Int64("version", state.GetVersion()).Msg("saga state changed concurrently, save rejected")
	}
	return nil
}

func decodeJSON[M any](msg *transport.Message) (M, error) {
	var payload M

	ct := strings.ToLower(msg.ContentType)
	if ct != "" && !strings.Contains(ct, "json") {
		return payload, fmt.Errorf("%w: %q", ErrUnsupportedContent, msg.ContentType)
	}
	if err := json.Unmarshal(msg.Body, &payload); err != nil {
		return payload, fmt.Errorf("%w: %s: %v", ErrDecode, msg.MessageType, err)
	}
	return payload, nil
}

func stateTypeName(s any) string {
	t := reflect.TypeOf(s)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "saga"
	}
	return t.Name()
}

type endpointKey struct {
	inputAddress string
	messageType  string
}

// EndpointRegistry holds saga registrations keyed by input address and message type.
type EndpointRegistry struct {
	mu       sync.RWMutex
	handlers map[endpointKey][]*Registration
}

func NewEndpointRegistry() *EndpointRegistry {
	return &EndpointRegistry{handlers: make(map[endpointKey][]*Registration)}
}

func (r *EndpointRegistry) add(reg *Registration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := endpointKey{reg.InputAddress, reg.MessageType}
	for _, existing := range r.handlers[key] {
		if existing.SagaName == reg.SagaName {
			return fmt.Errorf("%w: %s on %s for %s", ErrAlreadyRegistered, reg.SagaName, reg.InputAddress, reg.MessageType)
		}
	}
	r.handlers[key] = append(r.handlers[key], reg)
	return nil
}

// TryGetHandlers returns the registrations for the pair in registration order.
func (r *EndpointRegistry) TryGetHandlers(inputAddress, messageType string) ([]*Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	regs, ok := r.handlers[endpointKey{inputAddress, messageType}]
	if !ok {
		return nil, false
	}
	return slices.Clone(regs), true
}

// InputAddresses returns every address with at least one registration, sorted.
func (r *EndpointRegistry) InputAddresses() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	for key := range r.handlers {
		seen[key.inputAddress] = struct{}{}
	}

	addresses := make([]string, 0, len(seen))
	for address := range seen {
		addresses = append(addresses, address)
	}
	slices.Sort(addresses)
	return addresses
}

// MessageTypes returns the message types registered on inputAddress, sorted.
func (r *EndpointRegistry) MessageTypes(inputAddress string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var types []string
	for key := range r.handlers {
		if key.inputAddress == inputAddress {
			types = append(types, key.messageType)
		}
	}
	slices.Sort(types)
	return types
}
