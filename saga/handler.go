package saga

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/rs/zerolog"

	"github.com/medbridge/transponder/transport"
)

// Handler is the receive endpoint handler. It dispatches one inbound message to
// every saga registered for its input address and message type.
type Handler struct {
	registry Registry
	logger   zerolog.Logger
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithLogger sets the logger. Default discards everything.
func WithLogger(logger zerolog.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

func NewHandler(registry Registry, opts ...HandlerOption) *Handler {
	h := &Handler{
		registry: registry,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle processes msg received on inputAddress. A message with no matching
// registration is acknowledged and dropped. The payload is decoded once per
// payload type and shared by the registrations.
//
// An error means at least one registration failed and the message should be
// redelivered by the transport; registrations that succeeded are not rolled back.
func (h *Handler) Handle(ctx context.Context, inputAddress string, msg *transport.Message) error {
	if msg == nil {
		return ErrMessageRequired
	}

	logger := h.logger.With().
		Str("input_address", inputAddress).
		Stringer("message_id", msg.MessageID).
		Logger()

	if strings.TrimSpace(msg.MessageType) == "" {
		logger.Warn().Msg("message has no message type, dropping it")
		return nil
	}
	logger = logger.With().Str("message_type", msg.MessageType).Logger()

	regs, ok := h.registry.TryGetHandlers(inputAddress, msg.MessageType)
	if !ok || len(regs) == 0 {
		logger.Debug().Msg("no saga registered for message, dropping it")
		return nil
	}

	var (
		payloads = make(map[reflect.Type]any, 1)
		errs     []error
	)
	for _, reg := range regs {
		payload, decoded := payloads[reg.payloadType]
		if !decoded {
			var err error
			payload, err = reg.decode(msg)
			if err != nil {
				logger.Error().Err(err).Str("saga", reg.SagaName).Msg("decoding message payload failed")
				errs = append(errs, err)
				continue
			}
			payloads[reg.payloadType] = payload
		}

		inv := &invocation{msg: msg, payload: payload, logger: logger}
		if err := reg.handle(ctx, inv); err != nil {
			if ctx.Err() == nil {
				logger.Error().Err(err).Str("saga", reg.SagaName).Msg("saga failed to handle message")
			}
			errs = append(errs, fmt.Errorf("saga %s: %w", reg.SagaName, err))
		}
	}

	return errors.Join(errs...)
}
