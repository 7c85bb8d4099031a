package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/medbridge/transponder"
	"github.com/medbridge/transponder/transport"
)

// deliver runs the retry loop for one message until it is delivered, found
// structurally undeliverable, or ctx is cancelled.
func (d *Dispatcher) deliver(ctx context.Context, msg *transponder.Message) {
	for attempt := 0; ; attempt++ {
		deadLettered, err := d.deliverOnce(ctx, msg)
		if err == nil {
			if !deadLettered {
				d.markSent(ctx, msg)
			}
			return
		}

		if ctx.Err() != nil {
			return
		}

		var structural *StructuralError
		if errors.As(err, &structural) {
			d.msgLogger(msg).Error().Err(err).Str("reason", structural.Reason).Msg("message is undeliverable, leaving it pending")
			d.metrics.add(ctx, d.metrics.undeliverable, reasonAttr(structural.Reason))
			d.report(structural)
			return
		}

		d.msgLogger(msg).Warn().Err(err).Int("attempt", attempt+1).Msg("message delivery failed")
		d.report(&DeliveryError{Message: msg, Attempt: attempt, Err: err})

		if d.maxAttempts > 0 && attempt+1 >= d.maxAttempts {
			d.attemptsExhausted(ctx, msg, err)
			return
		}

		d.metrics.add(ctx, d.metrics.retried)

		if !sleep(ctx, d.delayFunc(attempt)) {
			return
		}
	}
}

// attemptsExhausted dead-letters a message that failed maxAttempts times in a
// row. Without a dead-letter address it only stops this dispatch; the message
// stays pending for a later poll cycle.
func (d *Dispatcher) attemptsExhausted(ctx context.Context, msg *transponder.Message, cause error) {
	if d.deadLetterAddress == "" {
		d.msgLogger(msg).Warn().Int("max_attempts", d.maxAttempts).Msg("delivery attempts exhausted, leaving message for next poll")
		return
	}

	description := fmt.Sprintf("delivery failed %d times: %v", d.maxAttempts, cause)
	if err := d.deadLetter(ctx, msg, transponder.ReasonMaxAttemptsExceeded, description); err != nil && ctx.Err() == nil {
		d.msgLogger(msg).Error().Err(err).Msg("dead-lettering message failed, leaving it for next poll")
		d.report(&DeliveryError{Message: msg, Attempt: d.maxAttempts, Err: err})
	}
}

// deliverOnce makes a single delivery attempt. It reports whether the message
// was routed to the dead-letter address instead of its destination.
func (d *Dispatcher) deliverOnce(ctx context.Context, msg *transponder.Message) (deadLettered bool, err error) {
	out := transport.FromEnvelope(msg, d.now())

	if msg.IsSend() {
		if err := d.send(ctx, msg.DestinationAddress, out); err != nil {
			return false, err
		}
		d.metrics.add(ctx, d.metrics.delivered)
		return false, nil
	}

	messageType, ok := d.types.Resolve(msg.MessageType)
	if !ok {
		return d.structural(ctx, msg, transponder.ReasonUnresolvableMessageType,
			fmt.Errorf("%w: %q", ErrUnresolvableMessageType, msg.MessageType))
	}

	if msg.SourceAddress == "" {
		return d.structural(ctx, msg, transponder.ReasonMissingSourceAddress,
			fmt.Errorf("%w: message type %q", ErrMissingSourceAddress, msg.MessageType))
	}

	host, err := d.hosts.GetHost(ctx, msg.SourceAddress)
	if err != nil {
		return false, fmt.Errorf("resolving host for %s: %w", msg.SourceAddress, err)
	}
	publisher, err := host.GetPublishTransport(ctx, messageType)
	if err != nil {
		return false, fmt.Errorf("resolving publish transport for %s: %w", messageType.Name, err)
	}
	if err := publisher.Publish(ctx, out); err != nil {
		return false, fmt.Errorf("publishing %s: %w", messageType.Name, err)
	}

	d.metrics.add(ctx, d.metrics.delivered)
	return false, nil
}

func (d *Dispatcher) send(ctx context.Context, address string, out *transport.Message) error {
	host, err := d.hosts.GetHost(ctx, address)
	if err != nil {
		return fmt.Errorf("resolving host for %s: %w", address, err)
	}
	sender, err := host.GetSendTransport(ctx, address)
	if err != nil {
		return fmt.Errorf("resolving send transport for %s: %w", address, err)
	}
	if err := sender.Send(ctx, out); err != nil {
		return fmt.Errorf("sending to %s: %w", address, err)
	}
	return nil
}

// structural handles a failure no retry can fix. With a dead-letter address the
// message is routed there; a failing dead-letter send is retried like any other
// delivery failure.
func (d *Dispatcher) structural(ctx context.Context, msg *transponder.Message, reason string, cause error) (bool, error) {
	if d.deadLetterAddress == "" {
		return false, &StructuralError{Message: msg, Reason: reason, Err: cause}
	}

	if err := d.deadLetter(ctx, msg, reason, cause.Error()); err != nil {
		return false, err
	}
	return true, nil
}

// deadLetter sends a copy of msg, annotated with the dead-letter headers, to the
// dead-letter address. The original message is left untouched.
func (d *Dispatcher) deadLetter(ctx context.Context, msg *transponder.Message, reason, description string) error {
	now := d.now()

	dead := msg.Clone()
	if dead.Headers == nil {
		dead.Headers = make(map[string]string, 3)
	}
	dead.Headers[transponder.HeaderDeadLetterReason] = reason
	dead.Headers[transponder.HeaderDeadLetterDescription] = description
	dead.Headers[transponder.HeaderDeadLetterTime] = now.Format(time.RFC3339Nano)

	if err := d.send(ctx, d.deadLetterAddress, transport.FromEnvelope(dead, now)); err != nil {
		return fmt.Errorf("dead-lettering: %w", err)
	}

	d.msgLogger(msg).Warn().Str("reason", reason).Str("dead_letter_address", d.deadLetterAddress).Msg("message dead-lettered")
	d.metrics.add(ctx, d.metrics.deadLettered, reasonAttr(reason))
	return nil
}

// markSent persists the delivery in its own session. It is not cancelled by a
// stopping dispatcher so a delivered message is not needlessly redelivered.
func (d *Dispatcher) markSent(ctx context.Context, msg *transponder.Message) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.markSentTimeout)
	defer cancel()

	if err := d.markSentInSession(ctx, msg); err != nil {
		d.msgLogger(msg).Error().Err(err).Msg("marking message as sent failed, it will be delivered again")
		d.metrics.add(ctx, d.metrics.markSentFailed)
		d.report(&MarkSentError{Message: msg, Err: err})
	}
}

func (d *Dispatcher) markSentInSession(ctx context.Context, msg *transponder.Message) (err error) {
	session, err := d.sessions.CreateSession(ctx)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	defer func() {
		if err != nil {
			_ = session.Rollback()
		}
	}()

	if err = session.Outbox().MarkSent(ctx, msg.MessageID, d.now()); err != nil {
		return err
	}
	if err = session.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

func (d *Dispatcher) msgLogger(msg *transponder.Message) *zerolog.Logger {
	l := d.logger.With().
		Stringer("message_id", msg.MessageID).
		Str("destination", msg.DestinationKey()).
		Logger()
	return &l
}

// sleep waits for delay and reports false if ctx was cancelled first.
func sleep(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
