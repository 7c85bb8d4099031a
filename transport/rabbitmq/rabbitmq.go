// Package rabbitmq implements a transport host over rabbitmq/amqp091-go.
//
// A send goes through the default exchange with the queue named by the address
// entity as routing key. A publish goes to a fanout exchange named after the
// message type topic.
package rabbitmq

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/medbridge/transponder/transport"
)

// Channel is the subset of *amqp.Channel used by the host.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Host publishes transport messages to RabbitMQ.
type Host struct {
	channel Channel
}

// NewHost creates a host publishing on ch.
func NewHost(ch Channel) *Host {
	return &Host{channel: ch}
}

func (h *Host) GetSendTransport(_ context.Context, address string) (transport.SendTransport, error) {
	addr, err := transport.ParseAddress(address)
	if err != nil {
		return nil, err
	}
	return &publisher{channel: h.channel, routingKey: addr.Entity}, nil
}

func (h *Host) GetPublishTransport(_ context.Context, messageType transport.MessageType) (transport.PublishTransport, error) {
	return &publisher{channel: h.channel, exchange: messageType.Entity()}, nil
}

type publisher struct {
	channel    Channel
	exchange   string
	routingKey string
}

func (p *publisher) Send(ctx context.Context, msg *transport.Message) error {
	return p.publish(ctx, msg)
}

func (p *publisher) Publish(ctx context.Context, msg *transport.Message) error {
	return p.publish(ctx, msg)
}

func (p *publisher) publish(ctx context.Context, msg *transport.Message) error {
	err := p.channel.PublishWithContext(
		ctx,
		p.exchange,
		p.routingKey,
		false, // mandatory
		false, // immediate
		toPublishing(msg),
	)
	if err != nil {
		return fmt.Errorf("rabbitmq: publish to %q/%q: %w", p.exchange, p.routingKey, err)
	}
	return nil
}

func toPublishing(msg *transport.Message) amqp.Publishing {
	headers := amqp.Table{}
	for k, v := range transport.WireHeaders(msg) {
		headers[k] = v
	}

	p := amqp.Publishing{
		ContentType:  msg.ContentType,
		Body:         msg.Body,
		MessageId:    msg.MessageID.String(),
		Type:         msg.MessageType,
		Headers:      headers,
		Timestamp:    msg.SentTime,
		DeliveryMode: amqp.Persistent,
	}
	if msg.CorrelationID != uuid.Nil {
		p.CorrelationId = msg.CorrelationID.String()
	}
	return p
}

// FromDelivery converts a consumed delivery back into a transport message.
func FromDelivery(d amqp.Delivery) *transport.Message {
	headers := make(map[string]string, len(d.Headers))
	for k, v := range d.Headers {
		if s, ok := v.(string); ok {
			headers[k] = s
		}
	}
	if _, ok := headers[transport.HeaderMessageID]; !ok && d.MessageId != "" {
		headers[transport.HeaderMessageID] = d.MessageId
	}
	if _, ok := headers[transport.HeaderCorrelationID]; !ok && d.CorrelationId != "" {
		headers[transport.HeaderCorrelationID] = d.CorrelationId
	}
	if _, ok := headers[transport.HeaderMessageType]; !ok && d.Type != "" {
		headers[transport.HeaderMessageType] = d.Type
	}
	if _, ok := headers[transport.HeaderContentType]; !ok && d.ContentType != "" {
		headers[transport.HeaderContentType] = d.ContentType
	}
	return transport.FromWireHeaders(d.Body, headers)
}
