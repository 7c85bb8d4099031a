// Package kafka implements a transport host over segmentio/kafka-go.
//
// Sends and publishes both produce to a topic: the entity of the destination
// address for sends, the message type topic for publishes. The record key is the
// correlation id when set so that a saga's messages land on one partition.
package kafka

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/medbridge/transponder/transport"
)

// Writer is the subset of *kafka.Writer used by the host.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewWriter builds a writer producing to any topic on the given brokers.
func NewWriter(brokers ...string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

// Host produces transport messages to Kafka topics.
type Host struct {
	writer Writer
}

// NewHost creates a host writing through w.
func NewHost(w Writer) *Host {
	return &Host{writer: w}
}

func (h *Host) GetSendTransport(_ context.Context, address string) (transport.SendTransport, error) {
	addr, err := transport.ParseAddress(address)
	if err != nil {
		return nil, err
	}
	return &topicTransport{writer: h.writer, topic: addr.Entity}, nil
}

func (h *Host) GetPublishTransport(_ context.Context, messageType transport.MessageType) (transport.PublishTransport, error) {
	return &topicTransport{writer: h.writer, topic: messageType.Entity()}, nil
}

type topicTransport struct {
	writer Writer
	topic  string
}

func (t *topicTransport) Send(ctx context.Context, msg *transport.Message) error {
	return t.write(ctx, msg)
}

func (t *topicTransport) Publish(ctx context.Context, msg *transport.Message) error {
	return t.write(ctx, msg)
}

func (t *topicTransport) write(ctx context.Context, msg *transport.Message) error {
	if err := t.writer.WriteMessages(ctx, toRecord(t.topic, msg)); err != nil {
		return fmt.Errorf("kafka: write to %s: %w", t.topic, err)
	}
	return nil
}

func toRecord(topic string, msg *transport.Message) kafka.Message {
	key := msg.CorrelationID
	if key == uuid.Nil {
		key = msg.MessageID
	}

	wire := transport.WireHeaders(msg)
	names := make([]string, 0, len(wire))
	for k := range wire {
		names = append(names, k)
	}
	sort.Strings(names)

	headers := make([]kafka.Header, 0, len(names))
	for _, k := range names {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(wire[k])})
	}

	return kafka.Message{
		Topic:   topic,
		Key:     []byte(key.String()),
		Value:   msg.Body,
		Headers: headers,
		Time:    msg.SentTime,
	}
}

// FromRecord converts a consumed record back into a transport message.
func FromRecord(record kafka.Message) *transport.Message {
	headers := make(map[string]string, len(record.Headers))
	for _, h := range record.Headers {
		headers[h.Key] = string(h.Value)
	}
	return transport.FromWireHeaders(record.Value, headers)
}
