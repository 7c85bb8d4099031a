package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/medbridge/transponder/transport"
)

type fakeWriter struct {
	records []kafka.Message
	err     error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.records = append(w.records, msgs...)
	return nil
}

func newTransportMessage() *transport.Message {
	return &transport.Message{
		MessageID:   uuid.New(),
		MessageType: "AlarmRaised",
		Body:        []byte(`{"severity":"high"}`),
		Headers:     map[string]string{"trace_id": "abc"},
		SentTime:    time.Now().UTC(),
	}
}

func TestSendWritesToAddressTopic(t *testing.T) {
	w := &fakeWriter{}
	host := NewHost(w)

	send, err := host.GetSendTransport(context.Background(), "kafka://cluster/alarms")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	msg := newTransportMessage()
	if err := send.Send(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(w.records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(w.records))
	}
	record := w.records[0]
	if record.Topic != "alarms" {
		t.Errorf("expected topic alarms, got %q", record.Topic)
	}
	if string(record.Key) != msg.MessageID.String() {
		t.Errorf("expected message id as key without correlation id, got %q", record.Key)
	}

	back := FromRecord(record)
	if back.MessageID != msg.MessageID || back.Headers["trace_id"] != "abc" || string(back.Body) != string(msg.Body) {
		t.Errorf("unexpected round trip: %+v", back)
	}
}

func TestPublishUsesTypeTopicAndCorrelationKey(t *testing.T) {
	w := &fakeWriter{}
	host := NewHost(w)

	pub, err := host.GetPublishTransport(context.Background(), transport.MessageType{Name: "AlarmRaised", Topic: "ehr.alarms"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	msg := newTransportMessage()
	msg.CorrelationID = uuid.New()
	if err := pub.Publish(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if w.records[0].Topic != "ehr.alarms" {
		t.Errorf("expected topic ehr.alarms, got %q", w.records[0].Topic)
	}
	if string(w.records[0].Key) != msg.CorrelationID.String() {
		t.Errorf("expected correlation id as key, got %q", w.records[0].Key)
	}
}

func TestWriteErrorIsWrapped(t *testing.T) {
	cause := errors.New("broker unavailable")
	host := NewHost(&fakeWriter{err: cause})

	send, _ := host.GetSendTransport(context.Background(), "kafka://cluster/alarms")
	if err := send.Send(context.Background(), newTransportMessage()); !errors.Is(err, cause) {
		t.Errorf("expected wrapped cause, got %v", err)
	}

	if _, err := host.GetSendTransport(context.Background(), "alarms"); !errors.Is(err, transport.ErrInvalidAddress) {
		t.Errorf("expected ErrInvalidAddress, got %v", err)
	}
}
