package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/medbridge/transponder"
)

type stubHost struct{ name string }

func (stubHost) GetSendTransport(context.Context, string) (SendTransport, error) { return nil, nil }
func (stubHost) GetPublishTransport(context.Context, MessageType) (PublishTransport, error) {
	return nil, nil
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		address    string
		wantScheme string
		wantEntity string
		wantErr    error
	}{
		{address: "queue:alarms", wantScheme: "queue", wantEntity: "alarms"},
		{address: "rabbitmq://broker:5672/vhost/alarms", wantScheme: "rabbitmq", wantEntity: "alarms"},
		{address: "loopback://alarms", wantScheme: "loopback", wantEntity: "alarms"},
		{address: "KAFKA://cluster/treatments/", wantScheme: "kafka", wantEntity: "treatments"},
		{address: "", wantErr: ErrAddressRequired},
		{address: "alarms", wantErr: ErrInvalidAddress},
		{address: "queue://", wantErr: ErrInvalidAddress},
	}

	for _, tt := range tests {
		t.Run(tt.address, func(t *testing.T) {
			addr, err := ParseAddress(tt.address)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ParseAddress(%q) error = %v, want %v", tt.address, err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if addr.Scheme != tt.wantScheme || addr.Entity != tt.wantEntity {
				t.Errorf("ParseAddress(%q) = %s/%s, want %s/%s", tt.address, addr.Scheme, addr.Entity, tt.wantScheme, tt.wantEntity)
			}
			if addr.String() != tt.address {
				t.Errorf("expected String() to return the raw address, got %q", addr.String())
			}
		})
	}
}

func TestRouterGetHost(t *testing.T) {
	router := NewRouter()
	queueHost := stubHost{name: "queue"}
	router.Register("Queue", queueHost)

	host, err := router.GetHost(context.Background(), "queue:alarms")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if host != queueHost {
		t.Errorf("expected queue host, got %v", host)
	}

	if _, err := router.GetHost(context.Background(), "kafka://cluster/alarms"); !errors.Is(err, ErrHostNotFound) {
		t.Errorf("expected ErrHostNotFound, got %v", err)
	}
	if _, err := router.GetHost(context.Background(), ""); !errors.Is(err, ErrAddressRequired) {
		t.Errorf("expected ErrAddressRequired, got %v", err)
	}
	if got := router.Schemes(); len(got) != 1 || got[0] != "queue" {
		t.Errorf("expected [queue], got %v", got)
	}
}

func TestTypeRegistry(t *testing.T) {
	registry, err := NewTypeRegistry(MessageType{Name: "AlarmRaised", Topic: "alarms"}, MessageType{Name: "PatientAdmitted"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	alarm, ok := registry.Resolve("AlarmRaised")
	if !ok || alarm.Entity() != "alarms" {
		t.Errorf("expected AlarmRaised on alarms, got %+v (%v)", alarm, ok)
	}
	admitted, ok := registry.Resolve("PatientAdmitted")
	if !ok || admitted.Entity() != "PatientAdmitted" {
		t.Errorf("expected entity to default to the name, got %+v (%v)", admitted, ok)
	}
	if _, ok := registry.Resolve("alarmraised"); ok {
		t.Error("expected names to be case sensitive")
	}

	if err := registry.Register(MessageType{Name: "AlarmRaised"}); !errors.Is(err, ErrMessageTypeExists) {
		t.Errorf("expected ErrMessageTypeExists, got %v", err)
	}
	if err := registry.Register(MessageType{Name: "  "}); !errors.Is(err, ErrTypeNameRequired) {
		t.Errorf("expected ErrTypeNameRequired, got %v", err)
	}
}

func TestParseTypeMap(t *testing.T) {
	types, err := ParseTypeMap(" AlarmRaised=alarms, PatientAdmitted ,,")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []MessageType{{Name: "AlarmRaised", Topic: "alarms"}, {Name: "PatientAdmitted"}}
	if len(types) != len(want) {
		t.Fatalf("expected %d types, got %d", len(want), len(types))
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("types[%d] = %+v, want %+v", i, types[i], want[i])
		}
	}

	if _, err := ParseTypeMap("=alarms"); !errors.Is(err, ErrTypeNameRequired) {
		t.Errorf("expected ErrTypeNameRequired, got %v", err)
	}
}

func TestFromEnvelopeCopiesHeaders(t *testing.T) {
	env := transponder.NewMessage([]byte("body"),
		transponder.WithDestinationAddress("queue:alarms"),
		transponder.WithMessageType("AlarmRaised"),
		transponder.WithCorrelationID(uuid.New()),
		transponder.WithHeader("trace_id", "abc"),
	)
	sentAt := time.Now().UTC()

	msg := FromEnvelope(env, sentAt)
	msg.Headers["extra"] = "x"

	if _, ok := env.Headers["extra"]; ok {
		t.Error("expected envelope headers to be untouched")
	}
	if msg.MessageID != env.MessageID || msg.CorrelationID != env.CorrelationID {
		t.Errorf("expected ids to be carried over")
	}
	if string(msg.Body) != "body" || !msg.SentTime.Equal(sentAt) {
		t.Errorf("unexpected body %q or sent time %v", msg.Body, msg.SentTime)
	}

	env.Headers = nil
	if FromEnvelope(env, sentAt).Headers == nil {
		t.Error("expected non nil headers")
	}
}

func TestWireHeadersRoundTrip(t *testing.T) {
	msg := &Message{
		MessageID:          uuid.New(),
		CorrelationID:      uuid.New(),
		SourceAddress:      "queue:ehr",
		DestinationAddress: "queue:alarms",
		MessageType:        "AlarmRaised",
		ContentType:        "application/json",
		Body:               []byte("{}"),
		Headers:            map[string]string{"trace_id": "abc", HeaderMessageID: "spoofed"},
		SentTime:           time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}

	headers := WireHeaders(msg)
	if headers[HeaderMessageID] != msg.MessageID.String() {
		t.Errorf("expected envelope id to win over custom header, got %q", headers[HeaderMessageID])
	}
	if _, ok := headers[HeaderConversationID]; ok {
		t.Error("expected unset conversation id to be omitted")
	}

	back := FromWireHeaders(msg.Body, headers)
	if back.MessageID != msg.MessageID || back.CorrelationID != msg.CorrelationID || back.ConversationID != uuid.Nil {
		t.Errorf("ids not restored: %+v", back)
	}
	if back.MessageType != msg.MessageType || back.SourceAddress != msg.SourceAddress || back.DestinationAddress != msg.DestinationAddress {
		t.Errorf("routing not restored: %+v", back)
	}
	if !back.SentTime.Equal(msg.SentTime) {
		t.Errorf("expected sent time %v, got %v", msg.SentTime, back.SentTime)
	}
	if back.Headers["trace_id"] != "abc" || len(back.Headers) != 1 {
		t.Errorf("expected only custom headers, got %v", back.Headers)
	}
}
