package transport

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// Wire header names used by broker adapters that have no native field for the
// envelope attributes.
const (
	HeaderMessageID          = "message_id"
	HeaderCorrelationID      = "correlation_id"
	HeaderConversationID     = "conversation_id"
	HeaderMessageType        = "message_type"
	HeaderContentType        = "content_type"
	HeaderSourceAddress      = "source_address"
	HeaderDestinationAddress = "destination_address"
	HeaderSentTime           = "sent_time"
)

// WireHeaders flattens the envelope attributes and the custom headers into one map.
// Envelope attributes win over custom headers with the same name.
func WireHeaders(msg *Message) map[string]string {
	headers := make(map[string]string, len(msg.Headers)+8)
	maps.Copy(headers, msg.Headers)

	headers[HeaderMessageID] = msg.MessageID.String()
	setID(headers, HeaderCorrelationID, msg.CorrelationID)
	setID(headers, HeaderConversationID, msg.ConversationID)
	setString(headers, HeaderMessageType, msg.MessageType)
	setString(headers, HeaderContentType, msg.ContentType)
	setString(headers, HeaderSourceAddress, msg.SourceAddress)
	setString(headers, HeaderDestinationAddress, msg.DestinationAddress)
	if !msg.SentTime.IsZero() {
		headers[HeaderSentTime] = msg.SentTime.UTC().Format(time.RFC3339Nano)
	}

	return headers
}

// FromWireHeaders rebuilds a transport message from a body and flattened headers,
// the inverse of WireHeaders. Unknown headers are kept as custom headers.
func FromWireHeaders(body []byte, headers map[string]string) *Message {
	msg := &Message{Body: body, Headers: make(map[string]string)}

	for k, v := range headers {
		switch k {
		case HeaderMessageID:
			msg.MessageID = parseID(v)
		case HeaderCorrelationID:
			msg.CorrelationID = parseID(v)
		case HeaderConversationID:
			msg.ConversationID = parseID(v)
		case HeaderMessageType:
			msg.MessageType = v
		case HeaderContentType:
			msg.ContentType = v
		case HeaderSourceAddress:
			msg.SourceAddress = v
		case HeaderDestinationAddress:
			msg.DestinationAddress = v
		case HeaderSentTime:
			if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
				msg.SentTime = t
			}
		default:
			msg.Headers[k] = v
		}
	}

	return msg
}

func setID(headers map[string]string, key string, id uuid.UUID) {
	if id != uuid.Nil {
		headers[key] = id.String()
	}
}

func setString(headers map[string]string, key, value string) {
	if value != "" {
		headers[key] = value
	}
}

func parseID(v string) uuid.UUID {
	id, err := uuid.Parse(v)
	if err != nil {
		return uuid.Nil
	}
	return id
}
