package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medbridge/transponder"
	"github.com/medbridge/transponder/storage"
)

const outboxColumns = "message_id, correlation_id, conversation_id, source_address, destination_address, message_type, content_type, body, headers, enqueued_time"

type outboxStore struct {
	store *Store
	q     Queryer
}

func (o *outboxStore) Add(ctx context.Context, msg *transponder.Message) error {
	if msg == nil {
		return transponder.ErrMessageRequired
	}

	headers, err := encodeHeaders(msg.Headers)
	if err != nil {
		return err
	}

	d := o.store.dialect
	_, err = o.q.ExecContext(ctx, o.store.insertMessageQuery(),
		d.formatID(msg.MessageID),
		d.formatID(msg.CorrelationID),
		d.formatID(msg.ConversationID),
		nullString(msg.SourceAddress),
		nullString(msg.DestinationAddress),
		nullString(msg.MessageType),
		nullString(msg.ContentType),
		msg.Body,
		headers,
		msg.EnqueuedTime.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("storing message %s in outbox: %w", msg.MessageID, storage.ErrConflict)
		}
		return fmt.Errorf("storing message in outbox: %w", err)
	}
	return nil
}

func (o *outboxStore) GetPending(ctx context.Context, batchSize int) ([]*transponder.Message, error) {
	rows, err := o.q.QueryContext(ctx, o.store.selectPendingQuery(), batchSize)
	if err != nil {
		return nil, fmt.Errorf("querying pending messages: %w", err)
	}
	defer rows.Close()

	var msgs []*transponder.Message
	for rows.Next() {
		var (
			id, correlationID, conversationID dbUUID
			source, destination, messageType  nullableString
			contentType                       nullableString
			headers                           []byte
			msg                               transponder.Message
		)
		if err := rows.Scan(&id, &correlationID, &conversationID, &source, &destination, &messageType,
			&contentType, &msg.Body, &headers, &msg.EnqueuedTime); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}

		msg.MessageID = uuid.UUID(id)
		msg.CorrelationID = uuid.UUID(correlationID)
		msg.ConversationID = uuid.UUID(conversationID)
		msg.SourceAddress = string(source)
		msg.DestinationAddress = string(destination)
		msg.MessageType = string(messageType)
		msg.ContentType = string(contentType)
		msg.EnqueuedTime = msg.EnqueuedTime.UTC()
		if msg.Headers, err = decodeHeaders(headers); err != nil {
			return nil, fmt.Errorf("message %s: %w", msg.MessageID, err)
		}

		msgs = append(msgs, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pending messages: %w", err)
	}

	return msgs, nil
}

func (o *outboxStore) MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error {
	res, err := o.q.ExecContext(ctx, o.store.markSentQuery(), sentAt.UTC(), o.store.dialect.formatID(id))
	if err != nil {
		return fmt.Errorf("marking message %s as sent: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("marking message %s as sent: %w", id, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) insertMessageQuery() string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s)",
		append([]any{s.outboxTable, outboxColumns}, s.dialect.placeholders(1, 10)...)...)
}

func (s *Store) selectPendingQuery() string {
	limit := s.dialect.placeholder(1)

	switch s.dialect {
	case DialectOracle:
		return fmt.Sprintf(`SELECT %s FROM %s WHERE sent_time IS NULL ORDER BY enqueued_time ASC, message_id ASC FETCH FIRST %s ROWS ONLY`,
			outboxColumns, s.outboxTable, limit)
	case DialectSQLServer:
		return fmt.Sprintf(`SELECT TOP (%s) %s FROM %s WHERE sent_time IS NULL ORDER BY enqueued_time ASC, message_id ASC`,
			limit, outboxColumns, s.outboxTable)
	default:
		return fmt.Sprintf(`SELECT %s FROM %s WHERE sent_time IS NULL ORDER BY enqueued_time ASC, message_id ASC LIMIT %s`,
			outboxColumns, s.outboxTable, limit)
	}
}

func (s *Store) markSentQuery() string {
	return fmt.Sprintf("UPDATE %s SET sent_time = %s WHERE message_id = %s",
		s.outboxTable, s.dialect.placeholder(1), s.dialect.placeholder(2))
}

func encodeHeaders(headers map[string]string) (string, error) {
	if len(headers) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(headers)
	if err != nil {
		return "", fmt.Errorf("encoding headers: %w", err)
	}
	return string(b), nil
}

func decodeHeaders(b []byte) (map[string]string, error) {
	headers := make(map[string]string)
	if len(b) == 0 {
		return headers, nil
	}
	if err := json.Unmarshal(b, &headers); err != nil {
		return nil, fmt.Errorf("decoding headers: %w", err)
	}
	return headers, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
