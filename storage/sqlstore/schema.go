package sqlstore

import "fmt"

type columnTypes struct {
	id, text, shortText, blob, timestamp, bigint string
}

func (d Dialect) columnTypes() columnTypes {
	switch d {
	case DialectPostgres:
		return columnTypes{id: "UUID", text: "TEXT", shortText: "VARCHAR(255)", blob: "BYTEA", timestamp: "TIMESTAMP", bigint: "BIGINT"}
	case DialectMariaDB:
		return columnTypes{id: "UUID", text: "TEXT", shortText: "VARCHAR(255)", blob: "LONGBLOB", timestamp: "DATETIME(6)", bigint: "BIGINT"}
	case DialectMySQL:
		return columnTypes{id: "BINARY(16)", text: "TEXT", shortText: "VARCHAR(255)", blob: "LONGBLOB", timestamp: "DATETIME(6)", bigint: "BIGINT"}
	case DialectOracle:
		return columnTypes{id: "RAW(16)", text: "CLOB", shortText: "VARCHAR2(255)", blob: "BLOB", timestamp: "TIMESTAMP", bigint: "NUMBER(19)"}
	case DialectSQLServer:
		return columnTypes{id: "BINARY(16)", text: "NVARCHAR(MAX)", shortText: "NVARCHAR(255)", blob: "VARBINARY(MAX)", timestamp: "DATETIME2", bigint: "BIGINT"}
	default:
		return columnTypes{id: "TEXT", text: "TEXT", shortText: "TEXT", blob: "BLOB", timestamp: "TIMESTAMP", bigint: "INTEGER"}
	}
}

// Schema returns the DDL statements creating the outbox and saga tables and the
// index backing the pending message scan.
func (s *Store) Schema() []string {
	t := s.dialect.columnTypes()

	outbox := fmt.Sprintf(`CREATE TABLE %s (
	message_id %s NOT NULL PRIMARY KEY,
	correlation_id %s NULL,
	conversation_id %s NULL,
	source_address %s NULL,
	destination_address %s NULL,
	message_type %s NULL,
	content_type %s NULL,
	body %s NULL,
	headers %s NULL,
	enqueued_time %s NOT NULL,
	sent_time %s NULL
)`, s.outboxTable, t.id, t.id, t.id, t.shortText, t.shortText, t.shortText, t.shortText, t.blob, t.text, t.timestamp, t.timestamp)

	index := fmt.Sprintf("CREATE INDEX ix_%s_pending ON %s (sent_time, enqueued_time)", s.outboxTable, s.outboxTable)

	sagas := fmt.Sprintf(`CREATE TABLE %s (
	state_type %s NOT NULL,
	correlation_id %s NOT NULL,
	conversation_id %s NULL,
	version %s NOT NULL,
	data %s NULL,
	updated_at %s NOT NULL,
	PRIMARY KEY (state_type, correlation_id)
)`, s.sagaTable, t.shortText, t.id, t.id, t.bigint, t.blob, t.timestamp)

	return []string{outbox, index, sagas}
}
