package sqlstore

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// Dialect represents a SQL database dialect.
type Dialect string

// Supported database dialects.
const (
	DialectPostgres  Dialect = "postgres"
	DialectMySQL     Dialect = "mysql"
	DialectMariaDB   Dialect = "mariadb"
	DialectSQLite    Dialect = "sqlite"
	DialectOracle    Dialect = "oracle"
	DialectSQLServer Dialect = "sqlserver"
)

// ParseDialect validates a dialect name.
func ParseDialect(s string) (Dialect, error) {
	switch d := Dialect(s); d {
	case DialectPostgres, DialectMySQL, DialectMariaDB, DialectSQLite, DialectOracle, DialectSQLServer:
		return d, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDialect, s)
}

var sqlIdentifierRegexp = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func validateTableName(name string) error {
	if name == "" {
		return fmt.Errorf("table name cannot be empty")
	}
	if !sqlIdentifierRegexp.MatchString(name) {
		return fmt.Errorf(
			"invalid table name %q: must match [a-zA-Z_][a-zA-Z0-9_]*",
			name,
		)
	}
	return nil
}

// formatID converts an id into the representation stored by the dialect.
// uuid.Nil is stored as NULL.
func (d Dialect) formatID(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}

	switch d {
	case DialectMySQL, DialectOracle, DialectSQLServer:
		bytes, _ := id.MarshalBinary()
		return bytes
	case DialectPostgres, DialectMariaDB:
		return id
	default:
		return id.String()
	}
}

// placeholder returns the bind parameter for the given 1-based index.
func (d Dialect) placeholder(index int) string {
	switch d {
	case DialectPostgres:
		return fmt.Sprintf("$%d", index)
	case DialectOracle:
		return fmt.Sprintf(":%d", index)
	case DialectSQLServer:
		return fmt.Sprintf("@p%d", index)
	default:
		return "?"
	}
}

func (d Dialect) placeholders(from, n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = d.placeholder(from + i)
	}
	return out
}
