package sqlstore

import (
	"errors"
	"strings"

	mssql "github.com/denisenkom/go-mssqldb"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

const (
	pgUniqueViolation        = "23505"
	mysqlDuplicateEntry      = 1062
	mssqlUniqueIndexConflict = 2601
	mssqlPrimaryKeyConflict  = 2627
)

// isUniqueViolation reports whether err is a primary key or unique constraint
// violation raised by one of the supported drivers.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pgUniqueViolation
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}

	var msErr mssql.Error
	if errors.As(err, &msErr) {
		return msErr.Number == mssqlUniqueIndexConflict || msErr.Number == mssqlPrimaryKeyConflict
	}

	// sqlite and oracle drivers are matched by message so that this package does
	// not require cgo
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed") ||
		strings.Contains(msg, "ORA-00001")
}
