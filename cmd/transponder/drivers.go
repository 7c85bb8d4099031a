package main

import (
	"database/sql"
	"fmt"

	_ "github.com/denisenkom/go-mssqldb"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "github.com/sijms/go-ora/v2"

	"github.com/medbridge/transponder/internal/config"
	"github.com/medbridge/transponder/storage/sqlstore"
)

// drivers lists the database/sql driver names linked into the binary.
var drivers = map[string]bool{
	"postgres":  true,
	"pgx":       true,
	"mysql":     true,
	"oracle":    true,
	"sqlite3":   true,
	"sqlserver": true,
}

func openStore(cfg *config.Config) (*sqlstore.Store, *sql.DB, error) {
	if !drivers[cfg.DBDriver] {
		return nil, nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}
	dialect, err := sqlstore.ParseDialect(cfg.DBDialect)
	if err != nil {
		return nil, nil, err
	}

	db, err := sql.Open(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	return sqlstore.New(db, dialect), db, nil
}
