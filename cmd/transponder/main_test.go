package main

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/medbridge/transponder/internal/config"
	"github.com/medbridge/transponder/storage/sqlstore"
)

func TestOpenStore(t *testing.T) {
	store, db, err := openStore(&config.Config{
		DatabaseURL: "file::memory:",
		DBDriver:    "sqlite3",
		DBDialect:   "sqlite",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer db.Close()

	if store.Dialect() != sqlstore.DialectSQLite {
		t.Errorf("expected sqlite dialect, got %v", store.Dialect())
	}
}

func TestOpenStore_UnsupportedDriver(t *testing.T) {
	_, _, err := openStore(&config.Config{DatabaseURL: "x", DBDriver: "db2", DBDialect: "postgres"})
	if err == nil || !strings.Contains(err.Error(), "unsupported DB_DRIVER") {
		t.Fatalf("expected unsupported driver error, got: %v", err)
	}
}

func TestBuildRouter_KafkaOnly(t *testing.T) {
	router, closeHosts, err := buildRouter(&config.Config{KafkaBrokers: "localhost:9092"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer closeHosts()

	schemes := router.Schemes()
	if len(schemes) != 1 || schemes[0] != "kafka" {
		t.Fatalf("expected only the kafka scheme, got %v", schemes)
	}
	if _, err := router.GetHost(context.Background(), "kafka://localhost/orders"); err != nil {
		t.Errorf("expected kafka host, got: %v", err)
	}
}

func TestDispatcherOptions(t *testing.T) {
	base := &config.Config{ChannelCapacity: 1, BatchSize: 1, MaxConcurrentDestinations: 1}
	if got := len(dispatcherOptions(base, zerolog.Nop())); got != 7 {
		t.Errorf("expected 7 options, got %d", got)
	}

	base.MaxAttempts = 3
	base.DeadLetterAddress = "kafka://broker/dead-letter"
	if got := len(dispatcherOptions(base, zerolog.Nop())); got != 9 {
		t.Errorf("expected 9 options, got %d", got)
	}
}
