package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/medbridge/transponder/internal/admin"
	"github.com/medbridge/transponder/internal/config"
	"github.com/medbridge/transponder/internal/logging"
	"github.com/medbridge/transponder/outbox"
	"github.com/medbridge/transponder/transport"
	"github.com/medbridge/transponder/transport/breaker"
	"github.com/medbridge/transponder/transport/kafka"
	natshost "github.com/medbridge/transponder/transport/nats"
	"github.com/medbridge/transponder/transport/rabbitmq"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the outbox dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := logging.New(cfg.LogLevel, cfg.IsDev())

	store, db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	router, closeHosts, err := buildRouter(cfg, logger)
	if err != nil {
		return err
	}
	defer closeHosts()

	var hosts transport.HostProvider = router
	if cfg.BreakerEnabled {
		hosts = breaker.New(router, breaker.WithLogger(logger))
	}

	messageTypes, err := cfg.ParsedMessageTypes()
	if err != nil {
		return err
	}
	types, err := transport.NewTypeRegistry(messageTypes...)
	if err != nil {
		return err
	}

	d, err := outbox.NewDispatcher(store, hosts, types, dispatcherOptions(cfg, logger)...)
	if err != nil {
		return err
	}
	d.Start()
	logger.Info().Strs("schemes", router.Schemes()).Msg("dispatcher started")

	srv := admin.NewServer(d, logger)
	go func() {
		if err := srv.Start(cfg.AdminAddr); err != nil {
			logger.Error().Err(err).Msg("admin server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.StopTimeout+5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("admin server shutdown failed")
	}
	d.Stop(ctx)
	logger.Info().Msg("dispatcher stopped")
	return nil
}

func dispatcherOptions(cfg *config.Config, logger zerolog.Logger) []outbox.Option {
	opts := []outbox.Option{
		outbox.WithChannelCapacity(cfg.ChannelCapacity),
		outbox.WithBatchSize(cfg.BatchSize),
		outbox.WithMaxConcurrentDestinations(cfg.MaxConcurrentDestinations),
		outbox.WithPollInterval(cfg.PollInterval),
		outbox.WithRetryDelay(cfg.RetryDelay),
		outbox.WithStopTimeout(cfg.StopTimeout),
		outbox.WithLogger(logger),
	}
	if cfg.MaxAttempts > 0 {
		opts = append(opts, outbox.WithMaxAttempts(cfg.MaxAttempts))
	}
	if cfg.DeadLetterAddress != "" {
		opts = append(opts, outbox.WithDeadLetterAddress(cfg.DeadLetterAddress))
	}
	return opts
}

// buildRouter registers a host for every broker that is configured.
func buildRouter(cfg *config.Config, logger zerolog.Logger) (*transport.Router, func(), error) {
	router := transport.NewRouter()
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if brokers := cfg.Brokers(); len(brokers) > 0 {
		w := kafka.NewWriter(brokers...)
		closers = append(closers, func() { _ = w.Close() })
		router.Register("kafka", kafka.NewHost(w))
	}

	if cfg.AMQPURL != "" {
		conn, err := amqp.Dial(cfg.AMQPURL)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("connecting to rabbitmq: %w", err)
		}
		closers = append(closers, func() { _ = conn.Close() })

		ch, err := conn.Channel()
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("opening rabbitmq channel: %w", err)
		}
		host := rabbitmq.NewHost(ch)
		router.Register("amqp", host)
		router.Register("rabbitmq", host)
	}

	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("connecting to nats: %w", err)
		}
		closers = append(closers, func() {
			if err := nc.Drain(); err != nil {
				logger.Warn().Err(err).Msg("draining nats connection")
			}
		})
		router.Register("nats", natshost.NewHost(nc))
	}

	if len(router.Schemes()) == 0 {
		logger.Warn().Msg("no transports configured; every delivery will be retried")
	}
	return router, closeAll, nil
}
