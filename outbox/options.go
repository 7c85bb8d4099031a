package outbox

import (
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/metric"

	"github.com/medbridge/transponder"
)

// Defaults applied by NewDispatcher.
const (
	DefaultChannelCapacity           = 1000
	DefaultBatchSize                 = 100
	DefaultMaxConcurrentDestinations = 16
	DefaultPollInterval              = 10 * time.Second
	DefaultRetryDelay                = 5 * time.Second
	DefaultStopTimeout               = 30 * time.Second
	DefaultMarkSentTimeout           = 5 * time.Second
	DefaultErrorChannelSize          = 128
)

// Option is a function that configures a Dispatcher instance.
// Non-positive sizes and durations are ignored and leave the default in place.
type Option func(*Dispatcher)

// WithChannelCapacity sets the size of the in-memory queue between producers and
// the dispatch loop. When the queue is full, new messages are left for the next
// poll cycle. Default is 1000.
func WithChannelCapacity(capacity int) Option {
	return func(d *Dispatcher) {
		if capacity > 0 {
			d.channelCapacity = capacity
		}
	}
}

// WithBatchSize sets the maximum number of pending messages fetched per poll cycle.
// Default is 100.
func WithBatchSize(size int) Option {
	return func(d *Dispatcher) {
		if size > 0 {
			d.batchSize = size
		}
	}
}

// WithMaxConcurrentDestinations caps the number of deliveries in flight across
// all destinations. Default is 16.
func WithMaxConcurrentDestinations(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxConcurrentDestinations = n
		}
	}
}

// WithPollInterval sets the time between poll cycles. Default is 10 seconds.
func WithPollInterval(interval time.Duration) Option {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.pollInterval = interval
		}
	}
}

// WithRetryDelay sets a fixed delay between delivery attempts. Default is 5 seconds.
// Shorthand for WithDelay(transponder.Fixed(delay)).
func WithRetryDelay(delay time.Duration) Option {
	return func(d *Dispatcher) {
		if delay > 0 {
			d.delayFunc = transponder.Fixed(delay)
		}
	}
}

// WithDelay sets the function computing the delay after a failed attempt.
//
// For example, to back off exponentially from 200ms up to one minute:
//
//	outbox.WithDelay(transponder.Exponential(200*time.Millisecond, time.Minute))
func WithDelay(delayFunc transponder.DelayFunc) Option {
	return func(d *Dispatcher) {
		if delayFunc != nil {
			d.delayFunc = delayFunc
		}
	}
}

// WithMaxAttempts bounds the number of delivery attempts per dispatch. Once
// reached, the message is dead-lettered with reason MaxAttemptsExceeded when a
// dead-letter address is configured, and otherwise left pending for a later poll
// cycle. Default is unlimited.
func WithMaxAttempts(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

// WithDeadLetterAddress sets the address structurally undeliverable messages are
// sent to. Without one, such messages are reported as *StructuralError and stay
// pending.
func WithDeadLetterAddress(address string) Option {
	return func(d *Dispatcher) {
		d.deadLetterAddress = address
	}
}

// WithStopTimeout bounds how long Stop waits for the loops and in-flight
// deliveries. Default is 30 seconds.
func WithStopTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.stopTimeout = timeout
		}
	}
}

// WithMarkSentTimeout bounds the storage session marking a delivered message as
// sent. Default is 5 seconds.
func WithMarkSentTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.markSentTimeout = timeout
		}
	}
}

// WithErrorChannelSize sets the size of the error channel. Default is 128.
func WithErrorChannelSize(size int) Option {
	return func(d *Dispatcher) {
		if size > 0 {
			d.errorChannelSize = size
		}
	}
}

// WithLogger sets the logger. Default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider used for dispatcher
// metrics. Default is the global provider.
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(d *Dispatcher) {
		d.meterProvider = provider
	}
}
