// Package outbox implements the transactional outbox dispatcher.
//
// Producers persist messages through Dispatcher.Write or Dispatcher.Enqueue in the
// same storage session as their business changes. After commit the messages are
// offered to a bounded in-memory queue; a full queue is not an error because a
// poll loop periodically re-reads pending messages from storage.
//
// Deliveries to the same destination key never overlap, and at most
// MaxConcurrentDestinations deliveries run at once. Failed attempts are retried
// after the configured delay until they succeed or the dispatcher stops. Delivery
// is at-least-once: consumers must be idempotent.
package outbox

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"

	"github.com/medbridge/transponder"
	"github.com/medbridge/transponder/storage"
	"github.com/medbridge/transponder/transport"
)

// Dispatcher delivers persisted outbox messages to their transports.
type Dispatcher struct {
	sessions storage.SessionFactory
	hosts    transport.HostProvider
	types    transport.TypeResolver

	channelCapacity           int
	batchSize                 int
	maxConcurrentDestinations int
	pollInterval              time.Duration
	stopTimeout               time.Duration
	markSentTimeout           time.Duration
	delayFunc                 transponder.DelayFunc
	maxAttempts               int
	deadLetterAddress         string
	errorChannelSize          int
	logger                    zerolog.Logger
	meterProvider             metric.MeterProvider
	now                       func() time.Time

	queue    chan *transponder.Message
	inFlight *keySet[uuid.UUID]
	active   *keySet[string]
	errCh    chan error
	metrics  dispatcherMetrics

	lifecycle sync.Mutex
	current   *run
	running   atomic.Bool
}

// run is the state owned by one Start/Stop cycle.
type run struct {
	ctx        context.Context
	cancel     context.CancelFunc
	slots      *semaphore.Weighted
	loops      sync.WaitGroup
	deliveries sync.WaitGroup
}

// Stats is a point in time view of the dispatcher.
type Stats struct {
	Running            bool `json:"running"`
	Queued             int  `json:"queued"`
	QueueCapacity      int  `json:"queue_capacity"`
	InFlight           int  `json:"in_flight"`
	ActiveDestinations int  `json:"active_destinations"`
}

// NewDispatcher creates a dispatcher reading from sessions and delivering through hosts.
func NewDispatcher(sessions storage.SessionFactory, hosts transport.HostProvider, types transport.TypeResolver, opts ...Option) (*Dispatcher, error) {
	if sessions == nil {
		return nil, ErrSessionFactoryRequired
	}
	if hosts == nil {
		return nil, ErrHostProviderRequired
	}
	if types == nil {
		return nil, ErrTypeResolverRequired
	}

	d := &Dispatcher{
		sessions:                  sessions,
		hosts:                     hosts,
		types:                     types,
		channelCapacity:           DefaultChannelCapacity,
		batchSize:                 DefaultBatchSize,
		maxConcurrentDestinations: DefaultMaxConcurrentDestinations,
		pollInterval:              DefaultPollInterval,
		stopTimeout:               DefaultStopTimeout,
		markSentTimeout:           DefaultMarkSentTimeout,
		delayFunc:                 transponder.Fixed(DefaultRetryDelay),
		errorChannelSize:          DefaultErrorChannelSize,
		logger:                    zerolog.Nop(),
		now:                       func() time.Time { return time.Now().UTC() },
		inFlight:                  newKeySet[uuid.UUID](),
		active:                    newKeySet[string](),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}

	metrics, err := newDispatcherMetrics(d.meterProvider)
	if err != nil {
		return nil, err
	}
	d.metrics = metrics

	d.queue = make(chan *transponder.Message, d.channelCapacity)
	d.errCh = make(chan error, d.errorChannelSize)

	return d, nil
}

// Start launches the dispatch loop and the poll loop. The first poll cycle runs
// immediately. Calling Start while running has no effect.
func (d *Dispatcher) Start() {
	d.lifecycle.Lock()
	defer d.lifecycle.Unlock()

	if d.current != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		ctx:    ctx,
		cancel: cancel,
		slots:  semaphore.NewWeighted(int64(d.maxConcurrentDestinations)),
	}
	d.current = r
	d.running.Store(true)

	r.loops.Add(2)
	go d.dispatchLoop(r)
	go d.pollLoop(r)

	d.logger.Info().
		Int("channel_capacity", d.channelCapacity).
		Int("batch_size", d.batchSize).
		Int("max_concurrent_destinations", d.maxConcurrentDestinations).
		Dur("poll_interval", d.pollInterval).
		Str("dead_letter_address", d.deadLetterAddress).
		Msg("outbox dispatcher started")
}

// Stop cancels the loops and all in-flight deliveries and waits for them to end,
// for at most the stop timeout or until ctx is done. In-memory tracking is cleared
// either way; a delivery still running after the wait is abandoned and its message
// stays pending in storage. Calling Stop when not running has no effect.
func (d *Dispatcher) Stop(ctx context.Context) {
	d.lifecycle.Lock()
	defer d.lifecycle.Unlock()

	r := d.current
	if r == nil {
		return
	}

	r.cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.loops.Wait()
		r.deliveries.Wait()
	}()

	timer := time.NewTimer(d.stopTimeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		d.logger.Warn().Dur("timeout", d.stopTimeout).Msg("outbox dispatcher stop timed out, abandoning in-flight deliveries")
	case <-ctx.Done():
		d.logger.Warn().Err(ctx.Err()).Msg("outbox dispatcher stop interrupted, abandoning in-flight deliveries")
	}

	d.reset()
	d.current = nil
	d.running.Store(false)

	d.logger.Info().Msg("outbox dispatcher stopped")
}

// reset drops queued messages and tracking state; queued messages remain pending
// in storage.
func (d *Dispatcher) reset() {
	for {
		select {
		case <-d.queue:
		default:
			d.inFlight.clear()
			d.active.clear()
			return
		}
	}
}

// Stats returns the current dispatcher state.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Running:            d.running.Load(),
		Queued:             len(d.queue),
		QueueCapacity:      cap(d.queue),
		InFlight:           d.inFlight.len(),
		ActiveDestinations: d.active.len(),
	}
}

// Errors returns a channel that receives delivery and polling errors.
// The channel is buffered to prevent blocking the dispatcher. If the buffer becomes
// full, subsequent errors are dropped. The channel is never closed, because a
// stopped dispatcher can be started again.
//
// The returned error will be one of the following types:
//   - *DeliveryError:   a delivery attempt failed and will be retried.
//   - *StructuralError: a message cannot be delivered and no dead-letter address is set.
//   - *MarkSentError:   a delivered message could not be marked as sent.
//   - *PollError:       a poll cycle failed.
func (d *Dispatcher) Errors() <-chan error {
	return d.errCh
}

func (d *Dispatcher) report(err error) {
	select {
	case d.errCh <- err:
	default:
	}
}

func (d *Dispatcher) dispatchLoop(r *run) {
	defer r.loops.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case msg := <-d.queue:
			d.dispatch(r, msg)
		}
	}
}

// dispatch starts the delivery of msg once its destination key is free and a
// concurrency slot is available. A message whose destination is busy is dropped
// from tracking and picked up again by a later poll cycle.
func (d *Dispatcher) dispatch(r *run, msg *transponder.Message) {
	key := msg.DestinationKey()

	if !d.active.tryAdd(key) {
		d.inFlight.remove(msg.MessageID)
		d.metrics.add(r.ctx, d.metrics.deferred)
		d.logger.Debug().
			Stringer("message_id", msg.MessageID).
			Str("destination", key).
			Msg("destination busy, deferring message to next poll")
		return
	}

	if err := r.slots.Acquire(r.ctx, 1); err != nil {
		d.active.remove(key)
		d.inFlight.remove(msg.MessageID)
		return
	}

	r.deliveries.Add(1)
	d.metrics.inFlight.Add(r.ctx, 1)

	go func() {
		defer r.deliveries.Done()
		defer r.slots.Release(1)
		defer d.active.remove(key)
		defer d.inFlight.remove(msg.MessageID)
		defer d.metrics.inFlight.Add(context.WithoutCancel(r.ctx), -1)
		defer func() {
			if p := recover(); p != nil {
				d.logger.Error().
					Stringer("message_id", msg.MessageID).
					Str("destination", key).
					Interface("panic", p).
					Msg("outbox delivery panicked")
			}
		}()

		d.deliver(r.ctx, msg)
	}()
}

func (d *Dispatcher) pollLoop(r *run) {
	defer r.loops.Done()

	d.poll(r.ctx)

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			d.poll(r.ctx)
		}
	}
}

// poll reads pending messages in a read-only session and queues those not
// already in flight.
func (d *Dispatcher) poll(ctx context.Context) {
	session, err := d.sessions.CreateSession(ctx)
	if err != nil {
		d.pollFailed(ctx, err)
		return
	}
	defer func() {
		_ = session.Rollback()
	}()

	msgs, err := session.Outbox().GetPending(ctx, d.batchSize)
	if err != nil {
		d.pollFailed(ctx, err)
		return
	}

	queued := 0
	for _, msg := range msgs {
		if d.tryQueue(ctx, msg) {
			queued++
		}
	}

	if len(msgs) > 0 {
		d.logger.Debug().Int("pending", len(msgs)).Int("queued", queued).Msg("outbox poll cycle")
	}
}

func (d *Dispatcher) pollFailed(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	d.logger.Error().Err(err).Msg("outbox poll cycle failed")
	d.report(&PollError{Err: err})
}

// tryQueue places msg on the in-memory queue without blocking. It reports false
// when the message is already tracked or the queue is full.
func (d *Dispatcher) tryQueue(ctx context.Context, msg *transponder.Message) bool {
	if !d.inFlight.tryAdd(msg.MessageID) {
		return false
	}

	select {
	case d.queue <- msg:
		return true
	default:
		d.inFlight.remove(msg.MessageID)
		d.metrics.add(ctx, d.metrics.queueFull)
		d.logger.Debug().Stringer("message_id", msg.MessageID).Msg("outbox queue full, leaving message for next poll")
		return false
	}
}
