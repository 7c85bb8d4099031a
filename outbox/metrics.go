package outbox

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type dispatcherMetrics struct {
	delivered      metric.Int64Counter
	retried        metric.Int64Counter
	deadLettered   metric.Int64Counter
	undeliverable  metric.Int64Counter
	deferred       metric.Int64Counter
	queueFull      metric.Int64Counter
	markSentFailed metric.Int64Counter
	inFlight       metric.Int64UpDownCounter
}

func newDispatcherMetrics(provider metric.MeterProvider) (dispatcherMetrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}

	meter := provider.Meter("transponder.outbox.dispatcher")

	var (
		m   dispatcherMetrics
		err error
	)

	counters := []struct {
		dst         *metric.Int64Counter
		name        string
		description string
	}{
		{&m.delivered, "outbox.messages.delivered", "Number of outbox messages delivered and marked sent"},
		{&m.retried, "outbox.messages.retried", "Number of failed delivery attempts that were retried"},
		{&m.deadLettered, "outbox.messages.dead_lettered", "Number of outbox messages sent to the dead-letter address"},
		{&m.undeliverable, "outbox.messages.undeliverable", "Number of structurally undeliverable messages left pending"},
		{&m.deferred, "outbox.messages.deferred", "Number of messages deferred because their destination was busy"},
		{&m.queueFull, "outbox.queue.full", "Number of messages not queued because the in-memory queue was full"},
		{&m.markSentFailed, "outbox.messages.mark_sent_failed", "Number of delivered messages not persisted as sent"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.description), metric.WithUnit("{message}"))
		if err != nil {
			return dispatcherMetrics{}, fmt.Errorf("create %s counter: %w", c.name, err)
		}
	}

	m.inFlight, err = meter.Int64UpDownCounter(
		"outbox.deliveries.in_flight",
		metric.WithDescription("Number of deliveries currently running"),
		metric.WithUnit("{delivery}"),
	)
	if err != nil {
		return dispatcherMetrics{}, fmt.Errorf("create outbox.deliveries.in_flight counter: %w", err)
	}

	return m, nil
}

func reasonAttr(reason string) metric.AddOption {
	return metric.WithAttributes(attribute.String("reason", reason))
}

func (m dispatcherMetrics) add(ctx context.Context, c metric.Int64Counter, opts ...metric.AddOption) {
	c.Add(context.WithoutCancel(ctx), 1, opts...)
}
