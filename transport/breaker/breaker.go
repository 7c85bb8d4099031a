// Package breaker decorates a transport.HostProvider with one circuit breaker per
// destination key. An open breaker fails the send fast with gobreaker.ErrOpenState,
// which the dispatcher treats like any other transient failure.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/medbridge/transponder"
	"github.com/medbridge/transponder/transport"
)

// Config controls when a destination breaker trips.
type Config struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
	FailureRatio        float64
	MinRequests         uint32
}

// DefaultConfig trips after 5 consecutive failures or a 50% failure ratio over at
// least 10 requests, and probes again after 30s.
func DefaultConfig() Config {
	return Config{
		MaxRequests:         1,
		Interval:            2 * time.Minute,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
		FailureRatio:        0.5,
		MinRequests:         10,
	}
}

// Provider is a transport.HostProvider guarding hosts of the wrapped provider.
type Provider struct {
	next   transport.HostProvider
	config Config
	logger zerolog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

type Option func(*Provider)

func WithConfig(c Config) Option {
	return func(p *Provider) {
		p.config = c
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(p *Provider) {
		p.logger = l
	}
}

func New(next transport.HostProvider, opts ...Option) *Provider {
	p := &Provider{
		next:     next,
		config:   DefaultConfig(),
		logger:   zerolog.Nop(),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) GetHost(ctx context.Context, address string) (transport.Host, error) {
	host, err := p.next.GetHost(ctx, address)
	if err != nil {
		return nil, err
	}
	return &guardedHost{provider: p, next: host}, nil
}

// State returns the breaker state for a destination key. Unknown keys are closed.
func (p *Provider) State(key string) gobreaker.State {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cb, ok := p.breakers[key]; ok {
		return cb.State()
	}
	return gobreaker.StateClosed
}

func (p *Provider) breaker(key string) *gobreaker.CircuitBreaker {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cb, ok := p.breakers[key]; ok {
		return cb
	}

	config := p.config
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        key,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= config.ConsecutiveFailures {
				return true
			}
			if counts.Requests < config.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= config.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.logger.Warn().
				Str("destination", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("destination circuit breaker changed state")
		},
		// shutdown is not a destination failure
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	p.breakers[key] = cb
	return cb
}

type guardedHost struct {
	provider *Provider
	next     transport.Host
}

func (h *guardedHost) GetSendTransport(ctx context.Context, address string) (transport.SendTransport, error) {
	send, err := h.next.GetSendTransport(ctx, address)
	if err != nil {
		return nil, err
	}
	return &guardedSend{cb: h.provider.breaker(address), next: send}, nil
}

func (h *guardedHost) GetPublishTransport(ctx context.Context, messageType transport.MessageType) (transport.PublishTransport, error) {
	pub, err := h.next.GetPublishTransport(ctx, messageType)
	if err != nil {
		return nil, err
	}
	return &guardedPublish{cb: h.provider.breaker(transponder.PublishKeyPrefix + messageType.Name), next: pub}, nil
}

type guardedSend struct {
	cb   *gobreaker.CircuitBreaker
	next transport.SendTransport
}

func (s *guardedSend) Send(ctx context.Context, msg *transport.Message) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.next.Send(ctx, msg)
	})
	return err
}

type guardedPublish struct {
	cb   *gobreaker.CircuitBreaker
	next transport.PublishTransport
}

func (p *guardedPublish) Publish(ctx context.Context, msg *transport.Message) error {
	_, err := p.cb.Execute(func() (interface{}, error) {
		return nil, p.next.Publish(ctx, msg)
	})
	return err
}
