// Package loopback provides an in-process transport. Sends are handed to the
// receive endpoint connected at the destination address and publishes fan out to
// every endpoint subscribed to the message type. Delivery is synchronous, so a
// receiver error fails the send.
package loopback

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/medbridge/transponder/transport"
)

var (
	ErrNoEndpoint   = errors.New("loopback: no endpoint connected at address")
	ErrAlreadyBound = errors.New("loopback: endpoint already connected at address")
	ErrNilReceiver  = errors.New("loopback: receiver is required")
)

// ReceiveFunc handles a message arriving at an input address.
type ReceiveFunc func(ctx context.Context, inputAddress string, msg *transport.Message) error

// Bus is both the HostProvider and the Host of the loopback transport.
type Bus struct {
	mu          sync.RWMutex
	endpoints   map[string]ReceiveFunc
	subscribers map[string][]string
}

func NewBus() *Bus {
	return &Bus{
		endpoints:   make(map[string]ReceiveFunc),
		subscribers: make(map[string][]string),
	}
}

// Connect binds a receive endpoint to an input address.
func (b *Bus) Connect(address string, receive ReceiveFunc) error {
	if receive == nil {
		return ErrNilReceiver
	}
	if address == "" {
		return transport.ErrAddressRequired
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.endpoints[address]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyBound, address)
	}
	b.endpoints[address] = receive
	return nil
}

// Subscribe routes published messages of the given type to the endpoint at address.
func (b *Bus) Subscribe(messageType, address string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, a := range b.subscribers[messageType] {
		if a == address {
			return
		}
	}
	b.subscribers[messageType] = append(b.subscribers[messageType], address)
}

// GetHost implements transport.HostProvider; every address is served by the bus.
func (b *Bus) GetHost(context.Context, string) (transport.Host, error) {
	return b, nil
}

func (b *Bus) GetSendTransport(_ context.Context, address string) (transport.SendTransport, error) {
	if address == "" {
		return nil, transport.ErrAddressRequired
	}
	return &sender{bus: b, address: address}, nil
}

func (b *Bus) GetPublishTransport(_ context.Context, messageType transport.MessageType) (transport.PublishTransport, error) {
	return &publisher{bus: b, messageType: messageType.Name}, nil
}

func (b *Bus) endpoint(address string) (ReceiveFunc, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.endpoints[address]
	return r, ok
}

func (b *Bus) subscribed(messageType string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.subscribers[messageType]...)
}

type sender struct {
	bus     *Bus
	address string
}

func (s *sender) Send(ctx context.Context, msg *transport.Message) error {
	receive, ok := s.bus.endpoint(s.address)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoEndpoint, s.address)
	}
	return receive(ctx, s.address, msg.Clone())
}

type publisher struct {
	bus         *Bus
	messageType string
}

// Publish delivers to every subscriber and joins their errors. Subscribers
// without a connected endpoint are skipped.
func (p *publisher) Publish(ctx context.Context, msg *transport.Message) error {
	var errs []error
	for _, address := range p.bus.subscribed(p.messageType) {
		receive, ok := p.bus.endpoint(address)
		if !ok {
			continue
		}
		if err := receive(ctx, address, msg.Clone()); err != nil {
			errs = append(errs, fmt.Errorf("loopback: deliver to %s: %w", address, err))
		}
	}
	return errors.Join(errs...)
}
