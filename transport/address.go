package transport

import (
	"fmt"
	"net/url"
	"strings"
)

// Address is a parsed endpoint URI such as "queue:alarms" or
// "rabbitmq://broker/alarms".
type Address struct {
	Scheme string
	Host   string

	// Entity is the broker entity (queue, topic, subject) the address names.
	Entity string

	raw string
}

// ParseAddress parses an endpoint URI. The entity is the opaque part of the URI
// when present, the last path segment otherwise, and the host as a last resort.
func ParseAddress(address string) (Address, error) {
	if address == "" {
		return Address{}, ErrAddressRequired
	}

	u, err := url.Parse(address)
	if err != nil {
		return Address{}, fmt.Errorf("%w %q: %w", ErrInvalidAddress, address, err)
	}
	if u.Scheme == "" {
		return Address{}, fmt.Errorf("%w %q: missing scheme", ErrInvalidAddress, address)
	}

	entity := u.Opaque
	if entity == "" {
		path := strings.Trim(u.Path, "/")
		if i := strings.LastIndex(path, "/"); i >= 0 {
			path = path[i+1:]
		}
		entity = path
	}
	if entity == "" {
		entity = u.Host
	}
	if entity == "" {
		return Address{}, fmt.Errorf("%w %q: no entity name", ErrInvalidAddress, address)
	}

	return Address{
		Scheme: strings.ToLower(u.Scheme),
		Host:   u.Host,
		Entity: entity,
		raw:    address,
	}, nil
}

func (a Address) String() string {
	return a.raw
}
