package transport

import (
	"fmt"
	"strings"
	"sync"
)

// TypeRegistry is a concurrency safe TypeResolver populated at startup.
type TypeRegistry struct {
	mu    sync.RWMutex
	types map[string]MessageType
}

// NewTypeRegistry creates a registry holding the given types.
func NewTypeRegistry(types ...MessageType) (*TypeRegistry, error) {
	r := &TypeRegistry{types: make(map[string]MessageType, len(types))}
	for _, t := range types {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a message type. Names are case sensitive and must be unique.
func (r *TypeRegistry) Register(messageType MessageType) error {
	name := strings.TrimSpace(messageType.Name)
	if name == "" {
		return ErrTypeNameRequired
	}
	messageType.Name = name

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.types[name]; exists {
		return fmt.Errorf("%w: %s", ErrMessageTypeExists, name)
	}
	r.types[name] = messageType
	return nil
}

// Resolve implements TypeResolver.
func (r *TypeRegistry) Resolve(name string) (MessageType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.types[name]
	return t, ok
}

// ParseTypeMap parses "Name=topic,Other" into message types. An entry without
// "=" publishes to a topic named after the type.
func ParseTypeMap(s string) ([]MessageType, error) {
	var types []MessageType
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		name, topic, _ := strings.Cut(entry, "=")
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("%w in entry %q", ErrTypeNameRequired, entry)
		}
		types = append(types, MessageType{Name: name, Topic: strings.TrimSpace(topic)})
	}
	return types, nil
}
