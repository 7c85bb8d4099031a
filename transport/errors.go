package transport

import "errors"

var (
	ErrAddressRequired   = errors.New("address is required")
	ErrInvalidAddress    = errors.New("invalid address")
	ErrHostNotFound      = errors.New("no host registered for address scheme")
	ErrMessageTypeExists = errors.New("message type already registered")
	ErrTypeNameRequired  = errors.New("message type name is required")
)
