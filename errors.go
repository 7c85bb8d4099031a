package transponder

import "errors"

var (
	ErrMessageRequired = errors.New("message is required")
	ErrUndispatchable  = errors.New("message has neither a destination address nor a message type")
)
