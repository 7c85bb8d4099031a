package transponder

// PublishKeyPrefix prefixes the destination key of messages published by type.
const PublishKeyPrefix = "publish:"

// Headers added to a message routed to the dead-letter address.
const (
	HeaderDeadLetterReason      = "DeadLetterReason"
	HeaderDeadLetterDescription = "DeadLetterDescription"
	HeaderDeadLetterTime        = "DeadLetterTime"
)

// Dead-letter reasons.
const (
	ReasonUnresolvableMessageType = "UnresolvableMessageType"
	ReasonMissingSourceAddress    = "MissingSourceAddress"
	ReasonMaxAttemptsExceeded     = "MaxAttemptsExceeded"
)
