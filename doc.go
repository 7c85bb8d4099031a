// Package transponder is an in-process reliable messaging substrate.
//
// It is made of two pipelines that share the envelope types of this package:
//
//  1. Outbox dispatch (package outbox): messages are persisted in the same storage
//     session as the business change that produced them, then delivered
//     asynchronously to a transport. Delivery is at-least-once, serialized per
//     destination, bounded in concurrency and recovered by polling after a crash.
//
//  2. Saga handling (package saga): inbound transport messages are routed to every
//     saga registered for the input address and message type, each of which gets
//     correlation-scoped state persisted with optimistic concurrency.
//
// Storage (package storage) and transport (package transport) are consumed through
// narrow contracts; the subpackages provide SQL, in-memory and redis storage and
// kafka, rabbitmq, nats and in-process transports.
package transponder
