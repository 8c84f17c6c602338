// Package bus provides the message-bus abstraction the SDK is layered on:
// request/reply RPC, domain events over wildcard subjects, and commands
// with out-of-band progress reporting.
//
// The production implementation is NATSBus over core NATS. The transport
// contract consumed here is at-least-once delivery with subject-based
// pub/sub; event handlers must therefore be idempotent.
//
// A failed RPC never surfaces as an error to the caller: Call always
// returns a response object, with Success=false and a classified error
// code (TIMEOUT, NO_RESPONDERS, NOT_ACTIVE, HANDLER_ERROR, BAD_REQUEST)
// when anything goes wrong on the way there or back.
package bus
