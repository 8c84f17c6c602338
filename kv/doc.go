// Package kv provides the versioned key-value store abstraction the
// coordination layer is built on: revision-based optimistic concurrency
// (compare-and-swap puts and deletes), prefix listing, per-key history,
// and cancellable watch streams.
//
// The production implementation is NATSStore, backed by a NATS JetStream
// KeyValue bucket. All writes are linearizable per key through the bucket's
// revision counter; cross-key operations are not transactional.
//
// Keys must be transport-safe. EncodeKey maps arbitrary identifiers to the
// safe alphabet with an injective escape scheme, so distinct raw identifiers
// can never collide in the store.
package kv
