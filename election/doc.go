// Package election implements the leader-lease protocol used by
// single-active services.
//
// The lease is a single KV entry per election group whose value names the
// current leader and the time the lease was last acquired or renewed. All
// mutations go through the store's compare-and-swap: acquisition is a
// create-only put (or a revision-conditional put over an expired lease),
// renewal is a revision-conditional put, and release is a
// revision-conditional delete. First successful CAS wins; there is no
// priority among contenders beyond store-level atomicity.
//
// Expiry is detected by readers, not pushed by the store: a lease is live
// while now - acquired_at < ttl. A leader that stops renewing is taken
// over by a competitor within one TTL.
package election
