package kv

import (
	"context"
	"time"
)

// Operation identifies the kind of change carried by a watch update or a
// history entry.
type Operation int

const (
	// OpPut indicates the key was created or updated.
	OpPut Operation = iota

	// OpDelete indicates the key was deleted.
	OpDelete
)

// String returns the string representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Entry is a single revision of a key.
//
// Revision increments monotonically per key on every successful write.
// Created is the time this revision was written; for the latest revision it
// doubles as the entry's last-modified time.
type Entry struct {
	Key       string
	Value     []byte
	Revision  uint64
	Created   time.Time
	Operation Operation
}

// Update is one element of a watch stream.
type Update struct {
	Op    Operation
	Entry Entry
}

// Watcher is an infinite, cooperative watch stream over a key or pattern.
//
// Updates are delivered on the channel until the watch context is cancelled
// or Stop is called, after which the channel is closed.
type Watcher interface {
	// Updates returns the update channel.
	Updates() <-chan Update

	// Stop terminates the watch and closes the update channel.
	Stop() error
}

// putConfig holds write preconditions accumulated from PutOption values.
type putConfig struct {
	createOnly     bool
	expectRevision uint64
	hasExpect      bool
}

// PutOption constrains a Put or Delete operation.
type PutOption func(*putConfig)

// CreateOnly makes the put fail with types.ErrAlreadyExists if the key
// already exists.
func CreateOnly() PutOption {
	return func(c *putConfig) {
		c.createOnly = true
	}
}

// ExpectRevision makes the operation fail with types.ErrConcurrentUpdate
// unless the key's current revision equals rev. This is the optimistic
// concurrency primitive every lease and registry write goes through.
func ExpectRevision(rev uint64) PutOption {
	return func(c *putConfig) {
		c.expectRevision = rev
		c.hasExpect = true
	}
}

// Store is a versioned key-value store.
//
// Implementations must guarantee per-key linearizability for conditional
// writes: of any set of concurrent ExpectRevision puts against the same
// revision, exactly one succeeds.
type Store interface {
	// Get returns the latest entry for key, or types.ErrKeyNotFound.
	Get(ctx context.Context, key string) (*Entry, error)

	// Put writes value under key and returns the new revision.
	//
	// With CreateOnly it fails with types.ErrAlreadyExists if the key
	// exists. With ExpectRevision it fails with types.ErrConcurrentUpdate
	// if the current revision differs. Without options the write is
	// unconditional.
	Put(ctx context.Context, key string, value []byte, opts ...PutOption) (uint64, error)

	// Delete removes key. With ExpectRevision the delete fails with
	// types.ErrConcurrentUpdate if the current revision differs. Deleting
	// a missing key is not an error.
	Delete(ctx context.Context, key string, opts ...PutOption) error

	// Keys lists all live keys with the given prefix. An empty prefix
	// lists every key. A bucket with no matching keys yields an empty
	// slice, not an error.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// History returns past revisions of key, oldest first, bounded by
	// limit (0 means all retained revisions). Retention is governed by
	// the bucket's history/age policy, never by per-key TTL.
	History(ctx context.Context, key string, limit int) ([]Entry, error)

	// Watch streams changes to a key or wildcard pattern. The stream ends
	// when ctx is cancelled or the watcher is stopped.
	Watch(ctx context.Context, pattern string) (Watcher, error)
}
