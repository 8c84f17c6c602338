package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/soloist-io/soloist/types"
)

// NATSStore implements Store on top of a NATS JetStream KeyValue bucket.
//
// Revisions map directly onto the bucket's per-key sequence numbers, so
// conditional writes inherit JetStream's linearizability guarantees.
type NATSStore struct {
	kv      jetstream.KeyValue
	metrics types.StoreMetrics
}

// Compile-time assertion that NATSStore implements Store.
var _ Store = (*NATSStore)(nil)

// StoreOption configures a NATSStore.
type StoreOption func(*NATSStore)

// WithStoreMetrics sets the metrics collector for KV operation latencies.
func WithStoreMetrics(m types.StoreMetrics) StoreOption {
	return func(s *NATSStore) {
		s.metrics = m
	}
}

// NewNATSStore creates a Store backed by the given KV bucket.
//
// The bucket should be provisioned with EnsureBucket; its history depth and
// MaxAge govern revision retention. Per-key value TTLs are never used —
// values live until explicitly deleted and staleness is a read-time
// computation by the callers.
func NewNATSStore(kv jetstream.KeyValue, opts ...StoreOption) *NATSStore {
	s := &NATSStore{kv: kv}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Get returns the latest entry for key, or types.ErrKeyNotFound.
func (s *NATSStore) Get(ctx context.Context, key string) (*Entry, error) {
	defer s.observe("get", time.Now())

	kve, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", types.ErrKeyNotFound, key)
		}

		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}

	entry := toEntry(kve)

	return &entry, nil
}

// Put writes value under key, honoring CreateOnly and ExpectRevision
// preconditions, and returns the new revision.
func (s *NATSStore) Put(ctx context.Context, key string, value []byte, opts ...PutOption) (uint64, error) {
	defer s.observe("put", time.Now())

	var cfg putConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	switch {
	case cfg.createOnly:
		rev, err := s.kv.Create(ctx, key, value)
		if err != nil {
			if errors.Is(err, jetstream.ErrKeyExists) {
				return 0, fmt.Errorf("%w: %s", types.ErrAlreadyExists, key)
			}

			return 0, fmt.Errorf("failed to create key %s: %w", key, err)
		}

		return rev, nil

	case cfg.hasExpect:
		rev, err := s.kv.Update(ctx, key, value, cfg.expectRevision)
		if err != nil {
			if isWrongRevision(err) {
				return 0, fmt.Errorf("%w: %s", types.ErrConcurrentUpdate, key)
			}

			return 0, fmt.Errorf("failed to update key %s: %w", key, err)
		}

		return rev, nil

	default:
		rev, err := s.kv.Put(ctx, key, value)
		if err != nil {
			return 0, fmt.Errorf("failed to put key %s: %w", key, err)
		}

		return rev, nil
	}
}

// Delete removes key, honoring an ExpectRevision precondition. Deleting a
// missing key is not an error.
func (s *NATSStore) Delete(ctx context.Context, key string, opts ...PutOption) error {
	defer s.observe("delete", time.Now())

	var cfg putConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	var jsOpts []jetstream.KVDeleteOpt
	if cfg.hasExpect {
		jsOpts = append(jsOpts, jetstream.LastRevision(cfg.expectRevision))
	}

	if err := s.kv.Delete(ctx, key, jsOpts...); err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil
		}
		if isWrongRevision(err) {
			return fmt.Errorf("%w: %s", types.ErrConcurrentUpdate, key)
		}

		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}

	return nil
}

// Keys lists live keys with the given prefix. An empty bucket yields an
// empty slice.
func (s *NATSStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	defer s.observe("keys", time.Now())

	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		if isNoKeysFound(err) {
			return []string{}, nil
		}

		return nil, fmt.Errorf("failed to list keys: %w", err)
	}

	keys := make([]string, 0, 16)
	for key := range lister.Keys() {
		if prefix == "" || hasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}

	return keys, nil
}

// History returns past revisions of key, oldest first. A positive limit
// keeps only the most recent revisions.
func (s *NATSStore) History(ctx context.Context, key string, limit int) ([]Entry, error) {
	defer s.observe("history", time.Now())

	kves, err := s.kv.History(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) || isNoKeysFound(err) {
			return nil, fmt.Errorf("%w: %s", types.ErrKeyNotFound, key)
		}

		return nil, fmt.Errorf("failed to read history for %s: %w", key, err)
	}

	if limit > 0 && len(kves) > limit {
		kves = kves[len(kves)-limit:]
	}

	entries := make([]Entry, len(kves))
	for i, kve := range kves {
		entries[i] = toEntry(kve)
	}

	return entries, nil
}

// Watch streams changes to a key or wildcard pattern until ctx is cancelled
// or the watcher is stopped.
func (s *NATSStore) Watch(ctx context.Context, pattern string) (Watcher, error) {
	defer s.observe("watch", time.Now())

	kw, err := s.kv.Watch(ctx, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to watch %s: %w", pattern, err)
	}

	w := &natsWatcher{
		inner:   kw,
		updates: make(chan Update, 64),
	}
	go w.pump(ctx)

	return w, nil
}

// natsWatcher adapts a jetstream.KeyWatcher to the Watcher interface.
type natsWatcher struct {
	inner   jetstream.KeyWatcher
	updates chan Update
}

func (w *natsWatcher) Updates() <-chan Update {
	return w.updates
}

func (w *natsWatcher) Stop() error {
	return w.inner.Stop()
}

// pump translates raw KV entries into Updates. The jetstream watcher sends
// a nil marker once the initial replay completes; it is skipped.
func (w *natsWatcher) pump(ctx context.Context) {
	defer close(w.updates)

	for {
		select {
		case <-ctx.Done():
			return
		case kve, ok := <-w.inner.Updates():
			if !ok {
				return
			}
			if kve == nil {
				continue
			}

			op := OpPut
			if kve.Operation() == jetstream.KeyValueDelete || kve.Operation() == jetstream.KeyValuePurge {
				op = OpDelete
			}

			update := Update{Op: op, Entry: toEntry(kve)}
			select {
			case w.updates <- update:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *NATSStore) observe(op string, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordKVOperation(op, time.Since(start).Seconds())
	}
}

func toEntry(kve jetstream.KeyValueEntry) Entry {
	op := OpPut
	if kve.Operation() == jetstream.KeyValueDelete || kve.Operation() == jetstream.KeyValuePurge {
		op = OpDelete
	}

	return Entry{
		Key:       kve.Key(),
		Value:     kve.Value(),
		Revision:  kve.Revision(),
		Created:   kve.Created(),
		Operation: op,
	}
}

// isWrongRevision reports whether err is JetStream's wrong-last-sequence
// rejection, i.e. a CAS revision mismatch.
func isWrongRevision(err error) bool {
	var apiErr *jetstream.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
	}

	return false
}

// isNoKeysFound detects the "no keys found" condition, which may arrive
// directly or wrapped.
func isNoKeysFound(err error) bool {
	return errors.Is(err, jetstream.ErrNoKeysFound)
}

// hasPrefix matches keys against a dotted prefix: either exact equality or
// prefix followed by a segment boundary. A bare string prefix would make
// "svc.orders" match "svc.orders-archive".
func hasPrefix(key, prefix string) bool {
	if key == prefix {
		return true
	}

	return len(key) > len(prefix) && key[:len(prefix)] == prefix && key[len(prefix)] == '.'
}
