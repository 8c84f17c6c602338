// Package testing provides test utilities for the soloist SDK.
//
// It offers helpers for setting up test environments, particularly embedded
// NATS servers with JetStream for integration testing, following Go's
// convention of a dedicated testing package (similar to net/http/httptest).
//
// Key utilities:
//   - StartEmbeddedNATS: Single in-process NATS server with JetStream
//   - CreateKVBucket: Convenience wrapper for KV bucket creation
//   - NewTestLogger: types.Logger that writes through testing.T
//
// Example usage:
//
//	import (
//	    "testing"
//	    soloisttest "github.com/soloist-io/soloist/testing"
//	)
//
//	func TestMyComponent(t *testing.T) {
//	    _, nc := soloisttest.StartEmbeddedNATS(t)
//	    // Use nc for your tests
//	}
package testing
