// Package types contains the shared vocabulary of the soloist SDK:
// lifecycle states, sentinel errors, the Logger and MetricsCollector
// interfaces, lifecycle hooks, and the service instance model.
//
// It is intentionally dependency-free so that internal packages can import
// it without creating a cycle with the root soloist package. The root
// package re-exports the commonly used definitions via type aliases.
package types
