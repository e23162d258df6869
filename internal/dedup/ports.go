// Package dedup drops repeated decision events inside a sliding window
// backed by bloom filters.
package dedup

import "context"

// Deduplicator reports whether a key was already seen inside the window.
// Implementations must be safe for concurrent use.
type Deduplicator interface {
	// IsDuplicate records key and returns true when it was already seen.
	// An empty key is never a duplicate.
	IsDuplicate(key string) bool

	Start(ctx context.Context)
	Stop()
}
