// Package snapshot implements the aggregate snapshot contract that sits on
// top of the chunk log: at-most-one-snapshot-per-version persistence with
// stale-write rejection, independent of how the underlying chunks are
// stored.
package snapshot

import "context"

// Info is a single stored snapshot: an aggregate's opaque state at a given
// version, tagged with the schema that can decode Payload.
type Info struct {
	AggregateID      string
	AggregateVersion int64
	Payload          any
	SchemaVersion    int
}

// Store is the snapshot persistence contract. Every method is cancellable
// via ctx.
type Store interface {
	// Get returns the snapshot at, or most recently at-or-below, version
	// for aggregateID, or nil if none exists. The exact "most recent"
	// tie-breaking is store-defined but must be stable across calls.
	Get(ctx context.Context, aggregateID string, version int64) (*Info, error)

	// Add persists info for aggregateID. Fails with *chunk.ErrStaleSnapshot
	// when info.AggregateVersion is not strictly greater than the latest
	// version already stored for that aggregate.
	Add(ctx context.Context, aggregateID string, info Info) error

	// Remove deletes every snapshot for aggregateID with AggregateVersion
	// in [fromVersion, toVersion]. Idempotent: removing a range that
	// matches nothing is not an error.
	Remove(ctx context.Context, aggregateID string, fromVersion, toVersion int64) error
}
