// Package engine defines the Persistence Engine contract: the operations
// every backend (memstore, sqlstore, ...) must implement with identical
// observable behavior. It does not implement storage
// itself — see memstore and sqlstore for that — nor does it pick a
// Serializer or Subscription implementation; those are supplied by callers.
package engine

import (
	"context"

	"github.com/dreamware/chunkstore/chunk"
)

// Engine is the core persistence abstraction: an append-only,
// partition-indexed log of opaque payloads.
//
// Every method is cancellable via ctx. Cancellation aborts the operation
// cooperatively and, for scans, returns a *chunk.ErrCancellation; append,
// delete, and readLastPosition return it directly as their error.
//
// All operations may be called concurrently by multiple callers; a correct
// implementation linearizes Append on Position.
type Engine interface {
	// Append allocates a new global Position, resolves index auto-assignment
	// (chunk.IndexAuto), generates an operationId when the caller omits one,
	// and persists the chunk.
	//
	// Returns (nil, nil) — not an error — when (partitionId, operationId)
	// already exists: this is the idempotent no-op case.
	//
	// Returns (nil, *chunk.ErrDuplicateStreamIndex) when (partitionId, index)
	// already exists under a different operationId.
	Append(ctx context.Context, partitionID string, index int64, payload any, operationID string) (*chunk.Chunk, error)

	// ReadForward iterates the partition's chunks with Index in
	// [fromLowerIdxIncl, toUpperIdxIncl], ascending, up to limit items,
	// delivering them through sub. toUpperIdxIncl == chunk.IndexUnboundedUpper
	// means unbounded above; limit == chunk.LimitUnbounded means unbounded.
	ReadForward(ctx context.Context, partitionID string, fromLowerIdxIncl int64, sub chunk.Subscription, toUpperIdxIncl int64, limit int) error

	// ReadBackward is the descending-order mirror of ReadForward, over
	// [toLowerIdxIncl, fromUpperIdxIncl].
	ReadBackward(ctx context.Context, partitionID string, fromUpperIdxIncl int64, sub chunk.Subscription, toLowerIdxIncl int64, limit int) error

	// ReadSingleBackward returns the chunk with the largest Index <=
	// fromUpperIdxIncl in the partition, or nil if none exists.
	ReadSingleBackward(ctx context.Context, partitionID string, fromUpperIdxIncl int64) (*chunk.Chunk, error)

	// ReadAll iterates the global log in ascending Position starting at
	// fromPositionIncl, up to limit items, delivering them through sub.
	ReadAll(ctx context.Context, fromPositionIncl int64, sub chunk.Subscription, limit int) error

	// ReadLastPosition returns the maximum Position currently persisted, or
	// 0 if the log is empty.
	ReadLastPosition(ctx context.Context) (int64, error)

	// Delete removes every chunk in the partition with Index in
	// [fromLowerIdxIncl, toUpperIdxIncl]. Fails with *chunk.ErrStreamDelete
	// when the partition does not exist or zero chunks matched.
	Delete(ctx context.Context, partitionID string, fromLowerIdxIncl, toUpperIdxIncl int64) error

	// Init prepares backing storage (creates the table for sqlstore; a
	// no-op for memstore). Safe to call once before first use.
	Init(ctx context.Context) error

	// DestroyAll removes all storage state: drops the table (sqlstore) or
	// clears in-memory collections (memstore). Intended for tests and ops.
	DestroyAll(ctx context.Context) error
}

// DeleteSingle removes the single chunk at index i in partitionID. It is the
// [i, i] convenience overload of Delete.
func DeleteSingle(ctx context.Context, e Engine, partitionID string, i int64) error {
	return e.Delete(ctx, partitionID, i, i)
}

// DeletePartition removes every chunk in partitionID. It is the
// [MIN, MAX] convenience overload of Delete.
func DeletePartition(ctx context.Context, e Engine, partitionID string) error {
	return e.Delete(ctx, partitionID, chunk.IndexUnboundedLower, chunk.IndexUnboundedUpper)
}
