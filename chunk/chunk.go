// Package chunk defines the data model shared by every persistence backend:
// the Chunk record itself, the sentinel values that give append and scan
// operations their "unbounded" semantics, and the Subscription protocol used
// to push scan results to callers.
//
// Nothing in this package talks to storage. It is pure data and contracts,
// imported by engine, memstore, sqlstore, and snapshot alike.
package chunk

// Chunk is the atomic, immutable unit of storage. Once appended, none of a
// Chunk's fields change; a Chunk is removed only by a range delete or by
// engine teardown.
type Chunk struct {
	// Payload is opaque to the engine. It may be cloned on store and on
	// read, depending on backend configuration; the engine never
	// interprets its contents.
	Payload any

	// PartitionID identifies the logical stream this chunk belongs to.
	// Never empty.
	PartitionID string

	// OperationID is the idempotency token for this chunk within its
	// partition. Never empty: the engine generates one when the caller
	// omits it.
	OperationID string

	// Position is the 64-bit globally monotonic ordering key assigned at
	// append time. Gap-free in the in-memory backend.
	Position int64

	// Index is the 64-bit per-partition ordering key. Caller-supplied
	// positive values are kept as-is; IndexAuto (-1) at append time means
	// "use Position".
	Index int64

	// Deleted is a tombstone flag. Only the relational backend sets it;
	// the in-memory backend physically removes chunks on delete.
	Deleted bool
}

// Sentinel values recognized by append, scan, and delete operations.
const (
	// IndexAuto, passed as the Index argument to Append, means "assign the
	// chunk's global Position as its Index".
	IndexAuto int64 = -1

	// IndexUnboundedUpper means "no upper bound on Index" when used as
	// ToUpperIdxIncl/FromUpperIdxIncl.
	IndexUnboundedUpper = int64(^uint64(0) >> 1) // math.MaxInt64, avoids importing math for one constant

	// IndexUnboundedLower means "no lower bound on Index" when used as
	// ToLowerIdxIncl.
	IndexUnboundedLower = -IndexUnboundedUpper - 1 // math.MinInt64

	// LimitUnbounded means "no cap on the number of chunks delivered".
	LimitUnbounded = int(^uint(0) >> 1) // math.MaxInt
)

// EmptyPartitionID is the reserved partition identifier used by the
// in-memory backend for hole-avoidance filler chunks. It is not a
// legitimate user-facing partition: memstore rejects appends, scans and
// deletes addressed to it directly. sqlstore writes no fillers and does not
// treat this identifier specially.
const EmptyPartitionID = "::empty"
