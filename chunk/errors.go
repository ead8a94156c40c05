package chunk

import "fmt"

// ErrDuplicateStreamIndex is returned by Append when (partitionId, index)
// already exists under a different operationId. Use errors.As to recover
// the offending PartitionID/Index.
type ErrDuplicateStreamIndex struct {
	PartitionID string
	Index       int64
}

func (e *ErrDuplicateStreamIndex) Error() string {
	return fmt.Sprintf("Duplicated index %d on stream %s", e.Index, e.PartitionID)
}

// ErrStreamDelete is returned by Delete when the target partition does not
// exist or the requested range matched zero chunks.
type ErrStreamDelete struct {
	PartitionID string
}

func (e *ErrStreamDelete) Error() string {
	return fmt.Sprintf("stream delete failed: no chunks matched on stream %s", e.PartitionID)
}

// ErrStaleSnapshot is returned by the snapshot store when a write's version
// is not strictly greater than the latest stored version for the aggregate.
type ErrStaleSnapshot struct {
	AggregateID      string
	AggregateVersion int64
}

func (e *ErrStaleSnapshot) Error() string {
	return fmt.Sprintf("stale snapshot for aggregate %s at version %d", e.AggregateID, e.AggregateVersion)
}

// ErrPersistence wraps any backend failure that is not one of the more
// specific error types above: driver errors, configuration errors, and the
// like. Cause is unwrapped via errors.Unwrap.
type ErrPersistence struct {
	Message string
	Cause   error
}

func (e *ErrPersistence) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *ErrPersistence) Unwrap() error { return e.Cause }

// ErrCancellation signals cooperative cancellation of an in-flight scan or
// append. It is distinct from errors surfaced through onError: cancellation
// always propagates from the operation's return value.
type ErrCancellation struct {
	// Op names the operation that was cancelled, for diagnostics.
	Op string
}

func (e *ErrCancellation) Error() string {
	return fmt.Sprintf("%s: operation cancelled", e.Op)
}
