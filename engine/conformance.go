package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/chunkstore/chunk"
)

// RunConformance exercises the append/scan/delete invariants an Engine
// implementation must satisfy. Any backend can run this same suite against
// itself; in this module memstore's tests run it, while sqlstore's tests
// cover its backend against a mocked driver instead.
//
// newEngine must return a freshly initialized, empty Engine; RunConformance
// calls it once per subtest.
func RunConformance(t *testing.T, newEngine func(t *testing.T) Engine) {
	t.Helper()

	t.Run("append assigns strictly increasing positions", func(t *testing.T) {
		e := newEngine(t)
		ctx := context.Background()

		c1, err := e.Append(ctx, "S1", 1, "a", "")
		require.NoError(t, err)
		c2, err := e.Append(ctx, "S1", 2, "b", "")
		require.NoError(t, err)
		c3, err := e.Append(ctx, "S1", 3, "c", "")
		require.NoError(t, err)

		require.Less(t, c1.Position, c2.Position)
		require.Less(t, c2.Position, c3.Position)
	})

	t.Run("index auto-assignment uses position", func(t *testing.T) {
		e := newEngine(t)
		ctx := context.Background()

		c, err := e.Append(ctx, "S1", chunk.IndexAuto, "a", "")
		require.NoError(t, err)
		require.Equal(t, c.Position, c.Index)
	})

	t.Run("operationId is generated when omitted", func(t *testing.T) {
		e := newEngine(t)
		ctx := context.Background()

		c, err := e.Append(ctx, "S1", 1, "a", "")
		require.NoError(t, err)
		require.NotEmpty(t, c.OperationID)
	})

	t.Run("forward and backward scans of S1,1..3", func(t *testing.T) {
		e := newEngine(t)
		ctx := context.Background()

		_, err := e.Append(ctx, "S1", 1, "a", "")
		require.NoError(t, err)
		_, err = e.Append(ctx, "S1", 2, "b", "")
		require.NoError(t, err)
		_, err = e.Append(ctx, "S1", 3, "c", "")
		require.NoError(t, err)

		fwd := &chunk.CollectingSubscription{}
		require.NoError(t, e.ReadForward(ctx, "S1", 0, fwd, chunk.IndexUnboundedUpper, chunk.LimitUnbounded))
		require.Equal(t, []any{"a", "b", "c"}, payloads(fwd.Chunks))

		bwd := &chunk.CollectingSubscription{}
		require.NoError(t, e.ReadBackward(ctx, "S1", chunk.IndexUnboundedUpper, bwd, chunk.IndexUnboundedLower, chunk.LimitUnbounded))
		require.Equal(t, []any{"c", "b", "a"}, payloads(bwd.Chunks))
	})

	t.Run("duplicate index under different operationId fails", func(t *testing.T) {
		e := newEngine(t)
		ctx := context.Background()

		_, err := e.Append(ctx, "S1", 1, "first", "op-a")
		require.NoError(t, err)

		_, err = e.Append(ctx, "S1", 1, "second", "op-b")
		var dup *chunk.ErrDuplicateStreamIndex
		require.ErrorAs(t, err, &dup)
		require.Equal(t, "S1", dup.PartitionID)
		require.Equal(t, int64(1), dup.Index)
		require.Equal(t, "Duplicated index 1 on stream S1", dup.Error())
	})

	t.Run("duplicate operationId is a silent idempotent no-op", func(t *testing.T) {
		e := newEngine(t)
		ctx := context.Background()

		_, err := e.Append(ctx, "S1", 1, "a", "o1")
		require.NoError(t, err)

		second, err := e.Append(ctx, "S1", 2, "a", "o1")
		require.NoError(t, err)
		require.Nil(t, second)

		fwd := &chunk.CollectingSubscription{}
		require.NoError(t, e.ReadForward(ctx, "S1", 0, fwd, chunk.IndexUnboundedUpper, chunk.LimitUnbounded))
		require.Len(t, fwd.Chunks, 1)
	})

	t.Run("same operationId across distinct partitions both succeed", func(t *testing.T) {
		e := newEngine(t)
		ctx := context.Background()

		c1, err := e.Append(ctx, "S1", 1, "a", "shared-op")
		require.NoError(t, err)
		require.NotNil(t, c1)

		c2, err := e.Append(ctx, "S2", 1, "b", "shared-op")
		require.NoError(t, err)
		require.NotNil(t, c2)
	})

	t.Run("delete removes a range, leaves the rest", func(t *testing.T) {
		e := newEngine(t)
		ctx := context.Background()

		for i := int64(1); i <= 3; i++ {
			_, err := e.Append(ctx, "S1", i, "x", "")
			require.NoError(t, err)
		}

		require.NoError(t, e.Delete(ctx, "S1", 2, 2))

		fwd := &chunk.CollectingSubscription{}
		require.NoError(t, e.ReadForward(ctx, "S1", 0, fwd, chunk.IndexUnboundedUpper, chunk.LimitUnbounded))
		require.Len(t, fwd.Chunks, 2)
		require.Equal(t, int64(1), fwd.Chunks[0].Index)
		require.Equal(t, int64(3), fwd.Chunks[1].Index)
	})

	t.Run("delete on unknown partition fails", func(t *testing.T) {
		e := newEngine(t)
		ctx := context.Background()

		err := e.Delete(ctx, "unknown", chunk.IndexUnboundedLower, chunk.IndexUnboundedUpper)
		var sd *chunk.ErrStreamDelete
		require.ErrorAs(t, err, &sd)
		require.Equal(t, "unknown", sd.PartitionID)
	})

	t.Run("global scan forward yields cross-partition append order", func(t *testing.T) {
		e := newEngine(t)
		ctx := context.Background()

		ids := []string{"A", "B", "A", "C", "B"}
		for i, p := range ids {
			_, err := e.Append(ctx, p, chunk.IndexAuto, i, "")
			require.NoError(t, err)
		}

		all := &chunk.CollectingSubscription{}
		require.NoError(t, e.ReadAll(ctx, 0, all, chunk.LimitUnbounded))
		require.Len(t, all.Chunks, len(ids))
		require.Equal(t, []any{0, 1, 2, 3, 4}, payloads(all.Chunks))

		last, err := e.ReadLastPosition(ctx)
		require.NoError(t, err)
		require.Equal(t, all.Chunks[len(all.Chunks)-1].Position, last)
	})

	t.Run("readLastPosition is zero on an empty engine", func(t *testing.T) {
		e := newEngine(t)
		last, err := e.ReadLastPosition(context.Background())
		require.NoError(t, err)
		require.Zero(t, last)
	})

	t.Run("readSingleBackward returns the largest index not exceeding the bound", func(t *testing.T) {
		e := newEngine(t)
		ctx := context.Background()

		for _, i := range []int64{1, 5, 10} {
			_, err := e.Append(ctx, "S1", i, "x", "")
			require.NoError(t, err)
		}

		c, err := e.ReadSingleBackward(ctx, "S1", 7)
		require.NoError(t, err)
		require.NotNil(t, c)
		require.Equal(t, int64(5), c.Index)

		none, err := e.ReadSingleBackward(ctx, "S1", 0)
		require.NoError(t, err)
		require.Nil(t, none)
	})

	t.Run("scan stop via onNext returning false calls Stopped not Completed", func(t *testing.T) {
		e := newEngine(t)
		ctx := context.Background()

		for i := int64(1); i <= 5; i++ {
			_, err := e.Append(ctx, "S1", i, i, "")
			require.NoError(t, err)
		}

		sub := &chunk.CollectingSubscription{StopAfter: 2}
		require.NoError(t, e.ReadForward(ctx, "S1", 0, sub, chunk.IndexUnboundedUpper, chunk.LimitUnbounded))
		require.Len(t, sub.Chunks, 2)
		require.True(t, sub.WasStopped)
	})

	t.Run("limit caps delivered chunks", func(t *testing.T) {
		e := newEngine(t)
		ctx := context.Background()

		for i := int64(1); i <= 5; i++ {
			_, err := e.Append(ctx, "S1", i, i, "")
			require.NoError(t, err)
		}

		sub := &chunk.CollectingSubscription{}
		require.NoError(t, e.ReadForward(ctx, "S1", 0, sub, chunk.IndexUnboundedUpper, 3))
		require.Len(t, sub.Chunks, 3)
	})

	t.Run("binary roundtrip through UTF-8 payload", func(t *testing.T) {
		e := newEngine(t)
		ctx := context.Background()

		_, err := e.Append(ctx, "BA", 0, []byte("this is a test"), "")
		require.NoError(t, err)

		c, err := e.ReadSingleBackward(ctx, "BA", chunk.IndexUnboundedUpper)
		require.NoError(t, err)
		require.NotNil(t, c)

		var got []byte
		switch v := c.Payload.(type) {
		case []byte:
			got = v
		case string:
			got = []byte(v)
		default:
			t.Fatalf("unexpected payload type %T", c.Payload)
		}
		require.Equal(t, "this is a test", string(got))
	})

	t.Run("scanned chunk matches the one append returned", func(t *testing.T) {
		e := newEngine(t)
		ctx := context.Background()

		appended, err := e.Append(ctx, "S1", 1, "a", "op-1")
		require.NoError(t, err)

		fwd := &chunk.CollectingSubscription{}
		require.NoError(t, e.ReadForward(ctx, "S1", 0, fwd, chunk.IndexUnboundedUpper, chunk.LimitUnbounded))
		require.Len(t, fwd.Chunks, 1)
		equalChunks(t, appended, fwd.Chunks[0])
	})

	t.Run("cancellation aborts a scan", func(t *testing.T) {
		e := newEngine(t)
		ctx, cancel := context.WithCancel(context.Background())

		for i := int64(1); i <= 5; i++ {
			_, err := e.Append(ctx, "S1", i, i, "")
			require.NoError(t, err)
		}
		cancel()

		sub := &chunk.CollectingSubscription{}
		err := e.ReadForward(ctx, "S1", 0, sub, chunk.IndexUnboundedUpper, chunk.LimitUnbounded)
		var cancelled *chunk.ErrCancellation
		require.True(t, errors.As(err, &cancelled) || errors.Is(err, context.Canceled))
	})
}

func payloads(cs []*chunk.Chunk) []any {
	out := make([]any, len(cs))
	for i, c := range cs {
		out[i] = c.Payload
	}
	return out
}

// equalChunks asserts full-struct chunk equality while ignoring Deleted
// (only sqlstore surfaces tombstones; memstore always has Deleted == false
// since it removes chunks physically).
func equalChunks(t *testing.T, want, got *chunk.Chunk) {
	t.Helper()
	diff := cmp.Diff(want, got, cmpopts.IgnoreFields(chunk.Chunk{}, "Deleted"))
	require.Empty(t, diff)
}
