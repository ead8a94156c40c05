package snapshot_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dreamware/chunkstore/chunk"
	"github.com/dreamware/chunkstore/snapshot"
)

func TestMemoryAddRejectsNonIncreasingVersion(t *testing.T) {
	s := snapshot.NewMemory(16)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "agg-1", snapshot.Info{AggregateID: "agg-1", AggregateVersion: 5, Payload: "v5"}))

	err := s.Add(ctx, "agg-1", snapshot.Info{AggregateID: "agg-1", AggregateVersion: 5, Payload: "dup"})
	require.Error(t, err)
	var stale *chunk.ErrStaleSnapshot
	require.ErrorAs(t, err, &stale)
	require.Equal(t, "agg-1", stale.AggregateID)

	err = s.Add(ctx, "agg-1", snapshot.Info{AggregateID: "agg-1", AggregateVersion: 3, Payload: "stale"})
	require.Error(t, err)
}

func TestMemoryGetReturnsMostRecentAtOrBelowRequestedVersion(t *testing.T) {
	s := snapshot.NewMemory(16)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "agg-1", snapshot.Info{AggregateID: "agg-1", AggregateVersion: 2, Payload: "v2"}))
	require.NoError(t, s.Add(ctx, "agg-1", snapshot.Info{AggregateID: "agg-1", AggregateVersion: 5, Payload: "v5"}))

	got, err := s.Get(ctx, "agg-1", 4)
	require.NoError(t, err)
	require.Equal(t, "v2", got.Payload)

	got, err = s.Get(ctx, "agg-1", 5)
	require.NoError(t, err)
	require.Equal(t, "v5", got.Payload)

	got, err = s.Get(ctx, "agg-1", 10)
	require.NoError(t, err)
	require.Equal(t, "v5", got.Payload)

	got, err = s.Get(ctx, "agg-1", 1)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestMemoryGetUnknownAggregateReturnsNil(t *testing.T) {
	s := snapshot.NewMemory(16)
	got, err := s.Get(context.Background(), "nope", 1)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestMemoryRemoveRangeAndRecomputesLatest(t *testing.T) {
	s := snapshot.NewMemory(16)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "agg-1", snapshot.Info{AggregateID: "agg-1", AggregateVersion: 1, Payload: "v1"}))
	require.NoError(t, s.Add(ctx, "agg-1", snapshot.Info{AggregateID: "agg-1", AggregateVersion: 2, Payload: "v2"}))
	require.NoError(t, s.Add(ctx, "agg-1", snapshot.Info{AggregateID: "agg-1", AggregateVersion: 3, Payload: "v3"}))

	require.NoError(t, s.Remove(ctx, "agg-1", 3, 3))

	got, err := s.Get(ctx, "agg-1", 10)
	require.NoError(t, err)
	require.Equal(t, "v2", got.Payload)

	// Removing an unmatched range is a no-op, not an error.
	require.NoError(t, s.Remove(ctx, "agg-1", 100, 200))
}

func TestMemoryRemoveWholeAggregateEmptiesIt(t *testing.T) {
	s := snapshot.NewMemory(16)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "agg-1", snapshot.Info{AggregateID: "agg-1", AggregateVersion: 1, Payload: "v1"}))
	require.NoError(t, s.Remove(ctx, "agg-1", chunk.IndexUnboundedLower, chunk.IndexUnboundedUpper))

	got, err := s.Get(ctx, "agg-1", 1)
	require.NoError(t, err)
	require.Nil(t, got)

	// The aggregate is gone, so a fresh version 1 is no longer stale.
	require.NoError(t, s.Add(ctx, "agg-1", snapshot.Info{AggregateID: "agg-1", AggregateVersion: 1, Payload: "v1-again"}))
}
