package memstore_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dreamware/chunkstore/chunk"
	"github.com/dreamware/chunkstore/engine"
	"github.com/dreamware/chunkstore/internal/netsim"
	"github.com/dreamware/chunkstore/memstore"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestConformance(t *testing.T) {
	engine.RunConformance(t, func(t *testing.T) engine.Engine {
		return memstore.New()
	})
}

func TestFillerPreservesGapFreePositions(t *testing.T) {
	m := memstore.New()
	ctx := context.Background()

	_, err := m.Append(ctx, "S1", 1, "first", "op-a")
	require.NoError(t, err)

	_, err = m.Append(ctx, "S1", 1, "second", "op-b")
	require.Error(t, err)

	// The failed append still allocated a position; a chunk must exist at
	// every allocated position, even when the user-visible append failed.
	all := &chunk.CollectingSubscription{}
	require.NoError(t, m.ReadAll(ctx, 0, all, chunk.LimitUnbounded))
	require.Len(t, all.Chunks, 2)
	require.Equal(t, chunk.EmptyPartitionID, all.Chunks[1].PartitionID)
	require.Nil(t, all.Chunks[1].Payload)
}

func TestFillerPreservesGapFreePositionsOnIdempotentNoOp(t *testing.T) {
	m := memstore.New()
	ctx := context.Background()

	_, err := m.Append(ctx, "S1", 1, "a", "o1")
	require.NoError(t, err)

	second, err := m.Append(ctx, "S1", 2, "a", "o1")
	require.NoError(t, err)
	require.Nil(t, second)

	all := &chunk.CollectingSubscription{}
	require.NoError(t, m.ReadAll(ctx, 0, all, chunk.LimitUnbounded))
	require.Len(t, all.Chunks, 2)
	require.Equal(t, chunk.EmptyPartitionID, all.Chunks[1].PartitionID)
}

func TestReservedEmptyPartitionIsNotUserFacing(t *testing.T) {
	m := memstore.New()
	ctx := context.Background()

	_, err := m.Append(ctx, chunk.EmptyPartitionID, chunk.IndexAuto, "x", "")
	require.Error(t, err)

	sub := &chunk.CollectingSubscription{}
	require.NoError(t, m.ReadForward(ctx, chunk.EmptyPartitionID, 0, sub, chunk.IndexUnboundedUpper, chunk.LimitUnbounded))
	require.True(t, sub.WasErrored)

	err = m.Delete(ctx, chunk.EmptyPartitionID, chunk.IndexUnboundedLower, chunk.IndexUnboundedUpper)
	require.Error(t, err)
}

func TestCloneOptionPreventsAliasing(t *testing.T) {
	type payload struct{ N int }

	m := memstore.New(memstore.WithClone(func(v any) any {
		if p, ok := v.(*payload); ok {
			cp := *p
			return &cp
		}
		return v
	}))
	ctx := context.Background()

	p := &payload{N: 1}
	c, err := m.Append(ctx, "S1", 1, p, "")
	require.NoError(t, err)

	p.N = 2 // mutate caller's copy after append
	require.Equal(t, 1, c.Payload.(*payload).N)

	sub := &chunk.CollectingSubscription{}
	require.NoError(t, m.ReadForward(ctx, "S1", 0, sub, chunk.IndexUnboundedUpper, chunk.LimitUnbounded))
	require.Len(t, sub.Chunks, 1)
	sub.Chunks[0].Payload.(*payload).N = 99 // mutate delivered copy
	require.Equal(t, 1, c.Payload.(*payload).N)
}

func TestNetworkSimulatorCancellation(t *testing.T) {
	sim := netsim.NewJitter(20*time.Millisecond, 40*time.Millisecond, 1)
	m := memstore.New(memstore.WithNetworkSimulator(sim))
	ctx, cancel := context.WithCancel(context.Background())

	for i := int64(1); i <= 3; i++ {
		_, err := m.Append(context.Background(), "S1", i, i, "")
		require.NoError(t, err)
	}

	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	sub := &chunk.CollectingSubscription{}
	err := m.ReadForward(ctx, "S1", 0, sub, chunk.IndexUnboundedUpper, chunk.LimitUnbounded)
	require.Error(t, err)
}

func TestStats(t *testing.T) {
	m := memstore.New()
	ctx := context.Background()

	_, err := m.Append(ctx, "S1", 1, "a", "")
	require.NoError(t, err)
	_, err = m.Append(ctx, "S2", 1, "b", "")
	require.NoError(t, err)

	s := m.Stats()
	require.Equal(t, 2, s.Chunks)
	require.Equal(t, 2, s.Partitions)
}

// TestConcurrentAppendIsLinearizedOnPosition hammers Append from many
// goroutines across several partitions and checks that Position still comes
// out as a single gap-free, collision-free sequence despite the contention.
func TestConcurrentAppendIsLinearizedOnPosition(t *testing.T) {
	m := memstore.New()
	ctx := context.Background()

	const numGoroutines = 50
	const numPartitions = 5

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		positions = make(map[int64]bool, numGoroutines)
	)

	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(i int) {
			defer wg.Done()
			partitionID := fmt.Sprintf("S%d", i%numPartitions)
			c, err := m.Append(ctx, partitionID, chunk.IndexAuto, i, "")
			require.NoError(t, err)
			require.NotNil(t, c)

			mu.Lock()
			defer mu.Unlock()
			require.False(t, positions[c.Position], "position %d assigned twice", c.Position)
			positions[c.Position] = true
		}(i)
	}
	wg.Wait()

	require.Len(t, positions, numGoroutines)

	last, err := m.ReadLastPosition(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(numGoroutines), last)

	all := &chunk.CollectingSubscription{}
	require.NoError(t, m.ReadAll(ctx, 0, all, chunk.LimitUnbounded))
	require.Len(t, all.Chunks, numGoroutines)
	for i, c := range all.Chunks {
		require.Equal(t, int64(i+1), c.Position, "global log must be gap-free and ascending under contention")
	}
}

func TestDeleteWholePartitionEmptiesIt(t *testing.T) {
	m := memstore.New()
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		_, err := m.Append(ctx, "S1", i, i, "")
		require.NoError(t, err)
	}

	require.NoError(t, engine.DeletePartition(ctx, m, "S1"))

	err := m.Delete(ctx, "S1", chunk.IndexUnboundedLower, chunk.IndexUnboundedUpper)
	require.Error(t, err) // partition no longer exists
}
