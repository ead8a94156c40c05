// Package memstore implements the in-memory reference backend: the
// behavioral oracle every other Engine implementation must match
// bit-for-bit.
//
// State is a single arena of chunks plus two ordered views over it — a
// per-partition index and a global log — so that partitions and the global
// log never alias each other's storage directly; they hold arena slot ids
// instead of pointers into each other's structures.
package memstore

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/btree"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/dreamware/chunkstore/chunk"
	"github.com/dreamware/chunkstore/internal/netsim"
)

// CloneFunc deep-copies a payload. Absent one (Option not supplied), the
// default is identity: payloads are shared by reference between the caller
// and the store.
type CloneFunc func(any) any

func identityClone(v any) any { return v }

// Option configures a Memstore at construction time.
type Option func(*Memstore)

// WithClone installs fn as the payload clone function, applied both when a
// chunk is stored and when it is delivered to a subscriber, so that callers
// never observe each other's payload mutations.
func WithClone(fn CloneFunc) Option {
	return func(m *Memstore) { m.clone = fn }
}

// WithNetworkSimulator installs an artificial latency injector, used only by
// tests that want to exercise interleavings under contention.
func WithNetworkSimulator(sim netsim.Simulator) Option {
	return func(m *Memstore) { m.netSim = sim }
}

// WithLogger installs a *zap.Logger; the default is zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(m *Memstore) { m.log = l }
}

// indexEntry is one (Index -> arena slot) mapping inside a partition's
// ordered tree.
type indexEntry struct {
	index int64
	slot  int
}

func lessIndexEntry(a, b indexEntry) bool { return a.index < b.index }

// partitionState is the per-partition view: an ordered tree keyed by Index
// for range scans, and a map keyed by OperationID for O(1) idempotency
// checks.
type partitionState struct {
	byIndex *btree.BTreeG[indexEntry]
	byOp    map[string]int // operationID -> arena slot
}

func newPartitionState() *partitionState {
	return &partitionState{
		byIndex: btree.NewG(32, lessIndexEntry),
		byOp:    make(map[string]int),
	}
}

// Memstore is the in-memory reference Engine implementation.
type Memstore struct {
	mu sync.Mutex

	// arena holds every live chunk, including fillers, indexed by slot.
	// Slot 0 is never used so that slot 0 can mean "absent" where needed.
	arena []*chunk.Chunk

	// globalLog holds arena slots in strictly ascending Position order; it
	// is the parallel ordered view readAllAsync iterates.
	globalLog []int

	partitions map[string]*partitionState

	sequence int64

	clone  CloneFunc
	netSim netsim.Simulator
	log    *zap.Logger
}

// New constructs an empty Memstore ready for immediate use.
func New(opts ...Option) *Memstore {
	m := &Memstore{
		arena:      make([]*chunk.Chunk, 1), // slot 0 reserved/unused
		partitions: make(map[string]*partitionState),
		clone:      identityClone,
		netSim:     netsim.None,
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memstore) Init(ctx context.Context) error { return nil }

func (m *Memstore) DestroyAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.arena = make([]*chunk.Chunk, 1)
	m.globalLog = nil
	m.partitions = make(map[string]*partitionState)
	atomic.StoreInt64(&m.sequence, 0)
	return nil
}

// Append implements engine.Engine.Append.
func (m *Memstore) Append(ctx context.Context, partitionID string, index int64, payload any, operationID string) (*chunk.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, &chunk.ErrCancellation{Op: "Append"}
	}
	if partitionID == chunk.EmptyPartitionID {
		return nil, &chunk.ErrPersistence{Message: "partition id is reserved"}
	}

	if operationID == "" {
		operationID = uuid.NewString()
	}
	cloned := m.clone(payload)

	m.mu.Lock()
	defer m.mu.Unlock()

	// The position is allocated inside the same critical section that
	// appends to globalLog, so globalLog stays in ascending Position order.
	id := atomic.AddInt64(&m.sequence, 1)
	position := id
	if index == chunk.IndexAuto {
		index = id
	}

	c := &chunk.Chunk{
		PartitionID: partitionID,
		Index:       index,
		Payload:     cloned,
		OperationID: operationID,
		Position:    position,
	}

	p, ok := m.partitions[partitionID]
	if !ok {
		p = newPartitionState()
		m.partitions[partitionID] = p
	}

	if existingSlot, dup := p.byOp[operationID]; dup {
		m.log.Debug("idempotent append no-op", zap.String("partition", partitionID), zap.String("operationId", operationID), zap.Int("existingSlot", existingSlot))
		m.writeFiller(position)
		return nil, nil
	}

	if _, collide := p.byIndex.Get(indexEntry{index: index}); collide {
		m.log.Debug("duplicate stream index", zap.String("partition", partitionID), zap.Int64("index", index))
		m.writeFiller(position)
		return nil, &chunk.ErrDuplicateStreamIndex{PartitionID: partitionID, Index: index}
	}

	slot := m.appendArena(c)
	p.byIndex.ReplaceOrInsert(indexEntry{index: index, slot: slot})
	p.byOp[operationID] = slot
	m.globalLog = append(m.globalLog, slot)

	return c, nil
}

// writeFiller persists the hole-avoidance filler chunk into the reserved
// "::empty" partition for an allocated-but-unused position.
// Caller must hold m.mu.
func (m *Memstore) writeFiller(position int64) {
	filler := &chunk.Chunk{
		PartitionID: chunk.EmptyPartitionID,
		Index:       position,
		Payload:     nil,
		OperationID: strconv.FormatInt(position, 10),
		Position:    position,
	}
	slot := m.appendArena(filler)

	ep, ok := m.partitions[chunk.EmptyPartitionID]
	if !ok {
		ep = newPartitionState()
		m.partitions[chunk.EmptyPartitionID] = ep
	}
	ep.byIndex.ReplaceOrInsert(indexEntry{index: position, slot: slot})
	ep.byOp[filler.OperationID] = slot
	m.globalLog = append(m.globalLog, slot)
}

// appendArena appends c to the arena and returns its slot. Caller must hold
// m.mu.
func (m *Memstore) appendArena(c *chunk.Chunk) int {
	m.arena = append(m.arena, c)
	return len(m.arena) - 1
}

// ReadForward implements engine.Engine.ReadForward.
func (m *Memstore) ReadForward(ctx context.Context, partitionID string, fromLowerIdxIncl int64, sub chunk.Subscription, toUpperIdxIncl int64, limit int) error {
	if err := reservedPartitionGuard(partitionID); err != nil {
		sub.OnStart(fromLowerIdxIncl)
		sub.OnError(fromLowerIdxIncl, err)
		return nil
	}
	chunks, err := m.snapshotForward(partitionID, fromLowerIdxIncl, toUpperIdxIncl, limit)
	return m.deliver(ctx, sub, fromLowerIdxIncl, chunks, err, indexMarker)
}

// ReadBackward implements engine.Engine.ReadBackward.
func (m *Memstore) ReadBackward(ctx context.Context, partitionID string, fromUpperIdxIncl int64, sub chunk.Subscription, toLowerIdxIncl int64, limit int) error {
	if err := reservedPartitionGuard(partitionID); err != nil {
		sub.OnStart(fromUpperIdxIncl)
		sub.OnError(fromUpperIdxIncl, err)
		return nil
	}
	chunks, err := m.snapshotBackward(partitionID, fromUpperIdxIncl, toLowerIdxIncl, limit)
	return m.deliver(ctx, sub, fromUpperIdxIncl, chunks, err, indexMarker)
}

func reservedPartitionGuard(partitionID string) error {
	if partitionID == chunk.EmptyPartitionID {
		return &chunk.ErrPersistence{Message: "partition id is reserved"}
	}
	return nil
}

func (m *Memstore) snapshotForward(partitionID string, lower, upper int64, limit int) ([]*chunk.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.partitions[partitionID]
	if !ok {
		return nil, nil
	}

	var out []*chunk.Chunk
	p.byIndex.AscendGreaterOrEqual(indexEntry{index: lower}, func(e indexEntry) bool {
		if e.index > upper || len(out) >= limit {
			return false
		}
		out = append(out, m.arena[e.slot])
		return true
	})
	return out, nil
}

func (m *Memstore) snapshotBackward(partitionID string, upper, lower int64, limit int) ([]*chunk.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.partitions[partitionID]
	if !ok {
		return nil, nil
	}

	var out []*chunk.Chunk
	p.byIndex.DescendLessOrEqual(indexEntry{index: upper}, func(e indexEntry) bool {
		if e.index < lower || len(out) >= limit {
			return false
		}
		out = append(out, m.arena[e.slot])
		return true
	})
	return out, nil
}

// ReadSingleBackward implements engine.Engine.ReadSingleBackward. An index
// of 0 is a real, matchable index here, not a sentinel: only IndexAuto and
// the IndexUnbounded* constants get special treatment.
func (m *Memstore) ReadSingleBackward(ctx context.Context, partitionID string, fromUpperIdxIncl int64) (*chunk.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, &chunk.ErrCancellation{Op: "ReadSingleBackward"}
	}
	if err := reservedPartitionGuard(partitionID); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.partitions[partitionID]
	if !ok {
		return nil, nil
	}

	var found *chunk.Chunk
	p.byIndex.DescendLessOrEqual(indexEntry{index: fromUpperIdxIncl}, func(e indexEntry) bool {
		found = m.arena[e.slot]
		return false
	})
	return found, nil
}

// ReadAll implements engine.Engine.ReadAll.
func (m *Memstore) ReadAll(ctx context.Context, fromPositionIncl int64, sub chunk.Subscription, limit int) error {
	chunks, err := m.snapshotAll(fromPositionIncl, limit)
	return m.deliver(ctx, sub, fromPositionIncl, chunks, err, positionMarker)
}

func (m *Memstore) snapshotAll(fromPositionIncl int64, limit int) ([]*chunk.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// globalLog is already sorted ascending by Position (== append order);
	// binary-search the first slot whose Position >= fromPositionIncl.
	start, _ := slices.BinarySearchFunc(m.globalLog, fromPositionIncl, func(slot int, target int64) int {
		pos := m.arena[slot].Position
		switch {
		case pos < target:
			return -1
		case pos > target:
			return 1
		default:
			return 0
		}
	})

	var out []*chunk.Chunk
	for _, slot := range m.globalLog[start:] {
		if len(out) >= limit {
			break
		}
		out = append(out, m.arena[slot])
	}
	return out, nil
}

// ReadLastPosition implements engine.Engine.ReadLastPosition.
func (m *Memstore) ReadLastPosition(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, &chunk.ErrCancellation{Op: "ReadLastPosition"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.globalLog) == 0 {
		return 0, nil
	}
	last := m.globalLog[len(m.globalLog)-1]
	return m.arena[last].Position, nil
}

// Delete implements engine.Engine.Delete. The in-memory
// backend physically removes chunks, unlike sqlstore's tombstones.
func (m *Memstore) Delete(ctx context.Context, partitionID string, fromLowerIdxIncl, toUpperIdxIncl int64) error {
	if err := ctx.Err(); err != nil {
		return &chunk.ErrCancellation{Op: "Delete"}
	}
	if err := reservedPartitionGuard(partitionID); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.partitions[partitionID]
	if !ok {
		return &chunk.ErrStreamDelete{PartitionID: partitionID}
	}

	var toRemove []indexEntry
	p.byIndex.AscendGreaterOrEqual(indexEntry{index: fromLowerIdxIncl}, func(e indexEntry) bool {
		if e.index > toUpperIdxIncl {
			return false
		}
		toRemove = append(toRemove, e)
		return true
	})
	if len(toRemove) == 0 {
		return &chunk.ErrStreamDelete{PartitionID: partitionID}
	}

	removeSlots := make(map[int]bool, len(toRemove))
	for _, e := range toRemove {
		p.byIndex.Delete(e)
		removeSlots[e.slot] = true
		c := m.arena[e.slot]
		delete(p.byOp, c.OperationID)
		m.arena[e.slot] = nil
	}

	kept := m.globalLog[:0:0]
	for _, slot := range m.globalLog {
		if !removeSlots[slot] {
			kept = append(kept, slot)
		}
	}
	m.globalLog = kept

	if p.byIndex.Len() == 0 {
		delete(m.partitions, partitionID)
	}
	return nil
}

// Stats reports point-in-time counters for monitoring, mirroring the
// teacher's Store.Stats()/StoreStats pattern.
type Stats struct {
	Chunks     int
	Partitions int
}

// Stats returns a snapshot of the current chunk and partition counts,
// excluding the reserved "::empty" filler partition.
func (m *Memstore) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, p := range m.partitions {
		if id == chunk.EmptyPartitionID {
			continue
		}
		if p != nil {
			n += p.byIndex.Len()
		}
	}
	partitions := len(m.partitions)
	if _, ok := m.partitions[chunk.EmptyPartitionID]; ok {
		partitions--
	}
	return Stats{Chunks: n, Partitions: partitions}
}

// marker extracts the "lastIndexOrPosition" value reported to Subscription
// terminal callbacks. Per-partition scans report Index; readAllAsync
// reports Position.
type marker func(c *chunk.Chunk) int64

func indexMarker(c *chunk.Chunk) int64    { return c.Index }
func positionMarker(c *chunk.Chunk) int64 { return c.Position }

// deliver pushes chunks through sub following the Subscription lifecycle,
// checking ctx and the network simulator between deliveries, and
// converting mid-scan failures into OnError rather than a returned error.
func (m *Memstore) deliver(ctx context.Context, sub chunk.Subscription, start int64, chunks []*chunk.Chunk, snapshotErr error, mark marker) error {
	if err := ctx.Err(); err != nil {
		return &chunk.ErrCancellation{Op: "scan"}
	}

	sub.OnStart(start)

	if snapshotErr != nil {
		sub.OnError(start, snapshotErr)
		return nil
	}

	last := start
	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return &chunk.ErrCancellation{Op: "scan"}
		}
		if err := m.netSim.Wait(ctx); err != nil {
			return &chunk.ErrCancellation{Op: "scan"}
		}

		delivered := *c
		delivered.Payload = m.clone(c.Payload)

		if !sub.OnNext(&delivered) {
			sub.Stopped(last)
			return nil
		}
		last = mark(c)
	}

	sub.Completed(last)
	return nil
}
