package snapshot

import (
	"context"
	"sync"

	"github.com/google/btree"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dreamware/chunkstore/chunk"
)

type versionEntry struct {
	version int64
	info    Info
}

func lessVersionEntry(a, b versionEntry) bool { return a.version < b.version }

// Memory is the in-memory reference Store. Each aggregate's full snapshot
// history is kept in an ordered tree so Get can answer "at or most
// recently below" queries for any version, not only the latest; an LRU
// cache of just the latest snapshot per aggregate short-circuits the common
// case where callers ask for the current version.
type Memory struct {
	mu      sync.Mutex
	history map[string]*btree.BTreeG[versionEntry]
	latest  *lru.Cache[string, Info]
}

// NewMemory constructs a Memory store. latestCacheSize bounds the number of
// aggregates whose latest snapshot is kept warm in the LRU cache; it does
// not bound how many aggregates or versions the store can hold overall.
func NewMemory(latestCacheSize int) *Memory {
	cache, _ := lru.New[string, Info](latestCacheSize)
	return &Memory{
		history: make(map[string]*btree.BTreeG[versionEntry]),
		latest:  cache,
	}
}

func (m *Memory) Get(ctx context.Context, aggregateID string, version int64) (*Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, &chunk.ErrCancellation{Op: "snapshot.Get"}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if cached, ok := m.latest.Get(aggregateID); ok && cached.AggregateVersion <= version {
		out := cached
		return &out, nil
	}

	tree, ok := m.history[aggregateID]
	if !ok {
		return nil, nil
	}

	var found *Info
	tree.DescendLessOrEqual(versionEntry{version: version}, func(e versionEntry) bool {
		info := e.info
		found = &info
		return false
	})
	return found, nil
}

func (m *Memory) Add(ctx context.Context, aggregateID string, info Info) error {
	if err := ctx.Err(); err != nil {
		return &chunk.ErrCancellation{Op: "snapshot.Add"}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tree, ok := m.history[aggregateID]
	if !ok {
		tree = btree.NewG(32, lessVersionEntry)
		m.history[aggregateID] = tree
	}

	if max, ok := tree.Max(); ok && info.AggregateVersion <= max.version {
		return &chunk.ErrStaleSnapshot{AggregateID: aggregateID, AggregateVersion: info.AggregateVersion}
	}

	tree.ReplaceOrInsert(versionEntry{version: info.AggregateVersion, info: info})
	m.latest.Add(aggregateID, info)
	return nil
}

func (m *Memory) Remove(ctx context.Context, aggregateID string, fromVersion, toVersion int64) error {
	if err := ctx.Err(); err != nil {
		return &chunk.ErrCancellation{Op: "snapshot.Remove"}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tree, ok := m.history[aggregateID]
	if !ok {
		return nil
	}

	var toRemove []versionEntry
	tree.AscendGreaterOrEqual(versionEntry{version: fromVersion}, func(e versionEntry) bool {
		if e.version > toVersion {
			return false
		}
		toRemove = append(toRemove, e)
		return true
	})
	for _, e := range toRemove {
		tree.Delete(e)
	}

	if tree.Len() == 0 {
		delete(m.history, aggregateID)
		m.latest.Remove(aggregateID)
		return nil
	}

	if cached, ok := m.latest.Get(aggregateID); ok {
		if max, _ := tree.Max(); cached.AggregateVersion != max.version {
			m.latest.Add(aggregateID, max.info)
		}
	}
	return nil
}
