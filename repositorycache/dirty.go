package repositorycache

import (
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/puzpuzpuz/xsync/v3"
)

// dirtySet holds keys whose cached record is owed a write at the next flush.
type dirtySet[K comparable] struct {
	keys *xsync.MapOf[K, struct{}]
}

func newDirtySet[K comparable]() *dirtySet[K] {
	return &dirtySet[K]{keys: xsync.NewMapOf[K, struct{}]()}
}

func (d *dirtySet[K]) mark(key K) {
	d.keys.Store(key, struct{}{})
}

func (d *dirtySet[K]) clear(key K) {
	d.keys.Delete(key)
}

func (d *dirtySet[K]) contains(key K) bool {
	_, ok := d.keys.Load(key)
	return ok
}

func (d *dirtySet[K]) size() int {
	return d.keys.Size()
}

// snapshot copies the current members; marks made afterwards are not included.
func (d *dirtySet[K]) snapshot() []K {
	out := make([]K, 0, d.keys.Size())
	d.keys.Range(func(key K, _ struct{}) bool {
		out = append(out, key)
		return true
	})
	return out
}

// keyLocks hands out one mutex per key and forgets it once nobody holds it.
type keyLocks[K comparable] struct {
	locks *xsync.MapOf[K, *keyLock]
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyLocks[K comparable]() *keyLocks[K] {
	return &keyLocks[K]{locks: xsync.NewMapOf[K, *keyLock]()}
}

// lock blocks until key is free and returns the matching unlock.
func (l *keyLocks[K]) lock(key K) func() {
	held, _ := l.locks.Compute(key, func(current *keyLock, loaded bool) (*keyLock, bool) {
		if !loaded {
			current = &keyLock{}
		}
		current.refs++
		return current, false
	})
	held.mu.Lock()

	return func() {
		held.mu.Unlock()
		l.locks.Compute(key, func(current *keyLock, loaded bool) (*keyLock, bool) {
			current.refs--
			return current, current.refs == 0
		})
	}
}

func (l *keyLocks[K]) size() int {
	return l.locks.Size()
}

// genStripes is the number of stripes write generations are counted in.
const genStripes = 64

// generations counts writes per stripe of cache keys. A query result fetched
// before a write to its key is recognized as stale by comparing snapshots.
type generations struct {
	stripes [genStripes]atomic.Uint64
}

type genSnapshot [genStripes]uint64

func genStripe(cacheKey string) uint64 {
	return xxhash.Sum64String(cacheKey) % genStripes
}

func (g *generations) bump(cacheKey string) {
	g.stripes[genStripe(cacheKey)].Add(1)
}

func (g *generations) snapshot() *genSnapshot {
	var snap genSnapshot
	for i := range g.stripes {
		snap[i] = g.stripes[i].Load()
	}
	return &snap
}

// changedSince reports whether cacheKey may have been written after snap.
func (g *generations) changedSince(cacheKey string, snap *genSnapshot) bool {
	i := genStripe(cacheKey)
	return g.stripes[i].Load() != snap[i]
}
