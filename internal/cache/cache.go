// Package cache implements the fixed-capacity, associative block cache of
// spec §4.4: a sharded arena of decrypted-block entries keyed by physical
// index, evicted by last-access order, with the one hard ordering
// constraint from spec §4.5/§9 — a dirty data entry is never evicted while
// its companion management entry is absent from the cache. Rather than
// bidirectional pointers between a data entry and its management entry
// (spec §9, "Cyclic references"), the dependency is encoded as a rule over
// physical indices: Entry.Companion names the management phy a data entry
// depends on.
package cache

import (
	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/crlib/crtime"
	"github.com/cockroachdb/errors"

	"github.com/rachelsunqh/secure-block-device/internal/base"
)

// shardCount partitions the cache's entry table into independent buckets
// hashed by physical index, the way the teacher's own block cache shards
// its entry map. The LRU victim search (lruEntry) still visits every shard.
// A single physical index lives in exactly one shard for its whole
// lifetime.
const shardCount = 8

func shardOf(phy uint32) int {
	var key [4]byte
	key[0], key[1], key[2], key[3] = byte(phy), byte(phy>>8), byte(phy>>16), byte(phy>>24)
	return int(xxhash.Sum64(key[:]) % shardCount)
}

// Kind distinguishes a data entry from a management entry.
type Kind int

const (
	// KindData holds a decrypted data block.
	KindData Kind = iota
	// KindMngt holds a decrypted management block.
	KindMngt
)

// State is an entry's write-back state.
type State int

const (
	// StateClean means the Store copy agrees with the cached plaintext.
	StateClean State = iota
	// StateDirty means the Store copy is stale relative to the cached
	// plaintext and must be written back before eviction or close.
	StateDirty
)

// Entry is one cached, decrypted block (spec §3, "Cached block entry").
type Entry struct {
	Phy       uint32
	Kind      Kind
	Companion uint32 // management phy this data entry depends on; KindData only
	Plaintext []byte
	State     State

	lastAccess crtime.Mono
}

// Driver supplies the block-layer operations the cache needs but does not
// itself implement: faulting in a management block that must be present
// before a dirty data entry can be evicted, and sealing+writing a dirty
// entry through to the Store (and, for management entries, folding its
// digest into the Merkle tree).
type Driver interface {
	// FaultInCompanion loads and verifies the management block at mngtPhy,
	// returning its plaintext. It must not itself mutate the cache.
	FaultInCompanion(mngtPhy uint32) ([]byte, error)

	// Flush seals and writes e through to the Store. For a KindMngt entry
	// it also updates the Merkle tree. It does not change e.State; the
	// cache flips the entry to StateClean itself once Flush succeeds.
	Flush(e *Entry) error
}

// Cache is the fixed-capacity block cache. It is not safe for concurrent
// use (spec §5: single-threaded, exclusively owned by one device handle).
type Cache struct {
	capacity int
	driver   Driver
	metrics  *Metrics
	shards   [shardCount]map[uint32]*Entry
}

// New constructs a Cache of the given capacity backed by driver. metrics may
// be nil.
func New(capacity int, driver Driver, metrics *Metrics) *Cache {
	c := &Cache{capacity: capacity, driver: driver, metrics: metrics}
	for i := range c.shards {
		c.shards[i] = make(map[uint32]*Entry)
	}
	return c
}

func (c *Cache) get(phy uint32) (*Entry, bool) {
	e, ok := c.shards[shardOf(phy)][phy]
	return e, ok
}

func (c *Cache) put(e *Entry) {
	c.shards[shardOf(e.Phy)][e.Phy] = e
}

func (c *Cache) remove(phy uint32) {
	delete(c.shards[shardOf(phy)], phy)
}

// Lookup returns the cached entry at phy, if any, touching its LRU rank.
func (c *Cache) Lookup(phy uint32) (*Entry, bool) {
	e, ok := c.get(phy)
	if !ok {
		c.metrics.miss()
		return nil, false
	}
	e.lastAccess = crtime.NowMono()
	c.metrics.hit()
	return e, true
}

// Insert adds a new entry at phy, evicting per policy if the cache is full.
// It returns the inserted entry.
func (c *Cache) Insert(phy uint32, kind Kind, companion uint32, plaintext []byte, state State) (*Entry, error) {
	if _, ok := c.get(phy); ok {
		return nil, errors.Wrapf(base.ErrIllegalParam, "cache: phy %d already cached", phy)
	}
	if err := c.reserve(); err != nil {
		return nil, err
	}
	e := &Entry{
		Phy:        phy,
		Kind:       kind,
		Companion:  companion,
		Plaintext:  plaintext,
		State:      state,
		lastAccess: crtime.NowMono(),
	}
	c.put(e)
	return e, nil
}

// MarkDirty marks only the entry at phy dirty; it does not touch a data
// entry's companion management entry. The companion is dirtied when the
// data entry itself is flushed (Driver.Flush records the new tag into it),
// and flushOne faults the companion in first if it is not cached.
func (c *Cache) MarkDirty(phy uint32) error {
	e, ok := c.get(phy)
	if !ok {
		return errors.Wrapf(base.ErrIllegalParam, "cache: phy %d not cached", phy)
	}
	e.State = StateDirty
	return nil
}

// IsDirty reports whether phy is cached and dirty.
func (c *Cache) IsDirty(phy uint32) bool {
	e, ok := c.get(phy)
	return ok && e.State == StateDirty
}

// Invalidate drops a clean entry. Dropping a dirty entry is forbidden (spec
// §4.4) since it would silently discard an update the Store has not seen.
func (c *Cache) Invalidate(phy uint32) error {
	e, ok := c.get(phy)
	if !ok {
		return nil
	}
	if e.State == StateDirty {
		return errors.Wrapf(base.ErrIllegalParam, "cache: cannot invalidate dirty entry at phy %d", phy)
	}
	c.remove(phy)
	return nil
}

// Sync flushes every dirty entry in the order spec §4.5/§5 mandates: all
// dirty data blocks at ascending physical index, then all dirty management
// blocks at ascending physical index. Flushed entries flip to StateClean.
//
// The management-block list is recomputed after the data phase completes,
// not before: sealing a dirty data entry writes its tag into the companion
// management entry's plaintext and dirties it (Driver.Flush), so a
// management block a data flush touches for the first time in this very
// Sync call would otherwise be invisible to a dirty list captured up front.
func (c *Cache) Sync() error {
	dataPhys, _ := c.dirtyPhysSorted()
	for _, phy := range dataPhys {
		e, _ := c.get(phy)
		if err := c.flushOne(e); err != nil {
			return err
		}
	}
	_, mngtPhys := c.dirtyPhysSorted()
	for _, phy := range mngtPhys {
		e, _ := c.get(phy)
		if err := c.flushOne(e); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cache) dirtyPhysSorted() (dataPhys, mngtPhys []uint32) {
	c.forEach(func(e *Entry) {
		if e.State != StateDirty {
			return
		}
		if e.Kind == KindData {
			dataPhys = append(dataPhys, e.Phy)
		} else {
			mngtPhys = append(mngtPhys, e.Phy)
		}
	})
	sortUint32(dataPhys)
	sortUint32(mngtPhys)
	return dataPhys, mngtPhys
}

// forEach visits every cached entry across all shards.
func (c *Cache) forEach(fn func(*Entry)) {
	for _, shard := range c.shards {
		for _, e := range shard {
			fn(e)
		}
	}
}

func sortUint32(s []uint32) {
	// Insertion sort: cache sizes are tiny (bounded by configured capacity
	// or, at Sync/Close, by the number of blocks touched since the last
	// flush), so a constant-factor-light sort beats pulling in sort.Slice's
	// interface overhead here.
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func (c *Cache) flushOne(e *Entry) error {
	if e.Kind == KindData {
		if err := c.ensureCompanionCached(e.Companion); err != nil {
			return err
		}
	}
	if err := c.driver.Flush(e); err != nil {
		return err
	}
	e.State = StateClean
	return nil
}

// ensureCompanionCached guarantees the management entry at mngtPhy is
// present in the cache, faulting it in (clean) via the driver if absent.
// This is the enforcement point for the rule in spec §4.4/§9: a dirty data
// entry's flush must be able to record its tag into an in-memory management
// block, so that block cannot be missing when the data entry is flushed.
func (c *Cache) ensureCompanionCached(mngtPhy uint32) error {
	if _, ok := c.get(mngtPhy); ok {
		return nil
	}
	plaintext, err := c.driver.FaultInCompanion(mngtPhy)
	if err != nil {
		return err
	}
	c.insertBypassingReserve(mngtPhy, KindMngt, 0, plaintext, StateClean)
	return nil
}

// insertBypassingReserve inserts without first trying to make room. It is
// used only for companion fault-ins triggered while flushing a dirty data
// entry (during an eviction or a Sync), where forcing
// another eviction pass could recurse arbitrarily; letting the cache
// temporarily exceed capacity by one entry here is preferable to failing
// an otherwise-valid flush.
func (c *Cache) insertBypassingReserve(phy uint32, kind Kind, companion uint32, plaintext []byte, state State) *Entry {
	if e, ok := c.get(phy); ok {
		return e
	}
	e := &Entry{Phy: phy, Kind: kind, Companion: companion, Plaintext: plaintext, State: state, lastAccess: crtime.NowMono()}
	c.put(e)
	return e
}

// reserve evicts entries until the cache has room for one more, or returns
// ErrCacheFull if no eviction can make progress.
func (c *Cache) reserve() error {
	attempts := c.capacity + 2
	for c.Len() >= c.capacity {
		if attempts == 0 {
			return errors.Wrap(base.ErrCacheFull, "cache: unable to free a slot without violating eviction constraints")
		}
		attempts--
		if err := c.evictOne(); err != nil {
			return err
		}
	}
	return nil
}

// evictOne removes the single least-recently-used entry, write it back if
// dirty, first faulting in its companion management entry if it is a dirty
// data entry whose companion isn't cached.
func (c *Cache) evictOne() error {
	victim := c.lruEntry()
	if victim == nil {
		return errors.Wrap(base.ErrCacheFull, "cache: nothing to evict")
	}
	if victim.State == StateDirty {
		if err := c.flushOne(victim); err != nil {
			return err
		}
	}
	c.remove(victim.Phy)
	c.metrics.eviction()
	return nil
}

func (c *Cache) lruEntry() *Entry {
	var victim *Entry
	c.forEach(func(e *Entry) {
		if victim == nil || e.lastAccess.Sub(victim.lastAccess) < 0 {
			victim = e
		}
	})
	return victim
}

// Len reports the number of entries currently cached.
func (c *Cache) Len() int {
	n := 0
	for _, shard := range c.shards {
		n += len(shard)
	}
	return n
}
