// Package chunkcache maps a chunk's starting bit offset to its decoded
// contents, evicting by a frequency-aware LRU policy. The cache structure
// (a size-bounded admission policy guarding a plain map, with eviction
// notifications cleaning up the map) is grounded on the teamed
// tinylfu.T+map pattern in the teacher's corpus-mate
// elliotnunn-BeHierarchic's internal/spinner package; the
// at-most-one-concurrent-decode-per-key guarantee follows the same
// "insert a pending placeholder under the lock, do the work outside it"
// shape as that package's organizer/multiplexer split.
package chunkcache

import (
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-tinylfu"

	"github.com/coreos/rapidgzip/bitreader"
	"github.com/coreos/rapidgzip/deflate"
	"github.com/coreos/rapidgzip/internal/rglog"
	"github.com/coreos/rapidgzip/threadpool"
	"github.com/coreos/rapidgzip/window"
)

var log = rglog.New("chunkcache")

// Chunk is one fully-resolved decoded span: literal bytes plus the window
// they leave behind for the next chunk.
type Chunk struct {
	StartBit         bitreader.BitPosition
	StopBit          bitreader.BitPosition // bit position decoding stopped at
	Data             []byte
	TailWindow       *window.Window
	Final            bool // the chunk ended on a DEFLATE final-block bit
	UncompressedSize int
}

// DecodeFunc performs the CPU-bound, seed-independent half of decoding a
// chunk starting at startBit: it runs the marker-tagged speculative decode
// (bitreader.New et al., deflate.DecodeBlock with seed=nil) and returns the
// raw TaggedBuffer, whether the chunk ended on a final block, and the bit
// position decoding stopped at.
type DecodeFunc func(startBit bitreader.BitPosition) (*deflate.TaggedBuffer, bool, bitreader.BitPosition, error)

// SeedProvider supplies the window to resolve a chunk's placeholders
// against; it may block until the preceding chunk seals.
type SeedProvider func() (*window.Window, error)

// Stats is a snapshot of cache-wide activity counters; the per-key decode
// count is reported separately by DecodeCount.
type Stats struct {
	Entries   int
	Hits      int64
	Misses    int64
	Evictions int64
}

type entry struct {
	future   *threadpool.Future
	decodes  int // decode tasks submitted for this entry (always 1)
}

// Cache maps startBit -> decoded Chunk with bounded capacity.
type Cache struct {
	mu      sync.Mutex
	pool    *threadpool.Pool
	entries map[bitreader.BitPosition]*entry
	admit   *tinylfu.T[bitreader.BitPosition, *entry]

	hits, misses, evictions int64
}

func hashBitPosition(k bitreader.BitPosition) uint64 {
	var b [8]byte
	v := uint64(k)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return xxhash.Sum64(b[:])
}

// New constructs a cache bounded at capacity entries, submitting decode
// tasks to pool.
func New(pool *threadpool.Pool, capacity int) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	c := &Cache{
		pool:    pool,
		entries: make(map[bitreader.BitPosition]*entry, capacity),
	}
	c.admit = tinylfu.New[bitreader.BitPosition, *entry](capacity, capacity*10, hashBitPosition, tinylfu.OnEvict(c.onEvict))
	return c
}

func (c *Cache) onEvict(key bitreader.BitPosition, _ *entry) {
	// Called synchronously from within Add/Get under tinylfu's own
	// locking; c.mu is already held by the caller in every path that can
	// trigger an eviction (see Get).
	delete(c.entries, key)
	c.evictions++
	log.Debugf("evicted chunk at bit %d", key)
}

// Get returns the existing or in-flight entry for startBit, or creates one
// and submits decode/seed to pool. At-most-one concurrent decode per
// startBit is guaranteed because the lookup, the Submit and the
// installation of the new entry in c.entries all happen while c.mu is held.
func (c *Cache) Get(startBit bitreader.BitPosition, decode DecodeFunc, seed SeedProvider) *threadpool.Future {
	c.mu.Lock()
	if e, ok := c.entries[startBit]; ok {
		c.admit.Get(startBit)
		c.hits++
		c.mu.Unlock()
		return e.future
	}
	c.misses++
	future := c.pool.Submit(func() (interface{}, error) {
		buf, final, stopBit, err := decode(startBit)
		if err != nil {
			log.Errorf("decode at bit %d failed: %v", startBit, err)
			return nil, err
		}
		seedWindow, err := seed()
		if err != nil {
			log.Errorf("seed for bit %d failed: %v", startBit, err)
			return nil, err
		}
		if err := buf.Resolve(seedWindow); err != nil {
			log.Errorf("resolve at bit %d failed: %v", startBit, err)
			return nil, err
		}
		tail := window.Slide(seedWindow, buf.Data)
		return &Chunk{
			StartBit:         startBit,
			StopBit:          stopBit,
			Data:             buf.Data,
			TailWindow:       tail,
			Final:            final,
			UncompressedSize: len(buf.Data),
		}, nil
	})
	e := &entry{future: future, decodes: 1}
	c.entries[startBit] = e
	c.admit.Add(startBit, e)
	c.mu.Unlock()
	return future
}

// Prefetch is Get with the future discarded.
func (c *Cache) Prefetch(startBit bitreader.BitPosition, decode DecodeFunc, seed SeedProvider) {
	c.Get(startBit, decode, seed)
}

// Invalidate removes the entry for startBit. Callers must ensure no
// outstanding consumer still holds its Future.
func (c *Cache) Invalidate(startBit bitreader.BitPosition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, startBit)
}

// DecodeCount returns the number of decode tasks submitted for the entry
// currently cached under startBit: 1 while an entry is present, 0 when the
// key was never requested or its entry was invalidated or evicted. The
// count belongs to the entry, not the key, so a key requested again after
// invalidation reports 1 again.
func (c *Cache) DecodeCount(startBit bitreader.BitPosition) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[startBit]; ok {
		return e.decodes
	}
	return 0
}

// Stats returns a snapshot of cache activity.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:   len(c.entries),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}
