package pipeline

import (
	"container/list"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"hash"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/singleflight"

	"etlpulse/internal/cleaner"
	"etlpulse/internal/filter"
	"etlpulse/internal/transform"
)

// Fingerprint identifies the input of a run: the source bytes, the filters
// in canonical JSON, the transformations in order and the cleaning strategy.
// Nil and empty specs fingerprint alike. Predicate filters contribute only
// their name, so runs using them bypass the cache.
func Fingerprint(source []byte, filters filter.Spec, transforms transform.Spec, strategy cleaner.Strategy) string {
	h, _ := blake2b.New256(nil)
	writeField(h, source)

	fj := []byte("{}")
	if len(filters) > 0 {
		// Spec.MarshalJSON sorts columns, so equal specs encode equally
		var err error
		if fj, err = json.Marshal(filters); err != nil {
			fj = []byte(err.Error())
		}
	}
	writeField(h, fj)

	tj := []byte("[]")
	if len(transforms) > 0 {
		tj, _ = json.Marshal(transforms)
	}
	writeField(h, tj)
	writeField(h, []byte(strategy))
	return hex.EncodeToString(h.Sum(nil))
}

// writeField length-prefixes each part so that field boundaries cannot shift
func writeField(h hash.Hash, b []byte) {
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], uint64(len(b)))
	h.Write(n[:])
	h.Write(b)
}

type cacheEntry struct {
	key     string
	value   *outcome
	expires time.Time
}

// Cache holds completed run outcomes keyed by fingerprint. Concurrent
// requests for the same key share one execution.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List
	maxEntries int
	ttl        time.Duration
	group      singleflight.Group
	now        func() time.Time
}

// NewCache creates a cache holding up to maxEntries outcomes for ttl each.
// maxEntries <= 0 disables storage but keeps de-duplication of concurrent
// identical runs. ttl <= 0 means entries never expire.
func NewCache(maxEntries int, ttl time.Duration) *Cache {
	return &Cache{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Do returns the cached outcome for key or runs fn to produce it. Callers
// arriving while fn runs wait for its result. Failures are not stored.
func (c *Cache) Do(key string, fn func() (*outcome, error)) (*outcome, error) {
	if v, ok := c.get(key); ok {
		return v, nil
	}
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// a concurrent leader may have stored it between get and Do
		if v, ok := c.get(key); ok {
			return v, nil
		}
		out, err := fn()
		if err != nil {
			return nil, err
		}
		c.put(key, out)
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*outcome), nil
}

// Len returns the number of live entries
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Purge drops every entry
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
}

func (c *Cache) get(key string) (*outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*cacheEntry)
	if c.ttl > 0 && c.now().After(entry.expires) {
		c.order.Remove(el)
		delete(c.entries, key)
		return nil, false
	}
	c.order.MoveToFront(el)
	return entry.value, true
}

func (c *Cache) put(key string, v *outcome) {
	if c.maxEntries <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &cacheEntry{key: key, value: v, expires: c.now().Add(c.ttl)}
	if el, ok := c.entries[key]; ok {
		el.Value = entry
		c.order.MoveToFront(el)
		return
	}
	c.entries[key] = c.order.PushFront(entry)
	for c.order.Len() > c.maxEntries {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}
