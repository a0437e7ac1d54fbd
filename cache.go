package mailauth

import (
	"sync"
	"time"

	"github.com/titussanchez/mail-auth/dmarc"
	"github.com/titussanchez/mail-auth/domainkey"
)

// recordKind partitions the cache per parsed record type so the same name
// can hold, say, a DMARC record and an ATPS registration independently.
type recordKind uint8

const (
	kindDmarc recordKind = iota
	kindDomainKey
	kindAtps
)

type cacheKey struct {
	name string
	kind recordKind
}

// cacheEntry holds one immutable parsed record until expires. Entries are
// shared by reference with every concurrent reader and never mutated in
// place; replacing an entry leaves outstanding references valid.
type cacheEntry struct {
	value   any
	expires time.Time
}

type recordCache struct {
	mu      sync.RWMutex
	entries map[cacheKey]cacheEntry
}

func newRecordCache() *recordCache {
	return &recordCache{entries: make(map[cacheKey]cacheEntry)}
}

func (c *recordCache) get(key cacheKey, now time.Time) (any, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || now.After(entry.expires) {
		return nil, false
	}
	return entry.value, true
}

// put stores an entry. Concurrent writers for the same key race benignly:
// the last one wins.
func (c *recordCache) put(key cacheKey, value any, expires time.Time) {
	c.mu.Lock()
	c.entries[key] = cacheEntry{value: value, expires: expires}
	c.mu.Unlock()
}

// TxtAdd pins a parsed record into the cache until expires. The name must be
// the fully-qualified query name with a trailing dot. Intended for tests and
// for pre-warming; record must be one of *dmarc.Record, *domainkey.DomainKey
// or AtpsRegistration. Other values are ignored.
func (r *Resolver) TxtAdd(name string, record any, expires time.Time) {
	switch record.(type) {
	case *dmarc.Record:
		r.cache.put(cacheKey{name: name, kind: kindDmarc}, record, expires)
	case *domainkey.DomainKey:
		r.cache.put(cacheKey{name: name, kind: kindDomainKey}, record, expires)
	case AtpsRegistration:
		r.cache.put(cacheKey{name: name, kind: kindAtps}, record, expires)
	}
}

// AtpsRegistration marks a successfully fetched ATPS record (RFC 6541).
type AtpsRegistration struct{}
