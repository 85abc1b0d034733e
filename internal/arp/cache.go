package arp

import (
	"net"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// State mirrors ARP_CACHE_STATE_*; FREE never appears as a stored value —
// an absent key in the underlying ttlcache.Cache already models it.
type State uint8

const (
	StateIncomplete State = iota + 1
	StateResolved
	StateStatic
)

const cacheTimeout = 30 * time.Second

// entry is the value stored per protocol address.
type entry struct {
	state State
	ha    net.HardwareAddr
}

// Cache is the ARP table: protocol address (as its 4-byte string form) to
// hardware address, aged 30s per original_source/arp.c's
// ARP_CACHE_TIMEOUT. A fixed-size array with linear scan in the original
// becomes a bounded, self-expiring map here; loser entries above the
// capacity are evicted LRU-style by ttlcache rather than "overwrite the
// oldest timestamp", a cosmetic difference with the same effect.
type Cache struct {
	tc *ttlcache.Cache[string, entry]
}

const cacheCapacity = 32 // ARP_CACHE_SIZE

// NewCache returns an empty, running Cache. Callers must call Close when
// done to stop its background janitor goroutine.
func NewCache() *Cache {
	tc := ttlcache.New[string, entry](
		ttlcache.WithCapacity[string, entry](cacheCapacity),
	)
	go tc.Start()
	return &Cache{tc: tc}
}

// Close stops the cache's janitor goroutine.
func (c *Cache) Close() { c.tc.Stop() }

func key(pa net.IP) string { return string(pa.To4()) }

// Lookup returns the cached hardware address and state for pa, or
// ok == false if absent (ARP_CACHE_STATE_FREE).
func (c *Cache) Lookup(pa net.IP) (net.HardwareAddr, State, bool) {
	item := c.tc.Get(key(pa))
	if item == nil {
		return nil, 0, false
	}
	v := item.Value()
	return v.ha, v.state, true
}

// MarkIncomplete records pa as awaiting resolution (arp_resolve's
// "cache not found" branch, ARP_CACHE_STATE_INCOMPLETE).
func (c *Cache) MarkIncomplete(pa net.IP) {
	c.tc.Set(key(pa), entry{state: StateIncomplete}, cacheTimeout)
}

// Resolve records pa → ha as RESOLVED (arp_cache_insert / arp_cache_update
// collapse into one upsert in this implementation — the original
// distinguishes "new slot" from "existing slot" only to choose
// alloc-vs-reuse memory; a map has no such distinction to preserve).
func (c *Cache) Resolve(pa net.IP, ha net.HardwareAddr) {
	c.tc.Set(key(pa), entry{state: StateResolved, ha: append(net.HardwareAddr(nil), ha...)}, cacheTimeout)
}

// Static inserts a permanent entry that never ages out.
func (c *Cache) Static(pa net.IP, ha net.HardwareAddr) {
	c.tc.Set(key(pa), entry{state: StateStatic, ha: append(net.HardwareAddr(nil), ha...)}, ttlcache.NoTTL)
}

// Delete removes pa's entry, if any.
func (c *Cache) Delete(pa net.IP) { c.tc.Delete(key(pa)) }

// Len reports the number of live entries, for tests and metrics.
func (c *Cache) Len() int { return c.tc.Len() }
