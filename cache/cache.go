// Package cache implements a fixed-capacity, write-back buffer cache:
// a clock-replacement cache of disk sectors sitting in front of a
// device.Device, with per-entry mutual exclusion and a cache-wide
// mutex serializing the lookup-plus-victim-claim critical section.
//
// Invariant: at most one entry ever has valid==true (or is in the
// process of being loaded) for a given sector. This holds because an
// entry's sector field is claimed — and its own lock acquired — while
// the cache-wide mutex is still held; the mutex is only released once
// the claim is visible to later lookups, so two callers can never race
// to install the same sector into two different entries.
package cache

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/sectorfs/sectorfs/device"
	"github.com/sectorfs/sectorfs/internal/logger"
	"github.com/sectorfs/sectorfs/internal/metrics"
)

type entry struct {
	mu sync.Mutex
	// occupied is true once this entry has been claimed for a sector —
	// set at claim time and cleared again only if loading the claimed
	// sector fails, so the zero-value sector field of a never-used entry
	// can never spuriously match a real sector 0 lookup.
	occupied bool
	valid    bool
	dirty    bool
	sector   uint32
	clockBit bool
	data     []byte
}

// Cache is a fixed-size, write-back sector cache over a device.Device.
type Cache struct {
	mu         sync.Mutex
	dev        device.Device
	entries    []*entry
	clockHand  int
	sectorSize int
}

// New builds a Cache with the given capacity (in sectors) over dev.
func New(dev device.Device, capacity int) *Cache {
	if capacity <= 0 {
		panic("cache: capacity must be positive")
	}
	sz := dev.SectorSize()
	entries := make([]*entry, capacity)
	for i := range entries {
		entries[i] = &entry{data: make([]byte, sz)}
	}
	return &Cache{dev: dev, entries: entries, sectorSize: sz}
}

// Read fills dst[dstOff:dstOff+n) from sector[secOff:secOff+n).
func (c *Cache) Read(ctx context.Context, sector uint32, dst []byte, dstOff, n, secOff int) error {
	if err := c.checkBounds(secOff, n); err != nil {
		return err
	}
	e, err := c.acquire(ctx, sector)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()
	copy(dst[dstOff:dstOff+n], e.data[secOff:secOff+n])
	e.clockBit = true
	return nil
}

// Write copies src[srcOff:srcOff+n) into sector[secOff:secOff+n) and
// marks the entry dirty.
func (c *Cache) Write(ctx context.Context, sector uint32, src []byte, srcOff, n, secOff int) error {
	if err := c.checkBounds(secOff, n); err != nil {
		return err
	}
	e, err := c.acquire(ctx, sector)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()
	copy(e.data[secOff:secOff+n], src[srcOff:srcOff+n])
	if !e.dirty {
		metrics.CacheDirtyEntries.Inc()
	}
	e.dirty = true
	e.clockBit = true
	return nil
}

func (c *Cache) checkBounds(secOff, n int) error {
	if secOff < 0 || n < 0 || secOff+n > c.sectorSize {
		return fmt.Errorf("cache: out-of-range sector slice (off=%d n=%d size=%d)", secOff, n, c.sectorSize)
	}
	return nil
}

// acquire returns the entry holding sector, loading it from the
// device on a miss. The entry is returned locked; the caller must
// unlock it.
func (c *Cache) acquire(ctx context.Context, sector uint32) (*entry, error) {
	c.mu.Lock()

	for _, e := range c.entries {
		if e.occupied && e.sector == sector {
			e.mu.Lock()
			c.mu.Unlock()
			if e.valid {
				metrics.CacheHits.Inc()
			}
			return e, nil
		}
	}

	// Miss: claim a victim while still holding the cache-wide mutex so
	// no other caller can simultaneously claim the same sector.
	victim, err := c.claimVictimLocked(sector)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.mu.Unlock()
	metrics.CacheMisses.Inc()

	// victim is returned locked, sector already set to the target, but
	// valid is still false ("loading") until the device read below
	// completes.
	if err := c.loadVictim(ctx, victim, sector); err != nil {
		// Undo the claim so the slot doesn't masquerade as occupied by
		// a sector that was never actually loaded.
		victim.occupied = false
		victim.sector = 0
		victim.mu.Unlock()
		return nil, err
	}
	return victim, nil
}

// claimVictimLocked runs the clock algorithm and claims the chosen
// entry for sector. Must be called with c.mu held; returns the victim
// locked.
func (c *Cache) claimVictimLocked(sector uint32) (*entry, error) {
	n := len(c.entries)
	for i := 0; ; i++ {
		if i > 2*n {
			return nil, fmt.Errorf("cache: clock algorithm failed to select a victim")
		}
		idx := c.clockHand
		c.clockHand = (c.clockHand + 1) % n
		e := c.entries[idx]
		e.mu.Lock()
		if e.clockBit {
			e.clockBit = false
			e.mu.Unlock()
			continue
		}
		e.clockBit = true
		oldSector, oldDirty, wasValid := e.sector, e.dirty, e.valid
		e.occupied = true
		e.sector = sector
		e.valid = false
		if wasValid {
			metrics.CacheEvictions.Inc()
		}
		if oldDirty {
			// Flush the outgoing contents under the victim's own lock,
			// using its old identity, before the new sector is read in.
			if err := c.dev.WriteSector(context.Background(), oldSector, e.data); err != nil {
				// restore so the slot isn't left claiming a sector whose
				// old dirty data we failed to persist
				e.sector, e.valid, e.dirty = oldSector, true, true
				e.mu.Unlock()
				return nil, err
			}
			e.dirty = false
			metrics.CacheFlushes.Inc()
			metrics.CacheDirtyEntries.Dec()
		}
		return e, nil
	}
}

// loadVictim performs the synchronous device read for a claimed,
// not-yet-valid entry. Caller holds e.mu.
func (c *Cache) loadVictim(ctx context.Context, e *entry, sector uint32) error {
	if err := c.dev.ReadSector(ctx, sector, e.data); err != nil {
		return err
	}
	e.valid = true
	e.dirty = false
	e.clockBit = true
	return nil
}

// FlushAll writes every dirty entry back to the device. Entries are
// independent (each owns a disjoint sector), so the writes fan out
// concurrently via errgroup rather than one at a time; the first
// failure cancels the group and is returned to the caller.
func (c *Cache) FlushAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, e := range c.entries {
		e := e
		g.Go(func() error {
			e.mu.Lock()
			defer e.mu.Unlock()
			if !e.valid || !e.dirty {
				return nil
			}
			if err := c.dev.WriteSector(gctx, e.sector, e.data); err != nil {
				return err
			}
			e.dirty = false
			metrics.CacheFlushes.Inc()
			metrics.CacheDirtyEntries.Dec()
			return nil
		})
	}
	return g.Wait()
}

// Close flushes all dirty entries. It does not close the underlying
// device, whose lifecycle belongs to the caller.
func (c *Cache) Close(ctx context.Context) error {
	logger.Debugf("cache: flushing %d entries on close", len(c.entries))
	return c.FlushAll(ctx)
}

// SectorSize returns SZ for callers that only hold a *Cache.
func (c *Cache) SectorSize() int { return c.sectorSize }
