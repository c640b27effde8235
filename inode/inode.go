package inode

import (
	"context"
	"fmt"
	"sync"

	"github.com/sectorfs/sectorfs/alloc"
	"github.com/sectorfs/sectorfs/cache"
	"github.com/sectorfs/sectorfs/ferrors"
	"github.com/sectorfs/sectorfs/internal/logger"
	"github.com/sectorfs/sectorfs/internal/metrics"
)

// Store bundles the three collaborators every inode operation needs,
// so callers thread one value instead of three.
type Store struct {
	Cache  *cache.Cache
	Alloc  alloc.Allocator
	Layout Layout
}

// Handle is an in-memory, open instance of an on-disk inode, shared by
// every caller that has it open concurrently: one Handle per on-disk
// sector, reference counted. Handle itself holds no file content;
// every read/write goes through store.Cache.
type Handle struct {
	store  *Store
	sector uint32

	mu             sync.Mutex
	openCount      int
	removed        bool
	denyWriteCount int

	// extendLock is held across a length update and the sector
	// registration that follows it, then released before the per-sector
	// copy loop runs — see WriteAt. It never nests under store.Cache's
	// per-entry locks, only ever around them.
	extendLock sync.Mutex
}

func (h *Handle) Sector() uint32 { return h.sector }

// IsDir reads the on-disk record through the cache and reports its
// is_dir flag.
func (h *Handle) IsDir(ctx context.Context) (bool, error) {
	d, err := readOnDisk(ctx, h.store.Cache, h.store.Layout, h.sector)
	if err != nil {
		return false, err
	}
	return d.IsDir, nil
}

// Length returns the inode's current committed length.
func (h *Handle) Length(ctx context.Context) (int64, error) {
	d, err := readOnDisk(ctx, h.store.Cache, h.store.Layout, h.sector)
	if err != nil {
		return 0, err
	}
	return int64(d.Length), nil
}

// Table is the open-inode table: it guarantees at most one *Handle
// exists per on-disk sector at a time, mirroring the original source's
// inode_open list walk.
type Table struct {
	store *Store

	mu      sync.Mutex
	handles map[uint32]*Handle
}

func NewTable(store *Store) *Table {
	return &Table{store: store, handles: make(map[uint32]*Handle)}
}

// Open returns the shared Handle for sector, creating it on first
// open and bumping its reference count on every call thereafter.
func (t *Table) Open(ctx context.Context, sector uint32) (*Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if h, ok := t.handles[sector]; ok {
		h.mu.Lock()
		h.openCount++
		h.mu.Unlock()
		return h, nil
	}

	h := &Handle{store: t.store, sector: sector, openCount: 1}
	t.handles[sector] = h
	metrics.OpenInodes.Set(float64(len(t.handles)))
	return h, nil
}

// Close drops one reference to h. When the count reaches zero the
// table entry is dropped, and if the inode was removed its sectors are
// freed too — the Go analogue of inode_close's free-on-last-close path.
func (t *Table) Close(ctx context.Context, h *Handle) error {
	h.mu.Lock()
	h.openCount--
	remove := h.openCount == 0 && h.removed
	count := h.openCount
	h.mu.Unlock()

	if count < 0 {
		ferrors.Raise("inode: negative open count", fmt.Errorf("sector %d", h.sector))
	}

	if !remove {
		if count == 0 {
			// Drop the idle handle unless a concurrent Open revived it
			// after the decrement above.
			t.mu.Lock()
			h.mu.Lock()
			if h.openCount == 0 && t.handles[h.sector] == h {
				delete(t.handles, h.sector)
				metrics.OpenInodes.Set(float64(len(t.handles)))
			}
			h.mu.Unlock()
			t.mu.Unlock()
		}
		return nil
	}

	t.mu.Lock()
	delete(t.handles, h.sector)
	metrics.OpenInodes.Set(float64(len(t.handles)))
	t.mu.Unlock()

	return FreeSectors(ctx, t.store, h.sector)
}

// Remove marks h for deletion: its sectors are reclaimed once the last
// opener closes it, never while any caller still holds it open.
func (t *Table) Remove(h *Handle) {
	h.mu.Lock()
	h.removed = true
	h.mu.Unlock()
}

// DenyWrite and AllowWrite implement the source's write-deny-count on
// executables; sectorfs doesn't execute anything but keeps the
// mechanism on Handle. No other package calls DenyWrite; while the
// deny count is positive, WriteAt fails with ErrBusy.
func (h *Handle) DenyWrite() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.removed {
		return ferrors.ErrRemovedParent
	}
	h.denyWriteCount++
	return nil
}

func (h *Handle) AllowWrite() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.denyWriteCount > 0 {
		h.denyWriteCount--
	}
}

// Removed reports whether this inode has been unlinked (its sectors
// are released once the last opener closes it).
func (h *Handle) Removed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.removed
}

func (h *Handle) writeAllowed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.denyWriteCount == 0
}

// Create allocates sector's on-disk record and formats it as an empty
// inode of the given type. The caller is responsible for linking
// sector into its parent directory.
func Create(ctx context.Context, store *Store, sector uint32, isDir bool) error {
	d := newOnDisk(store.Layout, isDir)
	return writeOnDisk(ctx, store.Cache, store.Layout, sector, d)
}

// sectorForLocation resolves loc to a concrete data sector number,
// allocating and registering intermediate index blocks and the target
// sector itself as needed when grow is true. It returns (0, false,
// nil) when grow is false and the location is unallocated (a sparse
// read past EOF).
func sectorForLocation(ctx context.Context, store *Store, d *OnDisk, loc Location, grow bool) (uint32, bool, error) {
	switch l := loc.(type) {
	case DirectLocation:
		if d.Direct[l.Index] != 0 {
			return d.Direct[l.Index], true, nil
		}
		if !grow {
			return 0, false, nil
		}
		sec, err := store.Alloc.Allocate(ctx)
		if err != nil {
			return 0, false, err
		}
		if err := zeroSector(ctx, store, sec); err != nil {
			return 0, false, err
		}
		d.Direct[l.Index] = sec
		return sec, true, nil

	case IndirectLocation:
		blockSec, err := ensureIndexBlock(ctx, store, &d.Indirect, grow)
		if err != nil || blockSec == 0 {
			return 0, false, err
		}
		return sectorInBlock(ctx, store, blockSec, l.Index, grow)

	case DoubleIndirectLocation:
		outerSec, err := ensureIndexBlock(ctx, store, &d.DoubleIndirect, grow)
		if err != nil || outerSec == 0 {
			return 0, false, err
		}
		innerSec, err := readIndirectEntry(ctx, store.Cache, outerSec, l.Outer)
		if err != nil {
			return 0, false, err
		}
		if innerSec == 0 {
			if !grow {
				return 0, false, nil
			}
			innerSec, err = store.Alloc.Allocate(ctx)
			if err != nil {
				return 0, false, err
			}
			if err := zeroSector(ctx, store, innerSec); err != nil {
				return 0, false, err
			}
			if err := writeIndirectEntry(ctx, store.Cache, outerSec, l.Outer, innerSec); err != nil {
				return 0, false, err
			}
		}
		return sectorInBlock(ctx, store, innerSec, l.Inner, grow)

	default: // OutOfRange
		return 0, false, fmt.Errorf("inode: offset beyond addressable range")
	}
}

// ensureIndexBlock returns the sector backing an indirect/double-
// indirect index block referenced by *field, allocating and
// zero-filling it on first use when grow is true.
func ensureIndexBlock(ctx context.Context, store *Store, field *uint32, grow bool) (uint32, error) {
	if *field != 0 {
		return *field, nil
	}
	if !grow {
		return 0, nil
	}
	sec, err := store.Alloc.Allocate(ctx)
	if err != nil {
		return 0, err
	}
	if err := zeroSector(ctx, store, sec); err != nil {
		return 0, err
	}
	*field = sec
	return sec, nil
}

func sectorInBlock(ctx context.Context, store *Store, blockSec uint32, idx int, grow bool) (uint32, bool, error) {
	sec, err := readIndirectEntry(ctx, store.Cache, blockSec, idx)
	if err != nil {
		return 0, false, err
	}
	if sec != 0 {
		return sec, true, nil
	}
	if !grow {
		return 0, false, nil
	}
	sec, err = store.Alloc.Allocate(ctx)
	if err != nil {
		return 0, false, err
	}
	if err := zeroSector(ctx, store, sec); err != nil {
		return 0, false, err
	}
	if err := writeIndirectEntry(ctx, store.Cache, blockSec, idx, sec); err != nil {
		return 0, false, err
	}
	return sec, true, nil
}

func zeroSector(ctx context.Context, store *Store, sector uint32) error {
	zeros := make([]byte, store.Layout.SectorSize)
	return store.Cache.Write(ctx, sector, zeros, 0, len(zeros), 0)
}

// UpdateFileLength extends d's on-disk length and registers whatever
// new sectors are needed to back bytes up to newLen, zero-filling
// them. It fixes the source's anomaly of committing the length field
// before the extension actually succeeds: the caller (WriteAt) only
// persists d after every intermediate sector has been allocated and
// zeroed, so a failure midway never leaves a committed length pointing
// past real data.
func UpdateFileLength(ctx context.Context, store *Store, d *OnDisk, newLen int64) error {
	oldLen := int64(d.Length)
	if newLen <= oldLen {
		return nil
	}
	sz := int64(store.Layout.SectorSize)
	// Touch every sector-aligned position from the old EOF's sector up to
	// the new EOF, allocating whatever isn't already there. Each freshly
	// allocated sector is zeroed at the point of allocation (see
	// sectorForLocation / sectorInBlock), so a sector that already existed
	// (the old file's final, partially-used sector) is never re-zeroed and
	// its real data survives.
	for pos := (oldLen / sz) * sz; pos < newLen; pos += sz {
		loc := Translate(pos, store.Layout)
		_, existed, err := sectorForLocation(ctx, store, d, loc, true)
		if err != nil {
			return err
		}
		if !existed {
			ferrors.Raise("inode: grow allocated no sector", fmt.Errorf("pos %d", pos))
		}
	}
	d.Length = uint32(newLen)
	return nil
}

// ReadAt reads up to len(p) bytes starting at off, stopping at the
// inode's committed length; bytes past EOF are not zero-filled here,
// the caller sees a short read.
func (h *Handle) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	d, err := readOnDisk(ctx, h.store.Cache, h.store.Layout, h.sector)
	if err != nil {
		return 0, err
	}
	length := int64(d.Length)
	if off >= length {
		return 0, nil
	}
	if off+int64(len(p)) > length {
		p = p[:length-off]
	}

	total := 0
	for total < len(p) {
		pos := off + int64(total)
		loc := Translate(pos, h.store.Layout)
		sec, existed, err := sectorForLocation(ctx, h.store, d, loc, false)
		if err != nil {
			return total, err
		}
		chunkOff := int(pos % int64(h.store.Layout.SectorSize))
		chunk := h.store.Layout.SectorSize - chunkOff
		if chunk > len(p)-total {
			chunk = len(p) - total
		}
		if !existed {
			for i := 0; i < chunk; i++ {
				p[total+i] = 0
			}
		} else if err := h.store.Cache.Read(ctx, sec, p[total:total+chunk], 0, chunk, chunkOff); err != nil {
			return total, err
		}
		total += chunk
	}
	return total, nil
}

// WriteAt writes p at off, extending the inode (allocating and
// zero-filling any gap) when off+len(p) exceeds the current length.
// The extend lock is held only across the length update and sector
// registration; it is released before the per-sector copy loop so
// concurrent readers/writers at already-allocated offsets are never
// blocked behind this write's I/O.
func (h *Handle) WriteAt(ctx context.Context, p []byte, off int64) (int, error) {
	if !h.writeAllowed() {
		return 0, ferrors.ErrBusy
	}

	end := off + int64(len(p))

	h.extendLock.Lock()
	d, err := readOnDisk(ctx, h.store.Cache, h.store.Layout, h.sector)
	if err != nil {
		h.extendLock.Unlock()
		return 0, err
	}
	if end > int64(d.Length) {
		if err := UpdateFileLength(ctx, h.store, d, end); err != nil {
			h.extendLock.Unlock()
			return 0, err
		}
		// Commit the new length and newly-registered index sectors only
		// now that every intermediate allocation succeeded — the fix for
		// the source's premature length write.
		if err := writeOnDisk(ctx, h.store.Cache, h.store.Layout, h.sector, d); err != nil {
			h.extendLock.Unlock()
			return 0, err
		}
	}
	h.extendLock.Unlock()

	total := 0
	for total < len(p) {
		pos := off + int64(total)
		loc := Translate(pos, h.store.Layout)
		sec, existed, err := sectorForLocation(ctx, h.store, d, loc, false)
		if err != nil {
			return total, err
		}
		if !existed {
			ferrors.Raise("inode: write target sector missing after extend", fmt.Errorf("pos %d", pos))
		}
		chunkOff := int(pos % int64(h.store.Layout.SectorSize))
		chunk := h.store.Layout.SectorSize - chunkOff
		if chunk > len(p)-total {
			chunk = len(p) - total
		}
		if err := h.store.Cache.Write(ctx, sec, p, total, chunk, chunkOff); err != nil {
			return total, err
		}
		total += chunk
	}
	return total, nil
}

// FreeSectors reclaims every sector reachable from sector's on-disk
// record — direct entries, the indirect block and its entries, and
// the double-indirect block with each of its inner blocks and their
// entries — then the inode's own record sector. This fixes the
// source's free_inode_sectors anomaly, which reads the single-
// indirect block from double_indirect_block_sec instead of
// indirect_block_sec; here each block is read from its own field.
func FreeSectors(ctx context.Context, store *Store, sector uint32) error {
	d, err := readOnDisk(ctx, store.Cache, store.Layout, sector)
	if err != nil {
		return err
	}

	for _, sec := range d.Direct {
		if sec != 0 {
			if err := store.Alloc.Release(ctx, sec); err != nil {
				return err
			}
		}
	}

	if d.Indirect != 0 {
		if err := freeIndexBlock(ctx, store, d.Indirect); err != nil {
			return err
		}
	}

	if d.DoubleIndirect != 0 {
		for i := 0; i < store.Layout.Entries; i++ {
			innerSec, err := readIndirectEntry(ctx, store.Cache, d.DoubleIndirect, i)
			if err != nil {
				return err
			}
			if innerSec == 0 {
				continue
			}
			if err := freeIndexBlock(ctx, store, innerSec); err != nil {
				return err
			}
		}
		if err := store.Alloc.Release(ctx, d.DoubleIndirect); err != nil {
			return err
		}
	}

	if err := store.Alloc.Release(ctx, sector); err != nil {
		return err
	}
	logger.Debugf("inode: freed sectors for inode %d", sector)
	return nil
}

// freeIndexBlock releases every non-zero entry of the index block at
// blockSec, then blockSec itself.
func freeIndexBlock(ctx context.Context, store *Store, blockSec uint32) error {
	for i := 0; i < store.Layout.Entries; i++ {
		sec, err := readIndirectEntry(ctx, store.Cache, blockSec, i)
		if err != nil {
			return err
		}
		if sec != 0 {
			if err := store.Alloc.Release(ctx, sec); err != nil {
				return err
			}
		}
	}
	return store.Alloc.Release(ctx, blockSec)
}

// CountSectors reports how many sectors are reachable from the inode
// record at sector: its own record, every direct entry, the indirect
// block and its entries, and the double-indirect block with each of
// its inner blocks and their entries. It mirrors FreeSectors's walk
// exactly but tallies instead of releasing, for an fsck-style
// cross-check against the allocator's free count.
func CountSectors(ctx context.Context, store *Store, sector uint32) (int, error) {
	d, err := readOnDisk(ctx, store.Cache, store.Layout, sector)
	if err != nil {
		return 0, err
	}

	count := 1 // the inode's own record sector
	for _, sec := range d.Direct {
		if sec != 0 {
			count++
		}
	}

	if d.Indirect != 0 {
		n, err := countIndexBlock(ctx, store, d.Indirect)
		if err != nil {
			return 0, err
		}
		count += n
	}

	if d.DoubleIndirect != 0 {
		count++ // the double-indirect block itself
		for i := 0; i < store.Layout.Entries; i++ {
			innerSec, err := readIndirectEntry(ctx, store.Cache, d.DoubleIndirect, i)
			if err != nil {
				return 0, err
			}
			if innerSec == 0 {
				continue
			}
			n, err := countIndexBlock(ctx, store, innerSec)
			if err != nil {
				return 0, err
			}
			count += n
		}
	}
	return count, nil
}

// countIndexBlock counts blockSec itself plus every non-zero entry it
// holds.
func countIndexBlock(ctx context.Context, store *Store, blockSec uint32) (int, error) {
	count := 1
	for i := 0; i < store.Layout.Entries; i++ {
		sec, err := readIndirectEntry(ctx, store.Cache, blockSec, i)
		if err != nil {
			return 0, err
		}
		if sec != 0 {
			count++
		}
	}
	return count, nil
}
