// Package sectorfs is the filesystem façade: it composes the buffer
// cache, allocator, open-inode table, and path resolver into the
// operations a caller actually issues — create, open, remove, mkdir,
// chdir — each serialized by a single filesystem-wide mutex.
package sectorfs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/sectorfs/sectorfs/alloc"
	"github.com/sectorfs/sectorfs/cache"
	"github.com/sectorfs/sectorfs/device"
	"github.com/sectorfs/sectorfs/directory"
	"github.com/sectorfs/sectorfs/ferrors"
	"github.com/sectorfs/sectorfs/inode"
	"github.com/sectorfs/sectorfs/internal/logger"
	"github.com/sectorfs/sectorfs/pathresolve"
)

// Filesystem is a mounted instance: one device, one cache, one
// allocator, one open-inode table, one root sector. All namespace-
// mutating operations (Create, Open, Remove, Mkdir, Chdir) serialize
// through mu.
type Filesystem struct {
	mu sync.Mutex

	// mountID identifies this mount in the log line Mount writes; the
	// metrics are process-wide and carry no per-mount label.
	mountID uuid.UUID

	dev          device.Device
	cache        *cache.Cache
	alloc        alloc.Allocator
	table        *inode.Table
	store        *inode.Store
	rootSector   uint32
	maxName      int
	firstData    uint32
	totalSectors uint32
}

// Params configures Mount/Format; see cfg.Config for the CLI-facing
// equivalent.
type Params struct {
	Dev           device.Device
	SectorSize    int
	CacheEntries  int
	RootDirSector uint32
	MaxNameLength int
	BitmapStart   uint32
	BitmapSectors uint32
	FirstData     uint32
	TotalSectors  uint32
}

// Format lays out a fresh filesystem on dev: the bitmap region and an
// empty root directory whose "." and ".." both point at itself. This
// is the Go analogue of the source's do_format, invoked once before a
// device is ever Mounted.
func Format(ctx context.Context, p Params) error {
	c := cache.New(p.Dev, p.CacheEntries)
	bm, err := alloc.CreateBitmap(ctx, p.Dev, p.BitmapStart, p.BitmapSectors, p.FirstData, p.TotalSectors)
	if err != nil {
		return fmt.Errorf("sectorfs: format bitmap: %w", err)
	}
	if err := bm.MarkAllocated(ctx, p.RootDirSector); err != nil {
		return fmt.Errorf("sectorfs: format reserving root sector: %w", err)
	}
	store := &inode.Store{Cache: c, Alloc: bm, Layout: inode.NewLayout(p.SectorSize)}
	table := inode.NewTable(store)

	if err := directory.CreateEmpty(ctx, store, table, int(p.RootDirSector), int(p.RootDirSector), p.MaxNameLength); err != nil {
		return fmt.Errorf("sectorfs: format root directory: %w", err)
	}
	if err := c.FlushAll(ctx); err != nil {
		return fmt.Errorf("sectorfs: format flush: %w", err)
	}
	logger.Infof("sectorfs: formatted device, root at sector %d", p.RootDirSector)
	return nil
}

// Mount opens an already-formatted device and returns a ready
// Filesystem, with the allocator reconstructed from its persisted
// bitmap rather than recreated from scratch.
func Mount(ctx context.Context, p Params) (*Filesystem, error) {
	c := cache.New(p.Dev, p.CacheEntries)
	bm, err := alloc.OpenBitmap(ctx, p.Dev, p.BitmapStart, p.BitmapSectors, p.FirstData, p.TotalSectors)
	if err != nil {
		return nil, fmt.Errorf("sectorfs: mount bitmap: %w", err)
	}
	store := &inode.Store{Cache: c, Alloc: bm, Layout: inode.NewLayout(p.SectorSize)}
	id := uuid.New()
	logger.Infof("sectorfs: mounted %s at root sector %d", id, p.RootDirSector)
	return &Filesystem{
		mountID:      id,
		dev:          p.Dev,
		cache:        c,
		alloc:        bm,
		table:        inode.NewTable(store),
		store:        store,
		rootSector:   p.RootDirSector,
		maxName:      p.MaxNameLength,
		firstData:    p.FirstData,
		totalSectors: p.TotalSectors,
	}, nil
}

// MountID identifies this Filesystem instance; it is the identifier
// Mount writes to its log line.
func (fs *Filesystem) MountID() uuid.UUID { return fs.mountID }

// FreeSectors reports how many sectors the allocator still has free,
// for fsck-style accounting against sectors reachable from inodes.
func (fs *Filesystem) FreeSectors() uint32 { return fs.alloc.Free() }

// ManagedSectors reports the size of the allocator's managed range —
// every sector from FirstData up to TotalSectors, the span a
// sector-accounting cross-check sums free and reachable sectors
// against.
func (fs *Filesystem) ManagedSectors() uint32 { return fs.totalSectors - fs.firstData }

// CountReachableSectors returns how many sectors are reachable from
// the inode record at sector: its own record plus every direct,
// indirect, and double-indirect data or index sector it addresses.
func (fs *Filesystem) CountReachableSectors(ctx context.Context, sector uint32) (int, error) {
	return inode.CountSectors(ctx, fs.store, sector)
}

// pathresolve.Resolver implementation.
func (fs *Filesystem) Table() *inode.Table { return fs.table }
func (fs *Filesystem) Store() *inode.Store { return fs.store }
func (fs *Filesystem) RootSector() uint32  { return fs.rootSector }
func (fs *Filesystem) MaxName() int        { return fs.maxName }

// RootHandle opens and returns a Handle on the root directory,
// suitable as a caller's initial working directory.
func (fs *Filesystem) RootHandle(ctx context.Context) (*Handle, error) {
	return fs.openSector(ctx, fs.rootSector)
}

func (fs *Filesystem) openSector(ctx context.Context, sector uint32) (*Handle, error) {
	h, err := fs.table.Open(ctx, sector)
	if err != nil {
		return nil, err
	}
	return &Handle{fs: fs, ino: h}, nil
}

// normalizeErr maps the allocator's own out-of-space sentinel onto the
// façade-level ferrors sentinel, so callers can branch with
// errors.Is(err, ferrors.ErrOutOfSpace) regardless of which allocator
// implementation is behind fs.alloc or how deep in the call stack the
// exhausted allocation happened (the initial inode sector, or a nested
// allocation while growing a directory's own contents).
func normalizeErr(err error) error {
	if errors.Is(err, alloc.ErrOutOfSpace) {
		return ferrors.ErrOutOfSpace
	}
	return err
}

// allocate reserves a fresh sector, normalizing any error per
// normalizeErr.
func (fs *Filesystem) allocate(ctx context.Context) (uint32, error) {
	sector, err := fs.alloc.Allocate(ctx)
	if err != nil {
		return 0, normalizeErr(err)
	}
	return sector, nil
}

// releaseOnFailure returns sector to the free pool after a Create/Mkdir
// fails partway through, mirroring the source's
// "if (!success && inode_sector != 0) free_map_release(inode_sector, 1)"
// cleanup — otherwise a failed creation leaks the sector it reserved.
func (fs *Filesystem) releaseOnFailure(ctx context.Context, sector uint32) {
	if err := fs.alloc.Release(ctx, sector); err != nil {
		logger.Errorf("sectorfs: releasing sector %d after failed create: %v", sector, err)
	}
}

// resolveParent opens the parent directory named by path relative to
// wd's inode, verifying it is still live (not removed out from under
// a racing caller) before returning it to the caller.
func (fs *Filesystem) resolveParent(ctx context.Context, wd *Handle, path string) (parentH *inode.Handle, leaf string, err error) {
	parentH, leaf, err = pathresolve.Resolve(ctx, fs, wd.ino, path)
	if err != nil {
		return nil, "", err
	}
	if parentH.Removed() {
		fs.table.Close(ctx, parentH)
		return nil, "", ferrors.ErrRemovedParent
	}
	return parentH, leaf, nil
}

// Create makes a new, empty regular file at path.
func (fs *Filesystem) Create(ctx context.Context, wd *Handle, path string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parentH, leaf, err := fs.resolveParent(ctx, wd, path)
	if err != nil {
		return err
	}
	defer fs.table.Close(ctx, parentH)

	d := directory.Dir{Handle: parentH, MaxName: fs.maxName}
	if _, found, err := d.Lookup(ctx, leaf); err != nil {
		return err
	} else if found {
		return ferrors.ErrExists
	}

	sector, err := fs.allocate(ctx)
	if err != nil {
		return err
	}
	if err := inode.Create(ctx, fs.store, sector, false); err != nil {
		fs.releaseOnFailure(ctx, sector)
		return normalizeErr(err)
	}
	if err := d.Add(ctx, leaf, sector); err != nil {
		fs.releaseOnFailure(ctx, sector)
		return normalizeErr(err)
	}
	return nil
}

// Open resolves path and returns a Handle on the named file or
// directory.
func (fs *Filesystem) Open(ctx context.Context, wd *Handle, path string) (*Handle, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parentH, leaf, err := fs.resolveParent(ctx, wd, path)
	if err != nil {
		return nil, err
	}
	defer fs.table.Close(ctx, parentH)

	if leaf == "." {
		return fs.openSector(ctx, parentH.Sector())
	}

	d := directory.Dir{Handle: parentH, MaxName: fs.maxName}
	entry, found, err := d.Lookup(ctx, leaf)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ferrors.ErrNotFound
	}
	return fs.openSector(ctx, entry.Sector)
}

// Remove unlinks path: a file, or a directory containing nothing but
// "." and "..". Directory removal checks emptiness after reopening the
// target inode, as original_source's filesys_remove does.
func (fs *Filesystem) Remove(ctx context.Context, wd *Handle, path string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parentH, leaf, err := fs.resolveParent(ctx, wd, path)
	if err != nil {
		return err
	}
	defer fs.table.Close(ctx, parentH)

	if leaf == "." || leaf == ".." {
		return fmt.Errorf("sectorfs: cannot remove %q", leaf)
	}

	d := directory.Dir{Handle: parentH, MaxName: fs.maxName}
	entry, found, err := d.Lookup(ctx, leaf)
	if err != nil {
		return err
	}
	if !found {
		return ferrors.ErrNotFound
	}

	target, err := fs.table.Open(ctx, entry.Sector)
	if err != nil {
		return err
	}
	defer fs.table.Close(ctx, target)

	isDir, err := target.IsDir(ctx)
	if err != nil {
		return err
	}
	if isDir {
		td := directory.Dir{Handle: target, MaxName: fs.maxName}
		empty, err := td.IsEmpty(ctx)
		if err != nil {
			return err
		}
		if !empty {
			return ferrors.ErrNotEmpty
		}
	}

	if err := d.Remove(ctx, leaf); err != nil {
		return err
	}
	fs.table.Remove(target)
	return nil
}

// Mkdir creates a new, empty directory at path, installing "." and
// ".." and linking it into its parent.
func (fs *Filesystem) Mkdir(ctx context.Context, wd *Handle, path string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parentH, leaf, err := fs.resolveParent(ctx, wd, path)
	if err != nil {
		return err
	}
	defer fs.table.Close(ctx, parentH)

	d := directory.Dir{Handle: parentH, MaxName: fs.maxName}
	if _, found, err := d.Lookup(ctx, leaf); err != nil {
		return err
	} else if found {
		return ferrors.ErrExists
	}

	sector, err := fs.allocate(ctx)
	if err != nil {
		return err
	}
	if err := directory.CreateEmpty(ctx, fs.store, fs.table, int(sector), int(parentH.Sector()), fs.maxName); err != nil {
		fs.releaseOnFailure(ctx, sector)
		return normalizeErr(err)
	}
	if err := d.Add(ctx, leaf, sector); err != nil {
		fs.releaseOnFailure(ctx, sector)
		return normalizeErr(err)
	}
	return nil
}

// Chdir resolves path and returns a new working-directory Handle,
// closing none of the caller's existing handles — per-process working
// directory storage belongs to the caller, not to the façade.
func (fs *Filesystem) Chdir(ctx context.Context, wd *Handle, path string) (*Handle, error) {
	h, err := fs.Open(ctx, wd, path)
	if err != nil {
		return nil, err
	}
	isDir, err := h.IsDir(ctx)
	if err != nil {
		fs.table.Close(ctx, h.ino)
		return nil, err
	}
	if !isDir {
		fs.table.Close(ctx, h.ino)
		return nil, ferrors.ErrNotADirectory
	}
	return h, nil
}

// Close flushes the cache. It does not close the underlying device.
func (fs *Filesystem) Close(ctx context.Context) error {
	return fs.cache.FlushAll(ctx)
}
