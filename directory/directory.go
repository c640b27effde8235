// Package directory implements directories as ordinary inodes whose
// bytes are a dense array of fixed-width entry records. There is no
// separate on-disk directory type — callers distinguish files from
// directories purely by the inode's is_dir flag, a single-handle,
// runtime-dispatch approach to file kinds.
package directory

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/sectorfs/sectorfs/ferrors"
	"github.com/sectorfs/sectorfs/inode"
)

// recordSize returns the on-disk size of one entry for a given
// maximum name length: one in-use byte, maxName+1 bytes for the
// null-terminated name, four bytes for the inode sector.
func recordSize(maxName int) int {
	return 1 + maxName + 1 + 4
}

// Entry is one decoded directory record.
type Entry struct {
	InUse  bool
	Name   string
	Sector uint32
}

func encodeEntry(e Entry, maxName int) []byte {
	buf := make([]byte, recordSize(maxName))
	if e.InUse {
		buf[0] = 1
	}
	copy(buf[1:1+maxName], e.Name)
	binary.LittleEndian.PutUint32(buf[1+maxName+1:], e.Sector)
	return buf
}

func decodeEntry(buf []byte, maxName int) Entry {
	inUse := buf[0] != 0
	nameBytes := buf[1 : 1+maxName+1]
	end := 0
	for end < len(nameBytes) && nameBytes[end] != 0 {
		end++
	}
	sector := binary.LittleEndian.Uint32(buf[1+maxName+1:])
	return Entry{InUse: inUse, Name: string(nameBytes[:end]), Sector: sector}
}

// Dir wraps an inode.Handle known to hold is_dir entries, with the
// maximum name length needed to size records.
type Dir struct {
	Handle  *inode.Handle
	MaxName int
}

// CreateEmpty formats sector as a fresh directory inode and installs
// "." and ".." pointing at self and parentSector respectively. Every
// directory gets both entries installed at creation time.
func CreateEmpty(ctx context.Context, store *inode.Store, table *inode.Table, sector, parentSector, maxName int) error {
	if err := inode.Create(ctx, store, uint32(sector), true); err != nil {
		return err
	}
	h, err := table.Open(ctx, uint32(sector))
	if err != nil {
		return err
	}
	defer table.Close(ctx, h)

	d := Dir{Handle: h, MaxName: maxName}
	if err := d.appendRaw(ctx, Entry{InUse: true, Name: ".", Sector: uint32(sector)}); err != nil {
		return err
	}
	if err := d.appendRaw(ctx, Entry{InUse: true, Name: "..", Sector: uint32(parentSector)}); err != nil {
		return err
	}
	return nil
}

func (d Dir) size() int { return recordSize(d.MaxName) }

// Lookup linearly scans for an in-use entry named name.
func (d Dir) Lookup(ctx context.Context, name string) (Entry, bool, error) {
	length, err := d.Handle.Length(ctx)
	if err != nil {
		return Entry{}, false, err
	}
	rec := d.size()
	buf := make([]byte, rec)
	for off := int64(0); off+int64(rec) <= length; off += int64(rec) {
		n, err := d.Handle.ReadAt(ctx, buf, off)
		if err != nil {
			return Entry{}, false, err
		}
		if n < rec {
			break
		}
		e := decodeEntry(buf, d.MaxName)
		if e.InUse && e.Name == name {
			return e, true, nil
		}
	}
	return Entry{}, false, nil
}

// Add installs a new entry, reusing the first free (not in-use) slot
// before extending the directory file.
func (d Dir) Add(ctx context.Context, name string, sector uint32) error {
	if len(name) > d.MaxName {
		return ferrors.ErrNameTooLong
	}
	if _, found, err := d.Lookup(ctx, name); err != nil {
		return err
	} else if found {
		return ferrors.ErrExists
	}

	length, err := d.Handle.Length(ctx)
	if err != nil {
		return err
	}
	rec := d.size()
	buf := make([]byte, rec)
	for off := int64(0); off+int64(rec) <= length; off += int64(rec) {
		n, err := d.Handle.ReadAt(ctx, buf, off)
		if err != nil {
			return err
		}
		if n < rec {
			break
		}
		if !decodeEntry(buf, d.MaxName).InUse {
			entry := encodeEntry(Entry{InUse: true, Name: name, Sector: sector}, d.MaxName)
			_, err := d.Handle.WriteAt(ctx, entry, off)
			return err
		}
	}
	return d.appendRaw(ctx, Entry{InUse: true, Name: name, Sector: sector})
}

func (d Dir) appendRaw(ctx context.Context, e Entry) error {
	length, err := d.Handle.Length(ctx)
	if err != nil {
		return err
	}
	buf := encodeEntry(e, d.MaxName)
	_, err = d.Handle.WriteAt(ctx, buf, length)
	return err
}

// Remove clears in_use on the entry named name. Removing "." or ".."
// is forbidden.
func (d Dir) Remove(ctx context.Context, name string) error {
	if name == "." || name == ".." {
		return fmt.Errorf("directory: cannot remove %q", name)
	}
	length, err := d.Handle.Length(ctx)
	if err != nil {
		return err
	}
	rec := d.size()
	buf := make([]byte, rec)
	for off := int64(0); off+int64(rec) <= length; off += int64(rec) {
		n, err := d.Handle.ReadAt(ctx, buf, off)
		if err != nil {
			return err
		}
		if n < rec {
			break
		}
		e := decodeEntry(buf, d.MaxName)
		if e.InUse && e.Name == name {
			cleared := encodeEntry(Entry{}, d.MaxName)
			_, err := d.Handle.WriteAt(ctx, cleared, off)
			return err
		}
	}
	return ferrors.ErrNotFound
}

// IsEmpty reports whether the directory holds no entries besides "."
// and "..", the precondition for removing a directory.
func (d Dir) IsEmpty(ctx context.Context) (bool, error) {
	entries, err := d.ReadDir(ctx)
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}

// ReadDir returns every in-use entry except "." and "..". Callers are
// expected to see only real children; the filtering is done once,
// centrally, rather than pushed to every caller.
func (d Dir) ReadDir(ctx context.Context) ([]Entry, error) {
	length, err := d.Handle.Length(ctx)
	if err != nil {
		return nil, err
	}
	rec := d.size()
	buf := make([]byte, rec)
	var out []Entry
	for off := int64(0); off+int64(rec) <= length; off += int64(rec) {
		n, err := d.Handle.ReadAt(ctx, buf, off)
		if err != nil {
			return nil, err
		}
		if n < rec {
			break
		}
		e := decodeEntry(buf, d.MaxName)
		if e.InUse && e.Name != "." && e.Name != ".." {
			out = append(out, e)
		}
	}
	return out, nil
}
