// Package inode implements the indexed inode layer: the on-disk inode
// record, its direct/indirect/double-indirect address translation,
// grow-on-write file extension, and the in-memory open-inode table
// that shares one handle per on-disk sector across openers.
package inode

// Layout derives the per-sector-size constants: D direct pointers,
// E = SZ/4 indirect entries, computed from the fixed 20-byte
// non-pointer tail of the on-disk record (indirect + double_indirect +
// length + magic + is_dir, 4 bytes each) so the record totals exactly
// SZ bytes. At the typical SZ=512 this yields D=123, E=128, matching
// the source's DIRECT_BLOCK_ENTRIES and INDIRECT_BLOCK_ENTRIES
// exactly.
type Layout struct {
	SectorSize int
	Direct     int
	Entries    int // E
}

const recordTailBytes = 4 * 5 // indirect, double_indirect, length, magic, is_dir

func NewLayout(sectorSize int) Layout {
	d := (sectorSize - recordTailBytes) / 4
	e := sectorSize / 4
	return Layout{SectorSize: sectorSize, Direct: d, Entries: e}
}

// MaxFileSize returns (D + E + E*E) * SZ, the largest file size this
// layout can address (one past the largest addressable offset).
func (l Layout) MaxFileSize() int64 {
	return int64(l.Direct+l.Entries+l.Entries*l.Entries) * int64(l.SectorSize)
}

// DefaultLayout is the typical configuration: SZ=512, D=123, E=128.
var DefaultLayout = NewLayout(512)
