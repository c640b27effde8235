package inode

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/sectorfs/sectorfs/cache"
	"github.com/sectorfs/sectorfs/ferrors"
)

// Magic identifies a valid on-disk inode record, matching the
// original source's INODE_MAGIC constant (0x494e4f44 spells "INOD"
// read most-significant byte first; the record codec stores it
// little-endian, so the bytes on disk read "DONI").
const Magic uint32 = 0x494e4f44

// OnDisk is the fixed, exactly-SZ-bytes inode record.
type OnDisk struct {
	Direct         []uint32 // length layout.Direct
	Indirect       uint32
	DoubleIndirect uint32
	Length         uint32
	Magic          uint32
	IsDir          bool
}

func newOnDisk(layout Layout, isDir bool) *OnDisk {
	return &OnDisk{
		Direct: make([]uint32, layout.Direct),
		Magic:  Magic,
		IsDir:  isDir,
	}
}

// encode packs d into exactly layout.SectorSize bytes.
func (d *OnDisk) encode(layout Layout) []byte {
	buf := make([]byte, layout.SectorSize)
	off := 0
	for _, v := range d.Direct {
		binary.LittleEndian.PutUint32(buf[off:], v)
		off += 4
	}
	binary.LittleEndian.PutUint32(buf[off:], d.Indirect)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], d.DoubleIndirect)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], d.Length)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], d.Magic)
	off += 4
	isDir := uint32(0)
	if d.IsDir {
		isDir = 1
	}
	binary.LittleEndian.PutUint32(buf[off:], isDir)
	return buf
}

func decodeOnDisk(buf []byte, layout Layout) (*OnDisk, error) {
	if len(buf) != layout.SectorSize {
		return nil, fmt.Errorf("inode: record length %d != sector size %d", len(buf), layout.SectorSize)
	}
	d := &OnDisk{Direct: make([]uint32, layout.Direct)}
	off := 0
	for i := range d.Direct {
		d.Direct[i] = binary.LittleEndian.Uint32(buf[off:])
		off += 4
	}
	d.Indirect = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	d.DoubleIndirect = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	d.Length = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	d.Magic = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	d.IsDir = binary.LittleEndian.Uint32(buf[off:]) != 0
	if d.Magic != Magic {
		return nil, &ferrors.Fatal{Reason: "inode: bad magic", Err: fmt.Errorf("got %#x want %#x", d.Magic, Magic)}
	}
	return d, nil
}

func readOnDisk(ctx context.Context, c *cache.Cache, layout Layout, sector uint32) (*OnDisk, error) {
	buf := make([]byte, layout.SectorSize)
	if err := c.Read(ctx, sector, buf, 0, layout.SectorSize, 0); err != nil {
		return nil, err
	}
	return decodeOnDisk(buf, layout)
}

func writeOnDisk(ctx context.Context, c *cache.Cache, layout Layout, sector uint32, d *OnDisk) error {
	buf := d.encode(layout)
	return c.Write(ctx, sector, buf, 0, layout.SectorSize, 0)
}

// readIndirectEntry reads the uint32 at index idx within the
// single-level index block stored at blockSector.
func readIndirectEntry(ctx context.Context, c *cache.Cache, blockSector uint32, idx int) (uint32, error) {
	buf := make([]byte, 4)
	if err := c.Read(ctx, blockSector, buf, 0, 4, idx*4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

func writeIndirectEntry(ctx context.Context, c *cache.Cache, blockSector uint32, idx int, value uint32) error {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, value)
	return c.Write(ctx, blockSector, buf, 0, 4, idx*4)
}
