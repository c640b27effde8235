package alloc

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/willf/bitset"

	"github.com/sectorfs/sectorfs/device"
	"github.com/sectorfs/sectorfs/internal/metrics"
)

// Bitmap is an Allocator that tracks free sectors with a bitset and
// persists it to a fixed, well-known sector range of the device it
// allocates from. One bit per sector in [firstData, total); a set bit
// means allocated.
type Bitmap struct {
	mu          sync.Mutex
	bits        *bitset.BitSet
	dev         device.Device
	startSector uint32
	sectorCount uint32
	firstData   uint32
	total       uint32
}

// CreateBitmap initializes a fresh, all-free bitmap covering sectors
// [firstData, total) and writes it to disk starting at startSector.
// sectorCount is the number of sectors reserved to hold the bitmap;
// it must be large enough for (total-firstData) bits.
func CreateBitmap(ctx context.Context, dev device.Device, startSector, sectorCount, firstData, total uint32) (*Bitmap, error) {
	nbits := total - firstData
	needed := bitmapSectorsNeeded(nbits, dev.SectorSize())
	if sectorCount < needed {
		return nil, fmt.Errorf("alloc: bitmap region too small: need %d sectors, have %d", needed, sectorCount)
	}

	b := &Bitmap{
		bits:        bitset.New(uint(nbits)),
		dev:         dev,
		startSector: startSector,
		sectorCount: sectorCount,
		firstData:   firstData,
		total:       total,
	}
	if err := b.persist(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

// OpenBitmap loads a previously persisted bitmap from disk.
func OpenBitmap(ctx context.Context, dev device.Device, startSector, sectorCount, firstData, total uint32) (*Bitmap, error) {
	nbits := total - firstData
	b := &Bitmap{
		bits:        bitset.New(uint(nbits)),
		dev:         dev,
		startSector: startSector,
		sectorCount: sectorCount,
		firstData:   firstData,
		total:       total,
	}

	sz := dev.SectorSize()
	raw := make([]byte, 0, int(sectorCount)*sz)
	buf := make([]byte, sz)
	for i := uint32(0); i < sectorCount; i++ {
		if err := dev.ReadSector(ctx, startSector+i, buf); err != nil {
			return nil, fmt.Errorf("alloc: reading bitmap sector %d: %w", startSector+i, err)
		}
		raw = append(raw, buf...)
	}

	words := bytesToUint64View(raw)
	bits := bitset.New(uint(nbits))
	for i := uint(0); i < uint(nbits); i++ {
		word := words[i/64]
		if word&(1<<(i%64)) != 0 {
			bits.Set(i)
		}
	}
	b.bits = bits
	metrics.FreeSectors.Set(float64(nbits - uint32(bits.Count())))
	return b, nil
}

func bitmapSectorsNeeded(nbits uint32, sectorSize int) uint32 {
	bytesNeeded := (nbits + 7) / 8
	// round up to a whole number of 8-byte words so word-based
	// (de)serialization never truncates a partial word.
	bytesNeeded = ((bytesNeeded + 7) / 8) * 8
	secs := (bytesNeeded + uint32(sectorSize) - 1) / uint32(sectorSize)
	if secs == 0 {
		secs = 1
	}
	return secs
}

func (b *Bitmap) persist(ctx context.Context) error {
	words := b.bits.Bytes()
	raw := make([]byte, int(b.sectorCount)*b.dev.SectorSize())
	for i, w := range words {
		off := i * 8
		if off+8 > len(raw) {
			break
		}
		binary.LittleEndian.PutUint64(raw[off:], w)
	}

	sz := b.dev.SectorSize()
	for i := uint32(0); i < b.sectorCount; i++ {
		lo, hi := int(i)*sz, int(i+1)*sz
		if err := b.dev.WriteSector(ctx, b.startSector+i, raw[lo:hi]); err != nil {
			return fmt.Errorf("alloc: writing bitmap sector %d: %w", b.startSector+i, err)
		}
	}
	metrics.FreeSectors.Set(float64((b.total - b.firstData) - uint32(b.bits.Count())))
	return nil
}

func (b *Bitmap) Allocate(ctx context.Context) (uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx, found := b.bits.NextClear(0)
	if !found || idx >= uint(b.total-b.firstData) {
		return 0, ErrOutOfSpace
	}
	b.bits.Set(idx)
	if err := b.persist(ctx); err != nil {
		b.bits.Clear(idx)
		return 0, err
	}
	return b.firstData + uint32(idx), nil
}

// MarkAllocated reserves sector without consulting NextClear, for
// sectors whose use is already decided before the allocator exists —
// the root directory's own well-known sector, the way the source's
// free_map_init marks FREE_MAP_SECTOR and ROOT_DIR_SECTOR allocated
// before any free_map_allocate call ever runs.
func (b *Bitmap) MarkAllocated(ctx context.Context, sector uint32) error {
	if sector < b.firstData || sector >= b.total {
		return fmt.Errorf("alloc: mark: sector %d out of managed range", sector)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := uint(sector - b.firstData)
	if b.bits.Test(idx) {
		return fmt.Errorf("alloc: mark: sector %d already allocated", sector)
	}
	b.bits.Set(idx)
	if err := b.persist(ctx); err != nil {
		b.bits.Clear(idx)
		return err
	}
	return nil
}

func (b *Bitmap) Release(ctx context.Context, sector uint32) error {
	if sector < b.firstData || sector >= b.total {
		return fmt.Errorf("alloc: release: sector %d out of managed range", sector)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := uint(sector - b.firstData)
	if !b.bits.Test(idx) {
		return fmt.Errorf("alloc: release: sector %d already free", sector)
	}
	b.bits.Clear(idx)
	return b.persist(ctx)
}

func (b *Bitmap) Free() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return (b.total - b.firstData) - uint32(b.bits.Count())
}

func bytesToUint64View(raw []byte) []uint64 {
	words := make([]uint64, len(raw)/8)
	for i := range words {
		words[i] = binary.LittleEndian.Uint64(raw[i*8:])
	}
	return words
}
