package device

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-process Device used by tests; it never touches the
// host filesystem. FailSectors, if set, makes reads/writes of the
// listed sectors return an error instead of panicking, so tests can
// exercise the Fatal error path of higher layers without actually
// crashing the test binary.
type Memory struct {
	mu         sync.Mutex
	sectorSize int
	data       [][]byte
	FailSectors map[uint32]bool
}

func NewMemory(sectorSize int, sectors uint32) *Memory {
	data := make([][]byte, sectors)
	for i := range data {
		data[i] = make([]byte, sectorSize)
	}
	return &Memory{sectorSize: sectorSize, data: data, FailSectors: map[uint32]bool{}}
}

func (d *Memory) SectorSize() int     { return d.sectorSize }
func (d *Memory) SectorCount() uint32 { return uint32(len(d.data)) }

func (d *Memory) ReadSector(ctx context.Context, sector uint32, buf []byte) error {
	checkRange("read", sector, uint32(len(d.data)), len(buf), d.sectorSize)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailSectors[sector] {
		return &FatalError{Op: "read", Sector: sector, Err: fmt.Errorf("injected failure")}
	}
	copy(buf, d.data[sector])
	return nil
}

func (d *Memory) WriteSector(ctx context.Context, sector uint32, buf []byte) error {
	checkRange("write", sector, uint32(len(d.data)), len(buf), d.sectorSize)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailSectors[sector] {
		return &FatalError{Op: "write", Sector: sector, Err: fmt.Errorf("injected failure")}
	}
	copy(d.data[sector], buf)
	return nil
}

func (d *Memory) Close() error { return nil }
