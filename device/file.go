package device

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// File is a Device backed by a regular file on the host filesystem,
// treated as a flat disk image. Reads and writes go through
// golang.org/x/sys/unix Pread/Pwrite so a sector access never perturbs
// the file's shared offset, matching how a real block device driver
// would address sectors directly rather than through a stream cursor.
type File struct {
	f          *os.File
	sectorSize int
	sectorCnt  uint32
}

// OpenFile opens (or creates, with OpenFileOptions.Create) a disk-image
// file of sectorCount*sectorSize bytes and returns a Device backed by
// it.
type OpenFileOptions struct {
	Path       string
	SectorSize int
	Sectors    uint32
	Create     bool
}

func OpenFile(opts OpenFileOptions) (*File, error) {
	flags := os.O_RDWR
	if opts.Create {
		flags |= os.O_CREATE
	}
	f, err := os.OpenFile(opts.Path, flags, 0o600)
	if err != nil {
		return nil, fmt.Errorf("device: open %s: %w", opts.Path, err)
	}

	size := int64(opts.SectorSize) * int64(opts.Sectors)
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("device: stat %s: %w", opts.Path, err)
	}
	if info.Size() < size {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, fmt.Errorf("device: truncate %s: %w", opts.Path, err)
		}
	}

	return &File{f: f, sectorSize: opts.SectorSize, sectorCnt: opts.Sectors}, nil
}

func (d *File) SectorSize() int     { return d.sectorSize }
func (d *File) SectorCount() uint32 { return d.sectorCnt }

func (d *File) ReadSector(ctx context.Context, sector uint32, buf []byte) error {
	checkRange("read", sector, d.sectorCnt, len(buf), d.sectorSize)
	off := int64(sector) * int64(d.sectorSize)
	n, err := unix.Pread(int(d.f.Fd()), buf, off)
	if err != nil {
		return &FatalError{Op: "read", Sector: sector, Err: err}
	}
	if n != d.sectorSize {
		return &FatalError{Op: "read", Sector: sector, Err: fmt.Errorf("short read: %d bytes", n)}
	}
	return nil
}

func (d *File) WriteSector(ctx context.Context, sector uint32, buf []byte) error {
	checkRange("write", sector, d.sectorCnt, len(buf), d.sectorSize)
	off := int64(sector) * int64(d.sectorSize)
	n, err := unix.Pwrite(int(d.f.Fd()), buf, off)
	if err != nil {
		return &FatalError{Op: "write", Sector: sector, Err: err}
	}
	if n != d.sectorSize {
		return &FatalError{Op: "write", Sector: sector, Err: fmt.Errorf("short write: %d bytes", n)}
	}
	return nil
}

func (d *File) Close() error {
	return d.f.Close()
}
