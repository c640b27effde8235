package sectorfs

import (
	"context"
	"fmt"
	"io"

	"github.com/sectorfs/sectorfs/directory"
	"github.com/sectorfs/sectorfs/inode"
)

// Handle is the per-caller file-descriptor analogue: a cursor over an
// open inode, supporting Read/Write/Seek/Tell plus
// ReadDir/IsDir/Inumber for directory and introspection use. Each
// caller that opens the same path gets its own Handle and cursor, but
// all Handles on the same inode share one *inode.Handle (and thus one
// set of underlying sectors) via the open-inode table.
type Handle struct {
	fs     *Filesystem
	ino    *inode.Handle
	cursor int64
}

// Read fills p from the current cursor position and advances it by
// the number of bytes actually read.
func (h *Handle) Read(ctx context.Context, p []byte) (int, error) {
	n, err := h.ino.ReadAt(ctx, p, h.cursor)
	h.cursor += int64(n)
	if err == nil && n == 0 && len(p) > 0 {
		err = io.EOF
	}
	return n, err
}

// Write writes p at the current cursor position and advances it,
// extending the file as needed.
func (h *Handle) Write(ctx context.Context, p []byte) (int, error) {
	n, err := h.ino.WriteAt(ctx, p, h.cursor)
	h.cursor += int64(n)
	return n, err
}

// Seek sets the cursor to an absolute byte offset.
func (h *Handle) Seek(offset int64) error {
	if offset < 0 {
		return fmt.Errorf("sectorfs: negative seek offset %d", offset)
	}
	h.cursor = offset
	return nil
}

// Tell returns the current cursor position.
func (h *Handle) Tell() int64 { return h.cursor }

// IsDir reports whether this handle's inode is a directory.
func (h *Handle) IsDir(ctx context.Context) (bool, error) {
	return h.ino.IsDir(ctx)
}

// Inumber returns the on-disk sector backing this handle, the closest
// analogue to a Pintos inumber.
func (h *Handle) Inumber() uint32 { return h.ino.Sector() }

// ReadDir returns the directory's entries excluding "." and "..". It
// is an error to call this on a non-directory handle.
func (h *Handle) ReadDir(ctx context.Context) ([]directory.Entry, error) {
	isDir, err := h.ino.IsDir(ctx)
	if err != nil {
		return nil, err
	}
	if !isDir {
		return nil, fmt.Errorf("sectorfs: ReadDir on a non-directory inode %d", h.ino.Sector())
	}
	d := directory.Dir{Handle: h.ino, MaxName: h.fs.maxName}
	return d.ReadDir(ctx)
}

// Close releases this Handle's reference to its underlying inode.
func (h *Handle) Close(ctx context.Context) error {
	return h.fs.table.Close(ctx, h.ino)
}
