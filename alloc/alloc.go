// Package alloc implements the free-sector allocator as an external
// collaborator behind a narrow interface, with a concrete bitmap-backed
// implementation so the rest of the stack has something real to drive.
package alloc

import "context"

// Allocator reserves and releases single sector numbers. The core
// filesystem never asks for more than one sector at a time, so unlike
// the source's free_map_allocate(n, ...)/free_map_release(n, ...),
// this interface is narrowed to single-sector calls — see DESIGN.md
// for why the n-sector form was dropped rather than kept unused.
type Allocator interface {
	// Allocate reserves and returns one free sector number. Returns
	// ErrOutOfSpace if none remain.
	Allocate(ctx context.Context) (sector uint32, err error)

	// Release returns a previously allocated sector to the free pool.
	Release(ctx context.Context, sector uint32) error

	// MarkAllocated reserves a specific sector whose use is already
	// decided before any Allocate call runs, such as a well-known root
	// sector formatted directly rather than handed out by the
	// allocator.
	MarkAllocated(ctx context.Context, sector uint32) error

	// Free reports the number of currently unallocated sectors.
	Free() uint32
}
