package inode

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sectorfs/sectorfs/alloc"
	"github.com/sectorfs/sectorfs/cache"
	"github.com/sectorfs/sectorfs/device"
)

// newTestStore uses a small sector size so direct/indirect/double-indirect
// boundaries (D=11, E=16 at SZ=64) are reachable with a tiny device,
// instead of needing tens of thousands of bytes at the usual SZ=512.
func newTestStore(t *testing.T) (*Store, device.Device) {
	t.Helper()
	layout := NewLayout(64)
	dev := device.NewMemory(64, 600)
	bm, err := alloc.CreateBitmap(context.Background(), dev, 0, 2, 2, 600)
	require.NoError(t, err)
	return &Store{Cache: cache.New(dev, 32), Alloc: bm, Layout: layout}, dev
}

func TestCreateReadWriteDirectRange(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	sec, err := store.Alloc.Allocate(ctx)
	require.NoError(t, err)
	require.NoError(t, Create(ctx, store, sec, false))

	table := NewTable(store)
	h, err := table.Open(ctx, sec)
	require.NoError(t, err)

	data := []byte("hello, sectorfs")
	n, err := h.WriteAt(ctx, data, 0)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)

	got := make([]byte, len(data))
	n, err = h.ReadAt(ctx, got, 0)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.Equal(t, data, got)

	length, err := h.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), length)
}

func TestWriteAtCrossesIndirectBoundary(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	sec, err := store.Alloc.Allocate(ctx)
	require.NoError(t, err)
	require.NoError(t, Create(ctx, store, sec, false))

	table := NewTable(store)
	h, err := table.Open(ctx, sec)
	require.NoError(t, err)

	// D=11 direct sectors of 64 bytes each; start writing just before the
	// boundary so the write spans into the indirect block.
	off := int64(store.Layout.Direct-1) * int64(store.Layout.SectorSize)
	data := bytes.Repeat([]byte{0x5A}, 3*store.Layout.SectorSize)
	n, err := h.WriteAt(ctx, data, off)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)

	got := make([]byte, len(data))
	_, err = h.ReadAt(ctx, got, off)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestWriteAtCrossesDoubleIndirectBoundary(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	sec, err := store.Alloc.Allocate(ctx)
	require.NoError(t, err)
	require.NoError(t, Create(ctx, store, sec, false))

	table := NewTable(store)
	h, err := table.Open(ctx, sec)
	require.NoError(t, err)

	d, e := int64(store.Layout.Direct), int64(store.Layout.Entries)
	off := (d + e - 1) * int64(store.Layout.SectorSize)
	data := bytes.Repeat([]byte{0x42}, 3*store.Layout.SectorSize)
	_, err = h.WriteAt(ctx, data, off)
	require.NoError(t, err)

	got := make([]byte, len(data))
	_, err = h.ReadAt(ctx, got, off)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestReadPastEOFIsShort(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	sec, err := store.Alloc.Allocate(ctx)
	require.NoError(t, err)
	require.NoError(t, Create(ctx, store, sec, false))

	table := NewTable(store)
	h, err := table.Open(ctx, sec)
	require.NoError(t, err)

	_, err = h.WriteAt(ctx, []byte("abc"), 0)
	require.NoError(t, err)

	buf := make([]byte, 100)
	n, err := h.ReadAt(ctx, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestDenyWriteBlocksWriteAt(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	sec, err := store.Alloc.Allocate(ctx)
	require.NoError(t, err)
	require.NoError(t, Create(ctx, store, sec, false))

	table := NewTable(store)
	h, err := table.Open(ctx, sec)
	require.NoError(t, err)

	require.NoError(t, h.DenyWrite())
	_, err = h.WriteAt(ctx, []byte("x"), 0)
	assert.Error(t, err)

	h.AllowWrite()
	_, err = h.WriteAt(ctx, []byte("x"), 0)
	assert.NoError(t, err)
}

func TestFreeSectorsReclaimsAllocatedSpace(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	sec, err := store.Alloc.Allocate(ctx)
	require.NoError(t, err)
	require.NoError(t, Create(ctx, store, sec, false))

	table := NewTable(store)
	h, err := table.Open(ctx, sec)
	require.NoError(t, err)

	d, e := int64(store.Layout.Direct), int64(store.Layout.Entries)
	off := (d + e - 1) * int64(store.Layout.SectorSize)
	data := bytes.Repeat([]byte{0x1}, 3*store.Layout.SectorSize)
	_, err = h.WriteAt(ctx, data, off)
	require.NoError(t, err)

	before := store.Alloc.Free()
	table.Remove(h)
	require.NoError(t, table.Close(ctx, h))
	after := store.Alloc.Free()
	assert.Greater(t, after, before)
}
