package alloc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sectorfs/sectorfs/device"
)

func newTestBitmap(t *testing.T, firstData, total uint32) (*Bitmap, device.Device) {
	t.Helper()
	dev := device.NewMemory(512, total+4)
	b, err := CreateBitmap(context.Background(), dev, 0, 2, firstData, total)
	require.NoError(t, err)
	return b, dev
}

func TestBitmapAllocateRelease(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBitmap(t, 1, 10)

	s1, err := b.Allocate(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), s1)

	s2, err := b.Allocate(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), s2)
	assert.Equal(t, uint32(7), b.Free())

	require.NoError(t, b.Release(ctx, s1))
	assert.Equal(t, uint32(8), b.Free())

	s3, err := b.Allocate(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), s3, "released sector should be reused before untouched ones")
}

func TestBitmapOutOfSpace(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBitmap(t, 1, 3)

	_, err := b.Allocate(ctx)
	require.NoError(t, err)
	_, err = b.Allocate(ctx)
	require.NoError(t, err)
	_, err = b.Allocate(ctx)
	require.ErrorIs(t, err, ErrOutOfSpace)
}

func TestBitmapMarkAllocatedReservesWithoutHandingItOutAgain(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBitmap(t, 1, 5)

	require.NoError(t, b.MarkAllocated(ctx, 2))
	assert.Equal(t, uint32(3), b.Free())

	s1, err := b.Allocate(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, uint32(2), s1, "a sector reserved by MarkAllocated must never be handed out by Allocate")

	s2, err := b.Allocate(ctx)
	require.NoError(t, err)
	s3, err := b.Allocate(ctx)
	require.NoError(t, err)
	for _, s := range []uint32{s1, s2, s3} {
		assert.NotEqual(t, uint32(2), s)
	}
}

func TestBitmapMarkAllocatedRejectsAlreadyAllocated(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBitmap(t, 1, 5)

	require.NoError(t, b.MarkAllocated(ctx, 2))
	err := b.MarkAllocated(ctx, 2)
	assert.Error(t, err, "marking an already-allocated sector again must fail rather than silently succeed")
}

func TestBitmapPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dev := device.NewMemory(512, 20)
	b, err := CreateBitmap(ctx, dev, 0, 2, 1, 16)
	require.NoError(t, err)

	s1, err := b.Allocate(ctx)
	require.NoError(t, err)

	reopened, err := OpenBitmap(ctx, dev, 0, 2, 1, 16)
	require.NoError(t, err)
	assert.Equal(t, b.Free(), reopened.Free())

	// the reopened bitmap must not hand out s1 again
	var sectors []uint32
	for i := 0; i < 14; i++ {
		s, err := reopened.Allocate(ctx)
		require.NoError(t, err)
		sectors = append(sectors, s)
	}
	for _, s := range sectors {
		assert.NotEqual(t, s1, s)
	}
}
