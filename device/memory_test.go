package device

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRoundTrip(t *testing.T) {
	d := NewMemory(512, 4)
	ctx := context.Background()

	want := make([]byte, 512)
	for i := range want {
		want[i] = byte(i)
	}
	require.NoError(t, d.WriteSector(ctx, 2, want))

	got := make([]byte, 512)
	require.NoError(t, d.ReadSector(ctx, 2, got))
	assert.Equal(t, want, got)

	// untouched sectors stay zero
	zero := make([]byte, 512)
	got2 := make([]byte, 512)
	require.NoError(t, d.ReadSector(ctx, 0, got2))
	assert.Equal(t, zero, got2)
}

func TestMemoryOutOfRangePanics(t *testing.T) {
	d := NewMemory(512, 4)
	ctx := context.Background()
	buf := make([]byte, 512)
	assert.Panics(t, func() {
		_ = d.ReadSector(ctx, 4, buf)
	})
}

func TestMemoryInjectedFailure(t *testing.T) {
	d := NewMemory(512, 4)
	d.FailSectors[1] = true
	ctx := context.Background()
	buf := make([]byte, 512)
	err := d.ReadSector(ctx, 1, buf)
	require.Error(t, err)
	var fe *FatalError
	assert.ErrorAs(t, err, &fe)
}
