package inode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOnDiskEncodeDecodeRoundTrip(t *testing.T) {
	layout := NewLayout(512)
	d := newOnDisk(layout, true)
	d.Direct[0] = 42
	d.Direct[5] = 7
	d.Indirect = 99
	d.DoubleIndirect = 100
	d.Length = 4096

	buf := d.encode(layout)
	assert.Len(t, buf, layout.SectorSize)

	got, err := decodeOnDisk(buf, layout)
	require.NoError(t, err)
	assert.Equal(t, d.Direct, got.Direct)
	assert.Equal(t, d.Indirect, got.Indirect)
	assert.Equal(t, d.DoubleIndirect, got.DoubleIndirect)
	assert.Equal(t, d.Length, got.Length)
	assert.True(t, got.IsDir)
	assert.Equal(t, Magic, got.Magic)
}

func TestDecodeOnDiskRejectsBadMagic(t *testing.T) {
	layout := NewLayout(512)
	buf := make([]byte, layout.SectorSize)
	_, err := decodeOnDisk(buf, layout)
	assert.Error(t, err)
}

func TestDecodeOnDiskRejectsWrongLength(t *testing.T) {
	layout := NewLayout(512)
	_, err := decodeOnDisk(make([]byte, 10), layout)
	assert.Error(t, err)
}
