package cfg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultsAreValidOnceDevicePathIsSet(t *testing.T) {
	c := Defaults()
	c.DevicePath = "/tmp/sectorfs.img"
	assert.NoError(t, c.Validate())
}

func TestValidateRejectsMissingDevicePath(t *testing.T) {
	c := Defaults()
	assert.Error(t, c.Validate())
}

func TestValidateRejectsBadSectorSize(t *testing.T) {
	c := Defaults()
	c.DevicePath = "/tmp/sectorfs.img"
	c.SectorSize = 511
	assert.Error(t, c.Validate())
}

func TestValidateRejectsRootOutsideDataRegion(t *testing.T) {
	c := Defaults()
	c.DevicePath = "/tmp/sectorfs.img"
	c.RootDirSector = c.FirstData - 1
	assert.Error(t, c.Validate())
}
