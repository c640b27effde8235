// Package cfg defines sectorfs's configuration surface: one Config
// struct decoded by viper/mapstructure from flags, environment, and an
// optional config file, following a generated cfg.Config/BindFlags
// pair's shape — but hand-written here since sectorfs's flag set is
// small and stable enough not to warrant codegen.
package cfg

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the full set of knobs a mounted Filesystem needs.
type Config struct {
	DevicePath    string `yaml:"device-path" mapstructure:"device-path"`
	SectorSize    int    `yaml:"sector-size" mapstructure:"sector-size"`
	CacheEntries  int    `yaml:"cache-entries" mapstructure:"cache-entries"`
	RootDirSector uint32 `yaml:"root-dir-sector" mapstructure:"root-dir-sector"`
	MaxNameLength int    `yaml:"max-name-length" mapstructure:"max-name-length"`
	TotalSectors  uint32 `yaml:"total-sectors" mapstructure:"total-sectors"`
	BitmapStart   uint32 `yaml:"bitmap-start" mapstructure:"bitmap-start"`
	BitmapSectors uint32 `yaml:"bitmap-sectors" mapstructure:"bitmap-sectors"`
	FirstData     uint32 `yaml:"first-data-sector" mapstructure:"first-data-sector"`

	LogSeverity string `yaml:"log-severity" mapstructure:"log-severity"`
	LogFormat   string `yaml:"log-format" mapstructure:"log-format"`
	LogFilePath string `yaml:"log-file-path" mapstructure:"log-file-path"`

	MetricsAddr string `yaml:"metrics-addr" mapstructure:"metrics-addr"`
}

// Defaults match the typical configuration: SZ=512, K=64, D/E derived
// from SZ, N chosen to keep directory records a convenient size.
func Defaults() Config {
	return Config{
		SectorSize:    512,
		CacheEntries:  64,
		RootDirSector: 3,
		MaxNameLength: 63,
		TotalSectors:  8192,
		BitmapStart:   1,
		BitmapSectors: 2,
		FirstData:     3,
		LogSeverity:   "info",
		LogFormat:     "text",
	}
}

// BindFlags registers every Config field onto flagSet and binds it
// into viper, checking each bind's error individually.
func BindFlags(flagSet *pflag.FlagSet) error {
	d := Defaults()

	flagSet.StringP("device-path", "", "", "Path to the backing disk-image file.")
	if err := viper.BindPFlag("device-path", flagSet.Lookup("device-path")); err != nil {
		return err
	}

	flagSet.IntP("sector-size", "", d.SectorSize, "Bytes per sector (SZ).")
	if err := viper.BindPFlag("sector-size", flagSet.Lookup("sector-size")); err != nil {
		return err
	}

	flagSet.IntP("cache-entries", "", d.CacheEntries, "Buffer cache capacity in sectors (K).")
	if err := viper.BindPFlag("cache-entries", flagSet.Lookup("cache-entries")); err != nil {
		return err
	}

	flagSet.Uint32P("root-dir-sector", "", d.RootDirSector, "Sector number of the root directory.")
	if err := viper.BindPFlag("root-dir-sector", flagSet.Lookup("root-dir-sector")); err != nil {
		return err
	}

	flagSet.IntP("max-name-length", "", d.MaxNameLength, "Maximum directory-entry name length (N).")
	if err := viper.BindPFlag("max-name-length", flagSet.Lookup("max-name-length")); err != nil {
		return err
	}

	flagSet.Uint32P("total-sectors", "", d.TotalSectors, "Total sectors on the device.")
	if err := viper.BindPFlag("total-sectors", flagSet.Lookup("total-sectors")); err != nil {
		return err
	}

	flagSet.Uint32P("bitmap-start", "", d.BitmapStart, "First sector of the free-sector bitmap region.")
	if err := viper.BindPFlag("bitmap-start", flagSet.Lookup("bitmap-start")); err != nil {
		return err
	}

	flagSet.Uint32P("bitmap-sectors", "", d.BitmapSectors, "Number of sectors the bitmap region occupies.")
	if err := viper.BindPFlag("bitmap-sectors", flagSet.Lookup("bitmap-sectors")); err != nil {
		return err
	}

	flagSet.Uint32P("first-data-sector", "", d.FirstData, "First sector the allocator may hand out.")
	if err := viper.BindPFlag("first-data-sector", flagSet.Lookup("first-data-sector")); err != nil {
		return err
	}

	flagSet.StringP("log-severity", "", d.LogSeverity, "Minimum log severity: trace, debug, info, warning, error, off.")
	if err := viper.BindPFlag("log-severity", flagSet.Lookup("log-severity")); err != nil {
		return err
	}

	flagSet.StringP("log-format", "", d.LogFormat, "Log output format: text or json.")
	if err := viper.BindPFlag("log-format", flagSet.Lookup("log-format")); err != nil {
		return err
	}

	flagSet.StringP("log-file-path", "", d.LogFilePath, "Path to a log file to rotate logs into; empty logs to stderr.")
	if err := viper.BindPFlag("log-file-path", flagSet.Lookup("log-file-path")); err != nil {
		return err
	}

	flagSet.StringP("metrics-addr", "", "", "Address to serve /metrics on, e.g. :9090. Empty disables it.")
	if err := viper.BindPFlag("metrics-addr", flagSet.Lookup("metrics-addr")); err != nil {
		return err
	}

	return nil
}

// Validate rejects configurations that would violate on-disk layout
// invariants before a Format/Mount ever touches the device.
func (c Config) Validate() error {
	if c.DevicePath == "" {
		return fmt.Errorf("cfg: device-path is required")
	}
	if c.SectorSize <= 0 || c.SectorSize%4 != 0 {
		return fmt.Errorf("cfg: sector-size must be a positive multiple of 4, got %d", c.SectorSize)
	}
	if c.CacheEntries <= 0 {
		return fmt.Errorf("cfg: cache-entries must be positive, got %d", c.CacheEntries)
	}
	if c.RootDirSector == 0 {
		return fmt.Errorf("cfg: root-dir-sector must be nonzero (sector 0 means \"no sector\")")
	}
	if c.MaxNameLength <= 0 {
		return fmt.Errorf("cfg: max-name-length must be positive, got %d", c.MaxNameLength)
	}
	if c.BitmapStart == 0 {
		return fmt.Errorf("cfg: bitmap-start must be nonzero")
	}
	if c.FirstData < c.BitmapStart+c.BitmapSectors {
		return fmt.Errorf("cfg: first-data-sector must be past the bitmap region")
	}
	if c.FirstData >= c.TotalSectors {
		return fmt.Errorf("cfg: first-data-sector must be less than total-sectors")
	}
	if c.RootDirSector < c.FirstData || c.RootDirSector >= c.TotalSectors {
		return fmt.Errorf("cfg: root-dir-sector must fall within the allocator's data region")
	}
	return nil
}
