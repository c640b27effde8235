package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/sectorfs/sectorfs/cfg"
	"github.com/sectorfs/sectorfs/device"
	"github.com/sectorfs/sectorfs/internal/logger"
	"github.com/sectorfs/sectorfs"
	"github.com/sectorfs/sectorfs/internal/metrics"
)

// configureLogging parses the configured severity and, when a log
// file path is set, points the logger at a lumberjack.Logger instead
// of stderr so a long-running mount rotates its own log rather than
// growing a single file without bound.
func configureLogging(c cfg.Config) {
	sev, err := logger.ParseSeverity(c.LogSeverity)
	if err != nil {
		sev = logger.INFO
	}
	var w io.Writer
	if c.LogFilePath != "" {
		w = &lumberjack.Logger{
			Filename:   c.LogFilePath,
			MaxSize:    100, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
	}
	logger.Init(sev, c.LogFormat, w)
}

func serveMetrics(addr string) {
	if addr == "" {
		return
	}
	go func() {
		if err := metrics.Serve(addr); err != nil {
			logger.Errorf("metrics server stopped: %v", err)
		}
	}()
}

func paramsFromConfig(c cfg.Config, dev device.Device) sectorfs.Params {
	return sectorfs.Params{
		Dev:           dev,
		SectorSize:    c.SectorSize,
		CacheEntries:  c.CacheEntries,
		RootDirSector: c.RootDirSector,
		MaxNameLength: c.MaxNameLength,
		BitmapStart:   c.BitmapStart,
		BitmapSectors: c.BitmapSectors,
		FirstData:     c.FirstData,
		TotalSectors:  c.TotalSectors,
	}
}

func openDevice(c cfg.Config, create bool) (device.Device, error) {
	return device.OpenFile(device.OpenFileOptions{
		Path:       c.DevicePath,
		SectorSize: c.SectorSize,
		Sectors:    c.TotalSectors,
		Create:     create,
	})
}

var formatCmd = &cobra.Command{
	Use:   "format",
	Short: "Format the configured device with a fresh, empty filesystem",
	RunE: func(cmd *cobra.Command, args []string) error {
		configureLogging(mountConfig)
		if err := mountConfig.Validate(); err != nil {
			return err
		}
		dev, err := openDevice(mountConfig, true)
		if err != nil {
			return fmt.Errorf("opening device: %w", err)
		}
		defer dev.Close()

		ctx := context.Background()
		if err := sectorfs.Format(ctx, paramsFromConfig(mountConfig, dev)); err != nil {
			return err
		}
		fmt.Println("sectorfs: format complete")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(formatCmd)
}
