package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sectorfs/sectorfs/cfg"
)

var (
	cfgFile       string
	bindErr       error
	configFileErr error
	unmarshalErr  error
	mountConfig   cfg.Config
)

var rootCmd = &cobra.Command{
	Use:   "sectorfs",
	Short: "Drive a sectorfs filesystem from the command line",
	Long: `sectorfs is a host-side harness around the sectorfs library: it
opens a disk-image file as the block device, formats or mounts a
filesystem on it, and runs one-shot or interactive shell commands
against it. It stands in for the kernel syscall-dispatch layer a real
mount would sit behind.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		if configFileErr != nil {
			return configFileErr
		}
		if unmarshalErr != nil {
			return unmarshalErr
		}
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to a YAML config file")
	bindErr = cfg.BindFlags(rootCmd.PersistentFlags())
}

func initConfig() {
	mountConfig = cfg.Defaults()
	if cfgFile == "" {
		unmarshalErr = viper.Unmarshal(&mountConfig)
		return
	}
	viper.SetConfigFile(cfgFile)
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		configFileErr = fmt.Errorf("reading config file: %w", err)
		return
	}
	unmarshalErr = viper.Unmarshal(&mountConfig)
}
