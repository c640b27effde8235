package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sectorfs/sectorfs"
	"github.com/sectorfs/sectorfs/internal/metrics"
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Mount the configured device and run an interactive line-oriented shell",
	Long: `Each line is one verb: create PATH | open PATH | write PATH TEXT |
read PATH | mkdir PATH | rm PATH | cd PATH | ls PATH | stat PATH |
metrics.
This is a test harness standing in for a syscall-dispatch layer, not a
production interface.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configureLogging(mountConfig)
		if err := mountConfig.Validate(); err != nil {
			return err
		}
		serveMetrics(mountConfig.MetricsAddr)

		dev, err := openDevice(mountConfig, false)
		if err != nil {
			return fmt.Errorf("opening device: %w", err)
		}
		defer dev.Close()

		ctx := context.Background()
		fs, err := sectorfs.Mount(ctx, paramsFromConfig(mountConfig, dev))
		if err != nil {
			return fmt.Errorf("mounting: %w", err)
		}
		defer fs.Close(ctx)

		wd, err := fs.RootHandle(ctx)
		if err != nil {
			return fmt.Errorf("opening root: %w", err)
		}

		return runShell(ctx, fs, wd, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(shellCmd)
}

func runShell(ctx context.Context, fs *sectorfs.Filesystem, wd *sectorfs.Handle, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.SplitN(line, " ", 3)
		verb := fields[0]
		var a1, a2 string
		if len(fields) > 1 {
			a1 = fields[1]
		}
		if len(fields) > 2 {
			a2 = fields[2]
		}

		var err error
		wd, err = dispatch(ctx, fs, wd, out, verb, a1, a2)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
	return scanner.Err()
}

func dispatch(ctx context.Context, fs *sectorfs.Filesystem, wd *sectorfs.Handle, out io.Writer, verb, a1, a2 string) (*sectorfs.Handle, error) {
	switch verb {
	case "create":
		return wd, fs.Create(ctx, wd, a1)
	case "open":
		h, err := fs.Open(ctx, wd, a1)
		if err != nil {
			return wd, err
		}
		return wd, h.Close(ctx)
	case "mkdir":
		return wd, fs.Mkdir(ctx, wd, a1)
	case "rm":
		return wd, fs.Remove(ctx, wd, a1)
	case "cd":
		next, err := fs.Chdir(ctx, wd, a1)
		if err != nil {
			return wd, err
		}
		wd.Close(ctx)
		return next, nil
	case "write":
		h, err := fs.Open(ctx, wd, a1)
		if err != nil {
			return wd, err
		}
		defer h.Close(ctx)
		_, err = h.Write(ctx, []byte(a2))
		return wd, err
	case "read":
		h, err := fs.Open(ctx, wd, a1)
		if err != nil {
			return wd, err
		}
		defer h.Close(ctx)
		buf := make([]byte, 4096)
		n, err := h.Read(ctx, buf)
		if err != nil && err != io.EOF {
			return wd, err
		}
		fmt.Fprintln(out, string(buf[:n]))
		return wd, nil
	case "ls":
		path := a1
		if path == "" {
			path = "."
		}
		h, err := fs.Open(ctx, wd, path)
		if err != nil {
			return wd, err
		}
		defer h.Close(ctx)
		entries, err := h.ReadDir(ctx)
		if err != nil {
			return wd, err
		}
		for _, e := range entries {
			fmt.Fprintln(out, e.Name)
		}
		return wd, nil
	case "stat":
		h, err := fs.Open(ctx, wd, a1)
		if err != nil {
			return wd, err
		}
		defer h.Close(ctx)
		isDir, err := h.IsDir(ctx)
		if err != nil {
			return wd, err
		}
		fmt.Fprintf(out, "inumber=%d is_dir=%t\n", h.Inumber(), isDir)
		return wd, nil
	case "metrics":
		fmt.Fprintln(out, metricsSnapshot())
		return wd, nil
	default:
		return wd, fmt.Errorf("unknown verb %q (want one of create/open/write/read/mkdir/rm/cd/ls/stat/metrics)", verb)
	}
}

func metricsSnapshot() string {
	mfs, err := metrics.Registry.Gather()
	if err != nil {
		return fmt.Sprintf("error gathering metrics: %v", err)
	}
	return strconv.Itoa(len(mfs)) + " metric families registered"
}
