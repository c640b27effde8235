package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sectorfs/sectorfs"
)

var fsckCmd = &cobra.Command{
	Use:   "fsck",
	Short: "Walk the directory tree and report sector-accounting consistency",
	Long: `fsck recursively walks every reachable directory starting at the
root, summing the sectors reachable from every inode it finds (direct,
indirect, and double-indirect blocks included), and checks that figure
against the allocator's free-sector count: every sector reported as
free plus every sector reachable from an inode should equal the
allocator's managed range. Sibling subdirectories are walked
concurrently.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configureLogging(mountConfig)
		if err := mountConfig.Validate(); err != nil {
			return err
		}

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

		root, err := fs.RootHandle(ctx)
		if err != nil {
			return err
		}
		defer root.Close(ctx)

		w := &walker{fs: fs, seen: map[uint32]bool{}}
		if _, err := w.visit(ctx, root.Inumber()); err != nil {
			return fmt.Errorf("fsck: %w", err)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return w.walkDir(gctx, root) })
		if err := g.Wait(); err != nil {
			return fmt.Errorf("fsck: %w", err)
		}

		free := fs.FreeSectors()
		managed := fs.ManagedSectors()
		reachable := uint32(w.total())
		fmt.Fprintf(cmd.OutOrStdout(), "fsck: %d inodes reachable from root, %d sectors reachable, %d sectors free, %d sectors managed\n",
			w.count(), reachable, free, managed)

		if reachable+free != managed {
			return fmt.Errorf("fsck: sector accounting mismatch: %d reachable + %d free = %d, want %d managed",
				reachable, free, reachable+free, managed)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(fsckCmd)
}

// walker accumulates the set of inode sectors reached while walking
// the tree, and the running total of sectors reachable from them;
// both seen and total are guarded by mu since sibling subdirectories
// are walked concurrently.
type walker struct {
	fs *sectorfs.Filesystem

	mu          sync.Mutex
	seen        map[uint32]bool
	sectorTotal int
}

func (w *walker) mark(sector uint32) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.seen[sector] {
		return false
	}
	w.seen[sector] = true
	return true
}

func (w *walker) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}

func (w *walker) total() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sectorTotal
}

// visit marks sector seen and folds in every sector reachable from
// its inode record, returning whether this call is the one that
// actually marked it (false if another path already visited it first
// — shouldn't happen without hard links, but fsck checks anyway).
func (w *walker) visit(ctx context.Context, sector uint32) (bool, error) {
	if !w.mark(sector) {
		return false, nil
	}
	n, err := w.fs.CountReachableSectors(ctx, sector)
	if err != nil {
		return true, fmt.Errorf("counting sectors for inode %d: %w", sector, err)
	}
	w.mu.Lock()
	w.sectorTotal += n
	w.mu.Unlock()
	return true, nil
}

func (w *walker) walkDir(ctx context.Context, dir *sectorfs.Handle) error {
	entries, err := dir.ReadDir(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, e := range entries {
		e := e
		g.Go(func() error {
			isNew, err := w.visit(gctx, e.Sector)
			if err != nil {
				return err
			}
			if !isNew {
				return nil
			}

			child, err := w.fs.Open(gctx, dir, e.Name)
			if err != nil {
				return fmt.Errorf("opening %q: %w", e.Name, err)
			}
			defer child.Close(gctx)

			isDir, err := child.IsDir(gctx)
			if err != nil {
				return err
			}
			if isDir {
				return w.walkDir(gctx, child)
			}
			return nil
		})
	}
	return g.Wait()
}
