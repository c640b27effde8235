// Package pathresolve turns a possibly-absolute path string into a
// (parent directory handle, leaf name) pair, ready for the filesystem
// façade to act on.
package pathresolve

import (
	"context"
	"strings"

	"github.com/sectorfs/sectorfs/directory"
	"github.com/sectorfs/sectorfs/ferrors"
	"github.com/sectorfs/sectorfs/inode"
)

// Resolver is whatever the façade needs to reopen directory inodes
// and know the root sector and maximum name length; narrowed to an
// interface so this package never imports the façade package (which
// would be a cycle, since the façade is pathresolve's only caller).
type Resolver interface {
	Table() *inode.Table
	Store() *inode.Store
	RootSector() uint32
	MaxName() int
}

// Resolve maps path to its parent directory and leaf name: a leading
// "/" starts at the root; otherwise resolution starts at wd (the
// caller's reopened working directory). Tokens are
// walked open-child-then-close-parent, so a concurrent removal of an
// intermediate component cannot leave a dangling reference to a freed
// inode. The root path "/" resolves to leaf "." so callers can
// re-resolve the root directory itself.
func Resolve(ctx context.Context, r Resolver, wd *inode.Handle, path string) (parent *inode.Handle, leaf string, err error) {
	if path == "" {
		return nil, "", ferrors.ErrNotFound
	}

	var cur *inode.Handle
	var tokens []string
	if strings.HasPrefix(path, "/") {
		cur, err = r.Table().Open(ctx, r.RootSector())
		if err != nil {
			return nil, "", err
		}
		tokens = splitPath(path)
		if len(tokens) == 0 {
			// bare "/": parent is the root itself, leaf is "."
			return cur, ".", nil
		}
	} else {
		cur, err = r.Table().Open(ctx, wd.Sector())
		if err != nil {
			return nil, "", err
		}
		tokens = splitPath(path)
		if len(tokens) == 0 {
			return nil, "", ferrors.ErrNotFound
		}
	}

	for i, tok := range tokens {
		if len(tok) > r.MaxName() {
			r.Table().Close(ctx, cur)
			return nil, "", ferrors.ErrNameTooLong
		}
		isDir, err := cur.IsDir(ctx)
		if err != nil {
			r.Table().Close(ctx, cur)
			return nil, "", err
		}
		if !isDir {
			r.Table().Close(ctx, cur)
			return nil, "", ferrors.ErrNotADirectory
		}

		last := i == len(tokens)-1
		if last {
			return cur, tok, nil
		}

		d := directory.Dir{Handle: cur, MaxName: r.MaxName()}
		entry, found, err := d.Lookup(ctx, tok)
		if err != nil {
			r.Table().Close(ctx, cur)
			return nil, "", err
		}
		if !found {
			r.Table().Close(ctx, cur)
			return nil, "", ferrors.ErrNotFound
		}

		child, err := r.Table().Open(ctx, entry.Sector)
		if err != nil {
			r.Table().Close(ctx, cur)
			return nil, "", err
		}
		// Close the parent only after the child is open: never leave a
		// gap where neither handle is held.
		r.Table().Close(ctx, cur)
		cur = child
	}

	// Unreachable: the loop above always returns on its last iteration.
	return cur, "", ferrors.ErrNotFound
}

func splitPath(path string) []string {
	parts := strings.Split(path, "/")
	var out []string
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
