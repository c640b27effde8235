package pathresolve

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sectorfs/sectorfs/alloc"
	"github.com/sectorfs/sectorfs/cache"
	"github.com/sectorfs/sectorfs/device"
	"github.com/sectorfs/sectorfs/directory"
	"github.com/sectorfs/sectorfs/ferrors"
	"github.com/sectorfs/sectorfs/inode"
)

const testMaxName = 14

type fakeResolver struct {
	table      *inode.Table
	store      *inode.Store
	rootSector uint32
	maxName    int
}

func (f *fakeResolver) Table() *inode.Table    { return f.table }
func (f *fakeResolver) Store() *inode.Store    { return f.store }
func (f *fakeResolver) RootSector() uint32     { return f.rootSector }
func (f *fakeResolver) MaxName() int           { return f.maxName }

func newFixture(t *testing.T) (*fakeResolver, *inode.Handle) {
	t.Helper()
	ctx := context.Background()
	layout := inode.NewLayout(64)
	dev := device.NewMemory(64, 400)
	bm, err := alloc.CreateBitmap(ctx, dev, 0, 2, 2, 400)
	require.NoError(t, err)
	store := &inode.Store{Cache: cache.New(dev, 16), Alloc: bm, Layout: layout}
	table := inode.NewTable(store)

	root, err := store.Alloc.Allocate(ctx)
	require.NoError(t, err)
	require.NoError(t, directory.CreateEmpty(ctx, store, table, int(root), int(root), testMaxName))

	r := &fakeResolver{table: table, store: store, rootSector: root, maxName: testMaxName}

	rootHandle, err := table.Open(ctx, root)
	require.NoError(t, err)

	sub, err := store.Alloc.Allocate(ctx)
	require.NoError(t, err)
	require.NoError(t, directory.CreateEmpty(ctx, store, table, int(sub), int(root), testMaxName))
	rd := directory.Dir{Handle: rootHandle, MaxName: testMaxName}
	require.NoError(t, rd.Add(ctx, "sub", sub))

	fileSec, err := store.Alloc.Allocate(ctx)
	require.NoError(t, err)
	require.NoError(t, inode.Create(ctx, store, fileSec, false))
	require.NoError(t, rd.Add(ctx, "top.txt", fileSec))

	subHandle, err := table.Open(ctx, sub)
	require.NoError(t, err)
	sd := directory.Dir{Handle: subHandle, MaxName: testMaxName}
	nestedSec, err := store.Alloc.Allocate(ctx)
	require.NoError(t, err)
	require.NoError(t, inode.Create(ctx, store, nestedSec, false))
	require.NoError(t, sd.Add(ctx, "nested.txt", nestedSec))
	require.NoError(t, table.Close(ctx, subHandle))

	return r, rootHandle
}

func TestResolveAbsoluteTopLevel(t *testing.T) {
	ctx := context.Background()
	r, wd := newFixture(t)
	defer r.table.Close(ctx, wd)

	parent, leaf, err := Resolve(ctx, r, wd, "/top.txt")
	require.NoError(t, err)
	assert.Equal(t, "top.txt", leaf)
	assert.Equal(t, r.rootSector, parent.Sector())
	require.NoError(t, r.table.Close(ctx, parent))
}

func TestResolveAbsoluteNested(t *testing.T) {
	ctx := context.Background()
	r, wd := newFixture(t)
	defer r.table.Close(ctx, wd)

	parent, leaf, err := Resolve(ctx, r, wd, "/sub/nested.txt")
	require.NoError(t, err)
	assert.Equal(t, "nested.txt", leaf)
	require.NoError(t, r.table.Close(ctx, parent))
}

func TestResolveRootYieldsDotLeaf(t *testing.T) {
	ctx := context.Background()
	r, wd := newFixture(t)
	defer r.table.Close(ctx, wd)

	parent, leaf, err := Resolve(ctx, r, wd, "/")
	require.NoError(t, err)
	assert.Equal(t, ".", leaf)
	assert.Equal(t, r.rootSector, parent.Sector())
	require.NoError(t, r.table.Close(ctx, parent))
}

func TestResolveFileIntermediateIsNotADirectory(t *testing.T) {
	ctx := context.Background()
	r, wd := newFixture(t)
	defer r.table.Close(ctx, wd)

	_, _, err := Resolve(ctx, r, wd, "/top.txt/nope")
	assert.ErrorIs(t, err, ferrors.ErrNotADirectory)
}

func TestResolveNameTooLong(t *testing.T) {
	ctx := context.Background()
	r, wd := newFixture(t)
	defer r.table.Close(ctx, wd)

	longName := make([]byte, testMaxName+2)
	for i := range longName {
		longName[i] = 'z'
	}
	_, _, err := Resolve(ctx, r, wd, "/"+string(longName))
	assert.ErrorIs(t, err, ferrors.ErrNameTooLong)
}
