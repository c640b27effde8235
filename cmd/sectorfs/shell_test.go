package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sectorfs/sectorfs"
	"github.com/sectorfs/sectorfs/device"
)

func newShellFixture(t *testing.T) (*sectorfs.Filesystem, *sectorfs.Handle) {
	t.Helper()
	ctx := context.Background()
	dev := device.NewMemory(512, 2000)
	p := sectorfs.Params{
		Dev:           dev,
		SectorSize:    512,
		CacheEntries:  16,
		RootDirSector: 3,
		MaxNameLength: 63,
		BitmapStart:   1,
		BitmapSectors: 2,
		FirstData:     3,
		TotalSectors:  2000,
	}
	require.NoError(t, sectorfs.Format(ctx, p))
	fs, err := sectorfs.Mount(ctx, p)
	require.NoError(t, err)
	root, err := fs.RootHandle(ctx)
	require.NoError(t, err)
	return fs, root
}

// TestShellScriptCreateWriteReadLs exercises the line-oriented verbs
// the way an operator would from a saved script: create, write, read
// back, and list a directory.
func TestShellScriptCreateWriteReadLs(t *testing.T) {
	ctx := context.Background()
	fs, root := newShellFixture(t)
	defer fs.Close(ctx)
	defer root.Close(ctx)

	script := "create /greeting\n" +
		"write /greeting hello shell\n" +
		"read /greeting\n" +
		"mkdir /sub\n" +
		"ls /\n"

	var out bytes.Buffer
	require.NoError(t, runShell(ctx, fs, root, bytes.NewBufferString(script), &out))

	text := out.String()
	assert.Contains(t, text, "hello shell")
	assert.Contains(t, text, "greeting")
	assert.Contains(t, text, "sub")
}

// Unknown verbs and resolution errors are reported on the output
// stream rather than aborting the session, so a script can continue
// past a failed line — mirrors the source's interactive shell, which
// prints an error and keeps prompting.
func TestShellScriptReportsErrorsWithoutAborting(t *testing.T) {
	ctx := context.Background()
	fs, root := newShellFixture(t)
	defer fs.Close(ctx)
	defer root.Close(ctx)

	script := "open /missing\n" +
		"create /after-error\n" +
		"stat /after-error\n"

	var out bytes.Buffer
	require.NoError(t, runShell(ctx, fs, root, bytes.NewBufferString(script), &out))

	text := out.String()
	assert.Contains(t, text, "error:")
	assert.Contains(t, text, "is_dir=false")
}

// Blank lines and comment lines are skipped, matching a script file a
// user might hand-edit and re-run.
func TestShellScriptSkipsBlankAndCommentLines(t *testing.T) {
	ctx := context.Background()
	fs, root := newShellFixture(t)
	defer fs.Close(ctx)
	defer root.Close(ctx)

	script := "# set up a file\n\ncreate /x\nstat /x\n"

	var out bytes.Buffer
	require.NoError(t, runShell(ctx, fs, root, bytes.NewBufferString(script), &out))
	assert.Contains(t, out.String(), "is_dir=false")
}

// The cd verb replaces the working directory handle and closes the
// old one; a subsequent relative create should land in the new
// directory rather than the root. runShell itself closes the
// original root handle as part of the cd, so the test must not close
// it again afterward.
func TestShellScriptCdChangesWorkingDirectory(t *testing.T) {
	ctx := context.Background()
	fs, root := newShellFixture(t)
	defer fs.Close(ctx)

	script := "mkdir /sub\n" +
		"cd /sub\n" +
		"create nested\n" +
		"ls .\n"

	var out bytes.Buffer
	require.NoError(t, runShell(ctx, fs, root, bytes.NewBufferString(script), &out))
	assert.Contains(t, out.String(), "nested")
}
