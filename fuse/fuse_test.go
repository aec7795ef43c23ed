package fuse

import (
	"errors"
	"os"
	"syscall"
	"testing"

	gofuse "github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brettbedarf/ramfs"
	"github.com/brettbedarf/ramfs/config"
	"github.com/brettbedarf/ramfs/ramdisk"
	"github.com/brettbedarf/ramfs/vfs"
)

func newTestRaw(t *testing.T) (*FuseRaw, *ramdisk.FileSystem) {
	t.Helper()
	cfg := config.NewConfig(nil)
	core := ramdisk.New(cfg)
	return NewFuseRaw(core, cfg), core
}

// seed writes a file into the core directly.
func seed(t *testing.T, core *ramdisk.FileSystem, path string, data []byte) {
	t.Helper()
	fh, err := core.Open(path, vfs.ModeWrite|vfs.ModeTrunc)
	require.NoError(t, err)
	_, err = core.Write(fh, data)
	require.NoError(t, err)
	require.NoError(t, core.Close(fh))
}

func TestModeFromFlags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		flags uint32
		want  vfs.OpenMode
	}{
		{"read only", uint32(os.O_RDONLY), vfs.ModeRead},
		{"write only", uint32(os.O_WRONLY), vfs.ModeWrite},
		{"read write", uint32(os.O_RDWR), vfs.ModeRead | vfs.ModeWrite},
		{"append", uint32(os.O_WRONLY | os.O_APPEND), vfs.ModeWrite | vfs.ModeAppend},
		{"truncate", uint32(os.O_WRONLY | os.O_TRUNC), vfs.ModeWrite | vfs.ModeTrunc},
		{"directory", uint32(os.O_RDONLY | syscall.O_DIRECTORY), vfs.ModeRead | vfs.ModeDir},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, modeFromFlags(tt.flags))
		})
	}
}

func TestErrnoOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want syscall.Errno
	}{
		{ramfs.ErrNotFound, syscall.ENOENT},
		{ramfs.ErrIsDirectory, syscall.EISDIR},
		{ramfs.ErrInvalidArgument, syscall.EINVAL},
		{ramfs.ErrBusy, syscall.EBUSY},
		{ramfs.ErrBadHandle, syscall.EBADF},
		{ramfs.ErrOutOfSpace, syscall.ENOSPC},
		{ramfs.ErrInvalidOffset, syscall.EINVAL},
		{errors.New("anything else"), syscall.EIO},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, errnoOf(tt.err), "for %v", tt.err)
	}

	assert.Equal(t, gofuse.OK, toStatus(nil))
	assert.Equal(t, gofuse.ENOENT, toStatus(ramfs.ErrNotFound))
}

func TestJoinPath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "file.txt", joinPath("", "file.txt"))
	assert.Equal(t, "dir/file.txt", joinPath("dir", "file.txt"))
}

func TestLookup_ResolvesChildOfRoot(t *testing.T) {
	t.Parallel()
	raw, core := newTestRaw(t)
	seed(t, core, "hello.txt", []byte("hello"))

	var out gofuse.EntryOut
	header := &gofuse.InHeader{NodeId: gofuse.FUSE_ROOT_ID}
	st := raw.Lookup(nil, header, "hello.txt", &out)
	require.Equal(t, gofuse.OK, st)

	assert.NotZero(t, out.NodeId)
	assert.NotEqual(t, uint64(gofuse.FUSE_ROOT_ID), out.NodeId)
	assert.EqualValues(t, syscall.S_IFREG, out.Attr.Mode&syscall.S_IFMT)
	assert.EqualValues(t, 5, out.Attr.Size)
	assert.EqualValues(t, 1, out.Attr.Nlink)

	// Same path, same node ID.
	var again gofuse.EntryOut
	require.Equal(t, gofuse.OK, raw.Lookup(nil, header, "hello.txt", &again))
	assert.Equal(t, out.NodeId, again.NodeId)

	assert.Equal(t, gofuse.ENOENT, raw.Lookup(nil, header, "missing.txt", &out))
}

func TestGetAttr_RootIsDirectory(t *testing.T) {
	t.Parallel()
	raw, _ := newTestRaw(t)

	var out gofuse.AttrOut
	st := raw.GetAttr(nil, &gofuse.GetAttrIn{InHeader: gofuse.InHeader{NodeId: gofuse.FUSE_ROOT_ID}}, &out)
	require.Equal(t, gofuse.OK, st)
	assert.EqualValues(t, syscall.S_IFDIR, out.Attr.Mode&syscall.S_IFMT)
	assert.EqualValues(t, 2, out.Attr.Nlink)

	st = raw.GetAttr(nil, &gofuse.GetAttrIn{InHeader: gofuse.InHeader{NodeId: 9999}}, &out)
	assert.Equal(t, gofuse.ENOENT, st)
}

func TestOpenReadWriteRelease(t *testing.T) {
	t.Parallel()
	raw, core := newTestRaw(t)
	seed(t, core, "io.txt", []byte("0123456789"))

	var entry gofuse.EntryOut
	header := &gofuse.InHeader{NodeId: gofuse.FUSE_ROOT_ID}
	require.Equal(t, gofuse.OK, raw.Lookup(nil, header, "io.txt", &entry))

	var open gofuse.OpenOut
	st := raw.Open(nil, &gofuse.OpenIn{
		InHeader: gofuse.InHeader{NodeId: entry.NodeId},
		Flags:    uint32(os.O_RDONLY),
	}, &open)
	require.Equal(t, gofuse.OK, st)
	assert.NotZero(t, open.Fh)
	assert.EqualValues(t, gofuse.FOPEN_DIRECT_IO, open.OpenFlags&gofuse.FOPEN_DIRECT_IO)

	// Read at an offset.
	buf := make([]byte, 4)
	res, st := raw.Read(nil, &gofuse.ReadIn{
		InHeader: gofuse.InHeader{NodeId: entry.NodeId},
		Fh:       open.Fh,
		Offset:   6,
	}, buf)
	require.Equal(t, gofuse.OK, st)
	data, st := res.Bytes(nil)
	require.Equal(t, gofuse.OK, st)
	assert.Equal(t, []byte("6789"), data)

	raw.Release(nil, &gofuse.ReleaseIn{InHeader: gofuse.InHeader{NodeId: entry.NodeId}, Fh: open.Fh})

	// The handle is gone after release.
	_, st = raw.Read(nil, &gofuse.ReadIn{InHeader: gofuse.InHeader{NodeId: entry.NodeId}, Fh: open.Fh}, buf)
	assert.Equal(t, gofuse.EBADF, st)
}

func TestCreate_NewFileIsWritable(t *testing.T) {
	t.Parallel()
	raw, core := newTestRaw(t)

	var out gofuse.CreateOut
	st := raw.Create(nil, &gofuse.CreateIn{
		InHeader: gofuse.InHeader{NodeId: gofuse.FUSE_ROOT_ID},
		Flags:    uint32(os.O_WRONLY),
	}, "fresh.txt", &out)
	require.Equal(t, gofuse.OK, st)
	assert.NotZero(t, out.NodeId)
	assert.NotZero(t, out.Fh)
	assert.EqualValues(t, 0, out.Attr.Size)

	n, st := raw.Write(nil, &gofuse.WriteIn{
		InHeader: gofuse.InHeader{NodeId: out.NodeId},
		Fh:       out.Fh,
	}, []byte("written via fuse"))
	require.Equal(t, gofuse.OK, st)
	assert.EqualValues(t, 16, n)

	raw.Release(nil, &gofuse.ReleaseIn{InHeader: gofuse.InHeader{NodeId: out.NodeId}, Fh: out.Fh})

	// Visible through the core by path.
	stat, err := core.Stat("fresh.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(16), stat.Size)
}

func TestUnlink_RemovesAndForgets(t *testing.T) {
	t.Parallel()
	raw, core := newTestRaw(t)
	seed(t, core, "gone.txt", []byte("x"))

	header := &gofuse.InHeader{NodeId: gofuse.FUSE_ROOT_ID}
	var entry gofuse.EntryOut
	require.Equal(t, gofuse.OK, raw.Lookup(nil, header, "gone.txt", &entry))

	require.Equal(t, gofuse.OK, raw.Unlink(nil, header, "gone.txt"))
	assert.Equal(t, gofuse.ENOENT, raw.Lookup(nil, header, "gone.txt", &entry))

	_, err := core.Stat("gone.txt")
	assert.ErrorIs(t, err, ramfs.ErrNotFound)

	// Unlinking a busy file maps to EBUSY.
	seed(t, core, "held.txt", []byte("y"))
	fh, err := core.Open("held.txt", vfs.ModeRead)
	require.NoError(t, err)
	defer core.Close(fh) //nolint:errcheck
	assert.Equal(t, gofuse.EBUSY, raw.Unlink(nil, header, "held.txt"))
}

func TestOpenDir_AndReleaseDir(t *testing.T) {
	t.Parallel()
	raw, core := newTestRaw(t)
	seed(t, core, "a.txt", []byte("a"))

	var out gofuse.OpenOut
	st := raw.OpenDir(nil, &gofuse.OpenIn{
		InHeader: gofuse.InHeader{NodeId: gofuse.FUSE_ROOT_ID},
	}, &out)
	require.Equal(t, gofuse.OK, st)
	require.NotZero(t, out.Fh)

	raw.ReleaseDir(&gofuse.ReleaseIn{InHeader: gofuse.InHeader{NodeId: gofuse.FUSE_ROOT_ID}, Fh: out.Fh})
	// Releasing an already-released handle is harmless.
	raw.ReleaseDir(&gofuse.ReleaseIn{InHeader: gofuse.InHeader{NodeId: gofuse.FUSE_ROOT_ID}, Fh: out.Fh})
}

func TestStatFs_ReportsBlockSize(t *testing.T) {
	t.Parallel()
	raw, _ := newTestRaw(t)

	var out gofuse.StatfsOut
	require.Equal(t, gofuse.OK, raw.StatFs(nil, &gofuse.InHeader{}, &out))
	assert.EqualValues(t, config.DefaultBlockSize, out.Bsize)
	assert.EqualValues(t, 255, out.NameLen)
}
