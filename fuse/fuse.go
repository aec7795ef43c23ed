// Package fuse adapts the ramdisk engine to the low-level FUSE wire
// protocol, so the same tree the driver table serves can also be mounted
// into the host kernel.
// See https://www.man7.org/linux//man-pages/man4/fuse.4.html
package fuse

import (
	"errors"
	"os"
	"sync"
	"syscall"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fuse"

	"github.com/brettbedarf/ramfs"
	"github.com/brettbedarf/ramfs/config"
	"github.com/brettbedarf/ramfs/internal/util"
	"github.com/brettbedarf/ramfs/ramdisk"
	"github.com/brettbedarf/ramfs/vfs"
)

// dirStream tracks one open directory handle's enumeration state. Offsets 0
// and 1 are the synthetic "." and ".." entries; core children start at 2.
type dirStream struct {
	fh   vfs.FileHandle
	path string
	next uint64 // next dir stream offset to emit
}

// FuseRaw implements the low-level FUSE wire protocol over the core
// filesystem. The core is path- and handle-based, so the adapter keeps its
// own table mapping FUSE node IDs to mount-relative paths and FUSE file
// handles to core descriptors.
type FuseRaw struct {
	gofuse.RawFileSystem
	core *ramdisk.FileSystem
	cfg  *config.Config

	mu     sync.Mutex
	paths  map[uint64]string // FUSE node ID -> mount-relative path
	ids    map[string]uint64
	nextID uint64
	files  map[uint64]vfs.FileHandle // FUSE fh -> core file handle
	dirs   map[uint64]*dirStream     // FUSE fh -> directory stream
	nextFh uint64

	server *gofuse.Server
}

func NewFuseRaw(core *ramdisk.FileSystem, cfg *config.Config) *FuseRaw {
	if cfg == nil {
		cfg = config.NewConfig(nil)
	}
	r := &FuseRaw{
		RawFileSystem: gofuse.NewDefaultRawFileSystem(),
		core:          core,
		cfg:           cfg,
		paths:         map[uint64]string{gofuse.FUSE_ROOT_ID: ""},
		ids:           map[string]uint64{"": gofuse.FUSE_ROOT_ID},
		nextID:        gofuse.FUSE_ROOT_ID + 1,
		files:         map[uint64]vfs.FileHandle{},
		dirs:          map[uint64]*dirStream{},
	}
	return r
}

func (r *FuseRaw) Init(s *gofuse.Server) {
	logger := util.GetLogger("Fuse.Init")
	logger.Debug().Msg("FUSE initialized")
	r.server = s
}

func (r *FuseRaw) String() string {
	return "RamFuse"
}

// pathOf resolves a FUSE node ID back to its mount-relative path.
func (r *FuseRaw) pathOf(nodeID uint64) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.paths[nodeID]
	return p, ok
}

// idFor returns the stable FUSE node ID for a path, allocating on first use.
func (r *FuseRaw) idFor(path string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.ids[path]; ok {
		return id
	}
	id := r.nextID
	r.nextID++
	r.ids[path] = id
	r.paths[id] = path
	return id
}

func (r *FuseRaw) forgetPath(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.ids[path]; ok {
		delete(r.ids, path)
		delete(r.paths, id)
	}
}

func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

// errnoOf maps the filesystem's sentinel errors onto the conventional
// process error-code channel.
func errnoOf(err error) syscall.Errno {
	switch {
	case errors.Is(err, ramfs.ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, ramfs.ErrIsDirectory):
		return syscall.EISDIR
	case errors.Is(err, ramfs.ErrInvalidArgument):
		return syscall.EINVAL
	case errors.Is(err, ramfs.ErrBusy):
		return syscall.EBUSY
	case errors.Is(err, ramfs.ErrBadHandle):
		return syscall.EBADF
	case errors.Is(err, ramfs.ErrOutOfSpace):
		return syscall.ENOSPC
	case errors.Is(err, ramfs.ErrInvalidOffset):
		return syscall.EINVAL
	default:
		return syscall.EIO
	}
}

func toStatus(err error) gofuse.Status {
	if err == nil {
		return gofuse.OK
	}
	return gofuse.ToStatus(errnoOf(err))
}

// fillAttr maps a core stat record onto the FUSE wire attributes.
func fillAttr(st *vfs.Stat, ino uint64, out *gofuse.Attr) {
	out.Ino = ino
	out.Mode = st.Mode
	out.Nlink = st.Nlink
	if st.Size >= 0 {
		out.Size = uint64(st.Size)
	}
	out.Blksize = uint32(st.BlockSize)
	out.Blocks = uint64(st.Blocks)
	out.Mtime = uint64(st.Mtime.Unix())
	out.Mtimensec = uint32(st.Mtime.Nanosecond())
	out.Ctime = out.Mtime
	out.Ctimensec = out.Mtimensec
	out.Atime = out.Mtime
	out.Atimensec = out.Mtimensec
	out.Owner = gofuse.Owner{
		Uid: uint32(os.Getuid()),
		Gid: uint32(os.Getgid()),
	}
}

// modeFromFlags converts kernel open flags to the core open mode bitmask.
func modeFromFlags(flags uint32) vfs.OpenMode {
	var m vfs.OpenMode
	switch flags & uint32(syscall.O_ACCMODE) {
	case uint32(os.O_WRONLY):
		m = vfs.ModeWrite
	case uint32(os.O_RDWR):
		m = vfs.ModeRead | vfs.ModeWrite
	default:
		m = vfs.ModeRead
	}
	if flags&uint32(os.O_APPEND) != 0 {
		m |= vfs.ModeAppend
	}
	if flags&uint32(os.O_TRUNC) != 0 {
		m |= vfs.ModeTrunc
	}
	if flags&uint32(syscall.O_DIRECTORY) != 0 {
		m |= vfs.ModeDir
	}
	return m
}

func (r *FuseRaw) attrTimeout() time.Duration {
	return time.Duration(r.cfg.AttrTimeout * float64(time.Second))
}

func (r *FuseRaw) entryTimeout() time.Duration {
	return time.Duration(r.cfg.EntryTimeout * float64(time.Second))
}

// Access is called when the kernel wants to know if the user has permission
// to access the node. Everything in the ramdisk is rw for everyone.
func (r *FuseRaw) Access(cancel <-chan struct{}, input *gofuse.AccessIn) gofuse.Status {
	return gofuse.OK
}

// Lookup retrieves a child of a directory by name.
func (r *FuseRaw) Lookup(cancel <-chan struct{}, header *gofuse.InHeader, name string, out *gofuse.EntryOut) gofuse.Status {
	dir, ok := r.pathOf(header.NodeId)
	if !ok {
		return gofuse.ENOENT
	}
	path := joinPath(dir, name)

	st, err := r.core.Stat(path)
	if err != nil {
		return toStatus(err)
	}

	out.NodeId = r.idFor(path)
	fillAttr(st, out.NodeId, &out.Attr)
	out.SetAttrTimeout(r.attrTimeout())
	out.SetEntryTimeout(r.entryTimeout())
	return gofuse.OK
}

func (r *FuseRaw) GetAttr(cancel <-chan struct{}, input *gofuse.GetAttrIn, out *gofuse.AttrOut) gofuse.Status {
	path, ok := r.pathOf(input.NodeId)
	if !ok {
		return gofuse.ENOENT
	}

	st, err := r.core.Stat(path)
	if err != nil {
		return toStatus(err)
	}

	fillAttr(st, input.NodeId, &out.Attr)
	out.SetTimeout(r.attrTimeout())
	return gofuse.OK
}

func (r *FuseRaw) Open(cancel <-chan struct{}, input *gofuse.OpenIn, out *gofuse.OpenOut) gofuse.Status {
	path, ok := r.pathOf(input.NodeId)
	if !ok {
		return gofuse.ENOENT
	}

	fh, err := r.core.Open(path, modeFromFlags(input.Flags))
	if err != nil {
		return toStatus(err)
	}

	r.mu.Lock()
	r.nextFh++
	id := r.nextFh
	r.files[id] = fh
	r.mu.Unlock()

	out.Fh = id
	// Bypass the page cache so reads stay coherent with writes made through
	// the driver table or the attach bridge.
	out.OpenFlags = gofuse.FOPEN_DIRECT_IO
	return gofuse.OK
}

func (r *FuseRaw) Create(cancel <-chan struct{}, input *gofuse.CreateIn, name string, out *gofuse.CreateOut) gofuse.Status {
	dir, ok := r.pathOf(input.NodeId)
	if !ok {
		return gofuse.ENOENT
	}
	path := joinPath(dir, name)

	mode := modeFromFlags(input.Flags) | vfs.ModeWrite
	fh, err := r.core.Open(path, mode)
	if err != nil {
		return toStatus(err)
	}

	st, err := r.core.Fstat(fh)
	if err != nil {
		return toStatus(err)
	}

	r.mu.Lock()
	r.nextFh++
	id := r.nextFh
	r.files[id] = fh
	r.mu.Unlock()

	out.NodeId = r.idFor(path)
	fillAttr(st, out.NodeId, &out.Attr)
	out.SetAttrTimeout(r.attrTimeout())
	out.SetEntryTimeout(r.entryTimeout())
	out.Fh = id
	out.OpenFlags = gofuse.FOPEN_DIRECT_IO
	return gofuse.OK
}

func (r *FuseRaw) lookupFile(fh uint64) (vfs.FileHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.files[fh]
	return h, ok
}

func (r *FuseRaw) Read(cancel <-chan struct{}, input *gofuse.ReadIn, buf []byte) (gofuse.ReadResult, gofuse.Status) {
	h, ok := r.lookupFile(input.Fh)
	if !ok {
		return nil, gofuse.EBADF
	}

	if _, err := r.core.Seek(h, int64(input.Offset), vfs.SeekSet); err != nil {
		return nil, toStatus(err)
	}
	n, err := r.core.Read(h, buf)
	if err != nil {
		return nil, toStatus(err)
	}
	return gofuse.ReadResultData(buf[:n]), gofuse.OK
}

func (r *FuseRaw) Write(cancel <-chan struct{}, input *gofuse.WriteIn, data []byte) (uint32, gofuse.Status) {
	h, ok := r.lookupFile(input.Fh)
	if !ok {
		return 0, gofuse.EBADF
	}

	if _, err := r.core.Seek(h, int64(input.Offset), vfs.SeekSet); err != nil {
		return 0, toStatus(err)
	}
	n, err := r.core.Write(h, data)
	if err != nil {
		return 0, toStatus(err)
	}
	return uint32(n), gofuse.OK
}

func (r *FuseRaw) Release(cancel <-chan struct{}, input *gofuse.ReleaseIn) {
	r.mu.Lock()
	h, ok := r.files[input.Fh]
	delete(r.files, input.Fh)
	r.mu.Unlock()
	if ok {
		// Errors are swallowed: there is no channel to report them on release.
		_ = r.core.Close(h)
	}
}

// Flush and Fsync have nothing to push anywhere; all state is already in
// memory.
func (r *FuseRaw) Flush(cancel <-chan struct{}, input *gofuse.FlushIn) gofuse.Status {
	return gofuse.OK
}

func (r *FuseRaw) Fsync(cancel <-chan struct{}, input *gofuse.FsyncIn) gofuse.Status {
	return gofuse.OK
}

func (r *FuseRaw) OpenDir(cancel <-chan struct{}, input *gofuse.OpenIn, out *gofuse.OpenOut) gofuse.Status {
	path, ok := r.pathOf(input.NodeId)
	if !ok {
		return gofuse.ENOENT
	}

	fh, err := r.core.Open(path, vfs.ModeRead|vfs.ModeDir)
	if err != nil {
		return toStatus(err)
	}

	r.mu.Lock()
	r.nextFh++
	id := r.nextFh
	r.dirs[id] = &dirStream{fh: fh, path: path}
	r.mu.Unlock()

	out.Fh = id
	return gofuse.OK
}

// seekDir repositions a directory stream to the given offset by rewinding
// the core cursor and skipping forward past the synthetic dot entries.
func (r *FuseRaw) seekDir(s *dirStream, off uint64) gofuse.Status {
	if err := r.core.RewindDir(s.fh); err != nil {
		return toStatus(err)
	}
	var skip uint64
	if off > 2 {
		skip = off - 2
	}
	for range skip {
		ent, err := r.core.ReadDir(s.fh)
		if err != nil {
			return toStatus(err)
		}
		if ent == nil {
			break
		}
	}
	s.next = off
	return gofuse.OK
}

func (r *FuseRaw) ReadDir(cancel <-chan struct{}, input *gofuse.ReadIn, out *gofuse.DirEntryList) gofuse.Status {
	r.mu.Lock()
	s, ok := r.dirs[input.Fh]
	r.mu.Unlock()
	if !ok {
		return gofuse.EBADF
	}

	// The kernel may replay an earlier offset; reposition the sequential
	// core cursor to match.
	if input.Offset != s.next {
		if st := r.seekDir(s, input.Offset); st != gofuse.OK {
			return st
		}
	}

	for {
		if s.next < 2 {
			name := "."
			if s.next == 1 {
				name = ".."
			}
			if !out.AddDirEntry(gofuse.DirEntry{Name: name, Mode: syscall.S_IFDIR, Ino: input.NodeId}) {
				return gofuse.OK
			}
			s.next++
			continue
		}

		ent, err := r.core.ReadDir(s.fh)
		if err != nil {
			return toStatus(err)
		}
		if ent == nil {
			return gofuse.OK
		}

		mode := uint32(syscall.S_IFREG)
		if ent.Attr&vfs.AttrDir != 0 {
			mode = syscall.S_IFDIR
		}
		ino := r.idFor(joinPath(s.path, ent.Name))
		if !out.AddDirEntry(gofuse.DirEntry{Name: ent.Name, Mode: mode, Ino: ino}) {
			// Entry didn't fit; the core cursor already consumed it, so step
			// back one so the next call replays it.
			return r.seekDir(s, s.next)
		}
		s.next++
	}
}

func (r *FuseRaw) ReleaseDir(input *gofuse.ReleaseIn) {
	r.mu.Lock()
	s, ok := r.dirs[input.Fh]
	delete(r.dirs, input.Fh)
	r.mu.Unlock()
	if ok {
		_ = r.core.Close(s.fh)
	}
}

func (r *FuseRaw) Unlink(cancel <-chan struct{}, header *gofuse.InHeader, name string) gofuse.Status {
	dir, ok := r.pathOf(header.NodeId)
	if !ok {
		return gofuse.ENOENT
	}
	path := joinPath(dir, name)

	if err := r.core.Unlink(path); err != nil {
		return toStatus(err)
	}
	r.forgetPath(path)
	return gofuse.OK
}

func (r *FuseRaw) StatFs(cancel <-chan struct{}, input *gofuse.InHeader, out *gofuse.StatfsOut) gofuse.Status {
	out.Bsize = uint32(r.cfg.BlockSize)
	out.NameLen = 255
	return gofuse.OK
}
