package ramdisk

import (
	"fmt"
	"strings"
	"sync"
	"syscall"

	"github.com/benbjohnson/clock"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/brettbedarf/ramfs"
	"github.com/brettbedarf/ramfs/config"
	"github.com/brettbedarf/ramfs/internal/util"
	"github.com/brettbedarf/ramfs/vfs"
)

// devRAM is the synthetic device identifier reported by stat ('r','a','m').
const devRAM = uint32('r') | uint32('a')<<8 | uint32('m')<<16

// FileSystem owns the node tree, the descriptor table, and the single mutex
// that serializes every operation.
//
// Locking contract: the mutex is held for the full duration of each call,
// including the data copy done by Read and Write and any buffer
// reallocation, so concurrent filesystem calls are fully serialized, not
// merely metadata-serialized. Correctness is trivial to reason about at the
// cost of no read/write parallelism between unrelated files. Per-file
// sharing is governed separately by the node lock state: a file open for
// writing is completely exclusive, a file open for reading admits any number
// of further readers.
type FileSystem struct {
	mu    sync.Mutex
	root  *node
	fds   *descriptorTable
	cfg   *config.Config
	clock clock.Clock
	id    uuid.UUID
	log   zerolog.Logger
}

// New creates an empty filesystem holding only the root directory. The tree
// is rebuilt from nothing on every construction; nothing persists.
func New(cfg *config.Config) *FileSystem {
	if cfg == nil {
		cfg = config.NewConfig(nil)
	}
	clk := clock.New()
	fs := &FileSystem{
		root:  newDirNode("/", clk.Now()),
		fds:   newDescriptorTable(),
		cfg:   cfg,
		clock: clk,
		id:    uuid.New(),
	}
	fs.log = util.GetLogger("ramdisk").With().Str("fs_id", fs.id.String()).Logger()
	fs.log.Debug().Str("mount", cfg.MountName).Int("block_size", cfg.BlockSize).Msg("Filesystem created")
	return fs
}

// createNode allocates a new node of the given kind and inserts it under the
// parent directory the path resolves to. Files start with one block of
// capacity and zero logical size. Caller holds fs.mu.
func (fs *FileSystem) createNode(path string, dir bool) (*node, error) {
	parent, name := resolveParent(fs.root, path)
	if parent == nil {
		return nil, fmt.Errorf("create %q: %w", path, ramfs.ErrNotFound)
	}
	if name == "" {
		return nil, fmt.Errorf("create %q: %w", path, ramfs.ErrInvalidArgument)
	}

	var n *node
	if dir {
		n = newDirNode(name, fs.clock.Now())
	} else {
		n = newFileNode(name, fs.cfg.BlockSize, fs.clock.Now())
	}
	parent.addChild(n)
	return n, nil
}

// Open opens or creates the node at path. Opening a nonexistent path with
// write intent creates the file; read-only opens of missing paths fail. The
// empty path (and "/") is the root directory itself.
func (fs *FileSystem) Open(path string, mode vfs.OpenMode) (vfs.FileHandle, error) {
	path = strings.TrimPrefix(path, "/")

	fs.mu.Lock()
	defer fs.mu.Unlock()

	// Directories only open read-only.
	if mode.Has(vfs.ModeDir) && mode.Has(vfs.ModeWrite) {
		return 0, fmt.Errorf("open %q: %w", path, ramfs.ErrIsDirectory)
	}

	var f *node
	if path == "" {
		f = fs.root
	} else {
		f = resolvePath(fs.root, path, mode.Has(vfs.ModeDir))
		if f == nil {
			if !mode.Has(vfs.ModeWrite) || mode.Has(vfs.ModeDir) {
				return 0, fmt.Errorf("open %q: %w", path, ramfs.ErrNotFound)
			}
			// A directory of the same name must not be shadowed by a new file.
			if resolvePath(fs.root, path, true) != nil {
				return 0, fmt.Errorf("open %q: %w", path, ramfs.ErrInvalidArgument)
			}
			// Write intent on a missing path: create the file.
			var err error
			if f, err = fs.createNode(path, false); err != nil {
				return 0, err
			}
		}
	}

	// Did we ask for a dir as a file?
	if f.dir && !mode.Has(vfs.ModeDir) {
		return 0, fmt.Errorf("open %q: %w", path, ramfs.ErrInvalidArgument)
	}

	// A file open for writing admits no other opener, reader or writer.
	if f.lockState == lockWrite {
		return 0, fmt.Errorf("open %q: %w", path, ramfs.ErrBusy)
	}

	d := &descriptor{node: f, dir: mode.Has(vfs.ModeDir), mode: mode}

	if !mode.Has(vfs.ModeWrite) {
		f.lockState = lockRead
	} else {
		// A file already open for reading cannot also be opened for writing.
		if f.lockState == lockRead {
			return 0, fmt.Errorf("open %q: %w", path, ramfs.ErrBusy)
		}
		f.lockState = lockWrite

		switch {
		case mode.Has(vfs.ModeAppend):
			d.pos = f.size
		case mode.Has(vfs.ModeTrunc):
			// Kill the existing contents; back to one fresh block.
			f.data = make([]byte, fs.cfg.BlockSize)
			f.size = 0
		}
	}

	if d.dir {
		d.dirPos = 0
		d.dirGen = f.gen
	}

	f.openCount++
	fh := fs.fds.add(d)

	fs.log.Trace().Str("path", path).Int("mode", int(mode)).Uint64("fh", uint64(fh)).Msg("Opened")
	return fh, nil
}

// Close releases the descriptor. When the last descriptor on a node closes,
// the node's lock state resets to free.
func (fs *FileSystem) Close(fh vfs.FileHandle) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	d := fs.fds.remove(fh)
	if d == nil || d.node == nil {
		return fmt.Errorf("close: %w", ramfs.ErrBadHandle)
	}

	f := d.node
	d.node = nil

	f.openCount--
	if f.openCount == 0 {
		f.lockState = lockFree
	}

	fs.log.Trace().Uint64("fh", uint64(fh)).Msg("Closed")
	return nil
}

// Read copies up to len(p) bytes from the cursor onward. Returns 0, nil at
// end-of-file.
func (fs *FileSystem) Read(fh vfs.FileHandle, p []byte) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	d := fs.fds.get(fh)
	if d == nil || d.dir {
		return 0, fmt.Errorf("read: %w", ramfs.ErrBadHandle)
	}
	f := d.node

	n := int64(len(p))
	if d.pos+n > f.size {
		n = f.size - d.pos
	}
	if n <= 0 {
		return 0, nil
	}

	copy(p, f.data[d.pos:d.pos+n])
	d.pos += n
	return int(n), nil
}

// Write copies len(p) bytes at the cursor, growing the buffer as needed. A
// growth that would exceed the configured per-file cap fails with no partial
// write and the existing buffer untouched.
func (fs *FileSystem) Write(fh vfs.FileHandle, p []byte) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	d := fs.fds.get(fh)
	if d == nil || d.dir || !d.mode.Has(vfs.ModeWrite) {
		return 0, fmt.Errorf("write: %w", ramfs.ErrBadHandle)
	}
	f := d.node

	need := d.pos + int64(len(p))
	if need > f.capacity() {
		if fs.cfg.MaxFileSize > 0 && need > fs.cfg.MaxFileSize {
			return 0, fmt.Errorf("write %q: %w", f.name, ramfs.ErrOutOfSpace)
		}
		// Grow to exactly what's needed plus slack, to avoid realloc
		// thrashing on repeated small writes.
		grown := make([]byte, need+int64(fs.cfg.BlockSize*fs.cfg.GrowthSlackBlocks))
		copy(grown, f.data[:f.size])
		f.data = grown
	}

	copy(f.data[d.pos:], p)
	d.pos += int64(len(p))
	if f.size < d.pos {
		f.size = d.pos
	}
	f.mtime = fs.clock.Now()

	return len(p), nil
}

// Seek repositions the cursor. The computed position must not be negative;
// positions past end-of-file clamp to end-of-file.
func (fs *FileSystem) Seek(fh vfs.FileHandle, offset int64, whence vfs.Whence) (int64, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	d := fs.fds.get(fh)
	if d == nil || d.dir {
		return 0, fmt.Errorf("seek: %w", ramfs.ErrBadHandle)
	}

	var pos int64
	switch whence {
	case vfs.SeekSet:
		pos = offset
	case vfs.SeekCur:
		pos = d.pos + offset
	case vfs.SeekEnd:
		pos = d.node.size + offset
	default:
		return 0, fmt.Errorf("seek: %w", ramfs.ErrInvalidArgument)
	}

	if pos < 0 {
		return 0, fmt.Errorf("seek: %w", ramfs.ErrInvalidOffset)
	}
	if pos > d.node.size {
		pos = d.node.size
	}

	d.pos = pos
	return pos, nil
}

// Tell returns the current cursor position.
func (fs *FileSystem) Tell(fh vfs.FileHandle) (int64, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	d := fs.fds.get(fh)
	if d == nil || d.dir {
		return 0, fmt.Errorf("tell: %w", ramfs.ErrBadHandle)
	}
	return d.pos, nil
}

// Total returns the file's logical size.
func (fs *FileSystem) Total(fh vfs.FileHandle) (int64, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	d := fs.fds.get(fh)
	if d == nil || d.dir {
		return 0, fmt.Errorf("total: %w", ramfs.ErrBadHandle)
	}
	return d.node.size, nil
}

// ReadDir returns a snapshot of the next child and advances the cursor, or
// (nil, nil) once every child has been visited. The returned Dirent is the
// handle's scratch entry, reused on the next call. Enumeration order is the
// directory's insertion order and stays stable while the directory is
// unmodified; if the directory changes under the cursor, the cursor is
// re-clamped to the new generation rather than walking stale indices.
func (fs *FileSystem) ReadDir(fh vfs.FileHandle) (*vfs.Dirent, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	d := fs.fds.get(fh)
	if d == nil || !d.dir {
		return nil, fmt.Errorf("readdir: %w", ramfs.ErrBadHandle)
	}
	f := d.node

	if d.dirGen != f.gen {
		d.dirGen = f.gen
		if d.dirPos > len(f.children) {
			d.dirPos = len(f.children)
		}
	}

	if d.dirPos >= len(f.children) {
		return nil, nil
	}
	c := f.children[d.dirPos]
	d.dirPos++

	d.dirent = vfs.Dirent{Name: c.name, Time: c.mtime}
	if c.dir {
		d.dirent.Attr = vfs.AttrDir
		d.dirent.Size = vfs.SizeUnknown
	} else {
		d.dirent.Attr = vfs.AttrNone
		d.dirent.Size = c.size
	}
	return &d.dirent, nil
}

// RewindDir resets the directory cursor to the first child.
func (fs *FileSystem) RewindDir(fh vfs.FileHandle) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	d := fs.fds.get(fh)
	if d == nil || !d.dir {
		return fmt.Errorf("rewinddir: %w", ramfs.ErrBadHandle)
	}
	d.dirPos = 0
	d.dirGen = d.node.gen
	return nil
}

// Unlink removes the file at path and frees its storage. Fails with ErrBusy
// while any descriptor still references the node.
func (fs *FileSystem) Unlink(path string) error {
	path = strings.TrimPrefix(path, "/")

	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.unlinkLocked(path)
}

func (fs *FileSystem) unlinkLocked(path string) error {
	f := resolvePath(fs.root, path, false)
	if f == nil {
		return fmt.Errorf("unlink %q: %w", path, ramfs.ErrNotFound)
	}
	if f.openCount > 0 {
		return fmt.Errorf("unlink %q: %w", path, ramfs.ErrBusy)
	}

	parent, _ := resolveParent(fs.root, path)
	parent.removeChild(f)

	// Release the storage permanently.
	f.data = nil
	f.children = nil

	fs.log.Trace().Str("path", path).Msg("Unlinked")
	return nil
}

// Mmap exposes the live backing buffer of a file handle, valid bytes only.
// The slice aliases the node's storage: it stays coherent with writes
// through other handles and must not be used after the node is unlinked.
func (fs *FileSystem) Mmap(fh vfs.FileHandle) ([]byte, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	d := fs.fds.get(fh)
	if d == nil || d.dir {
		return nil, fmt.Errorf("mmap: %w", ramfs.ErrBadHandle)
	}
	return d.node.data[:d.node.size], nil
}

// Stat reports metadata for the node at path, file or directory. The empty
// path (and "/") stats the root.
func (fs *FileSystem) Stat(path string) (*vfs.Stat, error) {
	path = strings.TrimPrefix(path, "/")

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if path == "" {
		return fs.statNode(fs.root), nil
	}

	f := resolvePath(fs.root, path, false)
	if f == nil {
		f = resolvePath(fs.root, path, true)
	}
	if f == nil {
		return nil, fmt.Errorf("stat %q: %w", path, ramfs.ErrNotFound)
	}
	return fs.statNode(f), nil
}

// Fstat reports metadata for the node behind an open descriptor.
func (fs *FileSystem) Fstat(fh vfs.FileHandle) (*vfs.Stat, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	d := fs.fds.get(fh)
	if d == nil {
		return nil, fmt.Errorf("fstat: %w", ramfs.ErrBadHandle)
	}
	return fs.statNode(d.node), nil
}

// statNode builds the metadata record: the fixed ram device id, a synthetic
// mode (rw for everyone, with execute bits only on directories), logical
// size, link count 1 for files and 2 for directories, and block accounting
// from capacity rounded up to the block size. Caller holds fs.mu.
func (fs *FileSystem) statNode(f *node) *vfs.Stat {
	blk := int64(fs.cfg.BlockSize)
	st := &vfs.Stat{
		Dev: devRAM,
		Mode: syscall.S_IRUSR | syscall.S_IWUSR | syscall.S_IRGRP |
			syscall.S_IWGRP | syscall.S_IROTH | syscall.S_IWOTH,
		BlockSize: blk,
		Blocks:    (f.capacity() + blk - 1) / blk,
		Mtime:     f.mtime,
	}
	if f.dir {
		st.Mode |= syscall.S_IFDIR | syscall.S_IXUSR | syscall.S_IXGRP | syscall.S_IXOTH
		st.Size = vfs.SizeUnknown
		st.Nlink = 2
	} else {
		st.Mode |= syscall.S_IFREG
		st.Size = f.size
		st.Nlink = 1
	}
	return st
}

// Fcntl implements descriptor control. Only flag retrieval returns anything:
// FcntlGetFL reports the mode the descriptor was opened with; the set and
// descriptor-flag commands are accepted as no-ops.
func (fs *FileSystem) Fcntl(fh vfs.FileHandle, cmd vfs.FcntlCmd, arg int) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	d := fs.fds.get(fh)
	if d == nil {
		return -1, fmt.Errorf("fcntl: %w", ramfs.ErrBadHandle)
	}

	switch cmd {
	case vfs.FcntlGetFL:
		return int(d.mode), nil
	case vfs.FcntlSetFL, vfs.FcntlGetFD, vfs.FcntlSetFD:
		return 0, nil
	default:
		return -1, fmt.Errorf("fcntl: %w", ramfs.ErrInvalidArgument)
	}
}

// Shutdown walks and frees every node under the root unconditionally and
// tears down the descriptor table. Callers are expected to close all handles
// before shutting down; descriptors still open are force-invalidated so any
// later use returns ErrBadHandle instead of touching freed state.
func (fs *FileSystem) Shutdown() {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	orphans := 0
	for fh, d := range fs.fds.open {
		if d.node != nil {
			orphans++
		}
		d.node = nil
		delete(fs.fds.open, fh)
	}
	if orphans > 0 {
		fs.log.Warn().Int("handles", orphans).Msg("Shutdown with descriptors still open")
	}

	freed := releaseTree(fs.root)
	fs.root.children = []*node{}
	fs.root.gen++

	fs.log.Info().Str("freed", humanize.IBytes(uint64(freed))).Msg("Filesystem shut down")
}

// releaseTree drops every node under dir and returns the total buffer
// capacity released. Caller holds fs.mu.
func releaseTree(dir *node) int64 {
	var freed int64
	for _, c := range dir.children {
		if c.dir {
			freed += releaseTree(c)
		} else {
			freed += c.capacity()
		}
		c.data = nil
		c.children = nil
	}
	return freed
}
