package ramdisk

import (
	"sync"

	"github.com/brettbedarf/ramfs/config"
	"github.com/brettbedarf/ramfs/vfs"
)

// DriverVersion is the version stamp reported to the dispatcher
// (major<<16 | minor).
const DriverVersion uint32 = 0x00010000

// driver adapts a FileSystem to the vfs.Handler operation table. Pure glue:
// every method forwards to the corresponding core operation.
type driver struct {
	fs *FileSystem
}

// Handler returns the filesystem's fixed operation table for registration
// with a vfs.Registry.
func (fs *FileSystem) Handler() vfs.Handler {
	return &driver{fs: fs}
}

func (d *driver) Name() string    { return d.fs.cfg.MountName }
func (d *driver) Version() uint32 { return DriverVersion }

func (d *driver) Open(path string, mode vfs.OpenMode) (vfs.FileHandle, error) {
	return d.fs.Open(path, mode)
}
func (d *driver) Close(fh vfs.FileHandle) error                  { return d.fs.Close(fh) }
func (d *driver) Read(fh vfs.FileHandle, p []byte) (int, error)  { return d.fs.Read(fh, p) }
func (d *driver) Write(fh vfs.FileHandle, p []byte) (int, error) { return d.fs.Write(fh, p) }
func (d *driver) Seek(fh vfs.FileHandle, offset int64, whence vfs.Whence) (int64, error) {
	return d.fs.Seek(fh, offset, whence)
}
func (d *driver) Tell(fh vfs.FileHandle) (int64, error)          { return d.fs.Tell(fh) }
func (d *driver) Total(fh vfs.FileHandle) (int64, error)         { return d.fs.Total(fh) }
func (d *driver) ReadDir(fh vfs.FileHandle) (*vfs.Dirent, error) { return d.fs.ReadDir(fh) }
func (d *driver) RewindDir(fh vfs.FileHandle) error              { return d.fs.RewindDir(fh) }
func (d *driver) Unlink(path string) error                       { return d.fs.Unlink(path) }
func (d *driver) Mmap(fh vfs.FileHandle) ([]byte, error)         { return d.fs.Mmap(fh) }
func (d *driver) Stat(path string) (*vfs.Stat, error)            { return d.fs.Stat(path) }
func (d *driver) Fstat(fh vfs.FileHandle) (*vfs.Stat, error)     { return d.fs.Fstat(fh) }
func (d *driver) Fcntl(fh vfs.FileHandle, cmd vfs.FcntlCmd, arg int) (int, error) {
	return d.fs.Fcntl(fh, cmd, arg)
}

// Process-wide singleton state for Init/Shutdown.
var (
	initMu      sync.Mutex
	current     *FileSystem
	currentReg  *vfs.Registry
	currentName string
)

// Init creates the process-wide ramdisk and registers its driver with reg.
// Idempotent: a second call while a ramdisk exists is a no-op. reg may be
// nil when no dispatcher is involved.
func Init(cfg *config.Config, reg *vfs.Registry) error {
	initMu.Lock()
	defer initMu.Unlock()

	if current != nil {
		return nil
	}

	fs := New(cfg)
	if reg != nil {
		if err := reg.Add(fs.Handler()); err != nil {
			return err
		}
	}

	current = fs
	currentReg = reg
	currentName = fs.cfg.MountName
	return nil
}

// Current returns the process-wide ramdisk created by Init, or nil.
func Current() *FileSystem {
	initMu.Lock()
	defer initMu.Unlock()
	return current
}

// Shutdown deregisters the process-wide ramdisk and frees its tree.
// Idempotent: a no-op when Init has not run. Callers must close their
// handles first; see FileSystem.Shutdown for what happens to ones left open.
func Shutdown() {
	initMu.Lock()
	defer initMu.Unlock()

	if current == nil {
		return
	}
	if currentReg != nil {
		currentReg.Remove(currentName)
	}
	current.Shutdown()

	current = nil
	currentReg = nil
	currentName = ""
}
