// Package vfs defines the boundary between filesystem drivers and the
// kernel-style virtual-filesystem dispatcher: the fixed operation table a
// driver exposes, the wire types those operations exchange, and the registry
// dispatchers use to route path-prefixed calls to drivers by mount name.
//
// The dispatch mechanism itself lives outside this module; the registry here
// is only the attachment point drivers register against.
package vfs

import (
	"time"
)

// OpenMode describes how a path is being opened. Read, write, append,
// truncate and directory intent combine as a bitmask; ReadWrite is
// ModeRead|ModeWrite.
type OpenMode int

const (
	ModeRead OpenMode = 1 << iota
	ModeWrite
	ModeAppend
	ModeTrunc
	ModeDir
)

// Has reports whether all bits of flag are set in m.
func (m OpenMode) Has(flag OpenMode) bool { return m&flag == flag }

// Whence selects the reference point for Seek.
type Whence int

const (
	SeekSet Whence = iota // absolute
	SeekCur               // relative to current position
	SeekEnd               // relative to end of file
)

// Fcntl commands. Only flag retrieval does anything; the set/descriptor-flag
// commands are accepted as no-ops.
type FcntlCmd int

const (
	FcntlGetFL FcntlCmd = iota
	FcntlSetFL
	FcntlGetFD
	FcntlSetFD
)

// FileHandle is an opaque descriptor token returned by Open. Zero is never a
// valid handle.
type FileHandle uint64

// SizeUnknown is reported where a size has no meaning (directories).
const SizeUnknown = int64(-1)

// EntryAttr carries per-entry attribute flags in directory listings.
type EntryAttr uint32

const (
	AttrNone EntryAttr = 0
	AttrDir  EntryAttr = 1 << iota
)

// Dirent is the snapshot of one directory child returned by ReadDir.
type Dirent struct {
	Name string
	Attr EntryAttr
	Size int64 // SizeUnknown for directories
	Time time.Time
}

// Stat is the metadata record returned by Stat and Fstat.
type Stat struct {
	Dev       uint32
	Mode      uint32 // S_IFREG/S_IFDIR plus synthetic permission bits
	Nlink     uint32
	Size      int64 // logical content size; SizeUnknown for directories
	BlockSize int64
	Blocks    int64 // capacity rounded up to whole blocks
	Mtime     time.Time
}

// Handler is the fixed operation table a filesystem driver exposes to the
// dispatcher. Every call is synchronous and returns a definitive result;
// operations a driver does not implement (rename, mkdir, links, poll, 64-bit
// variants) are simply absent from the table.
type Handler interface {
	// Name returns the mount name, a literal path prefix such as "ram".
	Name() string
	// Version returns the driver's version stamp (major<<16 | minor).
	Version() uint32

	Open(path string, mode OpenMode) (FileHandle, error)
	Close(fh FileHandle) error
	Read(fh FileHandle, p []byte) (int, error)
	Write(fh FileHandle, p []byte) (int, error)
	Seek(fh FileHandle, offset int64, whence Whence) (int64, error)
	Tell(fh FileHandle) (int64, error)
	Total(fh FileHandle) (int64, error)

	// ReadDir returns the next child snapshot, or (nil, nil) at
	// end-of-directory. The returned Dirent is only valid until the next
	// ReadDir call on the same handle.
	ReadDir(fh FileHandle) (*Dirent, error)
	RewindDir(fh FileHandle) error

	Unlink(path string) error

	// Mmap exposes the live backing buffer of a file handle. The slice
	// aliases driver-owned memory and is only valid while the node exists.
	Mmap(fh FileHandle) ([]byte, error)

	Stat(path string) (*Stat, error)
	Fstat(fh FileHandle) (*Stat, error)
	Fcntl(fh FileHandle, cmd FcntlCmd, arg int) (int, error)
}
