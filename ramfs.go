// Package ramfs implements a file-based ramdisk filesystem: the whole
// directory tree and every file's contents live in dynamically allocated
// memory rather than on a simulated block device, so the addressable size is
// bounded only by available memory.
//
// The filesystem is protected against thread contention at the file handle
// and data structure level, not at the individual file level. A file open
// for writing admits no other opener, reader or writer, and a file already
// open for reading cannot be opened for writing. The intended use is scratch
// space or a data cache: write the file, close it, then let readers reopen
// it read-only.
//
// Entry points live in the ramdisk package (core engine and lifecycle), the
// vfs package (dispatcher boundary), and the server package (optional FUSE
// mount of the same tree).
package ramfs

import "errors"

// Sentinel errors returned by every filesystem operation. Operations wrap
// these with path or handle context; callers should test with errors.Is.
var (
	// ErrNotFound means a path or one of its components did not resolve.
	ErrNotFound = errors.New("no such file or directory")

	// ErrIsDirectory means a directory was requested with write intent.
	ErrIsDirectory = errors.New("is a directory")

	// ErrInvalidArgument means the resolved node's kind disagrees with the
	// request, or an unsupported command/whence was passed.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrBusy means the node is held open in a way that excludes the
	// request: unlink of an open file, or open of a write-locked file.
	ErrBusy = errors.New("file busy")

	// ErrBadHandle means the descriptor is invalid, closed, or of the wrong
	// kind for the operation.
	ErrBadHandle = errors.New("bad file handle")

	// ErrOutOfSpace means a file buffer could not grow; the pre-existing
	// content and size are left unmodified.
	ErrOutOfSpace = errors.New("no space left on device")

	// ErrInvalidOffset means a seek would have produced a negative position.
	ErrInvalidOffset = errors.New("invalid offset")
)
