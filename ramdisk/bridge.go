package ramdisk

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/brettbedarf/ramfs"
	"github.com/brettbedarf/ramfs/vfs"
)

// Attach adopts a caller-owned buffer as the file at path, creating it if
// absent, without copying. It works like an open for writing with truncate
// semantics, except the freshly allocated buffer is discarded and buf is
// installed verbatim: capacity and logical size both become len(buf).
//
// Ownership of buf moves to the filesystem; the caller must not touch it
// afterwards. Fails wherever the underlying open would, e.g. with ErrBusy if
// the path is currently held by another opener.
func (fs *FileSystem) Attach(path string, buf []byte) error {
	// Piggyback on open to get resolution, creation and lock gating for free.
	fh, err := fs.Open(path, vfs.ModeWrite|vfs.ModeTrunc)
	if err != nil {
		return err
	}

	fs.mu.Lock()
	if d := fs.fds.get(fh); d != nil {
		f := d.node
		f.data = buf
		f.size = int64(len(buf))
		f.mtime = fs.clock.Now()
	}
	fs.mu.Unlock()

	if err := fs.Close(fh); err != nil {
		return err
	}

	fs.log.Debug().Str("path", path).Str("size", humanize.IBytes(uint64(len(buf)))).Msg("Buffer attached")
	return nil
}

// Detach extracts the buffer backing the file at path and unlinks the entry.
// The returned slice is the node's storage itself, truncated to the logical
// size: ownership moves to the caller and the filesystem retains no
// reference. Fails with ErrNotFound if the path does not exist, or wherever
// the underlying open would fail.
func (fs *FileSystem) Detach(path string) ([]byte, error) {
	fh, err := fs.Open(path, vfs.ModeRead)
	if err != nil {
		return nil, err
	}

	fs.mu.Lock()
	d := fs.fds.get(fh)
	if d == nil {
		fs.mu.Unlock()
		return nil, fmt.Errorf("detach %q: %w", path, ramfs.ErrBadHandle)
	}
	f := d.node
	buf := f.data[:f.size]
	// Leave an empty placeholder behind for the unlink to release.
	f.data = nil
	f.size = 0
	fs.mu.Unlock()

	if err := fs.Close(fh); err != nil {
		return nil, err
	}
	if err := fs.Unlink(path); err != nil {
		return nil, err
	}

	fs.log.Debug().Str("path", path).Str("size", humanize.IBytes(uint64(len(buf)))).Msg("Buffer detached")
	return buf, nil
}
