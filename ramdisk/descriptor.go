package ramdisk

import (
	"github.com/brettbedarf/ramfs/vfs"
)

// descriptor is a live open handle. The node reference is weak in the
// ownership sense: the tree owns the node, and closing the descriptor never
// destroys it. A nil node marks the descriptor invalidated (closed, or
// orphaned by Shutdown). Guarded by the owning FileSystem's mutex.
type descriptor struct {
	node *node
	dir  bool // fixed at open time
	mode vfs.OpenMode

	pos    int64  // byte offset for files
	dirPos int    // next-child index for directories
	dirGen uint64 // children generation dirPos was valid for

	// Scratch entry reused across successive ReadDir calls on this handle.
	dirent vfs.Dirent
}

// descriptorTable hands out opaque handles for live descriptors. Handles are
// assigned from a monotonic counter and never reused within a filesystem
// lifetime, so a stale handle can only miss, not alias a newer open.
type descriptorTable struct {
	next uint64
	open map[vfs.FileHandle]*descriptor
}

func newDescriptorTable() *descriptorTable {
	return &descriptorTable{open: make(map[vfs.FileHandle]*descriptor)}
}

func (t *descriptorTable) add(d *descriptor) vfs.FileHandle {
	t.next++
	fh := vfs.FileHandle(t.next)
	t.open[fh] = d
	return fh
}

// get returns the descriptor for fh, or nil if the handle is unknown or has
// been invalidated.
func (t *descriptorTable) get(fh vfs.FileHandle) *descriptor {
	d := t.open[fh]
	if d == nil || d.node == nil {
		return nil
	}
	return d
}

// remove deregisters fh and returns whatever was stored there, valid or not.
func (t *descriptorTable) remove(fh vfs.FileHandle) *descriptor {
	d := t.open[fh]
	delete(t.open, fh)
	return d
}
