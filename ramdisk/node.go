// Package ramdisk implements the in-memory filesystem engine: the node tree,
// path resolution, the descriptor table, the core file operations, and the
// zero-copy attach/detach bridge. The driver adapter in this package exposes
// the whole thing as a vfs.Handler.
package ramdisk

import (
	"strings"
	"time"
)

// lockState is the per-node exclusivity marker. It is not a reentrant lock:
// it only records how the node is currently held so Open can gate new
// openers.
type lockState int

const (
	lockFree lockState = iota
	lockRead
	lockWrite
)

// node is a single file or directory entry. All fields are guarded by the
// owning FileSystem's mutex; nodes carry no locking of their own.
type node struct {
	name      string // case preserved as created, matched case-insensitively
	dir       bool
	size      int64 // valid content bytes; meaningless for directories
	lockState lockState
	openCount int // live descriptors referencing this node

	// Exactly one of data/children is live: data backs a file (len(data) is
	// the allocated capacity, size the valid prefix), children back a
	// directory.
	data     []byte
	children []*node
	gen      uint64 // bumped on child insert/remove; readdir cursors check it

	mtime time.Time
}

func newFileNode(name string, blockSize int, now time.Time) *node {
	return &node{
		name:  name,
		data:  make([]byte, blockSize),
		mtime: now,
	}
}

func newDirNode(name string, now time.Time) *node {
	return &node{
		name:     name,
		dir:      true,
		children: []*node{},
		mtime:    now,
	}
}

// capacity returns the size of the allocated data block.
func (n *node) capacity() int64 { return int64(len(n.data)) }

// findChild does a case-insensitive name match. The match is exact-length: a
// name is never treated as a case-insensitive prefix of another.
func (n *node) findChild(name string) *node {
	for _, c := range n.children {
		if strings.EqualFold(c.name, name) {
			return c
		}
	}
	return nil
}

func (n *node) addChild(c *node) {
	n.children = append(n.children, c)
	n.gen++
}

func (n *node) removeChild(c *node) bool {
	for i, cc := range n.children {
		if cc == c {
			n.children = append(n.children[:i], n.children[i+1:]...)
			n.gen++
			return true
		}
	}
	return false
}

// resolvePath walks a /-separated path from dir, segment by segment. Paths
// arrive with the mount prefix and any leading slash already stripped. Every
// non-final segment must name an existing directory. wantDir states whether
// the caller expects the final segment to be a directory; a kind mismatch
// fails the lookup rather than returning the wrong kind. An empty remaining
// path resolves to the directory itself, but only when a directory was
// wanted.
func resolvePath(dir *node, path string, wantDir bool) *node {
	for {
		i := strings.IndexByte(path, '/')
		if i < 0 {
			break
		}
		if i > 0 {
			f := dir.findChild(path[:i])
			if f == nil || !f.dir {
				return nil
			}
			dir = f
		}
		path = path[i+1:]
	}

	if path == "" {
		// We must have been looking for the dir itself.
		if !wantDir {
			return nil
		}
		return dir
	}

	f := dir.findChild(path)
	if f == nil || f.dir != wantDir {
		return nil
	}
	return f
}

// resolveParent splits path at its last slash, resolves the prefix as a
// directory, and returns it paired with the trailing name. A path with no
// slash resolves against dir itself. Returns nil if any prefix segment is
// missing or not a directory.
func resolveParent(dir *node, path string) (*node, string) {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return dir, path
	}
	parent := resolvePath(dir, path[:i], true)
	if parent == nil {
		return nil, ""
	}
	return parent, path[i+1:]
}
