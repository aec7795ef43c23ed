package ramdisk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildTree constructs
//
//	/
//	├── etc/
//	│   └── conf/
//	│       └── rc.cfg
//	└── readme.txt
func buildTree(t *testing.T) *node {
	t.Helper()
	now := time.Now()
	root := newDirNode("/", now)
	etc := newDirNode("etc", now)
	conf := newDirNode("conf", now)
	root.addChild(etc)
	root.addChild(newFileNode("readme.txt", 1024, now))
	etc.addChild(conf)
	conf.addChild(newFileNode("rc.cfg", 1024, now))
	return root
}

func TestResolvePath_NestedSegments(t *testing.T) {
	t.Parallel()
	root := buildTree(t)

	f := resolvePath(root, "etc/conf/rc.cfg", false)
	require.NotNil(t, f)
	assert.Equal(t, "rc.cfg", f.name)

	d := resolvePath(root, "etc/conf", true)
	require.NotNil(t, d)
	assert.Equal(t, "conf", d.name)

	// Case-insensitive on every segment.
	assert.NotNil(t, resolvePath(root, "ETC/Conf/RC.CFG", false))
}

func TestResolvePath_KindMismatch(t *testing.T) {
	t.Parallel()
	root := buildTree(t)

	assert.Nil(t, resolvePath(root, "etc", false), "a directory must not resolve as a file")
	assert.Nil(t, resolvePath(root, "readme.txt", true), "a file must not resolve as a directory")
	assert.Nil(t, resolvePath(root, "readme.txt/nested", false), "a file is not traversable")
}

func TestResolvePath_EmptyRemainder(t *testing.T) {
	t.Parallel()
	root := buildTree(t)

	// A trailing slash leaves an empty final segment: the directory itself,
	// but only when a directory was wanted.
	d := resolvePath(root, "etc/conf/", true)
	require.NotNil(t, d)
	assert.Equal(t, "conf", d.name)
	assert.Nil(t, resolvePath(root, "etc/conf/", false))

	assert.Same(t, root, resolvePath(root, "", true))
	assert.Nil(t, resolvePath(root, "", false))
}

func TestResolvePath_MissingSegments(t *testing.T) {
	t.Parallel()
	root := buildTree(t)

	assert.Nil(t, resolvePath(root, "nope.txt", false))
	assert.Nil(t, resolvePath(root, "etc/nope/rc.cfg", false))
	assert.Nil(t, resolvePath(root, "etc/conf/nope.cfg", false))
}

func TestResolveParent(t *testing.T) {
	t.Parallel()
	root := buildTree(t)

	parent, name := resolveParent(root, "etc/conf/new.cfg")
	require.NotNil(t, parent)
	assert.Equal(t, "conf", parent.name)
	assert.Equal(t, "new.cfg", name)

	// No slash: the base directory is the parent.
	parent, name = resolveParent(root, "top.txt")
	assert.Same(t, root, parent)
	assert.Equal(t, "top.txt", name)

	parent, _ = resolveParent(root, "missing/child.txt")
	assert.Nil(t, parent)
}

func TestNode_ChildMutationBumpsGeneration(t *testing.T) {
	t.Parallel()
	now := time.Now()
	dir := newDirNode("d", now)
	a := newFileNode("a", 1024, now)
	b := newFileNode("b", 1024, now)

	gen := dir.gen
	dir.addChild(a)
	dir.addChild(b)
	assert.Equal(t, gen+2, dir.gen)

	require.True(t, dir.removeChild(a))
	assert.Equal(t, gen+3, dir.gen)
	assert.Equal(t, []*node{b}, dir.children)

	// Removing a node that is no longer a child changes nothing.
	assert.False(t, dir.removeChild(a))
	assert.Equal(t, gen+3, dir.gen)
}
