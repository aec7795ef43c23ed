package ramdisk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brettbedarf/ramfs/config"
	"github.com/brettbedarf/ramfs/vfs"
)

func TestHandler_IdentityAndForwarding(t *testing.T) {
	t.Parallel()
	fs := newTestFS(t)
	h := fs.Handler()

	assert.Equal(t, config.DefaultMountName, h.Name())
	assert.Equal(t, DriverVersion, h.Version())

	// The handler is pure glue over the core operations.
	fh, err := h.Open("via-handler.txt", vfs.ModeWrite)
	require.NoError(t, err)
	n, err := h.Write(fh, []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	pos, err := h.Seek(fh, 0, vfs.SeekSet)
	require.NoError(t, err)
	assert.Zero(t, pos)

	st, err := h.Fstat(fh)
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.Size)

	require.NoError(t, h.Close(fh))
	require.NoError(t, h.Unlink("via-handler.txt"))
}

// The singleton tests share process state and must not run in parallel with
// each other; each one starts and ends with the singleton torn down.
func TestInit_IdempotentSingleton(t *testing.T) {
	Shutdown()
	defer Shutdown()

	require.NoError(t, Init(nil, nil))
	first := Current()
	require.NotNil(t, first)

	// A second init while the ramdisk exists changes nothing.
	require.NoError(t, Init(nil, nil))
	assert.Same(t, first, Current())
}

func TestInit_RegistersWithDispatcher(t *testing.T) {
	Shutdown()
	defer Shutdown()

	reg := vfs.NewRegistry()
	require.NoError(t, Init(nil, reg))

	h, ok := reg.Get(config.DefaultMountName)
	require.True(t, ok)
	assert.Equal(t, DriverVersion, h.Version())

	Shutdown()
	_, ok = reg.Get(config.DefaultMountName)
	assert.False(t, ok, "shutdown deregisters the driver")
	assert.Nil(t, Current())

	// Shutdown with nothing initialized is a no-op.
	Shutdown()
}
