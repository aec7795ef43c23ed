package vfs

import (
	"fmt"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/brettbedarf/ramfs/internal/util"
)

// Registry is the mount table dispatchers resolve drivers through. Handlers
// are keyed by their mount name; registration of a duplicate name fails so a
// mount prefix can never be silently stolen.
type Registry struct {
	handlers *xsync.Map[string, Handler]
}

func NewRegistry() *Registry {
	return &Registry{handlers: xsync.NewMap[string, Handler]()}
}

// Add registers a handler under its mount name.
func (r *Registry) Add(h Handler) error {
	if _, loaded := r.handlers.LoadOrStore(h.Name(), h); loaded {
		return fmt.Errorf("vfs: handler %q already registered", h.Name())
	}
	logger := util.GetLogger("vfs")
	logger.Info().Str("name", h.Name()).Uint32("version", h.Version()).Msg("Handler registered")
	return nil
}

// Remove deregisters the handler with the given mount name and reports
// whether one was registered.
func (r *Registry) Remove(name string) bool {
	_, loaded := r.handlers.LoadAndDelete(name)
	return loaded
}

// Get returns the handler registered under name.
func (r *Registry) Get(name string) (Handler, bool) {
	return r.handlers.Load(name)
}
