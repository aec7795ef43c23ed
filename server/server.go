// Package server wires the ramdisk engine to its outer surfaces: the VFS
// handler registry and an optional FUSE mount of the same tree.
package server

import (
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/hashicorp/go-multierror"

	"github.com/brettbedarf/ramfs/config"
	rfuse "github.com/brettbedarf/ramfs/fuse"
	"github.com/brettbedarf/ramfs/internal/util"
	"github.com/brettbedarf/ramfs/ramdisk"
	"github.com/brettbedarf/ramfs/vfs"
)

// RamFs bundles the core filesystem with its registration and mount state.
// The embedded FileSystem exposes the full operation surface directly.
type RamFs struct {
	*ramdisk.FileSystem
	cfg    *config.Config
	reg    *vfs.Registry
	server *fuse.Server
}

// New creates a RamFs instance given your config and registers its driver
// with the supplied registry. A nil registry skips registration.
func New(cfg *config.Config, reg *vfs.Registry) (*RamFs, error) {
	if cfg == nil {
		cfg = config.NewConfig(nil)
	}
	fs := ramdisk.New(cfg)
	if reg != nil {
		if err := reg.Add(fs.Handler()); err != nil {
			return nil, err
		}
	}
	return &RamFs{
		FileSystem: fs,
		cfg:        cfg,
		reg:        reg,
	}, nil
}

// Serve mounts and serves the filesystem at the given mountPoint.
func (fs *RamFs) Serve(mountPoint string) error {
	raw := rfuse.NewFuseRaw(fs.FileSystem, fs.cfg)
	opts := fs.cfg.MountOptions
	slogger := util.NewLogLogger("FuseServer", util.TraceLevel)
	srv, err := fuse.NewServer(raw, mountPoint, &fuse.MountOptions{
		Name:   opts.Name,
		FsName: opts.FsName,
		Debug:  opts.Debug || fs.cfg.LogLvl == util.TraceLevel,
		Logger: slogger,
	})
	if err != nil {
		return err
	}
	fs.server = srv

	go srv.Serve()
	return srv.WaitMount()
}

// ServeAsync runs Serve on its own goroutine and reports the mount result on
// the returned channel.
func (fs *RamFs) ServeAsync(mountPoint string) <-chan error {
	done := make(chan error, 1)

	go func() {
		done <- fs.Serve(mountPoint)
		close(done)
	}()

	return done
}

// Unmount cleanly unmounts the filesystem.
func (fs *RamFs) Unmount() error {
	if fs.server == nil {
		return nil
	}
	return fs.server.Unmount()
}

// Close tears everything down: unmounts if mounted, deregisters the driver,
// and shuts the tree down. Errors along the way are collected rather than
// short-circuiting, so teardown always runs to the end.
func (fs *RamFs) Close() error {
	var errs *multierror.Error

	if err := fs.Unmount(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if fs.reg != nil {
		fs.reg.Remove(fs.cfg.MountName)
	}
	fs.FileSystem.Shutdown()

	return errs.ErrorOrNil()
}
