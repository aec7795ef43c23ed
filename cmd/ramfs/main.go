package main

import (
	"flag"
	"io/fs"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/brettbedarf/ramfs/config"
	"github.com/brettbedarf/ramfs/internal/util"
	"github.com/brettbedarf/ramfs/server"
	"github.com/brettbedarf/ramfs/vfs"
)

func main() {
	var (
		configPath string
		preload    string
		verbose    int
		umount     bool
	)
	flag.StringVar(&configPath, "config", "", "Path to config override file (yaml or json)")
	flag.StringVar(&configPath, "c", "", "--config (shorthand)")
	flag.StringVar(&preload, "preload", "", "Directory whose files are loaded into the ramdisk at startup")
	flag.StringVar(&preload, "p", "", "--preload (shorthand)")
	flag.BoolVar(&umount, "umount", false,
		"Unmount the fs first if needed before mounting again. Useful for debuggers that don't exit properly.")
	flag.BoolVar(&umount, "u", false, "--umount (shorthand)")
	flag.IntVar(&verbose, "verbose", 3, "Log verbosity level between 1 (error) and 5 (trace). Default is 3 (info).")
	flag.IntVar(&verbose, "v", 3, "--verbose (shorthand)")
	flag.Parse()

	// Build the config before the logger so a config file can set verbosity.
	override := &config.ConfigOverride{}
	if configPath != "" {
		loaded, err := config.LoadConfigOverrideFile(configPath)
		if err != nil {
			util.InitializeLogger(util.ErrorLevel)
			logger := util.GetLogger("main")
			logger.Fatal().Err(err).Str("config", configPath).Msg("Failed to load config file")
		}
		override = loaded
	}
	if override.LogLvl == nil {
		override.LogLvl = &verbose
	}
	cfg := config.NewConfig(override)

	util.InitializeLogger(cfg.LogLvl)
	logger := util.GetLogger("main")

	mnt := flag.Arg(0)
	logger.Info().Int("verbose", verbose).Str("preload", preload).Str("mnt", mnt).Msg("RamFS initializing")
	if mnt == "" {
		logger.Fatal().Msg("Mount point not specified; it must be passed as the argument")
	}
	// Try unmount if requested
	if umount { // send cli command
		cmd := exec.Command("fusermount", "-u", mnt)
		// we ignore error here if not already mounted
		cmd.Run() // nolint:errcheck
	}

	reg := vfs.NewRegistry()
	ramfs, err := server.New(cfg, reg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create filesystem")
	}

	// Seed the ramdisk from a local directory, adopting each file's bytes
	// without a second copy.
	if preload != "" {
		count := 0
		err := filepath.WalkDir(preload, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			rel, err := filepath.Rel(preload, path)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			name := filepath.ToSlash(rel)
			if err := ramfs.Attach(name, data); err != nil {
				logger.Warn().Err(err).Str("path", name).Msg("Failed to preload file")
				return nil
			}
			count++
			return nil
		})
		if err != nil {
			logger.Fatal().Err(err).Str("preload", preload).Msg("Failed to walk preload directory")
		}
		logger.Info().Int("files", count).Msg("Preloaded files into ramdisk")
	}

	// Serve
	if err := ramfs.Serve(mnt); err != nil {
		logger.Fatal().Err(err).Msg("Failed to mount filesystem")
	}

	// Setup signal handling for graceful shutdown
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	logger.Info().Str("mountpoint", mnt).Msg("Filesystem mounted successfully")

	sig := <-signalChan
	logger.Info().Str("signal", sig.String()).Msg("Received signal, unmounting filesystem")

	if err := ramfs.Close(); err != nil {
		msg := err.Error()
		if strings.Contains(msg, "not mounted") {
			logger.Warn().Err(err).Msg("Filesystem already unmounted")
		} else {
			logger.Error().Err(err).Msg("Failed to tear filesystem down")
		}
	} else {
		logger.Info().Msg("Filesystem unmounted successfully")
	}
}
