package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/brettbedarf/ramfs/internal/util"
)

// Verbosity levels accepted from the CLI / config file (1 = error .. 5 = trace).
const (
	ErrorVerbose = 1
	WarnVerbose  = 2
	InfoVerbose  = 3
	DebugVerbose = 4
	TraceVerbose = 5
)

// Default configuration constants. See [Config] for field descriptions.
const (
	// DefaultBlockSize is the fixed allocation granularity: new files start
	// with a buffer of one block, and stat block accounting rounds up to it.
	DefaultBlockSize = 1024

	// DefaultGrowthSlackBlocks is how many extra blocks a write-triggered
	// buffer growth allocates beyond the required size, to amortize repeated
	// small writes.
	DefaultGrowthSlackBlocks = 4

	// DefaultMaxFileSize caps a single file's buffer in bytes; 0 means
	// unlimited (bounded only by available memory).
	DefaultMaxFileSize = 0

	// DefaultMountName is the literal path prefix the driver registers under.
	DefaultMountName = "ram"

	// DefaultAttrTimeout is the FUSE attribute cache timeout in seconds
	DefaultAttrTimeout = 1.0

	// DefaultEntryTimeout is the FUSE directory entry cache timeout in seconds
	DefaultEntryTimeout = 1.0

	// DefaultFsName is the mount's FsName reported to FUSE
	DefaultFsName = "ramfs"

	// DefaultName is the mount's Name reported to FUSE
	DefaultName = "ramfs"
)

// Config contains runtime configuration values for the ramdisk filesystem.
type Config struct {
	MountOptions

	LogLvl util.LogLevel // Internal log level derived from the verbosity ladder

	BlockSize         int    // Allocation granularity in bytes (Default 1024)
	GrowthSlackBlocks int    // Extra blocks allocated on buffer growth (Default 4)
	MaxFileSize       int64  // Per-file buffer cap in bytes; 0 = unlimited
	MountName         string // Path prefix registered with the VFS dispatcher (Default "ram")

	// NOTE: Low-level FUSE config (only relevant when mounting via the
	// server package):

	AttrTimeout  float64 // Attribute cache timeout in seconds (Default 1.0)
	EntryTimeout float64 // Directory entry cache timeout in seconds (Default 1.0)
}

// ConfigOverride uses pointer fields to distinguish between unset and zero
// values when loading partial configuration. See [Config] for field
// descriptions.
type ConfigOverride struct {
	LogLvl            *int     `yaml:"verbose,omitempty" json:"verbose,omitempty"` // verbosity 1..5, not a util.LogLevel
	BlockSize         *int     `yaml:"block_size,omitempty" json:"block_size,omitempty"`
	GrowthSlackBlocks *int     `yaml:"growth_slack_blocks,omitempty" json:"growth_slack_blocks,omitempty"`
	MaxFileSize       *int64   `yaml:"max_file_size,omitempty" json:"max_file_size,omitempty"`
	MountName         *string  `yaml:"mount_name,omitempty" json:"mount_name,omitempty"`
	AttrTimeout       *float64 `yaml:"attr_timeout,omitempty" json:"attr_timeout,omitempty"`
	EntryTimeout      *float64 `yaml:"entry_timeout,omitempty" json:"entry_timeout,omitempty"`
	FsName            *string  `yaml:"fs_name,omitempty" json:"fs_name,omitempty"`
	Name              *string  `yaml:"name,omitempty" json:"name,omitempty"`
	Debug             *bool    `yaml:"debug,omitempty" json:"debug,omitempty"`
}

// NewConfig creates a Config with defaults and applies the override, if any.
func NewConfig(override *ConfigOverride) *Config {
	cfg := &Config{
		MountOptions: MountOptions{
			FsName: DefaultFsName,
			Name:   DefaultName,
		},
		LogLvl:            util.InfoLevel,
		BlockSize:         DefaultBlockSize,
		GrowthSlackBlocks: DefaultGrowthSlackBlocks,
		MaxFileSize:       DefaultMaxFileSize,
		MountName:         DefaultMountName,
		AttrTimeout:       DefaultAttrTimeout,
		EntryTimeout:      DefaultEntryTimeout,
	}
	if override != nil {
		cfg.Merge(override)
	}
	return cfg
}

// Merge applies non-nil values from override onto this Config.
// This allows partial configuration updates while preserving existing values.
func (c *Config) Merge(override *ConfigOverride) {
	if override.LogLvl != nil {
		c.LogLvl = logLevelFromVerbosity(*override.LogLvl)
	}
	if override.BlockSize != nil {
		c.BlockSize = *override.BlockSize
	}
	if override.GrowthSlackBlocks != nil {
		c.GrowthSlackBlocks = *override.GrowthSlackBlocks
	}
	if override.MaxFileSize != nil {
		c.MaxFileSize = *override.MaxFileSize
	}
	if override.MountName != nil {
		c.MountName = *override.MountName
	}
	if override.AttrTimeout != nil {
		c.AttrTimeout = *override.AttrTimeout
	}
	if override.EntryTimeout != nil {
		c.EntryTimeout = *override.EntryTimeout
	}
	if override.FsName != nil {
		c.FsName = *override.FsName
	}
	if override.Name != nil {
		c.Name = *override.Name
	}
	if override.Debug != nil {
		c.Debug = *override.Debug
	}
}

// logLevelFromVerbosity maps the CLI verbosity ladder (1..5, clamped) onto
// internal log levels.
func logLevelFromVerbosity(v int) util.LogLevel {
	if v < ErrorVerbose {
		v = ErrorVerbose
	}
	if v > TraceVerbose {
		v = TraceVerbose
	}
	levels := [...]util.LogLevel{util.ErrorLevel, util.WarnLevel, util.InfoLevel, util.DebugLevel, util.TraceLevel}
	return levels[v-1]
}

// LoadConfigOverrideFile loads configuration overrides from a file without merging.
// Supports both YAML (.yaml, .yml) and JSON (.json) formats.
func LoadConfigOverrideFile(path string) (*ConfigOverride, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var override ConfigOverride

	// Determine format by file extension
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown config file extension: %s", path)
	}

	return &override, nil
}

// NewConfigFromFile creates a new Config by merging file overrides with
// defaults. Convenience wrapper around NewConfig, LoadConfigOverrideFile and
// Merge.
func NewConfigFromFile(path string) (*Config, error) {
	override, err := LoadConfigOverrideFile(path)
	if err != nil {
		return nil, err
	}
	return NewConfig(override), nil
}
