// Package config loads nixfs configuration.
//
// Configuration comes from a single optional YAML file named by the
// --config flag or the NIXFS_CONFIG environment variable. There is no
// discovery: without either, Default() is used as is. Command-line flags
// are applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable holding the config file path.
const EnvVar = "NIXFS_CONFIG"

// Backend selects how the filesystem is mounted.
type Backend string

const (
	// FUSE mounts through the kernel FUSE driver via cgofuse.
	FUSE Backend = "fuse"
	// NFS serves NFSv3 on localhost and mounts it with mount(8).
	NFS Backend = "nfs"
)

// Config is the complete nixfs configuration.
type Config struct {
	// Debug enables debug-level logging of every callback and build.
	Debug bool `yaml:"debug"`

	// Backend is "fuse" or "nfs".
	Backend Backend `yaml:"backend"`

	Nix   NixConfig   `yaml:"nix"`
	Mount MountConfig `yaml:"mount"`
}

// NixConfig configures the build tool.
type NixConfig struct {
	// Binary is the nix executable. Empty means resolve "nix" on PATH,
	// then in the Determinate Nix profile.
	Binary string `yaml:"binary"`

	// MaxOutput is the readlink buffer capacity in bytes.
	MaxOutput int `yaml:"max_output"`
}

// MountConfig configures the mount itself.
type MountConfig struct {
	// Options are passed to the FUSE host as -o arguments.
	Options []string `yaml:"options"`

	// AllowOther lets users other than the mounting user see the tree.
	AllowOther bool `yaml:"allow_other"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Backend: FUSE,
		Nix: NixConfig{
			MaxOutput: 4096,
		},
		Mount: MountConfig{
			Options: []string{"ro"},
		},
	}
}

// Load reads the file named by path, or by NIXFS_CONFIG when path is
// empty. With neither set it returns Default().
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvVar)
	}
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile overlays the YAML file at path on Default().
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Backend != FUSE && c.Backend != NFS {
		errs = append(errs, fmt.Errorf("backend must be one of: %s, %s (got %q)", FUSE, NFS, c.Backend))
	}

	if c.Nix.MaxOutput < 2 {
		errs = append(errs, fmt.Errorf("nix.max_output must be at least 2, got %d", c.Nix.MaxOutput))
	}

	return errors.Join(errs...)
}

// MountArgs renders the mount options as FUSE host arguments.
func (c *Config) MountArgs() []string {
	var args []string
	for _, opt := range c.Mount.Options {
		args = append(args, "-o", opt)
	}
	if c.Mount.AllowOther {
		args = append(args, "-o", "allow_other")
	}
	return args
}
