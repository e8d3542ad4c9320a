// Package config loads the human-editable YAML configuration file and
// fills in defaults for anything left unset.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/ticpu/fuse-img2heic/internal/imgparams"
)

// SourcePath is one entry of source_paths[] in the config file.
type SourcePath struct {
	Path      string `yaml:"path"`
	MountName string `yaml:"mount_name"`
	Recursive bool   `yaml:"recursive"`
}

// HeicSettings is heic_settings in the config file.
type HeicSettings struct {
	Quality       uint8  `yaml:"quality"`
	Speed         uint8  `yaml:"speed"`
	Chroma        uint16 `yaml:"chroma"`
	MaxResolution string `yaml:"max_resolution,omitempty"`
}

// CacheSettings is cache in the config file.
type CacheSettings struct {
	MaxSizeMB        int64  `yaml:"max_size_mb"`
	CacheDir         string `yaml:"cache_dir,omitempty"`
	EnableEncryption bool   `yaml:"enable_encryption"`
}

// FuseSettings is fuse in the config file.
type FuseSettings struct {
	CacheTimeout  int `yaml:"cache_timeout"`
	PrefetchCount int `yaml:"prefetch_count"`
}

// LoggingSettings is logging in the config file.
type LoggingSettings struct {
	Level string `yaml:"level"`
	// MetricsAddr, if set, serves Prometheus metrics at "<addr>/metrics".
	// Leaving it empty disables the listener entirely.
	MetricsAddr string `yaml:"metrics_addr,omitempty"`
}

// Config is the top-level shape of the YAML configuration file.
type Config struct {
	MountPoint       string          `yaml:"mount_point"`
	SourcePaths      []SourcePath    `yaml:"source_paths"`
	FilenamePatterns []string        `yaml:"filename_patterns,omitempty"`
	Heic             HeicSettings    `yaml:"heic_settings"`
	Cache            CacheSettings   `yaml:"cache"`
	Fuse             FuseSettings    `yaml:"fuse"`
	Logging          LoggingSettings `yaml:"logging"`
}

// Default returns the configuration written by the "setup" subcommand:
// no source paths (the user must add their own), sane encode settings,
// a 1 GiB cache with encryption off, a 60 second attribute TTL, and no
// prefetching.
func Default() *Config {
	return &Config{
		MountPoint: "",
		Heic: HeicSettings{
			Quality: 50,
			Speed:   4,
			Chroma:  420,
		},
		Cache: CacheSettings{
			MaxSizeMB:        1024,
			EnableEncryption: false,
		},
		Fuse: FuseSettings{
			CacheTimeout:  60,
			PrefetchCount: 0,
		},
		Logging: LoggingSettings{Level: "info"},
	}
}

// Load reads and parses the YAML file at path, applying defaults for any
// field the file leaves zero-valued.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() error {
	if c.Cache.CacheDir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return fmt.Errorf("config: resolve default cache dir: %w", err)
		}
		c.Cache.CacheDir = filepath.Join(base, "fuse-img2heic")
	}
	if len(c.FilenamePatterns) == 0 {
		c.FilenamePatterns = []string{`.*\.(jpg|jpeg|png|gif|heic)$`}
	}
	return nil
}

// EncoderParams converts the configured heic_settings into the shared
// imgparams record, parsing max_resolution's "w,h" form if set.
func (c *Config) EncoderParams() (imgparams.EncoderParams, error) {
	params := imgparams.EncoderParams{
		Quality: c.Heic.Quality,
		Speed:   c.Heic.Speed,
		Chroma:  imgparams.Chroma(c.Heic.Chroma),
	}
	if c.Heic.MaxResolution != "" {
		w, h, err := parseResolution(c.Heic.MaxResolution)
		if err != nil {
			return params, fmt.Errorf("config: max_resolution: %w", err)
		}
		params.MaxRes = &imgparams.MaxResolution{Width: w, Height: h}
	}
	if err := params.Validate(); err != nil {
		return params, err
	}
	return params, nil
}

func parseResolution(s string) (uint32, uint32, error) {
	parts := strings.SplitN(s, ",", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected \"w,h\", got %q", s)
	}
	w, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid width in %q: %w", s, err)
	}
	h, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid height in %q: %w", s, err)
	}
	return uint32(w), uint32(h), nil
}

// WriteDefault writes a fresh default config to path, used by the
// "setup" subcommand. It refuses to overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config: %s already exists", path)
	}
	cfg := Default()
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal default: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create config dir: %w", err)
	}
	return os.WriteFile(path, out, 0o644)
}
