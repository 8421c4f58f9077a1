// Package config loads the expkit configuration object.
//
// Configuration is read from YAML and passed explicitly into the store, the
// executor and the backends; nothing here is global.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/expkit/internal/store"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Environment overrides.
const (
	EnvConfig    = "EXPKIT_CONFIG"
	EnvWorkspace = "EXPKIT_WORKSPACE"
)

// MaxFileSize bounds the configuration file size.
const MaxFileSize = 1024 * 1024

// Backend drivers.
const (
	DriverLocal  = "local"
	DriverDryRun = "dry-run"
)

// Config is the complete configuration.
type Config struct {
	// Workspace is the directory holding experiments. Defaults to the
	// current directory.
	Workspace string `yaml:"workspace"`

	User    UserConfig     `yaml:"user"`
	Journal JournalConfig  `yaml:"journal"`
	Backend BackendConfig  `yaml:"backend"`
	Formats []store.Format `yaml:"formats"`
	Metrics MetricsConfig  `yaml:"metrics"`
	Archive ArchiveConfig  `yaml:"archive"`
}

// UserConfig identifies the author of new records.
type UserConfig struct {
	Name string `yaml:"name"`
}

// JournalConfig locates the job journal.
type JournalConfig struct {
	// Path of the SQLite file. Defaults to <workspace>/.expkit/journal.db.
	Path string `yaml:"path"`
}

// BackendConfig selects how tools are executed.
type BackendConfig struct {
	Driver string `yaml:"driver"`

	// Env values are exposed to command templates and the tool process.
	Env map[string]string `yaml:"env"`
}

// MetricsConfig controls metrics export.
type MetricsConfig struct {
	// Textfile, when set, receives job metrics in Prometheus text format
	// after every run.
	Textfile string `yaml:"textfile"`
}

// ArchiveConfig locates the S3 mirror of experiment trees.
type ArchiveConfig struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
	Prefix    string `yaml:"prefix"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		panic(fmt.Sprintf("config: embedded defaults: %v", err))
	}
	return cfg
}

// Load reads the configuration file at path over the defaults. An empty path
// falls back to $EXPKIT_CONFIG; with neither set, defaults are used. A
// configured formats list replaces the built-in one.
// $EXPKIT_WORKSPACE overrides the workspace.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path != "" {
		data, err := readFile(path)
		if err != nil {
			return nil, err
		}
		defaults := cfg.Formats
		if err := decodeStrict(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		if len(cfg.Formats) == 0 {
			cfg.Formats = defaults
		}
	}

	if ws := os.Getenv(EnvWorkspace); ws != "" {
		cfg.Workspace = ws
	}
	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if info.Size() > MaxFileSize {
		return nil, fmt.Errorf("read config: %s exceeds %d bytes", path, MaxFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return data, nil
}

func decodeStrict(data []byte, out *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// finalize resolves derived defaults and validates the result.
func (c *Config) finalize() error {
	if c.Workspace == "" {
		c.Workspace = "."
	}
	ws, err := filepath.Abs(c.Workspace)
	if err != nil {
		return fmt.Errorf("resolve workspace: %w", err)
	}
	c.Workspace = ws

	if c.Journal.Path == "" {
		c.Journal.Path = filepath.Join(c.Workspace, ".expkit", "journal.db")
	}

	switch c.Backend.Driver {
	case "":
		c.Backend.Driver = DriverLocal
	case DriverLocal, DriverDryRun:
	default:
		return fmt.Errorf("backend.driver: unknown driver %q", c.Backend.Driver)
	}

	seen := make(map[string]bool)
	for i, f := range c.Formats {
		if f.Name == "" || f.Extension == "" {
			return fmt.Errorf("formats[%d]: name and extension are required", i)
		}
		if seen[f.Name] {
			return fmt.Errorf("formats[%d]: duplicate format %q", i, f.Name)
		}
		seen[f.Name] = true
	}
	return nil
}

// FormatRegistry builds the store format registry from the configured
// formats.
func (c *Config) FormatRegistry() *store.FormatRegistry {
	return store.NewFormatRegistry(c.Formats...)
}

// Author returns the configured user name, falling back to $USER.
func (c *Config) Author() string {
	if c.User.Name != "" {
		return c.User.Name
	}
	return os.Getenv("USER")
}
