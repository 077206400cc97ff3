// Package config resolves cellar settings from defaults, a YAML file, the
// environment and command-line flags, in that order of precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/cellar/internal/ports"
)

// Environment variables read by Resolve.
const (
	EnvRoot = "CELLAR_ROOT"
	EnvJobs = "CELLAR_JOBS"
)

// DefaultRoot is the cellar root when nothing else is configured.
const DefaultRoot = "~/.cellar"

// Log formats.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the resolved settings of one cellar invocation.
type Config struct {
	Root         string        `yaml:"root"`
	Formulae     string        `yaml:"formulae"`
	Jobs         int           `yaml:"jobs"`
	Timeout      time.Duration `yaml:"timeout"`
	KeepBuildDir bool          `yaml:"keep_build_dir"`
	LogFormat    string        `yaml:"log_format"`
	LogLevel     string        `yaml:"log_level"`
}

// Overrides carries command-line values. Nil fields were not given.
type Overrides struct {
	ConfigFile   string
	Root         *string
	Formulae     *string
	Jobs         *int
	Timeout      *time.Duration
	KeepBuildDir *bool
	LogFormat    *string
	LogLevel     *string
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Root:      ports.ExpandPath(DefaultRoot),
		Jobs:      runtime.NumCPU(),
		LogFormat: LogFormatText,
		LogLevel:  "info",
	}
}

// Resolve layers defaults, the config file, getenv and o, then validates.
// The config file is o.ConfigFile when given, else <root>/config.yaml if it
// exists.
func Resolve(o Overrides, getenv func(string) string) (Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg := Default()

	root := cfg.Root
	if v := getenv(EnvRoot); v != "" {
		root = ports.ExpandPath(v)
	}
	if o.Root != nil {
		root = ports.ExpandPath(*o.Root)
	}

	path, explicit := o.ConfigFile, o.ConfigFile != ""
	if !explicit {
		path = filepath.Join(root, "config.yaml")
	}
	if err := cfg.mergeFile(path, explicit); err != nil {
		return Config{}, err
	}

	if err := cfg.applyEnv(getenv); err != nil {
		return Config{}, err
	}
	cfg.applyOverrides(o)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string, required bool) error {
	data, err := os.ReadFile(ports.ExpandPath(path))
	if err != nil {
		if os.IsNotExist(err) && !required {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var file Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, path, err)
	}

	if file.Root != "" {
		c.Root = ports.ExpandPath(file.Root)
	}
	if file.Formulae != "" {
		c.Formulae = ports.ExpandPath(file.Formulae)
	}
	if file.Jobs != 0 {
		c.Jobs = file.Jobs
	}
	if file.Timeout != 0 {
		c.Timeout = file.Timeout
	}
	if file.KeepBuildDir {
		c.KeepBuildDir = true
	}
	if file.LogFormat != "" {
		c.LogFormat = file.LogFormat
	}
	if file.LogLevel != "" {
		c.LogLevel = file.LogLevel
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv(EnvRoot); v != "" {
		c.Root = ports.ExpandPath(v)
	}
	if v := getenv(EnvJobs); v != "" {
		jobs, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a number", ErrInvalidConfig, EnvJobs, v)
		}
		c.Jobs = jobs
	}
	return nil
}

func (c *Config) applyOverrides(o Overrides) {
	if o.Root != nil {
		c.Root = ports.ExpandPath(*o.Root)
	}
	if o.Formulae != nil {
		c.Formulae = ports.ExpandPath(*o.Formulae)
	}
	if o.Jobs != nil {
		c.Jobs = *o.Jobs
	}
	if o.Timeout != nil {
		c.Timeout = *o.Timeout
	}
	if o.KeepBuildDir != nil {
		c.KeepBuildDir = *o.KeepBuildDir
	}
	if o.LogFormat != nil {
		c.LogFormat = *o.LogFormat
	}
	if o.LogLevel != nil {
		c.LogLevel = *o.LogLevel
	}
}

// Validate checks the settings.
func (c Config) Validate() error {
	var errs []error
	if c.Root == "" {
		errs = append(errs, fmt.Errorf("%w: root must not be empty", ErrInvalidConfig))
	}
	if c.Jobs < 1 {
		errs = append(errs, fmt.Errorf("%w: jobs must be at least 1, got %d", ErrInvalidConfig, c.Jobs))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("%w: timeout must not be negative, got %s", ErrInvalidConfig, c.Timeout))
	}
	if c.LogFormat != LogFormatText && c.LogFormat != LogFormatJSON {
		errs = append(errs, fmt.Errorf("%w: log format must be %q or %q, got %q", ErrInvalidConfig, LogFormatText, LogFormatJSON, c.LogFormat))
	}
	if _, err := ports.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrInvalidConfig, err))
	}
	return errors.Join(errs...)
}

// CellarDir holds the install prefixes.
func (c Config) CellarDir() string { return filepath.Join(c.Root, "Cellar") }

// ReceiptsDir holds install receipts.
func (c Config) ReceiptsDir() string { return filepath.Join(c.Root, "receipts") }

// TmpDir holds build sessions and downloads.
func (c Config) TmpDir() string { return filepath.Join(c.Root, "tmp") }

// FormulaDir returns the formula directory, <root>/formulae unless set.
func (c Config) FormulaDir() string {
	if c.Formulae != "" {
		return c.Formulae
	}
	return filepath.Join(c.Root, "formulae")
}
