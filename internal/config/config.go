// Package config loads crateindex settings from defaults, an optional TOML
// file and CRATEINDEX_* environment variables, in increasing precedence.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"github.com/git-pkgs/crateindex/internal/core"
)

const (
	// AppName is the application name.
	AppName = "crateindex"
	// ConfigFileName is the config file name without extension.
	ConfigFileName = "crateindex"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "toml"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "CRATEINDEX"

	// DefaultIndexHash is the directory Cargo uses for the crates.io git index.
	DefaultIndexHash = "github.com-1ecc6299db9ec823"
	// DefaultRemoteURL is the crates.io sparse index.
	DefaultRemoteURL = "https://index.crates.io"
)

// Store kinds.
const (
	BackendGit    = "git"
	BackendDir    = "dir"
	BackendSparse = "sparse"
)

// Config is an immutable snapshot of the settings.
type Config struct {
	// UseLocalIndex selects the local index. When false the remote sparse
	// index is used regardless of Backend.
	UseLocalIndex    bool   `mapstructure:"use_local_index"`
	LocalIndexHash   string `mapstructure:"local_index_hash"`
	LocalIndexBranch string `mapstructure:"local_index_branch"`
	CargoHome        string `mapstructure:"cargo_home"`
	// Backend is the local store kind: git or dir.
	Backend string `mapstructure:"backend"`
	// IndexPath overrides the derived git directory, or names the root of
	// a dir store.
	IndexPath    string        `mapstructure:"index_path"`
	RemoteURL    string        `mapstructure:"remote_url"`
	MaxPayload   int64         `mapstructure:"max_payload"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	Concurrency  int           `mapstructure:"concurrency"`
	RateLimit    float64       `mapstructure:"rate_limit"`
	// Token authenticates against a private sparse index.
	Token  string    `mapstructure:"token"`
	Listen string    `mapstructure:"listen"`
	Log    LogConfig `mapstructure:"log"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text, json or logfmt
}

// LoadOptions defines explicit configuration loading inputs.
type LoadOptions struct {
	// ConfigFilePath forces loading from a specific config file when set.
	ConfigFilePath string
	// ConfigDirPath overrides the config directory lookup when set.
	ConfigDirPath string
}

// DefaultCargoHome returns $CARGO_HOME or ~/.cargo.
func DefaultCargoHome() string {
	if home := os.Getenv("CARGO_HOME"); home != "" {
		return home
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cargo"
	}
	return filepath.Join(home, ".cargo")
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() *Config {
	return &Config{
		UseLocalIndex:  true,
		LocalIndexHash: DefaultIndexHash,
		CargoHome:      DefaultCargoHome(),
		Backend:        BackendGit,
		RemoteURL:      DefaultRemoteURL,
		MaxPayload:     core.DefaultMaxPayload,
		FetchTimeout:   30 * time.Second,
		Concurrency:    15,
		Listen:         "127.0.0.1:7777",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// ConfigDir returns the per-user configuration directory.
//
//nolint:revive // ConfigDir reads better than Dir at call sites
func ConfigDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get config directory: %w", err)
	}
	return filepath.Join(dir, AppName), nil
}

// Load reads the configuration. It returns the settings and the path of the
// file they were read from, which is empty when only defaults and the
// environment applied.
func Load(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()
	v.SetConfigType(ConfigFileExt)

	defaults := DefaultConfig()
	v.SetDefault("use_local_index", defaults.UseLocalIndex)
	v.SetDefault("local_index_hash", defaults.LocalIndexHash)
	v.SetDefault("local_index_branch", defaults.LocalIndexBranch)
	v.SetDefault("cargo_home", defaults.CargoHome)
	v.SetDefault("backend", defaults.Backend)
	v.SetDefault("index_path", defaults.IndexPath)
	v.SetDefault("remote_url", defaults.RemoteURL)
	v.SetDefault("max_payload", defaults.MaxPayload)
	v.SetDefault("fetch_timeout", defaults.FetchTimeout)
	v.SetDefault("concurrency", defaults.Concurrency)
	v.SetDefault("rate_limit", defaults.RateLimit)
	v.SetDefault("token", defaults.Token)
	v.SetDefault("listen", defaults.Listen)
	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("log.format", defaults.Log.Format)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path, err := findConfigFile(opts)
	if err != nil {
		return nil, "", err
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, "", fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, path, nil
}

func findConfigFile(opts LoadOptions) (string, error) {
	if opts.ConfigFilePath != "" {
		if !fileExists(opts.ConfigFilePath) {
			return "", fmt.Errorf("config file not found: %s", opts.ConfigFilePath)
		}
		return opts.ConfigFilePath, nil
	}

	dir := opts.ConfigDirPath
	if dir == "" {
		var err error
		if dir, err = ConfigDir(); err != nil {
			return "", err
		}
	}

	name := ConfigFileName + "." + ConfigFileExt
	for _, candidate := range []string{filepath.Join(dir, name), name} {
		if fileExists(candidate) {
			return candidate, nil
		}
	}
	return "", nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Validate checks the settings for consistency.
func (c *Config) Validate() error {
	var errs []error
	switch c.Backend {
	case BackendGit, BackendDir, BackendSparse:
	default:
		errs = append(errs, fmt.Errorf("backend must be one of git, dir, sparse: got %q", c.Backend))
	}
	if c.UseLocalIndex && c.Backend == BackendDir && c.IndexPath == "" {
		errs = append(errs, errors.New("index_path is required for the dir backend"))
	}
	if c.StoreKind() == BackendSparse && c.RemoteURL == "" {
		errs = append(errs, errors.New("remote_url is required for the sparse index"))
	}
	if c.MaxPayload <= 0 {
		errs = append(errs, fmt.Errorf("max_payload must be positive: got %d", c.MaxPayload))
	}
	if c.FetchTimeout <= 0 {
		errs = append(errs, fmt.Errorf("fetch_timeout must be positive: got %s", c.FetchTimeout))
	}
	if c.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("concurrency must be positive: got %d", c.Concurrency))
	}
	if c.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("rate_limit must not be negative: got %g", c.RateLimit))
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch c.Log.Format {
	case "", "text", "json", "logfmt":
	default:
		errs = append(errs, fmt.Errorf("log.format must be one of text, json, logfmt: got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// StoreKind returns the store to open: sparse when the local index is
// disabled, otherwise the configured backend.
func (c *Config) StoreKind() string {
	if !c.UseLocalIndex {
		return BackendSparse
	}
	return c.Backend
}

// GitDir returns the git directory of the local index.
func (c *Config) GitDir() string {
	if c.IndexPath != "" {
		return c.IndexPath
	}
	hash := c.LocalIndexHash
	if hash == "" {
		hash = DefaultIndexHash
	}
	return filepath.Join(c.CargoHome, "registry", "index", hash, ".git")
}

// StoreOptions returns the options for opening the configured store.
func (c *Config) StoreOptions(logger *log.Logger) core.StoreOptions {
	opts := core.StoreOptions{
		MaxPayload: c.MaxPayload,
		RateLimit:  c.RateLimit,
		Logger:     logger,
	}
	if c.StoreKind() == BackendSparse {
		opts.Token = c.Token
	}
	switch c.StoreKind() {
	case BackendGit:
		opts.Location = c.GitDir()
	case BackendDir:
		opts.Location = c.IndexPath
	default:
		opts.Location = c.RemoteURL
	}
	return opts
}

// NewLogger builds a logger writing to w at the configured level and format.
func (l LogConfig) NewLogger(w io.Writer) *log.Logger {
	level, err := log.ParseLevel(l.Level)
	if err != nil {
		level = log.InfoLevel
	}

	formatter := log.TextFormatter
	switch l.Format {
	case "json":
		formatter = log.JSONFormatter
	case "logfmt":
		formatter = log.LogfmtFormatter
	}

	return log.NewWithOptions(w, log.Options{
		Prefix:          AppName,
		Level:           level,
		ReportTimestamp: true,
		Formatter:       formatter,
	})
}

// TOML renders the settings in config file form.
func (c *Config) TOML() ([]byte, error) {
	doc := map[string]any{
		"use_local_index":    c.UseLocalIndex,
		"local_index_hash":   c.LocalIndexHash,
		"local_index_branch": c.LocalIndexBranch,
		"cargo_home":         c.CargoHome,
		"backend":            c.Backend,
		"index_path":         c.IndexPath,
		"remote_url":         c.RemoteURL,
		"max_payload":        c.MaxPayload,
		"fetch_timeout":      c.FetchTimeout.String(),
		"concurrency":        c.Concurrency,
		"rate_limit":         c.RateLimit,
		"listen":             c.Listen,
		"token":              redact(c.Token),
		"log": map[string]any{
			"level":  c.Log.Level,
			"format": c.Log.Format,
		},
	}
	return toml.Marshal(doc)
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "<redacted>"
}
