package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pelletier/go-toml/v2"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CARGO_HOME", "/opt/cargo")

	cfg, path, err := Load(context.Background(), LoadOptions{ConfigDirPath: t.TempDir()})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if path != "" {
		t.Errorf("path = %q, want none", path)
	}

	if !cfg.UseLocalIndex {
		t.Error("local index should be on by default")
	}
	if cfg.Backend != BackendGit {
		t.Errorf("Backend = %q", cfg.Backend)
	}
	if cfg.MaxPayload != 8<<20 {
		t.Errorf("MaxPayload = %d", cfg.MaxPayload)
	}
	if cfg.FetchTimeout != 30*time.Second {
		t.Errorf("FetchTimeout = %s", cfg.FetchTimeout)
	}
	want := filepath.Join("/opt/cargo", "registry", "index", DefaultIndexHash, ".git")
	if cfg.GitDir() != want {
		t.Errorf("GitDir = %q, want %q", cfg.GitDir(), want)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	content := `
use_local_index = true
backend = "dir"
index_path = "/srv/crates.io-index"
local_index_branch = "origin/main"
fetch_timeout = "5s"
concurrency = 4

[log]
level = "debug"
format = "json"
`
	path := filepath.Join(dir, "crateindex.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, got, err := Load(context.Background(), LoadOptions{ConfigDirPath: dir})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got != path {
		t.Errorf("path = %q, want %q", got, path)
	}
	if cfg.StoreKind() != BackendDir {
		t.Errorf("StoreKind = %q", cfg.StoreKind())
	}
	if cfg.LocalIndexBranch != "origin/main" {
		t.Errorf("LocalIndexBranch = %q", cfg.LocalIndexBranch)
	}
	if cfg.FetchTimeout != 5*time.Second {
		t.Errorf("FetchTimeout = %s", cfg.FetchTimeout)
	}
	if cfg.Concurrency != 4 {
		t.Errorf("Concurrency = %d", cfg.Concurrency)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v", cfg.Log)
	}

	opts := cfg.StoreOptions(nil)
	if opts.Location != "/srv/crates.io-index" {
		t.Errorf("Location = %q", opts.Location)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.toml")
	if err := os.WriteFile(path, []byte(`remote_url = "https://mirror.example.com"`+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CRATEINDEX_USE_LOCAL_INDEX", "false")
	t.Setenv("CRATEINDEX_LOG_LEVEL", "warn")
	t.Setenv("CRATEINDEX_TOKEN", "cio-secret")

	cfg, _, err := Load(context.Background(), LoadOptions{ConfigFilePath: path})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.StoreKind() != BackendSparse {
		t.Errorf("StoreKind = %q, want sparse", cfg.StoreKind())
	}
	if cfg.StoreOptions(nil).Location != "https://mirror.example.com" {
		t.Errorf("Location = %q", cfg.StoreOptions(nil).Location)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
	if got := cfg.StoreOptions(nil).Token; got != "cio-secret" {
		t.Errorf("Token = %q, want it passed to the sparse store", got)
	}
}

func TestTokenOnlyForSparse(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Token = "cio-secret"
	if got := cfg.StoreOptions(nil).Token; got != "" {
		t.Errorf("git store Token = %q, want empty", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, _, err := Load(context.Background(), LoadOptions{ConfigFilePath: filepath.Join(t.TempDir(), "nope.toml")})
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("Load = %v, want not found error", err)
	}
}

func TestLoadCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := Load(ctx, LoadOptions{}); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"defaults", func(*Config) {}, ""},
		{"unknown backend", func(c *Config) { c.Backend = "svn" }, "backend must be one of"},
		{"dir without path", func(c *Config) { c.Backend = BackendDir }, "index_path is required"},
		{"sparse without url", func(c *Config) { c.UseLocalIndex = false; c.RemoteURL = "" }, "remote_url is required"},
		{"zero payload", func(c *Config) { c.MaxPayload = 0 }, "max_payload"},
		{"zero timeout", func(c *Config) { c.FetchTimeout = 0 }, "fetch_timeout"},
		{"zero concurrency", func(c *Config) { c.Concurrency = 0 }, "concurrency"},
		{"negative rate", func(c *Config) { c.RateLimit = -1 }, "rate_limit"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				if err != nil {
					t.Errorf("Validate = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Validate = %v, want error containing %q", err, tt.errMsg)
			}
		})
	}
}

func TestGitDirOverride(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CargoHome = "/home/u/.cargo"
	cfg.LocalIndexHash = "index.crates.io-6f17d22bba15001f"
	want := filepath.Join("/home/u/.cargo", "registry", "index", "index.crates.io-6f17d22bba15001f", ".git")
	if cfg.GitDir() != want {
		t.Errorf("GitDir = %q, want %q", cfg.GitDir(), want)
	}

	cfg.IndexPath = "/tmp/index/.git"
	if cfg.GitDir() != "/tmp/index/.git" {
		t.Errorf("GitDir = %q", cfg.GitDir())
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)

	if logger.GetLevel() != log.WarnLevel {
		t.Errorf("level = %v, want warn", logger.GetLevel())
	}
	logger.Info("hidden")
	logger.Warn("shown", "crate", "serde")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info should be filtered at warn level")
	}
	if !strings.Contains(out, `"crate":"serde"`) {
		t.Errorf("expected JSON output, got %q", out)
	}
}

func TestTOML(t *testing.T) {
	cfg := DefaultConfig()
	data, err := cfg.TOML()
	if err != nil {
		t.Fatalf("TOML failed: %v", err)
	}

	var decoded map[string]any
	if err := toml.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("output is not valid TOML: %v", err)
	}
	if decoded["fetch_timeout"] != "30s" {
		t.Errorf("fetch_timeout = %v", decoded["fetch_timeout"])
	}
	if decoded["backend"] != "git" {
		t.Errorf("backend = %v", decoded["backend"])
	}

	cfg.Token = "cio-secret"
	data, err = cfg.TOML()
	if err != nil {
		t.Fatalf("TOML failed: %v", err)
	}
	if strings.Contains(string(data), "cio-secret") {
		t.Error("TOML must not print the registry token")
	}
}
