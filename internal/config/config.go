package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	TransportBES  = "bes"
	TransportFile = "file"

	defaultBazelBinary       = "bazel"
	defaultTransport         = TransportBES
	defaultSpoolPollInterval = 100 * time.Millisecond
	defaultSourceCacheSize   = 4096

	envBazelBinary       = "BAZELBSP_BAZEL_BINARY"
	envWorkspaceRoot     = "BAZELBSP_WORKSPACE_ROOT"
	envExecRoot          = "BAZELBSP_EXEC_ROOT"
	envTransport         = "BAZELBSP_TRANSPORT"
	envSpoolPollInterval = "BAZELBSP_SPOOL_POLL_INTERVAL"
	envSourceCacheSize   = "BAZELBSP_SOURCE_CACHE_SIZE"

	dotEnvFile = ".env"
)

// Config aggregates what the bridge needs to drive the build tool.
type Config struct {
	BazelBinary   string
	WorkspaceRoot string
	// ExecRoot resolves tool-relative output paths. Empty means "ask the tool".
	ExecRoot          string
	Transport         string
	SpoolPollInterval time.Duration
	SourceCacheSize   int
}

// Load builds a Config from defaults, an optional JSON file, a .env file in the
// working directory and finally BAZELBSP_* environment variables.
func Load(path string) (Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, fmt.Errorf("determine working directory: %w", err)
	}
	cfg := Config{
		BazelBinary:       defaultBazelBinary,
		WorkspaceRoot:     cwd,
		Transport:         defaultTransport,
		SpoolPollInterval: defaultSpoolPollInterval,
		SourceCacheSize:   defaultSourceCacheSize,
	}

	if path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	// Values already present in the environment win over the .env file.
	if err := godotenv.Load(dotEnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("ignoring %s: %v", dotEnvFile, err)
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the invariants the rest of the bridge relies on.
func (c *Config) Validate() error {
	if c.BazelBinary == "" {
		return errors.New("bazel_binary must not be empty")
	}
	if c.WorkspaceRoot == "" {
		return errors.New("workspace_root must not be empty")
	}
	if !filepath.IsAbs(c.WorkspaceRoot) {
		abs, err := filepath.Abs(c.WorkspaceRoot)
		if err != nil {
			return fmt.Errorf("resolve workspace_root: %w", err)
		}
		c.WorkspaceRoot = abs
	}
	switch c.Transport {
	case TransportBES, TransportFile:
	default:
		return fmt.Errorf("transport must be %q or %q, got %q", TransportBES, TransportFile, c.Transport)
	}
	if c.SpoolPollInterval <= 0 {
		return errors.New("spool_poll_interval must be > 0")
	}
	if c.SourceCacheSize <= 0 {
		return errors.New("source_cache_size must be > 0")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(envBazelBinary); v != "" {
		cfg.BazelBinary = v
	}
	if v := os.Getenv(envWorkspaceRoot); v != "" {
		cfg.WorkspaceRoot = v
	}
	if v := os.Getenv(envExecRoot); v != "" {
		cfg.ExecRoot = v
	}
	if v := os.Getenv(envTransport); v != "" {
		cfg.Transport = v
	}

	if v := os.Getenv(envSpoolPollInterval); v != "" {
		if dur, err := time.ParseDuration(v); err == nil && dur > 0 {
			cfg.SpoolPollInterval = dur
		} else if err != nil {
			log.Printf("invalid %s value %q: %v", envSpoolPollInterval, v, err)
		}
	}

	if v := os.Getenv(envSourceCacheSize); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SourceCacheSize = n
		} else if err != nil {
			log.Printf("invalid %s value %q: %v", envSourceCacheSize, v, err)
		}
	}
}

type fileConfig struct {
	BazelBinary       string `json:"bazel_binary"`
	WorkspaceRoot     string `json:"workspace_root"`
	ExecRoot          string `json:"exec_root"`
	Transport         string `json:"transport"`
	SpoolPollInterval string `json:"spool_poll_interval"`
	SourceCacheSize   int    `json:"source_cache_size"`
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var raw fileConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if raw.BazelBinary != "" {
		cfg.BazelBinary = raw.BazelBinary
	}
	if raw.WorkspaceRoot != "" {
		cfg.WorkspaceRoot = raw.WorkspaceRoot
	}
	if raw.ExecRoot != "" {
		cfg.ExecRoot = raw.ExecRoot
	}
	if raw.Transport != "" {
		cfg.Transport = raw.Transport
	}
	if raw.SpoolPollInterval != "" {
		dur, err := time.ParseDuration(raw.SpoolPollInterval)
		if err != nil {
			return fmt.Errorf("parse spool_poll_interval: %w", err)
		}
		if dur <= 0 {
			return errors.New("spool_poll_interval must be > 0")
		}
		cfg.SpoolPollInterval = dur
	}
	if raw.SourceCacheSize < 0 {
		return errors.New("source_cache_size must be > 0")
	}
	if raw.SourceCacheSize > 0 {
		cfg.SourceCacheSize = raw.SourceCacheSize
	}
	return nil
}
