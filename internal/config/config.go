// Package config loads the engine's layered configuration: defaults,
// overlaid by a global user file, overlaid by a project file, overlaid by
// explicit CLI flags. File format is JSONC (HuJSON), following the
// teacher's LoadConfig shape.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/natefinch/atomic"
	"github.com/tailscale/hujson"
)

// BackendKind selects which kv.Engine implementation to construct.
type BackendKind string

const (
	BackendMemory BackendKind = "memory"
	BackendSQLite BackendKind = "sqlite"
)

var (
	ErrConfigFileNotFound = errors.New("config: file not found")
	ErrConfigFileRead     = errors.New("config: cannot read file")
	ErrConfigInvalid      = errors.New("config: invalid file")
	ErrBackendEmpty       = errors.New("config: backend cannot be empty")
	ErrBackendUnknown     = errors.New("config: unknown backend")
	ErrSQLiteDirEmpty     = errors.New("config: sqlite_dir cannot be empty when backend is sqlite")
)

// EngineConfig is the full, resolved configuration for constructing an
// [kv.Engine] (spec.md §3 "Engine options", SPEC_FULL.md C8).
type EngineConfig struct {
	Backend BackendKind `json:"backend"`

	// SQLiteDir is the directory holding the sqlite database and journal.
	// Only meaningful when Backend is [BackendSQLite].
	SQLiteDir string `json:"sqlite_dir,omitempty"`

	// LockTimeoutMS bounds journal lock acquisition, in milliseconds.
	// Zero means the backend's own default.
	LockTimeoutMS int64 `json:"lock_timeout_ms,omitempty"`

	// MaxRetries is loaded and merged like the other fields, but nothing
	// reads it: [kv.WithTransaction] always allows up to
	// [kv.MaxRetryAttempts] attempts.
	MaxRetries int `json:"max_retries,omitempty"`
}

// LockTimeout returns LockTimeoutMS as a [time.Duration].
func (c EngineConfig) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutMS) * time.Millisecond
}

// Sources tracks which config files were loaded, for diagnostics.
type Sources struct {
	Global  string
	Project string
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() EngineConfig {
	return EngineConfig{
		Backend:    BackendMemory,
		MaxRetries: 10,
	}
}

// FileName is the default project config file name.
const FileName = ".kvtx.json"

// globalConfigPath returns $XDG_CONFIG_HOME/kvtx/config.json, falling back
// to ~/.config/kvtx/config.json. Returns "" if neither can be determined.
func globalConfigPath(env []string) string {
	for _, e := range env {
		if after, ok := strings.CutPrefix(e, "XDG_CONFIG_HOME="); ok {
			return filepath.Join(after, "kvtx", "config.json")
		}
	}

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "kvtx", "config.json")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".config", "kvtx", "config.json")
}

// Load resolves configuration with the following precedence (highest
// wins): defaults, global user config, project config (or an explicit
// configPath), then cliOverrides fields that are non-zero.
func Load(workDir, configPath string, cliOverrides EngineConfig, env []string) (EngineConfig, Sources, error) {
	cfg := DefaultConfig()

	var sources Sources

	globalCfg, globalPath, err := loadOptional(globalConfigPath(env))
	if err != nil {
		return EngineConfig{}, Sources{}, err
	}

	sources.Global = globalPath
	cfg = merge(cfg, globalCfg)

	projectFile := configPath
	mustExist := configPath != ""

	if projectFile == "" {
		projectFile = filepath.Join(workDir, FileName)
	} else if !filepath.IsAbs(projectFile) {
		projectFile = filepath.Join(workDir, projectFile)
	}

	var projectCfg EngineConfig

	var projectPath string

	if mustExist {
		if _, statErr := os.Stat(projectFile); statErr != nil {
			return EngineConfig{}, Sources{}, fmt.Errorf("%w: %s", ErrConfigFileNotFound, configPath)
		}

		projectCfg, projectPath, err = loadRequired(projectFile)
	} else {
		projectCfg, projectPath, err = loadOptional(projectFile)
	}

	if err != nil {
		return EngineConfig{}, Sources{}, err
	}

	sources.Project = projectPath
	cfg = merge(cfg, projectCfg)
	cfg = merge(cfg, cliOverrides)

	if err := validate(cfg); err != nil {
		return EngineConfig{}, Sources{}, err
	}

	return cfg, sources, nil
}

func loadOptional(path string) (EngineConfig, string, error) {
	if path == "" {
		return EngineConfig{}, "", nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // path is intentionally user-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return EngineConfig{}, "", nil
		}

		return EngineConfig{}, "", nil
	}

	cfg, err := parse(data)
	if err != nil {
		return EngineConfig{}, "", fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	return cfg, path, nil
}

func loadRequired(path string) (EngineConfig, string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is intentionally user-controlled
	if err != nil {
		return EngineConfig{}, "", fmt.Errorf("%w: %s", ErrConfigFileRead, path)
	}

	cfg, err := parse(data)
	if err != nil {
		return EngineConfig{}, "", fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	return cfg, path, nil
}

func parse(data []byte) (EngineConfig, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return EngineConfig{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg EngineConfig

	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return EngineConfig{}, fmt.Errorf("invalid JSON: %w", err)
	}

	return cfg, nil
}

func merge(base, overlay EngineConfig) EngineConfig {
	if overlay.Backend != "" {
		base.Backend = overlay.Backend
	}

	if overlay.SQLiteDir != "" {
		base.SQLiteDir = overlay.SQLiteDir
	}

	if overlay.LockTimeoutMS != 0 {
		base.LockTimeoutMS = overlay.LockTimeoutMS
	}

	if overlay.MaxRetries != 0 {
		base.MaxRetries = overlay.MaxRetries
	}

	return base
}

func validate(cfg EngineConfig) error {
	if cfg.Backend == "" {
		return ErrBackendEmpty
	}

	switch cfg.Backend {
	case BackendMemory:
		return nil
	case BackendSQLite:
		if cfg.SQLiteDir == "" {
			return ErrSQLiteDirEmpty
		}

		return nil
	default:
		return fmt.Errorf("%w: %q", ErrBackendUnknown, cfg.Backend)
	}
}

// Format returns cfg as formatted JSON.
func Format(cfg EngineConfig) (string, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("config: format: %w", err)
	}

	return string(data), nil
}

// WriteProjectConfig persists cfg to dir/.kvtx.json atomically, so a crash
// mid-write never leaves a truncated config file behind.
func WriteProjectConfig(dir string, cfg EngineConfig) error {
	data, err := Format(cfg)
	if err != nil {
		return err
	}

	path := filepath.Join(dir, FileName)

	if err := atomic.WriteFile(path, strings.NewReader(data+"\n")); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}

	return nil
}
