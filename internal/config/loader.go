package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "COACHD_"
)

// LoadOption customizes Load.
type LoadOption func(*loadOptions)

type loadOptions struct {
	allowedDirs []string
	skipEnv     bool
}

// WithAllowedDir adds a directory config files may be loaded from.
func WithAllowedDir(dir string) LoadOption {
	return func(o *loadOptions) {
		o.allowedDirs = append(o.allowedDirs, dir)
	}
}

// WithoutEnv disables environment overrides.
func WithoutEnv() LoadOption {
	return func(o *loadOptions) {
		o.skipEnv = true
	}
}

// Load builds configuration from defaults, an optional YAML file and the
// environment, in increasing order of precedence.
//
// An empty path means ~/.config/coachd/config.yaml. A missing file is not an
// error. Files must live under ~/.config/coachd, /etc/coachd or a directory
// added with WithAllowedDir, must be 0600 or 0400 and no larger than 1MB.
//
// Environment variables map by stripping COACHD_ and splitting on the first
// underscore:
//
//	COACHD_SERVER_PORT    -> server.port
//	COACHD_LLM_API_KEY    -> llm.api_key
//	COACHD_MEMORY_DRIVER  -> memory.driver
func Load(configPath string, opts ...LoadOption) (*Config, error) {
	o := &loadOptions{}
	for _, opt := range opts {
		opt(o)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	o.allowedDirs = append(o.allowedDirs, filepath.Join(home, ".config", "coachd"), "/etc/coachd")

	if configPath == "" {
		configPath = filepath.Join(home, ".config", "coachd", "config.yaml")
	}

	k := koanf.New(".")

	if err := validateConfigPath(configPath, o.allowedDirs); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}
	if err := loadFile(k, configPath); err != nil {
		return nil, err
	}

	if !o.skipEnv {
		if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
			return nil, fmt.Errorf("failed to load environment variables: %w", err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func loadFile(k *koanf.Koanf, path string) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	// Validate through the open descriptor to avoid a stat/open race.
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return fmt.Errorf("failed to load config file %s: %w", path, err)
	}
	return nil
}

// envKey maps COACHD_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// EnsureConfigDir creates ~/.config/coachd with 0700 permissions.
func EnsureConfigDir() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	dir := filepath.Join(home, ".config", "coachd")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	return nil
}

func validateConfigPath(path string, allowedDirs []string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		// Path may not exist yet.
		resolved = absPath
	}

	for _, dir := range allowedDirs {
		absDir, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		if evaluated, err := filepath.EvalSymlinks(absDir); err == nil {
			absDir = evaluated
		}
		if resolved == absDir || strings.HasPrefix(resolved, absDir+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("config file %s is outside the allowed directories %v", path, allowedDirs)
}

func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}
