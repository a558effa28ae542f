package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigEnvVar names the environment variable holding the default config path.
const ConfigEnvVar = "TOOLMUX_CONFIG"

const (
	projectConfigName = "toolmux.yaml"
	homeConfigName    = "config.yaml"
)

// ErrInvalidConfig is matched by every validation failure from LoadConfig.
var ErrInvalidConfig = errors.New("provider: invalid config")

// PoolConfig enables keep-alive provider sessions.
type PoolConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	Size    int  `yaml:"size,omitempty" json:"size,omitempty"`
}

// Config is the declarative provider configuration file.
type Config struct {
	TimeoutMS            int          `yaml:"timeout_ms,omitempty" json:"timeout_ms,omitempty"`
	DiscoveryConcurrency int          `yaml:"discovery_concurrency,omitempty" json:"discovery_concurrency,omitempty"`
	Pool                 PoolConfig   `yaml:"pool,omitempty" json:"pool,omitempty"`
	Providers            []Descriptor `yaml:"providers" json:"providers"`

	// Path is the file the config was loaded from.
	Path string `yaml:"-" json:"-"`
}

// LoadConfig reads a YAML (.yaml/.yml) or JSON config file, expands
// environment references, resolves working directories against the file's
// directory and validates the result.
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 -- path from caller
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading provider config %q: %w", path, err)
	}
	cfg, err := ParseConfig(data, path)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve provider config path %q: %w", path, err)
	}
	cfg.Path = abs
	cfg.resolve(filepath.Dir(abs))
	return cfg, nil
}

// ParseConfig decodes and validates config bytes. The format is chosen from
// path's extension; working directories are left as written.
func ParseConfig(data []byte, path string) (*Config, error) {
	var cfg Config
	if isYAML(path) {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML %q: %w", path, err)
		}
	} else {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON %q: %w", path, err)
		}
	}
	for i := range cfg.Providers {
		cfg.Providers[i] = expandDescriptor(cfg.Providers[i])
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the config as a whole: at least one provider, unique ids,
// and non-negative limits.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalidConfig)
	}
	if c.TimeoutMS < 0 {
		return fmt.Errorf("%w: timeout_ms must be >= 0", ErrInvalidConfig)
	}
	if c.DiscoveryConcurrency < 0 {
		return fmt.Errorf("%w: discovery_concurrency must be >= 0", ErrInvalidConfig)
	}
	if c.Pool.Size < 0 {
		return fmt.Errorf("%w: pool.size must be >= 0", ErrInvalidConfig)
	}
	if len(c.Providers) == 0 {
		return fmt.Errorf("%w: at least one provider is required", ErrInvalidConfig)
	}
	seen := make(map[string]int, len(c.Providers))
	for i, desc := range c.Providers {
		if err := desc.Validate(); err != nil {
			return fmt.Errorf("%w: providers[%d]: %v", ErrInvalidConfig, i, err)
		}
		if prev, dup := seen[desc.ID]; dup {
			return fmt.Errorf("%w: providers[%d]: duplicate id %q (first at providers[%d])", ErrInvalidConfig, i, desc.ID, prev)
		}
		seen[desc.ID] = i
	}
	return nil
}

// Descriptors returns deep copies of the configured providers in
// declaration order.
func (c *Config) Descriptors() []Descriptor {
	if c == nil {
		return nil
	}
	out := make([]Descriptor, 0, len(c.Providers))
	for _, desc := range c.Providers {
		out = append(out, desc.Clone())
	}
	return out
}

// Select returns the configured providers whose ids are listed, in the
// order requested. Unknown ids are reported as an error.
func (c *Config) Select(ids ...string) ([]Descriptor, error) {
	if len(ids) == 0 {
		return c.Descriptors(), nil
	}
	byID := make(map[string]Descriptor, len(c.Providers))
	for _, desc := range c.Providers {
		byID[desc.ID] = desc
	}
	out := make([]Descriptor, 0, len(ids))
	for _, id := range ids {
		desc, ok := byID[strings.TrimSpace(id)]
		if !ok {
			return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, id)
		}
		out = append(out, desc.Clone())
	}
	return out, nil
}

func (c *Config) resolve(baseDir string) {
	for i := range c.Providers {
		dir := strings.TrimSpace(c.Providers[i].WorkingDir)
		if dir == "" {
			c.Providers[i].WorkingDir = baseDir
			continue
		}
		c.Providers[i].WorkingDir = resolveConfigRelative(baseDir, dir)
	}
}

// DiscoverConfigPath resolves the config location with first-match
// semantics: the explicit path, then $TOOLMUX_CONFIG, then ./toolmux.yaml,
// then ~/.toolmux/config.yaml.
func DiscoverConfigPath(explicitPath string) (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolve working directory: %w", err)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = ""
	}
	return DiscoverConfigPathFrom(explicitPath, os.Getenv(ConfigEnvVar), cwd, homeDir)
}

// DiscoverConfigPathFrom is a testable variant of DiscoverConfigPath.
func DiscoverConfigPathFrom(explicitPath, envPath, cwd, homeDir string) (string, error) {
	for _, pinned := range []string{explicitPath, envPath} {
		if clean := strings.TrimSpace(pinned); clean != "" {
			if _, err := os.Stat(clean); err != nil {
				return "", fmt.Errorf("provider config %q: %w", clean, err)
			}
			return filepath.Clean(clean), nil
		}
	}

	candidates := []string{filepath.Join(cwd, projectConfigName)}
	if homeDir != "" {
		candidates = append(candidates, filepath.Join(homeDir, ".toolmux", homeConfigName))
	}
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, nil
		}
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("checking config path %q: %w", candidate, err)
		}
	}
	return "", fmt.Errorf("no provider config found (pass --config or set %s): %w", ConfigEnvVar, os.ErrNotExist)
}

func expandDescriptor(desc Descriptor) Descriptor {
	out := desc.Clone()
	out.ID = strings.TrimSpace(out.ID)
	out.Command = strings.TrimSpace(os.ExpandEnv(out.Command))
	for i, arg := range out.Args {
		out.Args[i] = os.ExpandEnv(arg)
	}
	for key, value := range out.Env {
		out.Env[key] = os.ExpandEnv(value)
	}
	out.WorkingDir = os.ExpandEnv(out.WorkingDir)
	return out
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func resolveConfigRelative(baseDir, p string) string {
	clean := filepath.Clean(p)
	if filepath.IsAbs(clean) {
		return clean
	}
	return filepath.Join(baseDir, clean)
}
