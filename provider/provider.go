// Package provider describes the external tool provider processes toolmux
// launches and loads them from a configuration file.
package provider

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// RetryPolicy bounds how often a provider launch is retried.
type RetryPolicy struct {
	MaxAttempts int `yaml:"max_attempts,omitempty" json:"max_attempts,omitempty"`
	BackoffMS   int `yaml:"backoff_ms,omitempty" json:"backoff_ms,omitempty"`
}

// Descriptor is the launch recipe for one provider process.
type Descriptor struct {
	ID         string            `yaml:"id" json:"id"`
	Command    string            `yaml:"command" json:"command"`
	Args       []string          `yaml:"args,omitempty" json:"args,omitempty"`
	WorkingDir string            `yaml:"working_dir,omitempty" json:"working_dir,omitempty"`
	Env        map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	TimeoutMS  int               `yaml:"timeout_ms,omitempty" json:"timeout_ms,omitempty"`
	Retry      RetryPolicy       `yaml:"retry,omitempty" json:"retry,omitempty"`
}

// New returns a descriptor for command launched with args. The args slice
// is copied.
func New(id, command string, args ...string) Descriptor {
	return Descriptor{
		ID:      strings.TrimSpace(id),
		Command: strings.TrimSpace(command),
		Args:    slices.Clone(args),
	}
}

// Clone returns a deep copy so callers cannot mutate shared slices or maps.
func (d Descriptor) Clone() Descriptor {
	out := d
	out.Args = slices.Clone(d.Args)
	out.Env = maps.Clone(d.Env)
	return out
}

// Timeout returns the per-exchange timeout, or fallback when none is set.
func (d Descriptor) Timeout(fallback time.Duration) time.Duration {
	if d.TimeoutMS > 0 {
		return time.Duration(d.TimeoutMS) * time.Millisecond
	}
	return fallback
}

// EnvList renders Env as sorted KEY=VALUE pairs.
func (d Descriptor) EnvList() []string {
	if len(d.Env) == 0 {
		return nil
	}
	keys := slices.Sorted(maps.Keys(d.Env))
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		out = append(out, key+"="+d.Env[key])
	}
	return out
}

// String renders the descriptor for logs.
func (d Descriptor) String() string {
	return fmt.Sprintf("%s (%s)", d.ID, strings.Join(append([]string{d.Command}, d.Args...), " "))
}

// Validate reports the first structural problem with the descriptor.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return errors.New("provider id is required")
	}
	if strings.TrimSpace(d.Command) == "" {
		return fmt.Errorf("provider %q: command is required", d.ID)
	}
	if d.TimeoutMS < 0 {
		return fmt.Errorf("provider %q: timeout_ms must be >= 0", d.ID)
	}
	if d.Retry.MaxAttempts < 0 || d.Retry.BackoffMS < 0 {
		return fmt.Errorf("provider %q: retry values must be >= 0", d.ID)
	}
	for key := range d.Env {
		if strings.TrimSpace(key) == "" || strings.Contains(key, "=") {
			return fmt.Errorf("provider %q: invalid env key %q", d.ID, key)
		}
	}
	return nil
}
