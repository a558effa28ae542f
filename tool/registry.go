package tool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/petal-labs/toolmux/provider"
	mcpclient "github.com/petal-labs/toolmux/tool/mcp"
)

const (
	// DefaultTimeout bounds one provider exchange when the provider sets none.
	DefaultTimeout = 30 * time.Second
	// DefaultDiscoveryConcurrency is how many providers are discovered at once.
	DefaultDiscoveryConcurrency = 4
)

// ErrDuplicateProvider is wrapped by the warning for a provider whose id was
// already declared earlier in the same Initialize call.
var ErrDuplicateProvider = errors.New("tool: duplicate provider id")

// Warning is a non-fatal discovery problem. A provider whose discovery
// failed contributes no tools; other providers are unaffected.
type Warning struct {
	ProviderID string `json:"provider_id"`
	Tool       string `json:"tool,omitempty"`
	Err        error  `json:"-"`
}

func (w Warning) Error() string {
	if w.Tool != "" {
		return fmt.Sprintf("provider %q tool %q: %v", w.ProviderID, w.Tool, w.Err)
	}
	return fmt.Sprintf("provider %q: %v", w.ProviderID, w.Err)
}

func (w Warning) Unwrap() error {
	return w.Err
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithConnector sets how provider sessions are opened.
func WithConnector(connector Connector) RegistryOption {
	return func(r *Registry) {
		if connector != nil {
			r.connector = connector
		}
	}
}

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithConcurrency bounds how many providers are discovered at once.
func WithConcurrency(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithTimeout sets the discovery timeout for providers that set none.
func WithTimeout(timeout time.Duration) RegistryOption {
	return func(r *Registry) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

// Registry discovers tools across providers and builds a Catalog.
type Registry struct {
	connector   Connector
	logger      *slog.Logger
	concurrency int
	timeout     time.Duration
}

// NewRegistry returns a registry using the stdio connector by default.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		logger:      slog.Default(),
		concurrency: DefaultDiscoveryConcurrency,
		timeout:     DefaultTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.connector == nil {
		r.connector = NewStdioConnector(r.logger)
	}
	return r
}

// Initialize discovers every provider and merges the results in
// declaration order, so the last provider to declare a tool name owns it.
// Failures never abort discovery; they come back as warnings. A provider
// whose id repeats an earlier one is never launched and is reported as a
// warning, so every tool routes to the provider that declared it.
func (r *Registry) Initialize(ctx context.Context, providers []provider.Descriptor) (*Catalog, []Warning) {
	results := make([]discoveryResult, len(providers))

	sem := make(chan struct{}, r.concurrency)
	var wg sync.WaitGroup
	firstSeen := make(map[string]int, len(providers))
	for i, desc := range providers {
		if first, dup := firstSeen[desc.ID]; dup && desc.ID != "" {
			results[i] = discoveryResult{
				skipped: true,
				err:     fmt.Errorf("%w: %q skipped, first declared at position %d", ErrDuplicateProvider, desc.ID, first),
			}
			continue
		}
		firstSeen[desc.ID] = i

		wg.Add(1)
		go func(i int, desc provider.Descriptor) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[i] = discoveryResult{
					err: classifyConnectorError(desc.ID, "", stageConnect, ctx.Err()),
				}
				return
			}
			tools, toolWarnings, err := r.Discover(ctx, desc)
			results[i] = discoveryResult{tools: tools, warnings: toolWarnings, err: err}
		}(i, desc.Clone())
	}
	wg.Wait()

	var warnings []Warning
	entries := make([]ProviderTools, 0, len(providers))
	for i, desc := range providers {
		result := results[i]
		if result.skipped {
			warnings = append(warnings, Warning{ProviderID: desc.ID, Err: result.err})
			r.logger.Warn("provider skipped", "provider", desc.ID, "error", result.err)
			continue
		}
		warnings = append(warnings, result.warnings...)
		if result.err != nil {
			warnings = append(warnings, Warning{ProviderID: desc.ID, Err: result.err})
			r.logger.Warn("provider discovery failed",
				"provider", desc.ID,
				"error_code", toolErrorCodeOrDefault(result.err, ""),
				"error", result.err,
			)
		}
		entries = append(entries, ProviderTools{Provider: desc, Tools: result.tools})
	}

	catalog := NewCatalog(entries...)
	for _, conflict := range catalog.Conflicts() {
		r.logger.Debug("tool name overridden by later provider",
			"tool", conflict.Name,
			"previous_provider", conflict.Previous,
			"provider", conflict.Winner,
		)
	}
	r.logger.Info("tool catalog ready",
		"providers", len(providers),
		"tools", catalog.Len(),
		"warnings", len(warnings),
	)
	return catalog, warnings
}

type discoveryResult struct {
	tools    []Descriptor
	warnings []Warning
	err      error
	skipped  bool
}

// Discover lists one provider's tools. Tools with unusable schemas are
// skipped and reported as warnings; a provider-level failure is returned as
// the error.
func (r *Registry) Discover(ctx context.Context, desc provider.Descriptor) ([]Descriptor, []Warning, error) {
	started := time.Now()
	tools, warnings, err := r.discover(ctx, desc)

	emitDiscoveryObservation(ProviderDiscoveryObservation{
		ProviderID: desc.ID,
		ToolCount:  len(tools),
		DurationMS: time.Since(started).Milliseconds(),
		Success:    err == nil,
		ErrorCode:  ErrorCode(err),
	})
	return tools, warnings, err
}

func (r *Registry) discover(ctx context.Context, desc provider.Descriptor) ([]Descriptor, []Warning, error) {
	if err := desc.Validate(); err != nil {
		return nil, nil, classifyConnectorError(desc.ID, "", stageConnect, err)
	}

	var listed []mcpclient.Tool
	_, err := runWithRetry(ctx, desc.Retry, retryObservationMeta{providerID: desc.ID}, func(ctx context.Context, _ int) error {
		attemptCtx, cancel := context.WithTimeout(ctx, desc.Timeout(r.timeout))
		defer cancel()
		return withSession(attemptCtx, r.connector, desc, "", stageList, func(ctx context.Context, session Session) error {
			var err error
			listed, err = session.ListTools(ctx)
			return err
		})
	})
	if err != nil {
		return nil, nil, err
	}

	var warnings []Warning
	out := make([]Descriptor, 0, len(listed))
	for _, remote := range listed {
		name := strings.TrimSpace(remote.Name)
		if name == "" {
			warnings = append(warnings, Warning{ProviderID: desc.ID, Err: errors.New("tool with empty name skipped")})
			continue
		}
		schema, err := ClassifySchema(remote.InputSchema)
		if err != nil {
			warnings = append(warnings, Warning{ProviderID: desc.ID, Tool: name, Err: err})
			r.logger.Warn("tool skipped: unusable input schema", "provider", desc.ID, "tool", name, "error", err)
			continue
		}
		out = append(out, Descriptor{
			Name:        name,
			Description: strings.TrimSpace(remote.Description),
			Schema:      schema,
			ProviderID:  desc.ID,
		})
	}
	r.logger.Debug("provider discovered", "provider", desc.ID, "tools", len(out))
	return out, warnings, nil
}
