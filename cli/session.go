package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/toolmux/provider"
	"github.com/petal-labs/toolmux/tool"
)

// session holds what a command needs to reach the configured providers.
type session struct {
	config    *provider.Config
	providers []provider.Descriptor
	connector tool.Connector
	timeout   time.Duration
}

// loadSession resolves and loads the provider config. ids narrows the
// providers to the ones listed, keeping the requested order.
func loadSession(cmd *cobra.Command, ids []string) (*session, error) {
	explicit, _ := cmd.Flags().GetString("config")
	path, err := provider.DiscoverConfigPath(explicit)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, exitError(exitFileNotFound, "%v", err)
		}
		return nil, exitError(exitRuntime, "%v", err)
	}

	cfg, err := provider.LoadConfig(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, exitError(exitFileNotFound, "config file not found: %s", path)
	case errors.Is(err, provider.ErrInvalidConfig):
		return nil, exitError(exitValidation, "%v", err)
	case err != nil:
		return nil, exitError(exitInputParse, "%v", err)
	}

	providers, err := cfg.Select(ids...)
	if err != nil {
		return nil, exitError(exitValidation, "%v", err)
	}

	logger := logFrom(cmd)
	var connector tool.Connector = tool.NewStdioConnector(logger)
	if cfg.Pool.Enabled {
		connector = tool.NewPoolConnector(connector, cfg.Pool.Size)
	}

	timeout := tool.DefaultTimeout
	if cfg.TimeoutMS > 0 {
		timeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
	}

	logger.Debug("provider config loaded", "path", cfg.Path, "providers", len(providers), "pooled", cfg.Pool.Enabled)
	return &session{
		config:    cfg,
		providers: providers,
		connector: connector,
		timeout:   timeout,
	}, nil
}

// discover builds the catalog and reports provider warnings on stderr.
func (s *session) discover(cmd *cobra.Command) (*tool.Catalog, []tool.Warning) {
	opts := []tool.RegistryOption{
		tool.WithConnector(s.connector),
		tool.WithLogger(logFrom(cmd)),
		tool.WithTimeout(s.timeout),
	}
	if s.config.DiscoveryConcurrency > 0 {
		opts = append(opts, tool.WithConcurrency(s.config.DiscoveryConcurrency))
	}
	catalog, warnings := tool.NewRegistry(opts...).Initialize(commandContext(cmd), s.providers)
	for _, warning := range warnings {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", warning)
	}
	return catalog, warnings
}

func (s *session) invoker(cmd *cobra.Command, catalog *tool.Catalog) (*tool.Invoker, error) {
	invoker, err := tool.NewInvoker(catalog, tool.InvokerConfig{
		Connector: s.connector,
		Logger:    logFrom(cmd),
		Timeout:   s.timeout,
	})
	if err != nil {
		return nil, exitError(exitRuntime, "%v", err)
	}
	return invoker, nil
}

// close shuts down pooled provider processes, if any.
func (s *session) close(cmd *cobra.Command) {
	closer, ok := s.connector.(interface {
		Close(ctx context.Context) error
	})
	if !ok {
		return
	}
	if err := closer.Close(context.WithoutCancel(commandContext(cmd))); err != nil {
		logFrom(cmd).Warn("closing provider sessions failed", "error", err)
	}
}
