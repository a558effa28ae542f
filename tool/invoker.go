package tool

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/petal-labs/toolmux/tool/callexpr"
)

// InvokerConfig configures an Invoker. Zero values use defaults.
type InvokerConfig struct {
	Connector Connector
	Logger    *slog.Logger
	// Timeout bounds each exchange for providers that set none.
	Timeout time.Duration
	// NewID generates invocation ids. Defaults to uuid.NewString.
	NewID func() string
}

// Invoker dispatches calls to the provider that owns each tool and
// normalizes what comes back. It is safe for concurrent use.
type Invoker struct {
	catalog   *Catalog
	connector Connector
	logger    *slog.Logger
	timeout   time.Duration
	newID     func() string
}

// NewInvoker returns an invoker over a discovered catalog.
func NewInvoker(catalog *Catalog, cfg InvokerConfig) (*Invoker, error) {
	if catalog == nil {
		return nil, errors.New("tool: invoker requires a catalog")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Connector == nil {
		cfg.Connector = NewStdioConnector(cfg.Logger)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Invoker{
		catalog:   catalog,
		connector: cfg.Connector,
		logger:    cfg.Logger,
		timeout:   cfg.Timeout,
		newID:     cfg.NewID,
	}, nil
}

// Catalog returns the catalog calls are routed through.
func (i *Invoker) Catalog() *Catalog {
	return i.catalog
}

// Invoke calls tool name with positional args and returns the normalized
// result. Provider-reported tool errors are not Go errors; they come back
// normalized like any other response.
func (i *Invoker) Invoke(ctx context.Context, name string, args []any) (any, error) {
	desc, ok := i.catalog.Lookup(name)
	if !ok {
		return nil, toolNotFound(name)
	}
	payload, err := MarshalArguments(desc, args)
	if err != nil {
		return nil, err
	}
	env, err := i.dispatch(ctx, desc, payload)
	if err != nil {
		return nil, err
	}
	return Normalize(env), nil
}

// Call accepts either a tool name plus positional args or, when no args are
// given, call notation such as `add(45, 55)`.
func (i *Invoker) Call(ctx context.Context, nameOrExpr string, args ...any) (any, error) {
	name := strings.TrimSpace(nameOrExpr)
	if len(args) == 0 && callexpr.LooksLikeCall(name) {
		call, err := callexpr.Parse(name)
		if err != nil {
			return nil, err
		}
		return i.Invoke(ctx, call.Name, call.Args)
	}
	return i.Invoke(ctx, name, args)
}

// CallRaw sends a prepared argument mapping to tool name and returns the
// provider's envelope without normalization.
func (i *Invoker) CallRaw(ctx context.Context, name string, payload map[string]any) (Envelope, error) {
	desc, ok := i.catalog.Lookup(name)
	if !ok {
		return Envelope{}, toolNotFound(name)
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return i.dispatch(ctx, desc, payload)
}

// Close releases connector resources such as pooled provider processes.
func (i *Invoker) Close(ctx context.Context) error {
	if closer, ok := i.connector.(interface{ Close(context.Context) error }); ok {
		return closer.Close(ctx)
	}
	return nil
}

func (i *Invoker) dispatch(ctx context.Context, desc Descriptor, payload map[string]any) (Envelope, error) {
	invocationID := i.newID()
	logger := i.logger.With("invocation_id", invocationID, "tool", desc.Name, "provider", desc.ProviderID)

	prov, ok := i.catalog.Provider(desc.ProviderID)
	if !ok {
		return Envelope{}, classifyConnectorError(desc.ProviderID, desc.Name, stageConnect, errors.New("provider is not in the catalog"))
	}

	logger.Debug("tool invocation started", "arguments", encodeArguments(payload))
	started := time.Now()

	var env Envelope
	attempts, err := runWithRetry(ctx, prov.Retry, retryObservationMeta{
		providerID:   prov.ID,
		toolName:     desc.Name,
		invocationID: invocationID,
	}, func(ctx context.Context, _ int) error {
		attemptCtx, cancel := context.WithTimeout(ctx, prov.Timeout(i.timeout))
		defer cancel()
		return withSession(attemptCtx, i.connector, prov, desc.Name, stageCall, func(ctx context.Context, session Session) error {
			var err error
			env, err = session.CallTool(ctx, desc.Name, payload)
			return err
		})
	})
	duration := time.Since(started)

	emitInvokeObservation(ToolInvokeObservation{
		InvocationID: invocationID,
		ProviderID:   prov.ID,
		ToolName:     desc.Name,
		Attempts:     attempts,
		DurationMS:   duration.Milliseconds(),
		Success:      err == nil && !env.IsError,
		ToolReported: err == nil && env.IsError,
		ErrorCode:    ErrorCode(err),
	})

	if err != nil {
		logger.Debug("tool invocation failed", "duration", duration, "attempts", attempts, "error", err)
		return Envelope{}, err
	}
	if env.IsError {
		text, _ := env.FirstText()
		logger.Warn("provider reported tool error", "message", text)
	}
	logger.Debug("tool invocation finished", "duration", duration, "attempts", attempts)
	return env, nil
}
