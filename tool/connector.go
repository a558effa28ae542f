package tool

import (
	"context"
	"errors"
	"fmt"

	"github.com/petal-labs/toolmux/provider"
	mcpclient "github.com/petal-labs/toolmux/tool/mcp"
)

const (
	stageConnect   = "connect"
	stageHandshake = "handshake"
	stageList      = "tools/list"
	stageCall      = "tools/call"
)

// Session is one live conversation with a provider process.
type Session interface {
	// Handshake performs protocol negotiation. It must succeed before any
	// other exchange.
	Handshake(ctx context.Context) error
	ListTools(ctx context.Context) ([]mcpclient.Tool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (Envelope, error)
	// Close terminates the session and its process. It is safe to call more
	// than once.
	Close(ctx context.Context) error
}

// Connector opens sessions to providers.
type Connector interface {
	Connect(ctx context.Context, desc provider.Descriptor) (Session, error)
}

// withSession runs exactly one logical exchange against desc: connect,
// handshake, fn, close. Failures are mapped onto the error taxonomy with
// the stage they happened in. The session is closed on every path; pooled
// sessions are released instead and discarded when the exchange failed.
func withSession(
	ctx context.Context,
	connector Connector,
	desc provider.Descriptor,
	toolName string,
	stage string,
	fn func(context.Context, Session) error,
) error {
	if connector == nil {
		return classifyConnectorError(desc.ID, toolName, stageConnect, errors.New("connector is nil"))
	}

	session, err := connector.Connect(ctx, desc)
	if err != nil {
		return classifyConnectorError(desc.ID, toolName, stageConnect, contextCause(ctx, err))
	}

	healthy := false
	defer func() {
		closeCtx := context.WithoutCancel(ctx)
		if r, ok := session.(releaser); ok {
			_ = r.Release(closeCtx, healthy)
			return
		}
		_ = session.Close(closeCtx)
	}()

	if err := session.Handshake(ctx); err != nil {
		return classifyConnectorError(desc.ID, toolName, stageHandshake, contextCause(ctx, err))
	}
	if err := fn(ctx, session); err != nil {
		return classifyConnectorError(desc.ID, toolName, stage, contextCause(ctx, err))
	}
	healthy = true
	return nil
}

// contextCause attributes err to ctx when ctx ended before the failure was
// reported. Killing a process on deadline closes its pipes, and the reader
// can observe the closed transport before it observes ctx.Done.
func contextCause(ctx context.Context, err error) error {
	ctxErr := ctx.Err()
	if ctxErr == nil || errors.Is(err, ctxErr) {
		return err
	}
	return fmt.Errorf("%w: %w", ctxErr, err)
}

// releaser is implemented by sessions that can be handed back to a pool
// instead of being torn down.
type releaser interface {
	Release(ctx context.Context, healthy bool) error
}
