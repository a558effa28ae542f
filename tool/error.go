package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/petal-labs/toolmux/tool/callexpr"
	mcpclient "github.com/petal-labs/toolmux/tool/mcp"
)

const (
	// ToolErrorCodeProviderStartup is returned when a provider process cannot
	// be launched or fails its handshake.
	ToolErrorCodeProviderStartup = "PROVIDER_STARTUP"
	// ToolErrorCodeProviderCommunication is returned when the transport breaks
	// or the provider fails the request mid-exchange.
	ToolErrorCodeProviderCommunication = "PROVIDER_COMMUNICATION"
	// ToolErrorCodeToolNotFound is returned when a tool name is not in the catalog.
	ToolErrorCodeToolNotFound = "TOOL_NOT_FOUND"
	// ToolErrorCodeArgumentCount is returned when positional arity does not match.
	ToolErrorCodeArgumentCount = "ARGUMENT_COUNT"
	// ToolErrorCodeParse is returned when call syntax cannot be parsed.
	ToolErrorCodeParse = "PARSE_ERROR"
	// ToolErrorCodeTimeout is returned when a handshake or response wait exceeds its bound.
	ToolErrorCodeTimeout = "TIMEOUT"
	// ToolErrorCodeInvocationFailed is a generic fallback for invocation failures.
	ToolErrorCodeInvocationFailed = "INVOCATION_FAILED"
)

var (
	ErrProviderStartup       = errors.New("tool: provider startup failed")
	ErrProviderCommunication = errors.New("tool: provider communication failed")
	ErrToolNotFound          = errors.New("tool: tool not found")
	ErrArgumentCount         = errors.New("tool: argument count mismatch")
	ErrTimeout               = errors.New("tool: timed out")
	// ErrParse matches malformed call syntax; it is the callexpr sentinel.
	ErrParse = callexpr.ErrParse
)

var codeSentinels = map[string]error{
	ToolErrorCodeProviderStartup:       ErrProviderStartup,
	ToolErrorCodeProviderCommunication: ErrProviderCommunication,
	ToolErrorCodeToolNotFound:          ErrToolNotFound,
	ToolErrorCodeArgumentCount:         ErrArgumentCount,
	ToolErrorCodeParse:                 ErrParse,
	ToolErrorCodeTimeout:               ErrTimeout,
}

// ToolError is a structured error that carries a machine-readable code, the
// provider and tool it concerns, and whether retrying could help.
type ToolError struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	ProviderID string         `json:"provider_id,omitempty"`
	Tool       string         `json:"tool,omitempty"`
	Retryable  bool           `json:"retryable"`
	Details    map[string]any `json:"details,omitempty"`
	Cause      error          `json:"-"`
}

func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	code := strings.TrimSpace(e.Code)
	msg := strings.TrimSpace(e.Message)
	switch {
	case code == "" && msg == "":
		return ToolErrorCodeInvocationFailed
	case code == "":
		return msg
	case msg == "":
		return code
	default:
		return fmt.Sprintf("%s: %s", code, msg)
	}
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *ToolError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is matches the sentinel that corresponds to the error code. A timeout is
// also a communication failure for the exchange it interrupted.
func (e *ToolError) Is(target error) bool {
	if e == nil {
		return false
	}
	if e.Code == ToolErrorCodeTimeout && target == ErrProviderCommunication {
		return true
	}
	sentinel, ok := codeSentinels[e.Code]
	return ok && sentinel == target
}

// ArgumentCountError reports a positional arity mismatch at marshal time.
type ArgumentCountError struct {
	Tool     string
	Expected int
	Actual   int
}

func (e *ArgumentCountError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s expects %d args, got %d", ToolErrorCodeArgumentCount, e.Tool, e.Expected, e.Actual)
}

// Is reports whether target is ErrArgumentCount.
func (e *ArgumentCountError) Is(target error) bool {
	return target == ErrArgumentCount
}

func newToolError(code, message string, retryable bool, cause error) *ToolError {
	cleanCode := strings.TrimSpace(code)
	if cleanCode == "" {
		cleanCode = ToolErrorCodeInvocationFailed
	}
	cleanMsg := strings.TrimSpace(message)
	if cleanMsg == "" && cause != nil {
		cleanMsg = cause.Error()
	}
	return &ToolError{
		Code:      cleanCode,
		Message:   cleanMsg,
		Retryable: retryable,
		Cause:     cause,
	}
}

func withToolErrorDetails(err *ToolError, details map[string]any) *ToolError {
	if err == nil {
		return nil
	}
	if len(details) == 0 {
		return err
	}
	if err.Details == nil {
		err.Details = make(map[string]any, len(details))
	}
	for key, value := range details {
		err.Details[key] = value
	}
	return err
}

func toolNotFound(name string) *ToolError {
	err := newToolError(ToolErrorCodeToolNotFound, fmt.Sprintf("tool %q not found on any provider", name), false, nil)
	err.Tool = name
	return err
}

// classifyConnectorError maps connector and transport failures onto the
// error taxonomy. stage is "connect", "handshake" or the exchange method.
func classifyConnectorError(providerID, toolName, stage string, err error) error {
	if err == nil {
		return nil
	}
	if existing, ok := toolErrorFrom(err); ok {
		return existing
	}

	var out *ToolError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		out = newToolError(ToolErrorCodeTimeout, fmt.Sprintf("provider %q timed out during %s", providerID, stage), false, err)
	case errors.Is(err, context.Canceled):
		out = newToolError(ToolErrorCodeProviderCommunication, fmt.Sprintf("provider %q %s canceled", providerID, stage), false, err)
	case errors.Is(err, mcpclient.ErrProcessStart):
		out = newToolError(ToolErrorCodeProviderStartup, fmt.Sprintf("provider %q failed to start: %v", providerID, err), true, err)
	case stage == stageConnect || stage == stageHandshake:
		out = newToolError(ToolErrorCodeProviderStartup, fmt.Sprintf("provider %q %s failed: %v", providerID, stage, err), false, err)
	default:
		out = newToolError(ToolErrorCodeProviderCommunication, fmt.Sprintf("provider %q %s failed: %v", providerID, stage, err), false, err)
	}
	out.ProviderID = providerID
	out.Tool = toolName
	return withToolErrorDetails(out, map[string]any{"stage": stage})
}

func toolErrorFrom(err error) (*ToolError, bool) {
	if err == nil {
		return nil, false
	}
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return toolErr, true
	}
	return nil, false
}

// ErrorCode returns the taxonomy code for err, or "" when err is not a tool error.
func ErrorCode(err error) string {
	if toolErr, ok := toolErrorFrom(err); ok && toolErr != nil {
		return toolErr.Code
	}
	switch {
	case errors.Is(err, ErrArgumentCount):
		return ToolErrorCodeArgumentCount
	case errors.Is(err, ErrParse):
		return ToolErrorCodeParse
	}
	return ""
}

func toolErrorCodeOrDefault(err error, fallback string) string {
	if code := ErrorCode(err); strings.TrimSpace(code) != "" {
		return code
	}
	if strings.TrimSpace(fallback) == "" {
		return ToolErrorCodeInvocationFailed
	}
	return fallback
}
