package cli

import (
	"errors"
	"fmt"

	"github.com/petal-labs/toolmux/tool"
)

// Process exit codes.
const (
	exitSuccess      = 0
	exitValidation   = 1
	exitRuntime      = 2
	exitFileNotFound = 3
	exitInputParse   = 4
	exitProvider     = 5
	exitToolNotFound = 6
	exitTimeout      = 10
)

// ExitError is an error that carries a specific process exit code.
// Cobra's RunE returns this to signal the desired exit code to main.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

// exitError creates a new ExitError with the given code and formatted message.
func exitError(code int, format string, args ...any) *ExitError {
	return &ExitError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// toolExitError maps a tool-layer failure onto an exit code.
func toolExitError(err error) *ExitError {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr
	}
	switch {
	case errors.Is(err, tool.ErrToolNotFound):
		return exitError(exitToolNotFound, "%v", err)
	case errors.Is(err, tool.ErrArgumentCount), errors.Is(err, tool.ErrParse):
		return exitError(exitInputParse, "%v", err)
	case errors.Is(err, tool.ErrTimeout):
		return exitError(exitTimeout, "%v", err)
	case errors.Is(err, tool.ErrProviderStartup), errors.Is(err, tool.ErrProviderCommunication):
		return exitError(exitProvider, "%v", err)
	default:
		return exitError(exitRuntime, "%v", err)
	}
}
