package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/petal-labs/toolmux/tool/callexpr"
)

// NewCallCmd creates the "call" command.
func NewCallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call <expr> | call <tool> [literal...]",
		Short: "Invoke a tool and print its normalized result as JSON",
		Long: `Invoke a tool by call expression, e.g. toolmux call 'add(45, 55)',
or by name followed by one literal per positional argument, e.g.
toolmux call add 45 55. Arguments are literals only: numbers, quoted
strings, true/false/null, lists, tuples and string-keyed mappings.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runCall,
	}
	cmd.Flags().String("args-json", "", "Send this JSON object as the raw argument mapping and print the raw response")
	cmd.Flags().Duration("timeout", 0, "Overall call timeout (default: no limit beyond the provider timeout)")
	return cmd
}

func runCall(cmd *cobra.Command, args []string) error {
	argsJSON, _ := cmd.Flags().GetString("args-json")
	if argsJSON != "" && len(args) != 1 {
		return exitError(exitInputParse, "--args-json takes exactly one tool name")
	}
	positional, err := parseCallArgs(args)
	if argsJSON == "" && err != nil {
		return toolExitError(err)
	}

	sess, err := loadSession(cmd, nil)
	if err != nil {
		return err
	}
	catalog, _ := sess.discover(cmd)
	invoker, err := sess.invoker(cmd, catalog)
	if err != nil {
		return err
	}
	defer func() {
		_ = invoker.Close(context.WithoutCancel(commandContext(cmd)))
	}()

	ctx := commandContext(cmd)
	if timeout, _ := cmd.Flags().GetDuration("timeout"); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var result any
	switch {
	case argsJSON != "":
		var payload map[string]any
		if err := json.Unmarshal([]byte(argsJSON), &payload); err != nil {
			return exitError(exitInputParse, "invalid --args-json: %v", err)
		}
		result, err = invoker.CallRaw(ctx, args[0], payload)
	case positional == nil:
		result, err = invoker.Call(ctx, args[0])
	default:
		result, err = invoker.Invoke(ctx, args[0], positional)
	}
	if err != nil {
		return toolExitError(err)
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return exitError(exitRuntime, "marshaling result: %v", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

// parseCallArgs returns nil when args is a single call expression, otherwise
// the literals following the tool name.
func parseCallArgs(args []string) ([]any, error) {
	if len(args) == 1 && callexpr.LooksLikeCall(args[0]) {
		if _, err := callexpr.Parse(args[0]); err != nil {
			return nil, err
		}
		return nil, nil
	}
	out := make([]any, 0, len(args)-1)
	for _, raw := range args[1:] {
		value, err := callexpr.ParseLiteral(raw)
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", raw, err)
		}
		out = append(out, value)
	}
	return out, nil
}

