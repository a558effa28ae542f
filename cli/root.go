// Package cli implements the toolmux command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	toolmuxotel "github.com/petal-labs/toolmux/otel"
)

type loggerKey struct{}

// NewRootCmd builds the toolmux command tree.
func NewRootCmd(version string) *cobra.Command {
	var shutdownTelemetry toolmuxotel.ShutdownFunc

	root := &cobra.Command{
		Use:   "toolmux",
		Short: "Multi-provider MCP tool invocation",
		Long:  "toolmux discovers tools across MCP provider processes and calls them by name.",
		// SilenceUsage prevents printing usage on every error
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(cmd.ErrOrStderr(), cmd)
			slog.SetDefault(logger)
			cmd.SetContext(context.WithValue(commandContext(cmd), loggerKey{}, logger))

			endpoint, _ := cmd.Flags().GetString("otlp-endpoint")
			shutdown, err := toolmuxotel.Setup(commandContext(cmd), toolmuxotel.SetupConfig{
				ServiceName: "toolmux",
				Endpoint:    endpoint,
			})
			if err != nil {
				return exitError(exitRuntime, "initializing telemetry: %v", err)
			}
			shutdownTelemetry = shutdown
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if shutdownTelemetry == nil {
				return nil
			}
			if err := shutdownTelemetry(context.WithoutCancel(commandContext(cmd))); err != nil {
				logFrom(cmd).Warn("telemetry shutdown failed", "error", err)
			}
			return nil
		},
	}

	root.PersistentFlags().String("config", "", "Provider config file (default: $TOOLMUX_CONFIG, ./toolmux.yaml, ~/.toolmux/config.yaml)")
	root.PersistentFlags().Bool("verbose", false, "Enable verbose/debug logging")
	root.PersistentFlags().Bool("quiet", false, "Suppress all output except errors")
	root.PersistentFlags().String("otlp-endpoint", "", "OTLP/HTTP endpoint for traces (default: $OTEL_EXPORTER_OTLP_ENDPOINT)")

	root.Version = version
	root.SetVersionTemplate(fmt.Sprintf("toolmux version %s\n", version))

	root.AddCommand(NewToolsCmd())
	root.AddCommand(NewCallCmd())
	root.AddCommand(NewHealthCmd())
	root.AddCommand(NewSnapshotCmd())
	return root
}

func newLogger(w io.Writer, cmd *cobra.Command) *slog.Logger {
	verbose, _ := cmd.Flags().GetBool("verbose")
	quiet, _ := cmd.Flags().GetBool("quiet")

	level := slog.LevelInfo
	switch {
	case quiet:
		level = slog.LevelError
	case verbose:
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func logFrom(cmd *cobra.Command) *slog.Logger {
	if logger, ok := commandContext(cmd).Value(loggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
