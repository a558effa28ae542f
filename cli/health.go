package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/toolmux/tool"
)

// NewHealthCmd creates the "health" command.
func NewHealthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check that each provider starts, handshakes and lists its tools",
		Args:  cobra.NoArgs,
		RunE:  runHealth,
	}
	cmd.Flags().StringArray("provider", nil, "Only check these provider ids (repeatable)")
	cmd.Flags().String("schedule", "", `Repeat checks on a UTC cron schedule (e.g. "*/5 * * * *" or "@every 30s") until interrupted`)
	return cmd
}

func runHealth(cmd *cobra.Command, args []string) error {
	ids, _ := cmd.Flags().GetStringArray("provider")
	sess, err := loadSession(cmd, ids)
	if err != nil {
		return err
	}
	defer sess.close(cmd)

	checker := tool.NewHealthChecker(sess.connector, sess.timeout)
	schedule, _ := cmd.Flags().GetString("schedule")
	if schedule == "" {
		reports := checker.CheckAll(commandContext(cmd), sess.providers)
		if err := writeHealthReports(cmd.OutOrStdout(), reports); err != nil {
			return exitError(exitRuntime, "writing health report: %v", err)
		}
		for _, report := range reports {
			if report.State != tool.HealthHealthy {
				return exitError(exitProvider, "provider %q is %s", report.ProviderID, report.State)
			}
		}
		return nil
	}

	out := cmd.OutOrStdout()
	scheduler, err := tool.NewHealthScheduler(tool.HealthSchedulerConfig{
		Checker:   checker,
		Providers: sess.providers,
		Schedule:  schedule,
		Logger:    logFrom(cmd),
		OnEvent: func(event tool.HealthEvent) {
			_ = writeHealthReports(out, []tool.HealthReport{event.Report})
		},
	})
	if err != nil {
		return exitError(exitValidation, "%v", err)
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := scheduler.Start(ctx); err != nil {
		return exitError(exitRuntime, "starting health scheduler: %v", err)
	}
	logFrom(cmd).Info("health checks scheduled", "schedule", schedule, "next", scheduler.Next(time.Now()))

	<-ctx.Done()
	if err := scheduler.Stop(context.WithoutCancel(ctx)); err != nil {
		return exitError(exitRuntime, "stopping health scheduler: %v", err)
	}
	return nil
}

func writeHealthReports(w io.Writer, reports []tool.HealthReport) error {
	writer := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	fmt.Fprintln(writer, "PROVIDER\tSTATE\tTOOLS\tLATENCY_MS\tCHECKED_AT\tERROR")
	for _, report := range reports {
		errText := "-"
		if report.ErrorMessage != "" {
			errText = report.ErrorMessage
		}
		fmt.Fprintf(writer, "%s\t%s\t%d\t%s\t%s\t%s\n",
			report.ProviderID,
			report.State,
			report.ToolCount,
			strconv.FormatInt(report.LatencyMS, 10),
			report.CheckedAt.UTC().Format(time.RFC3339),
			errText,
		)
	}
	return writer.Flush()
}
