package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/petal-labs/toolmux/tool"
)

// NewToolsCmd creates the "tools" command.
func NewToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Discover and list tools from the configured providers",
		Args:  cobra.NoArgs,
		RunE:  runTools,
	}
	cmd.Flags().StringArray("provider", nil, "Only discover these provider ids (repeatable)")
	cmd.Flags().Bool("signatures", false, "Print call signatures instead of a table")
	cmd.Flags().Bool("json", false, "Print tool descriptors as JSON")
	return cmd
}

func runTools(cmd *cobra.Command, args []string) error {
	ids, _ := cmd.Flags().GetStringArray("provider")
	sess, err := loadSession(cmd, ids)
	if err != nil {
		return err
	}
	defer sess.close(cmd)

	catalog, _ := sess.discover(cmd)
	// Naming providers lists everything they declare, shadowed names included.
	tools := catalog.Tools()
	if len(ids) > 0 {
		tools = catalog.ToolsForProviders(ids...)
	}

	asJSON, _ := cmd.Flags().GetBool("json")
	signatures, _ := cmd.Flags().GetBool("signatures")
	switch {
	case asJSON:
		data, err := json.MarshalIndent(tools, "", "  ")
		if err != nil {
			return exitError(exitRuntime, "marshaling tools: %v", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	case signatures:
		for _, desc := range tools {
			fmt.Fprintln(cmd.OutOrStdout(), desc.Signature())
		}
		return nil
	}

	writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
	fmt.Fprintln(writer, "NAME\tPROVIDER\tKIND\tPARAMS\tDESCRIPTION")
	for _, desc := range tools {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n",
			desc.Name,
			desc.ProviderID,
			desc.Schema.Kind,
			displayParams(desc.Schema),
			displayText(desc.Description),
		)
	}
	return writer.Flush()
}

func displayParams(schema tool.Schema) string {
	if schema.Arity() == 0 {
		return "-"
	}
	parts := make([]string, 0, schema.Arity())
	for _, prop := range schema.Properties {
		parts = append(parts, prop.Name+":"+prop.Type)
	}
	return strings.Join(parts, ",")
}

func displayText(s string) string {
	clean := strings.Join(strings.Fields(s), " ")
	if clean == "" {
		return "-"
	}
	return clean
}
