package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/toolmux/tool"
)

const snapshotPathEnvVar = "TOOLMUX_SNAPSHOT_PATH"

// NewSnapshotCmd creates the "snapshot" command group.
func NewSnapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Persist and inspect discovered tool catalogs",
	}
	cmd.PersistentFlags().String("store", "", "Path to SQLite snapshot store (default: $TOOLMUX_SNAPSHOT_PATH or ~/.toolmux/toolmux.db)")

	cmd.AddCommand(newSnapshotSaveCmd())
	cmd.AddCommand(newSnapshotShowCmd())
	cmd.AddCommand(newSnapshotFindCmd())
	return cmd
}

func newSnapshotSaveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Discover the configured providers and save the catalog",
		Args:  cobra.NoArgs,
		RunE:  runSnapshotSave,
	}
	cmd.Flags().Int("keep", 0, "Prune to this many most recent snapshots after saving (0 keeps all)")
	return cmd
}

func newSnapshotShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the latest (or a specific) saved catalog",
		Args:  cobra.NoArgs,
		RunE:  runSnapshotShow,
	}
	cmd.Flags().String("id", "", "Snapshot id (default: latest)")
	cmd.Flags().Bool("json", false, "Print the snapshot as JSON")
	return cmd
}

func newSnapshotFindCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "find <tool>",
		Short: "Show the most recently saved descriptor for a tool",
		Args:  cobra.ExactArgs(1),
		RunE:  runSnapshotFind,
	}
}

func runSnapshotSave(cmd *cobra.Command, args []string) error {
	sess, err := loadSession(cmd, nil)
	if err != nil {
		return err
	}
	defer sess.close(cmd)

	store, err := openSnapshotStore(cmd)
	if err != nil {
		return err
	}
	defer func() {
		_ = store.Close()
	}()

	catalog, warnings := sess.discover(cmd)
	snap, err := store.Save(commandContext(cmd), catalog, warnings)
	if err != nil {
		return exitError(exitRuntime, "saving snapshot: %v", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved snapshot %s (%d tools, %d warnings)\n", snap.ID, len(snap.Tools), len(snap.Warnings))

	if keep, _ := cmd.Flags().GetInt("keep"); keep > 0 {
		removed, err := store.Prune(commandContext(cmd), keep)
		if err != nil {
			return exitError(exitRuntime, "pruning snapshots: %v", err)
		}
		if removed > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d snapshot(s)\n", removed)
		}
	}
	return nil
}

func runSnapshotShow(cmd *cobra.Command, args []string) error {
	store, err := openSnapshotStore(cmd)
	if err != nil {
		return err
	}
	defer func() {
		_ = store.Close()
	}()

	id, _ := cmd.Flags().GetString("id")
	var (
		snap  tool.Snapshot
		found bool
	)
	if strings.TrimSpace(id) == "" {
		snap, found, err = store.Latest(commandContext(cmd))
	} else {
		snap, found, err = store.Get(commandContext(cmd), strings.TrimSpace(id))
	}
	if err != nil {
		return exitError(exitRuntime, "loading snapshot: %v", err)
	}
	if !found {
		return exitError(exitFileNotFound, "no snapshot found")
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return exitError(exitRuntime, "marshaling snapshot: %v", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Snapshot:  %s\n", snap.ID)
	fmt.Fprintf(out, "Created:   %s\n", snap.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "Providers: %s\n", strings.Join(snap.Providers, ", "))
	for _, warning := range snap.Warnings {
		fmt.Fprintf(out, "Warning:   %s\n", warning)
	}
	fmt.Fprintln(out)

	writer := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
	fmt.Fprintln(writer, "NAME\tPROVIDER\tKIND\tPARAMS")
	for _, desc := range snap.Tools {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", desc.Name, desc.ProviderID, desc.Schema.Kind, displayParams(desc.Schema))
	}
	return writer.Flush()
}

func runSnapshotFind(cmd *cobra.Command, args []string) error {
	store, err := openSnapshotStore(cmd)
	if err != nil {
		return err
	}
	defer func() {
		_ = store.Close()
	}()

	desc, found, err := store.FindTool(commandContext(cmd), args[0])
	if err != nil {
		return exitError(exitRuntime, "searching snapshots: %v", err)
	}
	if !found {
		return exitError(exitToolNotFound, "tool %q not found in any snapshot", args[0])
	}
	fmt.Fprintln(cmd.OutOrStdout(), desc.Signature())
	fmt.Fprintf(cmd.OutOrStdout(), "provider: %s\n", desc.ProviderID)
	return nil
}

func openSnapshotStore(cmd *cobra.Command) (*tool.SQLiteSnapshotStore, error) {
	path, _ := cmd.Flags().GetString("store")
	if strings.TrimSpace(path) == "" {
		path = os.Getenv(snapshotPathEnvVar)
	}
	if strings.TrimSpace(path) == "" {
		var err error
		path, err = tool.DefaultSnapshotPath()
		if err != nil {
			return nil, exitError(exitRuntime, "%v", err)
		}
	}

	dsn := strings.TrimSpace(path)
	if !strings.HasPrefix(strings.ToLower(dsn), "file:") {
		dsn = filepath.Clean(dsn)
	}
	store, err := tool.NewSQLiteSnapshotStore(tool.SQLiteSnapshotConfig{DSN: dsn})
	if err != nil {
		return nil, exitError(exitRuntime, "opening snapshot store: %v", err)
	}
	return store, nil
}
