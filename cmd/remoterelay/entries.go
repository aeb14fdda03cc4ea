package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nerrad567/remoterelay-bridge/internal/bridges/remoterelay"
	"github.com/nerrad567/remoterelay-bridge/internal/entry"
)

var entriesCmd = &cobra.Command{
	Use:   "entries",
	Short: "List paired devices",
	Args:  cobra.NoArgs,
	RunE:  runEntries,
}

var statusCmd = &cobra.Command{
	Use:   "status <entry>",
	Short: "Poll a device once and print its view",
	Long: `Poll one paired device and print the same JSON view the API serves.
<entry> is an entry id or a device id.`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(entriesCmd)
	rootCmd.AddCommand(statusCmd)
}

func runEntries(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, repo, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	entries, err := repo.List(ctx)
	if err != nil {
		return fmt.Errorf("listing entries: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, "No paired devices")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ENTRY\tTITLE\tDEVICE\tADDRESS\tMACS")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n",
			e.ID, e.Title, e.DeviceID(), e.Config.BaseURL, len(e.Config.MACAddresses))
	}
	return tw.Flush()
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, repo, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	e, err := findEntry(cmd, repo, args[0])
	if err != nil {
		return err
	}

	// No waker: status never wakes the machine.
	manager := remoterelay.NewManager(managerOptions(cfg, repo, nil, cliLogger(cfg)))
	defer manager.StopAll()

	// Setup runs the first poll before returning.
	rt, err := manager.Setup(ctx, e.Stored())
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(rt.View())
}

// findEntry resolves an entry id or device id.
func findEntry(cmd *cobra.Command, repo entry.Repository, key string) (*entry.Entry, error) {
	ctx := cmd.Context()
	e, err := repo.GetByID(ctx, key)
	if err == nil {
		return e, nil
	}
	if byDevice, devErr := repo.GetByDeviceID(ctx, key); devErr == nil {
		return byDevice, nil
	}
	return nil, fmt.Errorf("entry %s: %w", key, err)
}
