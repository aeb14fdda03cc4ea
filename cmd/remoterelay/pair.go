package main

import (
	"fmt"
	"os/user"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nerrad567/remoterelay-bridge/internal/audit"
	"github.com/nerrad567/remoterelay-bridge/internal/bridges/remoterelay"
	"github.com/nerrad567/remoterelay-bridge/internal/entry"
)

var (
	flagPairHost string
	flagPairPort int
	flagPairName string
	flagPairCode string
)

var pairCmd = &cobra.Command{
	Use:   "pair",
	Short: "Pair with a daemon by address",
	Long: `Pair with a RemoteRelay daemon at a known address. The pairing code is
shown by the daemon on the PC. The new entry is stored in the bridge database
and picked up the next time the bridge starts.`,
	Args: cobra.NoArgs,
	RunE: runPair,
}

func init() {
	pairCmd.Flags().StringVar(&flagPairHost, "host", "", "Daemon host or IP address")
	pairCmd.Flags().IntVar(&flagPairPort, "port", 0, "Daemon port (default: bridge.default_port)")
	pairCmd.Flags().StringVar(&flagPairName, "name", "", "Name used until the daemon reports one")
	pairCmd.Flags().StringVar(&flagPairCode, "code", "", "Pairing code shown by the daemon")
	_ = pairCmd.MarkFlagRequired("host")
	_ = pairCmd.MarkFlagRequired("code")
	rootCmd.AddCommand(pairCmd)
}

func runPair(cmd *cobra.Command, _ []string) error {
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

	flows := remoterelay.NewFlowRegistry(remoterelay.FlowDeps{
		Entries: repo,
		NewTransport: func(s remoterelay.Session) remoterelay.Transport {
			return remoterelay.NewClient(s, nil)
		},
		IntegrationName: cfg.Bridge.IntegrationName,
		DefaultPort:     cfg.Bridge.DefaultPort,
	}, cfg.FlowTTL())
	flow := flows.Create()

	if _, err := flow.ChooseManual(); err != nil {
		return err
	}
	step, err := flow.SubmitManual(remoterelay.ManualInput{
		Host: flagPairHost,
		Port: flagPairPort,
		Name: flagPairName,
	})
	if err != nil {
		return err
	}
	if len(step.Errors) > 0 {
		return fmt.Errorf("invalid address: %s", formatStepErrors(step.Errors))
	}

	step, err = flow.SubmitCode(ctx, flagPairCode)
	if err != nil {
		return err
	}
	switch step.State {
	case remoterelay.StatePaired:
	case remoterelay.StateAborted:
		return fmt.Errorf("pairing aborted: %s", step.Reason)
	default:
		return fmt.Errorf("pairing failed: %s", formatStepErrors(step.Errors))
	}

	title, pairedCfg, _ := flow.Result()
	e := &entry.Entry{Title: title, Config: pairedCfg}
	if err := repo.Create(ctx, e); err != nil {
		return fmt.Errorf("storing entry: %w", err)
	}
	rec := &audit.Record{
		Action:   audit.ActionPaired,
		EntryID:  e.ID,
		DeviceID: e.DeviceID(),
		Actor:    currentUser(),
		Source:   audit.SourceCLI,
		Details:  map[string]any{"title": e.Title, "base_url": e.Config.BaseURL},
	}
	if err := audit.NewSQLiteRepository(db.DB).Create(ctx, rec); err != nil {
		cliLogger(cfg).Warn("audit write failed", "entry", e.ID, "error", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Paired %q\n", e.Title)
	fmt.Fprintf(out, "  Entry:   %s\n", e.ID)
	fmt.Fprintf(out, "  Device:  %s\n", e.DeviceID())
	fmt.Fprintf(out, "  Address: %s\n", e.Config.BaseURL)
	return nil
}

// formatStepErrors renders step errors as "field: key" pairs in field order.
func formatStepErrors(errs map[string]string) string {
	fields := make([]string, 0, len(errs))
	for field := range errs {
		fields = append(fields, field)
	}
	slices.Sort(fields)

	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, field+": "+errs[field])
	}
	return strings.Join(parts, ", ")
}

// currentUser names the local operator for audit records.
func currentUser() string {
	u, err := user.Current()
	if err != nil {
		return ""
	}
	return u.Username
}
