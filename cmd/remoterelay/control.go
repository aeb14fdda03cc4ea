package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nerrad567/remoterelay-bridge/internal/bridges/remoterelay"
	"github.com/nerrad567/remoterelay-bridge/internal/infrastructure/mqtt"
)

var (
	flagSendRepeats int
	flagSendDelay   float64
)

var sendCmd = &cobra.Command{
	Use:   "send <entry> <command>...",
	Short: "Send remote commands to a device",
	Long: `Send one or more remote commands as a single burst. Commands are
navigate keys (up, down, left, right, ok, back, home, info) or direct commands
(play_pause, next_track, previous_track, volume_up, volume_down, mute_toggle,
power_off). Aliases such as enter, vol_up and off are accepted. The whole list
is validated before anything is sent.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runSend,
}

var wakeCmd = &cobra.Command{
	Use:   "wake <entry>",
	Short: "Wake a device with Wake-on-LAN",
	Args:  cobra.ExactArgs(1),
	RunE:  runWake,
}

func init() {
	sendCmd.Flags().IntVar(&flagSendRepeats, "repeats", 1, "Times to repeat the whole list")
	sendCmd.Flags().Float64Var(&flagSendDelay, "delay", 0, "Seconds to wait between commands")
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(wakeCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if flagSendRepeats < 0 || flagSendDelay < 0 {
		return fmt.Errorf("--repeats and --delay must not be negative")
	}

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

	manager := remoterelay.NewManager(managerOptions(cfg, repo, nil, cliLogger(cfg)))
	defer manager.StopAll()

	rt, err := manager.Setup(ctx, e.Stored())
	if err != nil {
		return err
	}

	commands := args[1:]
	if err := remoterelay.ExecuteCommand(ctx, rt, remoterelay.RelayCommand{
		Commands:   commands,
		NumRepeats: flagSendRepeats,
		DelaySecs:  flagSendDelay,
	}); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Sent %s to %s\n", strings.Join(commands, ", "), e.Title)
	return nil
}

func runWake(cmd *cobra.Command, args []string) error {
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

	var mqttClient *mqtt.Client
	if cfg.WakeOnLAN.Mode == "mqtt" {
		mqttClient, err = connectMQTT(cfg, cliLogger(cfg))
		if err != nil {
			return err
		}
		defer mqttClient.Close()
	}
	waker, err := buildWaker(cfg, mqttClient)
	if err != nil {
		return err
	}

	// The daemon is usually down here, so the stored MACs are used directly.
	broadcast := e.Config.BroadcastAddress
	if strings.TrimSpace(broadcast) == "" {
		broadcast = cfg.WakeOnLAN.BroadcastAddress
	}
	sent, err := remoterelay.TurnOn(ctx, waker, e.Config.MACAddresses, broadcast)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Sent %d wake packet(s) to %s\n", sent, e.Title)
	return nil
}
