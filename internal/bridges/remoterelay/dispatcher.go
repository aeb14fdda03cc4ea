package remoterelay

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// CommandLog records dispatched bursts for later inspection.
type CommandLog interface {
	LogCommand(ctx context.Context, entryID, command string, repeats int, sendErr error) error
}

// SendOptions controls repeat and delay for SendCommands.
type SendOptions struct {
	// NumRepeats below 1 is treated as 1.
	NumRepeats int
	// Delay is waited after every send except the last one of the burst.
	Delay time.Duration
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	EntryID     string
	Transport   Transport
	Coordinator *Coordinator
	Metrics     Metrics
	Telemetry   Telemetry
	Log         CommandLog
	Logger      Logger

	// Sleep replaces the inter-command wait; tests use it to count waits.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Dispatcher turns remote-control requests into daemon commands.
//
// Bursts are serialised per device: a second SendCommands waits until the
// first has sent its last command.
type Dispatcher struct {
	entryID   string
	transport Transport
	coord     *Coordinator
	metrics   Metrics
	telemetry Telemetry
	log       CommandLog
	sleep     func(ctx context.Context, d time.Duration) error

	burstMu sync.Mutex

	logger Logger
}

// NewDispatcher creates a dispatcher bound to one device.
func NewDispatcher(opts DispatcherOptions) (*Dispatcher, error) {
	if opts.Transport == nil || opts.Coordinator == nil {
		return nil, fmt.Errorf("%w: transport and coordinator are required", ErrInvalidInput)
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	return &Dispatcher{
		entryID:   opts.EntryID,
		transport: opts.Transport,
		coord:     opts.Coordinator,
		metrics:   opts.Metrics,
		telemetry: opts.Telemetry,
		log:       opts.Log,
		sleep:     sleep,
		logger:    opts.Logger,
	}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SendCommands validates every command, then sends the list NumRepeats
// times in order. Nothing is sent if any command is unsupported.
func (d *Dispatcher) SendCommands(ctx context.Context, names []string, opts SendOptions) error {
	commands, err := ParseCommands(names)
	if err != nil {
		return err
	}

	repeats := max(opts.NumRepeats, 1)
	delay := max(opts.Delay, 0)

	d.burstMu.Lock()
	defer d.burstMu.Unlock()

	total := repeats * len(commands)
	sent := 0
	sendErr := func() error {
		for range repeats {
			for _, cmd := range commands {
				if err := d.sendLocked(ctx, cmd); err != nil {
					return err
				}
				sent++
				if delay > 0 && sent < total {
					if err := d.sleep(ctx, delay); err != nil {
						return err
					}
				}
			}
		}
		return nil
	}()

	d.record(ctx, commandLabel(commands), repeats, sendErr)
	return sendErr
}

// Navigate sends one navigate key. Aliases are not applied here.
func (d *Dispatcher) Navigate(ctx context.Context, key string) error {
	normalized := strings.ToLower(strings.TrimSpace(key))
	if !IsNavigateKey(normalized) {
		return fmt.Errorf("%w: navigation key %q", ErrUnsupportedCommand, key)
	}
	return d.sendOne(ctx, Command{Kind: CommandNavigate, Name: normalized})
}

// PlayPause toggles playback.
func (d *Dispatcher) PlayPause(ctx context.Context) error { return d.direct(ctx, CmdPlayPause) }

// Play sends play_pause; the daemon has no separate play.
func (d *Dispatcher) Play(ctx context.Context) error { return d.direct(ctx, CmdPlayPause) }

// Pause sends play_pause; the daemon has no separate pause.
func (d *Dispatcher) Pause(ctx context.Context) error { return d.direct(ctx, CmdPlayPause) }

func (d *Dispatcher) NextTrack(ctx context.Context) error     { return d.direct(ctx, CmdNextTrack) }
func (d *Dispatcher) PreviousTrack(ctx context.Context) error { return d.direct(ctx, CmdPreviousTrack) }
func (d *Dispatcher) VolumeUp(ctx context.Context) error      { return d.direct(ctx, CmdVolumeUp) }
func (d *Dispatcher) VolumeDown(ctx context.Context) error    { return d.direct(ctx, CmdVolumeDown) }

// Mute sends mute_toggle whatever the requested state; the daemon only
// exposes a toggle.
func (d *Dispatcher) Mute(ctx context.Context, _ bool) error {
	return d.direct(ctx, CmdMuteToggle)
}

// TurnOff sends power_off followed by one forced refresh.
func (d *Dispatcher) TurnOff(ctx context.Context) error {
	return d.direct(ctx, CmdPowerOff)
}

// SelectSource resolves name against the latest sources by exact match,
// sends select_source and refreshes.
func (d *Dispatcher) SelectSource(ctx context.Context, name string) error {
	var sourceID string
	for _, src := range d.coord.Sources() {
		if src.Name == name {
			sourceID = src.ID
			break
		}
	}
	if sourceID == "" {
		return fmt.Errorf("%w: %s", ErrUnknownSource, name)
	}

	if err := d.sendOne(ctx, Command{Kind: CommandDirect, Name: CmdSelectSource, SourceID: sourceID}); err != nil {
		return err
	}
	d.refresh(ctx)
	return nil
}

// Press runs a catalogue button by key.
func (d *Dispatcher) Press(ctx context.Context, key string) error {
	button, ok := LookupButton(key)
	if !ok {
		return fmt.Errorf("%w: button %q", ErrUnsupportedCommand, key)
	}
	if IsNavigateKey(button.Key) {
		return d.sendOne(ctx, Command{Kind: CommandNavigate, Name: button.Key})
	}
	return d.direct(ctx, button.Key)
}

func (d *Dispatcher) direct(ctx context.Context, name string) error {
	return d.sendOne(ctx, Command{Kind: CommandDirect, Name: name})
}

// sendOne sends a single command inside its own burst.
func (d *Dispatcher) sendOne(ctx context.Context, cmd Command) error {
	d.burstMu.Lock()
	defer d.burstMu.Unlock()

	err := d.sendLocked(ctx, cmd)
	d.record(ctx, cmd.Name, 1, err)
	return err
}

// sendLocked posts one command and runs the forced refresh for power_off.
func (d *Dispatcher) sendLocked(ctx context.Context, cmd Command) error {
	_, err := d.transport.SendCommand(ctx, cmd.Payload())
	d.observe(cmd.Name, err == nil)
	if err != nil {
		return fmt.Errorf("sending %s: %w", cmd.Name, err)
	}
	if cmd.Kind == CommandDirect && cmd.Name == CmdPowerOff {
		d.refresh(ctx)
	}
	return nil
}

// refresh forces a poll. Its failure shows up on the snapshot.
func (d *Dispatcher) refresh(ctx context.Context) {
	if err := d.coord.Refresh(ctx); err != nil && d.logger != nil {
		d.logger.Debug("refresh after command failed", "entry", d.entryID, "error", err)
	}
}

func (d *Dispatcher) observe(command string, success bool) {
	if d.metrics != nil {
		d.metrics.ObserveCommand(d.entryID, command, success)
	}
	if d.telemetry != nil {
		d.telemetry.RecordCommand(d.entryID, d.coord.Config().DeviceID, command, success)
	}
}

func (d *Dispatcher) record(ctx context.Context, label string, repeats int, sendErr error) {
	if d.log == nil {
		return
	}
	if err := d.log.LogCommand(context.WithoutCancel(ctx), d.entryID, label, repeats, sendErr); err != nil && d.logger != nil {
		d.logger.Warn("recording command failed", "entry", d.entryID, "error", err)
	}
}

func commandLabel(commands []Command) string {
	names := make([]string, len(commands))
	for i, cmd := range commands {
		names[i] = cmd.Name
	}
	return strings.Join(names, ",")
}
