package remoterelay

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"
)

type dispatchHarness struct {
	transport *fakeTransport
	coord     *Coordinator
	metrics   *fakeMetrics
	log       *fakeCommandLog
	sleeps    []time.Duration
	d         *Dispatcher
}

func newDispatchHarness(t *testing.T) *dispatchHarness {
	t.Helper()
	h := &dispatchHarness{
		transport: newFakeTransport(),
		metrics:   &fakeMetrics{},
		log:       &fakeCommandLog{},
	}
	h.transport.setProfile(testProfile(), nil)
	h.coord = newTestCoordinator(t, h.transport, newFakeStore(), nil)

	d, err := NewDispatcher(DispatcherOptions{
		EntryID:     "entry-1",
		Transport:   h.transport,
		Coordinator: h.coord,
		Metrics:     h.metrics,
		Log:         h.log,
		Sleep: func(_ context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	h.d = d
	return h
}

func commandsOf(payloads []map[string]any) []string {
	out := make([]string, len(payloads))
	for i, p := range payloads {
		if key, ok := p["key"].(string); ok {
			out[i] = key
			continue
		}
		out[i], _ = p["command"].(string)
	}
	return out
}

func TestSendCommandsRepeatsAndDelay(t *testing.T) {
	h := newDispatchHarness(t)

	err := h.d.SendCommands(context.Background(), []string{"up", "Enter"}, SendOptions{NumRepeats: 2, Delay: time.Second})
	if err != nil {
		t.Fatalf("SendCommands() error = %v", err)
	}

	got := commandsOf(h.transport.sentPayloads())
	want := []string{"up", "ok", "up", "ok"}
	if !slices.Equal(got, want) {
		t.Errorf("sent = %v, want %v", got, want)
	}
	if len(h.sleeps) != 3 {
		t.Errorf("sleeps = %d, want 3 (no wait after the last command)", len(h.sleeps))
	}
	for _, s := range h.sleeps {
		if s != time.Second {
			t.Errorf("sleep = %v, want 1s", s)
		}
	}
	if len(h.log.entries) != 1 || h.log.entries[0] != "up,ok" || h.log.repeats[0] != 2 {
		t.Errorf("command log = %v x %v", h.log.entries, h.log.repeats)
	}
}

func TestSendCommandsNoDelay(t *testing.T) {
	h := newDispatchHarness(t)
	if err := h.d.SendCommands(context.Background(), []string{"vol_up"}, SendOptions{NumRepeats: 0}); err != nil {
		t.Fatalf("SendCommands() error = %v", err)
	}
	if got := commandsOf(h.transport.sentPayloads()); !slices.Equal(got, []string{CmdVolumeUp}) {
		t.Errorf("sent = %v", got)
	}
	if len(h.sleeps) != 0 {
		t.Errorf("sleeps = %d, want 0", len(h.sleeps))
	}
}

func TestSendCommandsUnsupportedSendsNothing(t *testing.T) {
	h := newDispatchHarness(t)

	err := h.d.SendCommands(context.Background(), []string{"up", "banana"}, SendOptions{})
	if !errors.Is(err, ErrUnsupportedCommand) {
		t.Fatalf("error = %v, want ErrUnsupportedCommand", err)
	}
	if n := len(h.transport.sentPayloads()); n != 0 {
		t.Errorf("sent %d commands, want 0", n)
	}
	if len(h.log.entries) != 0 {
		t.Errorf("command log = %v, want nothing", h.log.entries)
	}
}

func TestSendCommandsStopsOnFailure(t *testing.T) {
	h := newDispatchHarness(t)
	h.transport.failCommand = CmdVolumeUp

	err := h.d.SendCommands(context.Background(), []string{"up", "vol_up", "down"}, SendOptions{})
	if !errors.Is(err, ErrAPI) {
		t.Fatalf("error = %v, want ErrAPI", err)
	}
	if got := commandsOf(h.transport.sentPayloads()); !slices.Equal(got, []string{"up", CmdVolumeUp}) {
		t.Errorf("sent = %v, want stop after failure", got)
	}
	if len(h.log.failed) != 1 || !h.log.failed[0] {
		t.Errorf("command log failed = %v, want [true]", h.log.failed)
	}
}

func TestPowerOffRefreshesOnce(t *testing.T) {
	h := newDispatchHarness(t)

	if err := h.d.SendCommands(context.Background(), []string{"off"}, SendOptions{}); err != nil {
		t.Fatalf("SendCommands() error = %v", err)
	}
	if got := h.transport.profileCount(); got != 1 {
		t.Errorf("refreshes = %d, want 1", got)
	}

	if err := h.d.TurnOff(context.Background()); err != nil {
		t.Fatalf("TurnOff() error = %v", err)
	}
	if got := h.transport.profileCount(); got != 2 {
		t.Errorf("refreshes = %d, want 2", got)
	}
}

func TestPowerOffRefreshesPerOccurrence(t *testing.T) {
	h := newDispatchHarness(t)

	err := h.d.SendCommands(context.Background(), []string{"off", "up", "POWER_OFF"}, SendOptions{NumRepeats: 2})
	if err != nil {
		t.Fatalf("SendCommands() error = %v", err)
	}

	got := commandsOf(h.transport.sentPayloads())
	want := []string{CmdPowerOff, "up", CmdPowerOff, CmdPowerOff, "up", CmdPowerOff}
	if !slices.Equal(got, want) {
		t.Errorf("sent = %v, want %v", got, want)
	}
	if got := h.transport.profileCount(); got != 4 {
		t.Errorf("refreshes = %d, want 4 (one per power_off sent)", got)
	}
}

func TestSendCommandsSerializedPerDevice(t *testing.T) {
	h := newDispatchHarness(t)
	d, err := NewDispatcher(DispatcherOptions{
		EntryID:     "entry-1",
		Transport:   h.transport,
		Coordinator: h.coord,
		Metrics:     h.metrics,
		Log:         h.log,
		Sleep: func(ctx context.Context, _ time.Duration) error {
			time.Sleep(time.Millisecond)
			return ctx.Err()
		},
	})
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}

	start := make(chan struct{})
	var wg sync.WaitGroup
	for _, key := range []string{"down", "up"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			opts := SendOptions{NumRepeats: 6, Delay: time.Millisecond}
			if err := d.SendCommands(context.Background(), []string{key}, opts); err != nil {
				t.Errorf("SendCommands(%s) error = %v", key, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	got := commandsOf(h.transport.sentPayloads())
	if len(got) != 12 {
		t.Fatalf("sent %d commands, want 12", len(got))
	}
	first, second := got[0], got[6]
	if first == second {
		t.Fatalf("sent = %v, want one burst of each key", got)
	}
	for i, key := range got {
		want := first
		if i >= 6 {
			want = second
		}
		if key != want {
			t.Fatalf("sent = %v, bursts interleaved at %d", got, i)
		}
	}
}

func TestDirectHelpers(t *testing.T) {
	tests := []struct {
		name string
		call func(*Dispatcher, context.Context) error
		want string
	}{
		{"play", (*Dispatcher).Play, CmdPlayPause},
		{"pause", (*Dispatcher).Pause, CmdPlayPause},
		{"next", (*Dispatcher).NextTrack, CmdNextTrack},
		{"previous", (*Dispatcher).PreviousTrack, CmdPreviousTrack},
		{"volume up", (*Dispatcher).VolumeUp, CmdVolumeUp},
		{"volume down", (*Dispatcher).VolumeDown, CmdVolumeDown},
		{"mute on", func(d *Dispatcher, ctx context.Context) error { return d.Mute(ctx, true) }, CmdMuteToggle},
		{"mute off", func(d *Dispatcher, ctx context.Context) error { return d.Mute(ctx, false) }, CmdMuteToggle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newDispatchHarness(t)
			if err := tt.call(h.d, context.Background()); err != nil {
				t.Fatalf("call error = %v", err)
			}
			if got := commandsOf(h.transport.sentPayloads()); !slices.Equal(got, []string{tt.want}) {
				t.Errorf("sent = %v, want [%s]", got, tt.want)
			}
		})
	}
}

func TestNavigate(t *testing.T) {
	h := newDispatchHarness(t)
	if err := h.d.Navigate(context.Background(), " LEFT "); err != nil {
		t.Fatalf("Navigate() error = %v", err)
	}
	if err := h.d.Navigate(context.Background(), "enter"); !errors.Is(err, ErrUnsupportedCommand) {
		t.Errorf("Navigate(enter) error = %v, want ErrUnsupportedCommand", err)
	}
	sent := h.transport.sentPayloads()
	if len(sent) != 1 || sent[0]["command"] != "navigate" || sent[0]["key"] != "left" {
		t.Errorf("sent = %v", sent)
	}
}

func TestSelectSource(t *testing.T) {
	h := newDispatchHarness(t)
	if err := h.coord.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	if err := h.d.SelectSource(context.Background(), "DisplayPort"); err != nil {
		t.Fatalf("SelectSource() error = %v", err)
	}
	sent := h.transport.sentPayloads()
	if len(sent) != 1 || sent[0]["command"] != CmdSelectSource || sent[0]["sourceId"] != "dp" {
		t.Errorf("sent = %v", sent)
	}
	if got := h.transport.profileCount(); got != 2 {
		t.Errorf("profile fetches = %d, want 2 (refresh after select)", got)
	}

	if err := h.d.SelectSource(context.Background(), "displayport"); !errors.Is(err, ErrUnknownSource) {
		t.Errorf("SelectSource(displayport) error = %v, want ErrUnknownSource", err)
	}
}

func TestPress(t *testing.T) {
	h := newDispatchHarness(t)
	if err := h.d.Press(context.Background(), "home"); err != nil {
		t.Fatalf("Press(home) error = %v", err)
	}
	if err := h.d.Press(context.Background(), CmdVolumeDown); err != nil {
		t.Fatalf("Press(volume_down) error = %v", err)
	}
	if err := h.d.Press(context.Background(), CmdSelectSource); !errors.Is(err, ErrUnsupportedCommand) {
		t.Errorf("Press(select_source) error = %v, want ErrUnsupportedCommand", err)
	}
	if got := commandsOf(h.transport.sentPayloads()); !slices.Equal(got, []string{"home", CmdVolumeDown}) {
		t.Errorf("sent = %v", got)
	}
	if !slices.Equal(h.metrics.commands, []string{"home", CmdVolumeDown}) {
		t.Errorf("metrics commands = %v", h.metrics.commands)
	}
}
