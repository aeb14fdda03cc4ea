package remoterelay

import (
	"context"
	"errors"
	"sync"
	"time"
)

// fakeTransport implements Transport for testing.
type fakeTransport struct {
	mu sync.Mutex

	session Session

	healthErr   error
	pairing     *PairingResult
	pairingErr  error
	profile     DeviceProfile
	profileErr  error
	sendErr     error
	failCommand string

	healthCalls  int
	profileCalls int
	exchanged    []string
	sent         []map[string]any

	// block, when set, makes GetDeviceProfile wait for ctx.
	block bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{}
}

func (f *fakeTransport) Health(_ context.Context) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthCalls++
	if f.healthErr != nil {
		return nil, f.healthErr
	}
	return map[string]any{"status": "ok"}, nil
}

func (f *fakeTransport) ExchangePairingCode(_ context.Context, code, _, _ string) (*PairingResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exchanged = append(f.exchanged, code)
	if f.pairingErr != nil {
		return nil, f.pairingErr
	}
	if f.pairing == nil {
		return &PairingResult{AccessToken: "tok"}, nil
	}
	return f.pairing, nil
}

func (f *fakeTransport) GetDeviceProfile(ctx context.Context) (DeviceProfile, error) {
	f.mu.Lock()
	f.profileCalls++
	block := f.block
	profile, err := f.profile, f.profileErr
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return DeviceProfile{}, &APIError{Kind: KindTransport, Message: ctx.Err().Error(), Err: ctx.Err()}
	}
	return profile, err
}

func (f *fakeTransport) SendCommand(_ context.Context, payload map[string]any) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, payload)
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	if f.failCommand != "" && payload["command"] == f.failCommand {
		return nil, &APIError{Kind: KindHTTP, Status: 500, Message: "HTTP 500"}
	}
	return map[string]any{"ok": true}, nil
}

func (f *fakeTransport) Session() Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session
}

func (f *fakeTransport) SetSession(s Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session = s
}

func (f *fakeTransport) setProfile(p DeviceProfile, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profile = p
	f.profileErr = err
}

func (f *fakeTransport) sentPayloads() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeTransport) profileCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.profileCalls
}

// fakeStore implements ConfigStore and EntryLookup.
type fakeStore struct {
	mu      sync.Mutex
	saved   map[string]PersistedConfig
	saves   int
	saveErr error
	lookup  map[string]*ConfiguredEntry
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		saved:  make(map[string]PersistedConfig),
		lookup: make(map[string]*ConfiguredEntry),
	}
}

func (s *fakeStore) SaveConfig(_ context.Context, entryID string, cfg PersistedConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.saved[entryID] = cfg.Clone()
	return nil
}

func (s *fakeStore) LookupDevice(_ context.Context, deviceID string) (*ConfiguredEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookup[deviceID], nil
}

func (s *fakeStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// fakeWaker records wake calls.
type fakeWaker struct {
	mu    sync.Mutex
	woken []string
	bcast []string
	err   error
}

func (w *fakeWaker) Wake(_ context.Context, mac, broadcast string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.woken = append(w.woken, mac)
	w.bcast = append(w.bcast, broadcast)
	return nil
}

// fakeMetrics records metric observations.
type fakeMetrics struct {
	mu       sync.Mutex
	polls    []bool
	commands []string
	updates  []string
	forgot   []string
}

func (m *fakeMetrics) ObservePoll(_ string, success bool, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.polls = append(m.polls, success)
}

func (m *fakeMetrics) ObserveCommand(_, command string, _ bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = append(m.commands, command)
}

func (m *fakeMetrics) ObserveConfigUpdate(_, field string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, field)
}

func (m *fakeMetrics) Forget(entryID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forgot = append(m.forgot, entryID)
}

// fakeCommandLog records command log calls.
type fakeCommandLog struct {
	mu      sync.Mutex
	entries []string
	repeats []int
	failed  []bool
}

func (l *fakeCommandLog) LogCommand(_ context.Context, _, command string, repeats int, sendErr error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, command)
	l.repeats = append(l.repeats, repeats)
	l.failed = append(l.failed, sendErr != nil)
	return nil
}

var errBoom = errors.New("boom")

func testProfile() DeviceProfile {
	return DeviceProfile{
		DeviceIdentity: DeviceIdentity{
			DeviceID:     "dev-1",
			DisplayName:  "Office PC",
			MACAddresses: []string{"AA:BB:CC:DD:EE:FF"},
			ProtoVersion: "1",
		},
		PowerState:       PowerOn,
		SelectedSourceID: "hdmi1",
		Sources: []InputSource{
			{ID: "hdmi1", Name: "HDMI 1", Type: "hdmi"},
			{ID: "dp", Name: "DisplayPort", Type: "dp"},
		},
		HasSources:   true,
		HasSelection: true,
	}
}

func testConfig() PersistedConfig {
	return PersistedConfig{
		BaseURL:     "http://192.168.1.20:49171",
		AccessToken: "tok",
		DeviceIdentity: DeviceIdentity{
			DeviceID:     "dev-1",
			DisplayName:  "Office PC",
			MACAddresses: []string{"AA:BB:CC:DD:EE:FF"},
			ProtoVersion: "1",
		},
		InputSources: []InputSource{{ID: "hdmi1", Name: "HDMI 1", Type: "hdmi"}},
		Host:         "192.168.1.20",
		Port:         DefaultPort,
	}
}
