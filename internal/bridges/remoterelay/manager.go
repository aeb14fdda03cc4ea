package remoterelay

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// setupConcurrency bounds how many entries are brought up at once.
const setupConcurrency = 4

// StoredEntry is a persisted entry handed to the manager at load time.
type StoredEntry struct {
	ID     string
	Title  string
	Config PersistedConfig
}

// Runtime is everything live for one entry.
type Runtime struct {
	EntryID     string
	Title       string
	Transport   Transport
	Coordinator *Coordinator
	Dispatcher  *Dispatcher

	waker            Waker
	defaultBroadcast string
	unsubscribe      func()
}

// View projects the runtime's current state.
func (rt *Runtime) View() View {
	return BuildView(rt.EntryID, rt.Coordinator.Config(), rt.Coordinator.Snapshot())
}

// DeviceID returns the bound device id.
func (rt *Runtime) DeviceID() string {
	return rt.Coordinator.Config().DeviceID
}

// TurnOn wakes the machine. It does not depend on the daemon being up.
func (rt *Runtime) TurnOn(ctx context.Context) (int, error) {
	if rt.waker == nil {
		return 0, fmt.Errorf("%w: no Wake-on-LAN sender configured", ErrInvalidInput)
	}
	cfg := rt.Coordinator.Config()
	broadcast := strings.TrimSpace(cfg.BroadcastAddress)
	if broadcast == "" {
		broadcast = rt.defaultBroadcast
	}
	return TurnOn(ctx, rt.waker, cfg.MACAddresses, broadcast)
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Store            ConfigStore
	Waker            Waker
	DefaultBroadcast string
	PollInterval     time.Duration
	HTTPClient       *http.Client
	Metrics          Metrics
	Telemetry        Telemetry
	CommandLog       CommandLog
	Logger           Logger

	// NewTransport overrides how daemon clients are built.
	NewTransport func(Session) Transport
}

// Manager owns one Runtime per loaded entry.
type Manager struct {
	opts ManagerOptions

	mu       sync.RWMutex
	runtimes map[string]*Runtime

	listeners   map[int]func(*Runtime, Snapshot)
	nextListen  int
	listenersMu sync.RWMutex
}

// NewManager creates an empty manager.
func NewManager(opts ManagerOptions) *Manager {
	if opts.NewTransport == nil {
		httpClient := opts.HTTPClient
		opts.NewTransport = func(s Session) Transport { return NewClient(s, httpClient) }
	}
	return &Manager{
		opts:      opts,
		runtimes:  make(map[string]*Runtime),
		listeners: make(map[int]func(*Runtime, Snapshot)),
	}
}

// NewTransport builds a daemon client the same way runtimes do.
func (m *Manager) NewTransport(s Session) Transport {
	return m.opts.NewTransport(s)
}

// Setup builds and starts the runtime for entry, replacing any existing one.
// The first refresh runs before Setup returns; an unreachable daemon is
// logged and the runtime is kept.
func (m *Manager) Setup(_ context.Context, entry StoredEntry) (*Runtime, error) {
	if entry.ID == "" {
		return nil, fmt.Errorf("%w: entry id is required", ErrInvalidInput)
	}
	if _, err := m.Get(entry.ID); err == nil {
		m.Unload(entry.ID)
	}

	transport := m.opts.NewTransport(entry.Config.Session())
	coord, err := NewCoordinator(CoordinatorOptions{
		EntryID:   entry.ID,
		Config:    entry.Config,
		Transport: transport,
		Store:     m.opts.Store,
		Interval:  m.opts.PollInterval,
		Metrics:   m.opts.Metrics,
		Telemetry: m.opts.Telemetry,
		Logger:    m.opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating coordinator for %s: %w", entry.ID, err)
	}
	dispatcher, err := NewDispatcher(DispatcherOptions{
		EntryID:     entry.ID,
		Transport:   transport,
		Coordinator: coord,
		Metrics:     m.opts.Metrics,
		Telemetry:   m.opts.Telemetry,
		Log:         m.opts.CommandLog,
		Logger:      m.opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating dispatcher for %s: %w", entry.ID, err)
	}

	rt := &Runtime{
		EntryID:          entry.ID,
		Title:            entry.Title,
		Transport:        transport,
		Coordinator:      coord,
		Dispatcher:       dispatcher,
		waker:            m.opts.Waker,
		defaultBroadcast: m.opts.DefaultBroadcast,
	}
	rt.unsubscribe = coord.Subscribe(func(s Snapshot) { m.broadcast(rt, s) })

	m.mu.Lock()
	m.runtimes[entry.ID] = rt
	m.mu.Unlock()

	coord.Start()
	m.logInfo("entry loaded", "entry", entry.ID, "title", entry.Title,
		"reachable", coord.Snapshot().LastUpdateSuccess)
	return rt, nil
}

// SetupAll loads entries concurrently. Every entry is attempted; the first
// error is returned.
func (m *Manager) SetupAll(ctx context.Context, entries []StoredEntry) error {
	var g errgroup.Group
	g.SetLimit(setupConcurrency)
	for _, entry := range entries {
		g.Go(func() error {
			_, err := m.Setup(ctx, entry)
			return err
		})
	}
	return g.Wait()
}

// Get returns the runtime for an entry or ErrEntryNotLoaded.
func (m *Manager) Get(entryID string) (*Runtime, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rt, ok := m.runtimes[entryID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotLoaded, entryID)
	}
	return rt, nil
}

// FindByDeviceID returns the runtime bound to deviceID.
func (m *Manager) FindByDeviceID(deviceID string) (*Runtime, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rt := range m.runtimes {
		if rt.DeviceID() == deviceID {
			return rt, true
		}
	}
	return nil, false
}

// List returns all runtimes ordered by title, then id.
func (m *Manager) List() []*Runtime {
	m.mu.RLock()
	out := make([]*Runtime, 0, len(m.runtimes))
	for _, rt := range m.runtimes {
		out = append(out, rt)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Title != out[j].Title {
			return out[i].Title < out[j].Title
		}
		return out[i].EntryID < out[j].EntryID
	})
	return out
}

// Len returns the number of loaded entries.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.runtimes)
}

// Unload stops and forgets an entry. It reports whether one was loaded.
func (m *Manager) Unload(entryID string) bool {
	m.mu.Lock()
	rt, ok := m.runtimes[entryID]
	delete(m.runtimes, entryID)
	m.mu.Unlock()
	if !ok {
		return false
	}

	rt.unsubscribe()
	rt.Coordinator.Stop()
	if f, ok := m.opts.Metrics.(interface{ Forget(string) }); ok {
		f.Forget(entryID)
	}
	m.logInfo("entry unloaded", "entry", entryID)
	return true
}

// StopAll stops every runtime.
func (m *Manager) StopAll() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.runtimes))
	for id := range m.runtimes {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.Unload(id)
	}
}

// ApplyAddressUpdate routes a pairing address proposal to the owning
// coordinator.
func (m *Manager) ApplyAddressUpdate(ctx context.Context, update AddressUpdate) error {
	rt, err := m.Get(update.EntryID)
	if err != nil {
		return err
	}
	return rt.Coordinator.ApplyAddress(ctx, update.Host, update.Port)
}

// ApplyStoredAddress moves an entry that has no runtime. A coordinator is
// built for the write and stopped again without ever polling, so the
// entry's config still has a single writer.
func (m *Manager) ApplyStoredAddress(ctx context.Context, entry StoredEntry, host string, port int) error {
	if _, err := m.Get(entry.ID); err == nil {
		return m.ApplyAddressUpdate(ctx, AddressUpdate{EntryID: entry.ID, Host: host, Port: port})
	}
	coord, err := NewCoordinator(CoordinatorOptions{
		EntryID:   entry.ID,
		Config:    entry.Config,
		Transport: m.opts.NewTransport(entry.Config.Session()),
		Store:     m.opts.Store,
		Interval:  m.opts.PollInterval,
		Logger:    m.opts.Logger,
	})
	if err != nil {
		return fmt.Errorf("creating coordinator for %s: %w", entry.ID, err)
	}
	defer coord.Stop()
	return coord.ApplyAddress(ctx, host, port)
}

// Subscribe registers fn for snapshots of every current and future entry.
func (m *Manager) Subscribe(fn func(*Runtime, Snapshot)) func() {
	m.listenersMu.Lock()
	id := m.nextListen
	m.nextListen++
	m.listeners[id] = fn
	m.listenersMu.Unlock()

	return func() {
		m.listenersMu.Lock()
		delete(m.listeners, id)
		m.listenersMu.Unlock()
	}
}

func (m *Manager) broadcast(rt *Runtime, snap Snapshot) {
	m.listenersMu.RLock()
	fns := make([]func(*Runtime, Snapshot), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.listenersMu.RUnlock()

	for _, fn := range fns {
		fn(rt, snap)
	}
}

func (m *Manager) logInfo(msg string, keysAndValues ...any) {
	if m.opts.Logger != nil {
		m.opts.Logger.Info(msg, keysAndValues...)
	}
}
