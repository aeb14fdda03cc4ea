package remoterelay

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Logger is the optional logging surface. *logging.Logger satisfies it.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// ConfigStore persists config changes proposed by the coordinator.
type ConfigStore interface {
	SaveConfig(ctx context.Context, entryID string, cfg PersistedConfig) error
}

// Metrics receives poll and command outcomes.
type Metrics interface {
	ObservePoll(entryID string, success bool, duration time.Duration)
	ObserveCommand(entryID, command string, success bool)
	ObserveConfigUpdate(entryID, field string)
}

// Telemetry receives the same outcomes for time-series storage.
type Telemetry interface {
	RecordPoll(entryID, deviceID string, success bool, duration time.Duration, powerOn bool, sources int)
	RecordCommand(entryID, deviceID, command string, success bool)
}

// Config field names reported by ObserveConfigUpdate.
const (
	FieldDeviceID     = "device_id"
	FieldDisplayName  = "display_name"
	FieldMACAddresses = "mac_addresses"
	FieldAddress      = "address"
	FieldBroadcast    = "broadcast_address"
)

// Snapshot is the latest observed state of one device. A new value is
// published after every poll; readers never see a partial update.
type Snapshot struct {
	// Profile is the last successfully fetched profile. It is kept when a
	// later poll fails and is nil until the first success.
	Profile *DeviceProfile `json:"profile,omitempty"`

	LastUpdateSuccess bool      `json:"last_update_success"`
	LastError         string    `json:"last_error,omitempty"`
	LastAttemptAt     time.Time `json:"last_attempt_at"`
	LastSuccessAt     time.Time `json:"last_success_at"`

	// IdentityConflict holds a reported device id that differs from the
	// bound one. The bound id is never overwritten.
	IdentityConflict string `json:"identity_conflict,omitempty"`
}

// CoordinatorOptions configures a Coordinator.
type CoordinatorOptions struct {
	EntryID   string
	Config    PersistedConfig
	Transport Transport
	Store     ConfigStore
	Interval  time.Duration
	Metrics   Metrics
	Telemetry Telemetry
	Logger    Logger
}

// Coordinator polls one daemon, keeps the latest Snapshot and writes
// changed identity fields back to the config store. It is the only writer
// of the entry's PersistedConfig after pairing.
type Coordinator struct {
	entryID   string
	transport Transport
	store     ConfigStore
	interval  time.Duration
	metrics   Metrics
	telemetry Telemetry

	cfg   PersistedConfig
	cfgMu sync.RWMutex

	snapshot atomic.Pointer[Snapshot]

	// refreshMu serialises polls so diffs are computed against settled config.
	refreshMu sync.Mutex

	observers   map[int]func(Snapshot)
	nextObsID   int
	observersMu sync.RWMutex

	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex
}

// NewCoordinator creates a stopped coordinator.
func NewCoordinator(opts CoordinatorOptions) (*Coordinator, error) {
	if opts.Transport == nil {
		return nil, fmt.Errorf("%w: transport is required", ErrInvalidInput)
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultPollInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		entryID:   opts.EntryID,
		transport: opts.Transport,
		store:     opts.Store,
		interval:  opts.Interval,
		metrics:   opts.Metrics,
		telemetry: opts.Telemetry,
		cfg:       opts.Config.Clone(),
		observers: make(map[int]func(Snapshot)),
		done:      make(chan struct{}),
		ctx:       ctx,
		ctxCancel: cancel,
		logger:    opts.Logger,
	}
	c.snapshot.Store(&Snapshot{})
	return c, nil
}

// Start runs the first refresh synchronously and then polls on the interval
// until Stop. A failed first refresh is logged, not returned: the runtime
// stays loaded so Wake-on-LAN keeps working.
func (c *Coordinator) Start() {
	c.startOnce.Do(func() {
		if err := c.Refresh(c.ctx); err != nil {
			c.logWarn("daemon unreachable during setup, entry still loaded for Wake-on-LAN",
				"entry", c.entryID, "error", err)
		}

		c.wg.Add(1)
		go c.pollLoop()
	})
}

// Stop cancels any in-flight poll and waits for the loop to exit. No tick
// fires after Stop returns.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.ctxCancel()
		c.wg.Wait()
		c.logDebug("coordinator stopped", "entry", c.entryID)
	})
}

func (c *Coordinator) pollLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			// Failures are recorded on the snapshot; the next tick is the retry.
			_ = c.Refresh(c.ctx) //nolint:errcheck // surfaced via snapshot
		}
	}
}

// Refresh fetches the profile once, reconciles config and publishes a new
// snapshot. A cancelled ctx leaves both config and snapshot untouched.
func (c *Coordinator) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	started := time.Now()
	profile, err := c.transport.GetDeviceProfile(ctx)
	elapsed := time.Since(started)

	if ctx.Err() != nil {
		return ctx.Err()
	}

	prev := c.Snapshot()
	deviceID := c.Config().DeviceID

	if err != nil {
		next := prev
		next.LastUpdateSuccess = false
		next.LastError = err.Error()
		next.LastAttemptAt = started
		c.snapshot.Store(&next)

		c.observePoll(deviceID, false, elapsed, nil)
		c.logDebug("device profile refresh failed", "entry", c.entryID, "error", err)
		c.notify(next)
		return err
	}

	conflict := c.reconcile(ctx, profile)

	next := Snapshot{
		Profile:           &profile,
		LastUpdateSuccess: true,
		LastAttemptAt:     started,
		LastSuccessAt:     started,
		IdentityConflict:  conflict,
	}
	c.snapshot.Store(&next)

	c.observePoll(deviceID, true, elapsed, &profile)
	c.notify(next)
	return nil
}

// reconcile writes changed identity fields. Each field is compared only when
// the daemon reported a non-empty value.
func (c *Coordinator) reconcile(ctx context.Context, profile DeviceProfile) string {
	current := c.Config()
	next, changed, conflict := DiffConfig(current, profile)

	if conflict != "" {
		c.logWarn("daemon reported a different device id, keeping the bound id",
			"entry", c.entryID, "bound", current.DeviceID, "reported", conflict)
	}
	if len(changed) == 0 {
		return conflict
	}

	if err := c.persist(ctx, next); err != nil {
		c.logError("persisting reconciled config failed", "entry", c.entryID, "error", err)
		return conflict
	}
	for _, field := range changed {
		if c.metrics != nil {
			c.metrics.ObserveConfigUpdate(c.entryID, field)
		}
	}
	c.logInfo("config reconciled from device profile", "entry", c.entryID, "fields", strings.Join(changed, ","))
	return conflict
}

// DiffConfig applies the identity fields of profile to current and reports
// which fields changed. A differing device id is never applied over a bound
// one; it is returned as conflict instead.
func DiffConfig(current PersistedConfig, profile DeviceProfile) (next PersistedConfig, changed []string, conflict string) {
	next = current.Clone()

	if id := profile.DeviceID; id != "" && id != current.DeviceID {
		if current.DeviceID == "" {
			next.DeviceID = id
			changed = append(changed, FieldDeviceID)
		} else {
			conflict = id
		}
	}

	if name := profile.DisplayName; name != "" && name != current.DisplayName {
		next.DisplayName = name
		changed = append(changed, FieldDisplayName)
	}

	currentMACs := make([]string, 0, len(current.MACAddresses))
	for _, mac := range current.MACAddresses {
		if mac = strings.TrimSpace(mac); mac != "" {
			currentMACs = append(currentMACs, mac)
		}
	}
	if len(profile.MACAddresses) > 0 && !slices.Equal(profile.MACAddresses, currentMACs) {
		next.MACAddresses = slices.Clone(profile.MACAddresses)
		changed = append(changed, FieldMACAddresses)
	}

	return next, changed, conflict
}

// ApplyAddress moves the entry to a new host and port. The new config is
// persisted first, then the shared session is swapped, then a refresh runs.
func (c *Coordinator) ApplyAddress(ctx context.Context, host string, port int) error {
	host = strings.TrimSpace(host)
	if host == "" || port < 1 || port > 65535 {
		return fmt.Errorf("%w: host and port are required", ErrInvalidInput)
	}

	c.refreshMu.Lock()
	current := c.Config()
	if current.Host == host && current.Port == port {
		c.refreshMu.Unlock()
		return nil
	}
	next := current.Clone()
	next.Host = host
	next.Port = port
	next.BaseURL = BaseURLFor(host, port)
	if err := c.persist(ctx, next); err != nil {
		c.refreshMu.Unlock()
		return err
	}
	c.transport.SetSession(next.Session())
	c.refreshMu.Unlock()

	if c.metrics != nil {
		c.metrics.ObserveConfigUpdate(c.entryID, FieldAddress)
	}
	c.logInfo("daemon address updated", "entry", c.entryID, "host", host, "port", port)

	if err := c.Refresh(ctx); err != nil {
		c.logDebug("refresh after address update failed", "entry", c.entryID, "error", err)
	}
	return nil
}

// SetBroadcastAddress stores the Wake-on-LAN broadcast override. An empty
// value clears it.
func (c *Coordinator) SetBroadcastAddress(ctx context.Context, addr string) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	next := c.Config()
	next.BroadcastAddress = strings.TrimSpace(addr)
	if err := c.persist(ctx, next); err != nil {
		return err
	}
	if c.metrics != nil {
		c.metrics.ObserveConfigUpdate(c.entryID, FieldBroadcast)
	}
	return nil
}

// persist saves cfg and adopts it in memory only if the save succeeded.
func (c *Coordinator) persist(ctx context.Context, cfg PersistedConfig) error {
	if c.store != nil {
		if err := c.store.SaveConfig(ctx, c.entryID, cfg); err != nil {
			return fmt.Errorf("saving config for %s: %w", c.entryID, err)
		}
	}
	c.cfgMu.Lock()
	c.cfg = cfg.Clone()
	c.cfgMu.Unlock()
	return nil
}

// EntryID returns the entry this coordinator serves.
func (c *Coordinator) EntryID() string { return c.entryID }

// Config returns a copy of the persisted config.
func (c *Coordinator) Config() PersistedConfig {
	c.cfgMu.RLock()
	defer c.cfgMu.RUnlock()
	return c.cfg.Clone()
}

// Snapshot returns the latest snapshot.
func (c *Coordinator) Snapshot() Snapshot {
	return *c.snapshot.Load()
}

// Sources returns the latest known input sources: the last profile's list
// when the daemon sent one, else the persisted list.
func (c *Coordinator) Sources() []InputSource {
	return slices.Clone(viewSources(c.Config(), c.Snapshot()))
}

// SelectedSourceID returns the latest known selection, falling back to the
// persisted one when the daemon did not report it.
func (c *Coordinator) SelectedSourceID() string {
	return viewSelection(c.Config(), c.Snapshot())
}

// Subscribe registers fn to receive every new snapshot. fn runs on the
// polling goroutine and must not block. The returned func unsubscribes.
func (c *Coordinator) Subscribe(fn func(Snapshot)) func() {
	c.observersMu.Lock()
	id := c.nextObsID
	c.nextObsID++
	c.observers[id] = fn
	c.observersMu.Unlock()

	return func() {
		c.observersMu.Lock()
		delete(c.observers, id)
		c.observersMu.Unlock()
	}
}

func (c *Coordinator) notify(snap Snapshot) {
	c.observersMu.RLock()
	fns := make([]func(Snapshot), 0, len(c.observers))
	for _, fn := range c.observers {
		fns = append(fns, fn)
	}
	c.observersMu.RUnlock()

	for _, fn := range fns {
		fn(snap)
	}
}

func (c *Coordinator) observePoll(deviceID string, success bool, elapsed time.Duration, profile *DeviceProfile) {
	if c.metrics != nil {
		c.metrics.ObservePoll(c.entryID, success, elapsed)
	}
	if c.telemetry != nil {
		var powerOn bool
		var sources int
		if profile != nil {
			powerOn = profile.PowerState == PowerOn
			sources = len(profile.Sources)
		}
		c.telemetry.RecordPoll(c.entryID, deviceID, success, elapsed, powerOn, sources)
	}
}

// SetLogger replaces the logger.
func (c *Coordinator) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Coordinator) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *Coordinator) logDebug(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (c *Coordinator) logInfo(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (c *Coordinator) logWarn(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (c *Coordinator) logError(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Error(msg, keysAndValues...)
	}
}
