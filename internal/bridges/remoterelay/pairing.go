package remoterelay

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// FlowState is a pairing flow's position in the state machine.
type FlowState string

const (
	StateIdle                FlowState = "idle"
	StateAwaitingDiscovery   FlowState = "awaiting_discovery"
	StateAwaitingManualEntry FlowState = "awaiting_manual_entry"
	StateHasCandidateAddress FlowState = "has_candidate_address"
	StateAwaitingPairingCode FlowState = "awaiting_pairing_code"
	StatePaired              FlowState = "paired"
	StateAborted             FlowState = "aborted"
)

// Abort reasons and form error keys.
const (
	ReasonNotSupported      = "not_supported"
	ReasonAlreadyConfigured = "already_configured"
	ReasonCannotConnect     = "cannot_connect"

	ErrorKeyInvalidAuth   = "invalid_auth"
	ErrorKeyCannotConnect = "cannot_connect"
	ErrorKeyRequired      = "required"
	ErrorKeyInvalidPort   = "invalid_port"
)

// Step ids shown to the caller.
const (
	StepMenu             = "user"
	StepWaitForDiscovery = "wait_for_discovery"
	StepManual           = "manual"
	StepPair             = "pair"
	MenuWaitForDiscovery = "wait_for_discovery"
	MenuManual           = "manual"
)

// ConfiguredEntry is an existing entry found by device id.
type ConfiguredEntry struct {
	EntryID string
	Config  PersistedConfig
}

// EntryLookup finds an already configured device. It returns nil, nil when
// the device is unknown.
type EntryLookup interface {
	LookupDevice(ctx context.Context, deviceID string) (*ConfiguredEntry, error)
}

// FlowDeps are the collaborators a pairing flow needs.
type FlowDeps struct {
	Entries EntryLookup

	// NewTransport builds an unauthenticated client for a candidate address.
	NewTransport func(Session) Transport

	// NewID generates instance ids and fallback device ids.
	NewID func() string

	IntegrationName string
	DefaultPort     int
}

// ManualInput is the manual-entry form.
type ManualInput struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	Name string `json:"name"`
}

// DiscoveryInfo is one service advertisement. TXT values may be strings or
// raw bytes.
type DiscoveryInfo struct {
	Name string         `json:"name"`
	Host string         `json:"host"`
	IP   string         `json:"ip"`
	Port int            `json:"port"`
	TXT  map[string]any `json:"txt"`
}

// AddressUpdate proposes new host/port for an existing entry.
type AddressUpdate struct {
	EntryID  string `json:"entry_id"`
	DeviceID string `json:"device_id"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
}

// Step is what a flow returns after every transition.
type Step struct {
	FlowID        string            `json:"flow_id"`
	State         FlowState         `json:"state"`
	StepID        string            `json:"step_id,omitempty"`
	MenuOptions   []string          `json:"menu_options,omitempty"`
	Errors        map[string]string `json:"errors,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	Placeholders  map[string]string `json:"placeholders,omitempty"`
	Title         string            `json:"title,omitempty"`
	Config        *PersistedConfig  `json:"config,omitempty"`
	AddressUpdate *AddressUpdate    `json:"address_update,omitempty"`
}

// Finished reports whether the flow reached a terminal state.
func (s Step) Finished() bool {
	return s.State == StatePaired || s.State == StateAborted
}

// Flow is one pairing attempt. It has no background work; every method is a
// synchronous transition. Safe for concurrent use.
type Flow struct {
	mu   sync.Mutex
	id   string
	deps FlowDeps

	state  FlowState
	reason string

	host string
	port int

	discoveredID    string
	discoveredName  string
	discoveredProto string

	// uniqueID is the device id this flow is bound to, once known.
	uniqueID string

	title         string
	result        *PersistedConfig
	addressUpdate *AddressUpdate

	// touched is the last transition attempt in Unix nanoseconds. It is
	// read without mu so registry sweeps never wait on a daemon call.
	touched atomic.Int64
}

// NewFlow starts a flow in StateIdle.
func NewFlow(id string, deps FlowDeps) *Flow {
	if deps.DefaultPort == 0 {
		deps.DefaultPort = DefaultPort
	}
	if deps.IntegrationName == "" {
		deps.IntegrationName = DefaultIntegrationName
	}
	f := &Flow{
		id:              id,
		deps:            deps,
		state:           StateIdle,
		port:            deps.DefaultPort,
		discoveredProto: DefaultProtoVersion,
	}
	f.touch()
	return f
}

// ID returns the flow id.
func (f *Flow) ID() string { return f.id }

// Current returns the step for the flow's present state.
func (f *Flow) Current() Step {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stepLocked(nil)
}

// ChooseDiscovery picks the discovery branch of the menu.
func (f *Flow) ChooseDiscovery() (Step, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.requireLocked(StateIdle); err != nil {
		return Step{}, err
	}
	f.state = StateAwaitingDiscovery
	return f.stepLocked(nil), nil
}

// ChooseManual picks the manual-entry branch of the menu.
func (f *Flow) ChooseManual() (Step, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.requireLocked(StateIdle); err != nil {
		return Step{}, err
	}
	f.state = StateAwaitingManualEntry
	return f.stepLocked(nil), nil
}

// SubmitManual records a manually entered address. Form problems come back
// as step errors with the flow left in place.
func (f *Flow) SubmitManual(in ManualInput) (Step, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.requireLocked(StateIdle, StateAwaitingManualEntry); err != nil {
		return Step{}, err
	}
	f.state = StateAwaitingManualEntry

	host := strings.TrimSpace(in.Host)
	port := in.Port
	if port == 0 {
		port = f.deps.DefaultPort
	}

	formErrors := map[string]string{}
	if host == "" {
		formErrors["host"] = ErrorKeyRequired
	}
	if port < 1 || port > 65535 {
		formErrors["port"] = ErrorKeyInvalidPort
	}
	if len(formErrors) > 0 {
		return f.stepLocked(formErrors), nil
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = DefaultName
	}

	f.discoveredName = name
	f.candidateLocked(host, port)

	// Manual entries carry no device id, so there is nothing to dedup yet.
	f.state = StateAwaitingPairingCode
	return f.stepLocked(nil), nil
}

// Discover ingests a service advertisement. A record without device_id
// aborts with not_supported. A device that is already configured aborts with
// already_configured, proposing an address update when host or port moved.
func (f *Flow) Discover(ctx context.Context, info DiscoveryInfo) (Step, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.requireLocked(StateIdle, StateAwaitingDiscovery); err != nil {
		return Step{}, err
	}

	deviceID, _ := TXTValue(info.TXT, "device_id")
	if deviceID == "" {
		return f.abortLocked(ReasonNotSupported), nil
	}

	f.discoveredID = deviceID
	if name, _ := TXTValue(info.TXT, "display_name"); name != "" {
		f.discoveredName = name
	} else {
		f.discoveredName = strings.TrimRight(info.Name, ".")
	}
	if proto, _ := TXTValue(info.TXT, "proto"); proto != "" {
		f.discoveredProto = proto
	}
	f.uniqueID = deviceID

	port := info.Port
	if port == 0 {
		port = f.deps.DefaultPort
	}
	host := strings.TrimSpace(info.Host)
	if host == "" {
		host = strings.TrimSpace(info.IP)
	}

	f.candidateLocked(host, port)

	existing, err := f.lookupLocked(ctx, deviceID)
	if err != nil {
		return Step{}, err
	}
	if existing != nil {
		if host != "" && (existing.Config.Host != host || existing.Config.Port != port) {
			f.addressUpdate = &AddressUpdate{
				EntryID:  existing.EntryID,
				DeviceID: deviceID,
				Host:     host,
				Port:     port,
			}
		}
		return f.abortLocked(ReasonAlreadyConfigured), nil
	}

	if host == "" {
		return f.abortLocked(ReasonCannotConnect), nil
	}

	f.state = StateAwaitingPairingCode
	return f.stepLocked(nil), nil
}

// SubmitCode checks the daemon is up and exchanges the pairing code. Connectivity
// and bad-code failures are reported as step errors so the user can retry.
func (f *Flow) SubmitCode(ctx context.Context, code string) (Step, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.requireLocked(StateAwaitingPairingCode); err != nil {
		return Step{}, err
	}

	code = strings.TrimSpace(code)
	if code == "" {
		return f.stepLocked(map[string]string{"pairing_code": ErrorKeyRequired}), nil
	}

	baseURL := BaseURLFor(f.host, f.port)
	transport := f.deps.NewTransport(NewSession(baseURL, ""))

	if _, err := transport.Health(ctx); err != nil {
		return f.stepLocked(map[string]string{"base": ErrorKeyCannotConnect}), nil
	}

	paired, err := transport.ExchangePairingCode(ctx, code, f.deps.NewID(), f.deps.IntegrationName)
	if err != nil {
		if errors.Is(err, ErrPairing) {
			return f.stepLocked(map[string]string{"base": ErrorKeyInvalidAuth}), nil
		}
		return f.stepLocked(map[string]string{"base": ErrorKeyCannotConnect}), nil
	}

	device := paired.Device
	deviceID := device.DeviceID
	if deviceID == "" {
		deviceID = f.discoveredID
	}
	if deviceID == "" {
		deviceID = f.deps.NewID()
	}

	if f.uniqueID == "" {
		f.uniqueID = deviceID
	} else if f.uniqueID != deviceID {
		return f.abortLocked(ReasonAlreadyConfigured), nil
	}

	existing, err := f.lookupLocked(ctx, deviceID)
	if err != nil {
		return Step{}, err
	}
	if existing != nil {
		return f.abortLocked(ReasonAlreadyConfigured), nil
	}

	title := firstNonEmpty(device.DisplayName, f.discoveredName, DefaultName)
	cfg := PersistedConfig{
		BaseURL:     baseURL,
		AccessToken: paired.AccessToken,
		DeviceIdentity: DeviceIdentity{
			DeviceID:     deviceID,
			DisplayName:  title,
			MACAddresses: device.MACAddresses,
			ProtoVersion: firstNonEmpty(device.ProtoVersion, f.discoveredProto, DefaultProtoVersion),
		},
		InputSources:     device.Sources,
		SelectedSourceID: device.SelectedSourceID,
		Host:             f.host,
		Port:             f.port,
	}

	f.title = title
	f.result = &cfg
	f.state = StatePaired
	return f.stepLocked(nil), nil
}

// Result returns the paired config, or false before the flow is paired.
func (f *Flow) Result() (title string, cfg PersistedConfig, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.result == nil {
		return "", PersistedConfig{}, false
	}
	return f.title, f.result.Clone(), true
}

func (f *Flow) touch() { f.touched.Store(time.Now().UnixNano()) }

func (f *Flow) lastTouched() time.Time {
	return time.Unix(0, f.touched.Load())
}

func (f *Flow) requireLocked(allowed ...FlowState) error {
	f.touch()
	if f.state == StatePaired || f.state == StateAborted {
		return ErrFlowFinished
	}
	for _, s := range allowed {
		if f.state == s {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidTransition, f.state)
}

func (f *Flow) candidateLocked(host string, port int) {
	f.host = host
	f.port = port
	f.state = StateHasCandidateAddress
}

func (f *Flow) lookupLocked(ctx context.Context, deviceID string) (*ConfiguredEntry, error) {
	if f.deps.Entries == nil {
		return nil, nil
	}
	existing, err := f.deps.Entries.LookupDevice(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("looking up device %s: %w", deviceID, err)
	}
	return existing, nil
}

func (f *Flow) abortLocked(reason string) Step {
	f.state = StateAborted
	f.reason = reason
	return f.stepLocked(nil)
}

func (f *Flow) stepLocked(formErrors map[string]string) Step {
	step := Step{FlowID: f.id, State: f.state, Errors: formErrors}

	switch f.state {
	case StateIdle:
		step.StepID = StepMenu
		step.MenuOptions = []string{MenuWaitForDiscovery, MenuManual}
	case StateAwaitingDiscovery:
		step.StepID = StepWaitForDiscovery
	case StateAwaitingManualEntry:
		step.StepID = StepManual
		step.Placeholders = map[string]string{
			"port": strconv.Itoa(f.deps.DefaultPort),
			"name": DefaultName,
		}
	case StateAwaitingPairingCode:
		step.StepID = StepPair
		step.Placeholders = map[string]string{
			"host": f.host,
			"port": strconv.Itoa(f.port),
			"name": firstNonEmpty(f.discoveredName, DefaultName),
		}
	case StatePaired:
		step.Title = f.title
		if f.result != nil {
			cfg := f.result.Clone()
			step.Config = &cfg
		}
	case StateAborted:
		step.Reason = f.reason
		step.AddressUpdate = f.addressUpdate
	}
	return step
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
