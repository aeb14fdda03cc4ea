package remoterelay

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type managerHarness struct {
	mu         sync.Mutex
	transports map[string]*fakeTransport
	store      *fakeStore
	waker      *fakeWaker
	metrics    *fakeMetrics
	m          *Manager
}

func newManagerHarness(t *testing.T) *managerHarness {
	t.Helper()
	h := &managerHarness{
		transports: make(map[string]*fakeTransport),
		store:      newFakeStore(),
		waker:      &fakeWaker{},
		metrics:    &fakeMetrics{},
	}
	h.m = NewManager(ManagerOptions{
		Store:            h.store,
		Waker:            h.waker,
		DefaultBroadcast: "255.255.255.255",
		Metrics:          h.metrics,
		NewTransport: func(s Session) Transport {
			h.mu.Lock()
			defer h.mu.Unlock()
			ft := newFakeTransport()
			ft.SetSession(s)
			ft.setProfile(testProfile(), nil)
			h.transports[s.BaseURL()] = ft
			return ft
		},
	})
	t.Cleanup(h.m.StopAll)
	return h
}

func storedEntry(id, title, deviceID, host string) StoredEntry {
	cfg := testConfig()
	cfg.DeviceID = deviceID
	cfg.Host = host
	cfg.BaseURL = BaseURLFor(host, cfg.Port)
	return StoredEntry{ID: id, Title: title, Config: cfg}
}

func TestManagerSetupAndLookup(t *testing.T) {
	h := newManagerHarness(t)

	err := h.m.SetupAll(context.Background(), []StoredEntry{
		storedEntry("b", "Bedroom", "dev-b", "10.0.0.2"),
		storedEntry("a", "Attic", "dev-a", "10.0.0.1"),
	})
	if err != nil {
		t.Fatalf("SetupAll() error = %v", err)
	}
	if h.m.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", h.m.Len())
	}

	list := h.m.List()
	if list[0].Title != "Attic" || list[1].Title != "Bedroom" {
		t.Errorf("List() order = %s, %s", list[0].Title, list[1].Title)
	}

	rt, ok := h.m.FindByDeviceID("dev-b")
	if !ok || rt.EntryID != "b" {
		t.Errorf("FindByDeviceID(dev-b) = %v, %v", rt, ok)
	}
	if !rt.Coordinator.Snapshot().LastUpdateSuccess {
		t.Error("first refresh should have run during setup")
	}

	if _, err := h.m.Get("missing"); !errors.Is(err, ErrEntryNotLoaded) {
		t.Errorf("Get(missing) error = %v, want ErrEntryNotLoaded", err)
	}
}

func TestManagerSetupUnreachableStillLoads(t *testing.T) {
	h := newManagerHarness(t)
	h.m.opts.NewTransport = func(s Session) Transport {
		ft := newFakeTransport()
		ft.SetSession(s)
		ft.setProfile(DeviceProfile{}, &APIError{Kind: KindTransport, Message: "refused"})
		return ft
	}

	rt, err := h.m.Setup(context.Background(), storedEntry("a", "Attic", "dev-a", "10.0.0.1"))
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if rt.Coordinator.Snapshot().LastUpdateSuccess {
		t.Error("LastUpdateSuccess = true for unreachable daemon")
	}

	n, err := rt.TurnOn(context.Background())
	if err != nil {
		t.Fatalf("TurnOn() error = %v", err)
	}
	if n != 1 || len(h.waker.woken) != 1 {
		t.Errorf("woken = %d %v, want 1", n, h.waker.woken)
	}
	if h.waker.bcast[0] != "255.255.255.255" {
		t.Errorf("broadcast = %q, want default", h.waker.bcast[0])
	}
}

func TestRuntimeTurnOnBroadcastOverride(t *testing.T) {
	h := newManagerHarness(t)
	entry := storedEntry("a", "Attic", "dev-a", "10.0.0.1")
	entry.Config.BroadcastAddress = "10.0.0.255"

	rt, err := h.m.Setup(context.Background(), entry)
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if _, err := rt.TurnOn(context.Background()); err != nil {
		t.Fatalf("TurnOn() error = %v", err)
	}
	if h.waker.bcast[0] != "10.0.0.255" {
		t.Errorf("broadcast = %q, want override", h.waker.bcast[0])
	}
}

func TestManagerUnload(t *testing.T) {
	h := newManagerHarness(t)
	if _, err := h.m.Setup(context.Background(), storedEntry("a", "Attic", "dev-a", "10.0.0.1")); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	if !h.m.Unload("a") {
		t.Error("Unload(a) = false")
	}
	if h.m.Unload("a") {
		t.Error("second Unload(a) = true")
	}
	if h.m.Len() != 0 {
		t.Errorf("Len() = %d, want 0", h.m.Len())
	}
	if len(h.metrics.forgot) != 1 || h.metrics.forgot[0] != "a" {
		t.Errorf("forgot = %v, want [a]", h.metrics.forgot)
	}
}

func TestManagerSubscribe(t *testing.T) {
	h := newManagerHarness(t)

	var mu sync.Mutex
	seen := map[string]int{}
	unsubscribe := h.m.Subscribe(func(rt *Runtime, _ Snapshot) {
		mu.Lock()
		seen[rt.EntryID]++
		mu.Unlock()
	})
	defer unsubscribe()

	rt, err := h.m.Setup(context.Background(), storedEntry("a", "Attic", "dev-a", "10.0.0.1"))
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if err := rt.Coordinator.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if seen["a"] != 2 {
		t.Errorf("snapshots for a = %d, want 2", seen["a"])
	}
}

func TestManagerApplyAddressUpdate(t *testing.T) {
	h := newManagerHarness(t)
	rt, err := h.m.Setup(context.Background(), storedEntry("a", "Attic", "dev-a", "10.0.0.1"))
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	err = h.m.ApplyAddressUpdate(context.Background(), AddressUpdate{EntryID: "a", Host: "10.0.0.9", Port: DefaultPort})
	if err != nil {
		t.Fatalf("ApplyAddressUpdate() error = %v", err)
	}
	if got := rt.Transport.Session().BaseURL(); got != "http://10.0.0.9:49171" {
		t.Errorf("BaseURL = %q", got)
	}
	if got := rt.View().Host; got != "10.0.0.9" {
		t.Errorf("View().Host = %q", got)
	}

	err = h.m.ApplyAddressUpdate(context.Background(), AddressUpdate{EntryID: "zzz", Host: "h", Port: 1})
	if !errors.Is(err, ErrEntryNotLoaded) {
		t.Errorf("error = %v, want ErrEntryNotLoaded", err)
	}
}

func TestManagerApplyStoredAddress(t *testing.T) {
	h := newManagerHarness(t)
	stored := storedEntry("c", "Cellar", "dev-c", "10.0.0.3")

	if err := h.m.ApplyStoredAddress(context.Background(), stored, "10.0.0.30", DefaultPort); err != nil {
		t.Fatalf("ApplyStoredAddress() error = %v", err)
	}
	if h.m.Len() != 0 {
		t.Errorf("Len() = %d, want 0", h.m.Len())
	}

	h.store.mu.Lock()
	saved, ok := h.store.saved["c"]
	h.store.mu.Unlock()
	if !ok {
		t.Fatal("address was not saved through the store")
	}
	if saved.Host != "10.0.0.30" || saved.BaseURL != "http://10.0.0.30:49171" {
		t.Errorf("saved = %s / %s, want 10.0.0.30 / http://10.0.0.30:49171", saved.Host, saved.BaseURL)
	}

	h.mu.Lock()
	ft := h.transports[stored.Config.BaseURL]
	h.mu.Unlock()
	if got := ft.Session().BaseURL(); got != "http://10.0.0.30:49171" {
		t.Errorf("transport BaseURL = %q", got)
	}

	if err := h.m.ApplyStoredAddress(context.Background(), stored, "", DefaultPort); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("empty host error = %v, want ErrInvalidInput", err)
	}
}

func TestManagerApplyStoredAddressUsesLoadedRuntime(t *testing.T) {
	h := newManagerHarness(t)
	stored := storedEntry("a", "Attic", "dev-a", "10.0.0.1")
	rt, err := h.m.Setup(context.Background(), stored)
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	if err := h.m.ApplyStoredAddress(context.Background(), stored, "10.0.0.9", DefaultPort); err != nil {
		t.Fatalf("ApplyStoredAddress() error = %v", err)
	}
	if got := rt.View().Host; got != "10.0.0.9" {
		t.Errorf("View().Host = %q, want 10.0.0.9", got)
	}
}
