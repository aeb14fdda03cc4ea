package remoterelay

import (
	"strings"
	"time"
)

// MediaState is the media player state shown to clients.
type MediaState string

const (
	MediaOn  MediaState = "on"
	MediaOff MediaState = "off"
)

// Features is the fixed capability set of every device.
var Features = []string{
	"turn_on", "turn_off", "select_source",
	"next_track", "previous_track",
	"volume_step", "volume_mute", "play_pause",
}

// Button is one catalogue entry.
type Button struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Icon  string `json:"icon"`
}

// Buttons covers every navigate key and every direct command except
// select_source.
var Buttons = []Button{
	{Key: "up", Label: "Up", Icon: "mdi:arrow-up-bold"},
	{Key: "down", Label: "Down", Icon: "mdi:arrow-down-bold"},
	{Key: "left", Label: "Left", Icon: "mdi:arrow-left-bold"},
	{Key: "right", Label: "Right", Icon: "mdi:arrow-right-bold"},
	{Key: "ok", Label: "OK", Icon: "mdi:checkbox-blank-circle-outline"},
	{Key: "back", Label: "Back", Icon: "mdi:keyboard-backspace"},
	{Key: "home", Label: "Home", Icon: "mdi:home"},
	{Key: "info", Label: "Info", Icon: "mdi:information-outline"},
	{Key: CmdPlayPause, Label: "Play/Pause", Icon: "mdi:play-pause"},
	{Key: CmdNextTrack, Label: "Next Track", Icon: "mdi:skip-next"},
	{Key: CmdPreviousTrack, Label: "Previous Track", Icon: "mdi:skip-previous"},
	{Key: CmdVolumeUp, Label: "Volume Up", Icon: "mdi:volume-plus"},
	{Key: CmdVolumeDown, Label: "Volume Down", Icon: "mdi:volume-minus"},
	{Key: CmdMuteToggle, Label: "Mute", Icon: "mdi:volume-mute"},
	{Key: CmdPowerOff, Label: "Power Off", Icon: "mdi:power"},
}

// LookupButton finds a catalogue button by key.
func LookupButton(key string) (Button, bool) {
	for _, b := range Buttons {
		if b.Key == key {
			return b, true
		}
	}
	return Button{}, false
}

// DeviceInfo groups everything exposed for one device.
type DeviceInfo struct {
	Identifier   string `json:"identifier"`
	Name         string `json:"name"`
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
}

// RemoteView is the remote-style control.
type RemoteView struct {
	Name      string `json:"name"`
	IsOn      bool   `json:"is_on"`
	Available bool   `json:"available"`
}

// SelectView is the input source picker.
type SelectView struct {
	Name      string   `json:"name"`
	Icon      string   `json:"icon"`
	Options   []string `json:"options"`
	Current   string   `json:"current,omitempty"`
	Available bool     `json:"available"`
}

// ButtonView is a catalogue button with its availability.
type ButtonView struct {
	Button
	Available bool `json:"available"`
}

// View is the read-only projection of one device.
type View struct {
	EntryID  string `json:"entry_id"`
	DeviceID string `json:"device_id"`
	Name     string `json:"name"`

	State      MediaState `json:"state"`
	PowerState PowerState `json:"power_state"`
	Available  bool       `json:"available"`

	SourceList       []string `json:"source_list"`
	Source           string   `json:"source,omitempty"`
	SelectedSourceID string   `json:"selected_source_id,omitempty"`

	Remote   RemoteView   `json:"remote"`
	Select   SelectView   `json:"select"`
	Buttons  []ButtonView `json:"buttons"`
	Features []string     `json:"features"`
	Device   DeviceInfo   `json:"device"`

	LastUpdateSuccess bool       `json:"last_update_success"`
	LastSuccessAt     *time.Time `json:"last_success_at,omitempty"`
	LastError         string     `json:"last_error,omitempty"`
	IdentityConflict  string     `json:"identity_conflict,omitempty"`

	Host         string   `json:"host"`
	Port         int      `json:"port"`
	MACAddresses []string `json:"mac_addresses"`
	ProtoVersion string   `json:"proto_version"`
}

// BuildView projects config and snapshot into a View.
func BuildView(entryID string, cfg PersistedConfig, snap Snapshot) View {
	name := viewName(cfg, snap)
	sources := viewSources(cfg, snap)
	selected := viewSelection(cfg, snap)

	names := make([]string, len(sources))
	current := ""
	for i, src := range sources {
		names[i] = src.Name
		if selected != "" && current == "" && src.ID == selected {
			current = src.Name
		}
	}

	v := View{
		EntryID:          entryID,
		DeviceID:         cfg.DeviceID,
		Name:             name,
		State:            viewState(snap),
		PowerState:       PowerUnknown,
		Available:        true,
		SourceList:       names,
		Source:           current,
		SelectedSourceID: selected,
		Remote: RemoteView{
			Name:      name + " Remote",
			IsOn:      snap.LastUpdateSuccess,
			Available: true,
		},
		Select: SelectView{
			Name:      "Input Source",
			Icon:      "mdi:video-input-hdmi",
			Options:   names,
			Current:   current,
			Available: snap.LastUpdateSuccess,
		},
		Features: Features,
		Device: DeviceInfo{
			Identifier:   cfg.DeviceID,
			Name:         name,
			Manufacturer: Manufacturer,
			Model:        Model,
		},
		LastUpdateSuccess: snap.LastUpdateSuccess,
		LastError:         snap.LastError,
		IdentityConflict:  snap.IdentityConflict,
		Host:              cfg.Host,
		Port:              cfg.Port,
		MACAddresses:      cfg.MACAddresses,
		ProtoVersion:      cfg.ProtoVersion,
	}
	if snap.Profile != nil {
		v.PowerState = snap.Profile.PowerState
	}
	if !snap.LastSuccessAt.IsZero() {
		ts := snap.LastSuccessAt
		v.LastSuccessAt = &ts
	}

	v.Buttons = make([]ButtonView, len(Buttons))
	for i, b := range Buttons {
		v.Buttons[i] = ButtonView{Button: b, Available: snap.LastUpdateSuccess}
	}
	return v
}

// viewState is off after a failed poll, otherwise follows power state with
// unknown treated as on.
func viewState(snap Snapshot) MediaState {
	if !snap.LastUpdateSuccess {
		return MediaOff
	}
	if snap.Profile != nil && snap.Profile.PowerState == PowerOff {
		return MediaOff
	}
	return MediaOn
}

func viewName(cfg PersistedConfig, snap Snapshot) string {
	if snap.Profile != nil && snap.Profile.DisplayName != "" {
		return snap.Profile.DisplayName
	}
	return firstNonEmpty(strings.TrimSpace(cfg.DisplayName), DefaultName)
}

func viewSources(cfg PersistedConfig, snap Snapshot) []InputSource {
	if snap.Profile != nil && snap.Profile.HasSources {
		return snap.Profile.Sources
	}
	return cfg.InputSources
}

func viewSelection(cfg PersistedConfig, snap Snapshot) string {
	if snap.Profile != nil && snap.Profile.HasSelection {
		return snap.Profile.SelectedSourceID
	}
	return strings.TrimSpace(cfg.SelectedSourceID)
}
