package remoterelay

import (
	"net"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Defaults shared by pairing, polling and the device view.
const (
	DefaultPort            = 49171
	DefaultName            = "RemoteRelay"
	DefaultProtoVersion    = "1"
	DefaultIntegrationName = "homeassistant"
	DefaultPollInterval    = 15 * time.Second

	// RequestTimeout bounds every daemon call.
	RequestTimeout = 5 * time.Second

	// PairingScope is the only scope requested during pairing.
	PairingScope = "ha.control"

	Manufacturer = "RemoteRelay"
	Model        = "RemoteRelay PC Bridge"
)

// Session is the daemon address plus optional access token. It is a value:
// replacing the token or address means building a new Session.
type Session struct {
	baseURL     string
	accessToken string
}

// NewSession builds a Session, stripping trailing slashes from baseURL.
func NewSession(baseURL, accessToken string) Session {
	return Session{
		baseURL:     strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		accessToken: accessToken,
	}
}

// BaseURL returns the scheme+host+port without a trailing slash.
func (s Session) BaseURL() string { return s.baseURL }

// AccessToken returns the bearer token, or "" before pairing.
func (s Session) AccessToken() string { return s.accessToken }

// WithToken returns a copy of s carrying token.
func (s Session) WithToken(token string) Session {
	return Session{baseURL: s.baseURL, accessToken: token}
}

// BaseURLFor builds the daemon base URL for host and port.
func BaseURLFor(host string, port int) string {
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// PowerState is the daemon-reported power state.
type PowerState string

const (
	PowerOn      PowerState = "on"
	PowerOff     PowerState = "off"
	PowerUnknown PowerState = "unknown"
)

// ParsePowerState maps anything other than "on" or "off" to PowerUnknown.
func ParsePowerState(s string) PowerState {
	switch PowerState(s) {
	case PowerOn, PowerOff:
		return PowerState(s)
	default:
		return PowerUnknown
	}
}

// DeviceIdentity identifies the controlled machine.
type DeviceIdentity struct {
	DeviceID     string   `json:"device_id"`
	DisplayName  string   `json:"display_name"`
	MACAddresses []string `json:"mac_addresses"`
	ProtoVersion string   `json:"proto_version"`
}

// InputSource is one selectable input on the device.
type InputSource struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// DeviceProfile is one decoded GET /ha/v1/device response. A new value is
// built on every successful poll.
type DeviceProfile struct {
	DeviceIdentity
	PowerState       PowerState    `json:"power_state"`
	SelectedSourceID string        `json:"selected_source_id"`
	Sources          []InputSource `json:"input_sources"`

	// HasSources is false when the daemon sent no inputSources list; the
	// persisted list is used instead.
	HasSources bool `json:"-"`
	// HasSelection is false when selectedSourceId was absent or null.
	HasSelection bool `json:"-"`
}

// PersistedConfig is the durable record of one paired device.
type PersistedConfig struct {
	BaseURL     string `json:"api_base_url"`
	AccessToken string `json:"access_token,omitempty"`
	DeviceIdentity
	InputSources     []InputSource `json:"input_sources"`
	SelectedSourceID string        `json:"selected_source_id"`
	Host             string        `json:"host"`
	Port             int           `json:"port"`

	// BroadcastAddress overrides the Wake-on-LAN broadcast target.
	BroadcastAddress string `json:"broadcast_address,omitempty"`
}

// Session returns the daemon session this config describes.
func (c PersistedConfig) Session() Session {
	return NewSession(c.BaseURL, c.AccessToken)
}

// Clone returns a deep copy.
func (c PersistedConfig) Clone() PersistedConfig {
	out := c
	out.MACAddresses = slices.Clone(c.MACAddresses)
	out.InputSources = slices.Clone(c.InputSources)
	return out
}

// Redacted returns a copy with the access token removed, for API output.
func (c PersistedConfig) Redacted() PersistedConfig {
	out := c.Clone()
	out.AccessToken = ""
	return out
}

// CommandKind separates navigate keys from direct commands.
type CommandKind int

const (
	CommandNavigate CommandKind = iota
	CommandDirect
)

// Command is one validated daemon command.
type Command struct {
	Kind CommandKind
	// Name is the navigate key or direct command name.
	Name string
	// SourceID is set only for select_source.
	SourceID string
}

// Payload returns the JSON body for POST /ha/v1/commands.
func (c Command) Payload() map[string]any {
	if c.Kind == CommandNavigate {
		return map[string]any{"command": "navigate", "key": c.Name}
	}
	if c.Name == CmdSelectSource {
		return map[string]any{"command": CmdSelectSource, "sourceId": c.SourceID}
	}
	return map[string]any{"command": c.Name}
}
