package remoterelay

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Direct command names.
const (
	CmdPlayPause     = "play_pause"
	CmdNextTrack     = "next_track"
	CmdPreviousTrack = "previous_track"
	CmdVolumeUp      = "volume_up"
	CmdVolumeDown    = "volume_down"
	CmdMuteToggle    = "mute_toggle"
	CmdPowerOff      = "power_off"
	CmdSelectSource  = "select_source"
)

// NavigateKeys is the fixed navigate vocabulary, in display order.
var NavigateKeys = []string{"up", "down", "left", "right", "ok", "back", "home", "info"}

// DirectCommands lists the direct commands, in display order.
var DirectCommands = []string{
	CmdPlayPause, CmdNextTrack, CmdPreviousTrack,
	CmdVolumeUp, CmdVolumeDown, CmdMuteToggle,
	CmdPowerOff, CmdSelectSource,
}

var (
	navigateKeySet   = toSet(NavigateKeys)
	directCommandSet = toSet(DirectCommands)
)

var commandAliases = map[string]string{
	"enter":      "ok",
	"select":     "ok",
	"return":     "back",
	"playpause":  CmdPlayPause,
	"play-pause": CmdPlayPause,
	"next":       CmdNextTrack,
	"previous":   CmdPreviousTrack,
	"prev":       CmdPreviousTrack,
	"vol_up":     CmdVolumeUp,
	"vol_down":   CmdVolumeDown,
	"mute":       CmdMuteToggle,
	"off":        CmdPowerOff,
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}

// IsNavigateKey reports whether key is in the navigate vocabulary.
func IsNavigateKey(key string) bool {
	_, ok := navigateKeySet[key]
	return ok
}

// IsDirectCommand reports whether name is a direct command.
func IsDirectCommand(name string) bool {
	_, ok := directCommandSet[name]
	return ok
}

// NormalizeCommandName trims and lowercases s and resolves aliases.
// Unknown names come back normalized but otherwise unchanged.
func NormalizeCommandName(s string) string {
	normalized := strings.ToLower(strings.TrimSpace(s))
	if alias, ok := commandAliases[normalized]; ok {
		return alias
	}
	return normalized
}

// ParseCommand normalizes and classifies a remote command string.
// select_source needs a source id and cannot be expressed this way.
func ParseCommand(s string) (Command, error) {
	name := NormalizeCommandName(s)
	switch {
	case IsNavigateKey(name):
		return Command{Kind: CommandNavigate, Name: name}, nil
	case name == CmdSelectSource:
		return Command{}, fmt.Errorf("%w: %s requires a source, use select source", ErrUnsupportedCommand, name)
	case IsDirectCommand(name):
		return Command{Kind: CommandDirect, Name: name}, nil
	default:
		return Command{}, fmt.Errorf("%w: %q", ErrUnsupportedCommand, s)
	}
}

// ParseCommands validates a whole list before anything is sent.
func ParseCommands(items []string) ([]Command, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no commands given", ErrInvalidInput)
	}
	commands := make([]Command, 0, len(items))
	for _, item := range items {
		cmd, err := ParseCommand(item)
		if err != nil {
			return nil, err
		}
		commands = append(commands, cmd)
	}
	return commands, nil
}

// NormalizeSources cleans a decoded inputSources value: non-objects and
// blank ids are dropped, ids are deduplicated case-insensitively keeping the
// first, a blank name becomes "Unknown".
func NormalizeSources(raw any) []InputSource {
	items, ok := raw.([]any)
	if !ok {
		return []InputSource{}
	}

	out := make([]InputSource, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id := strings.TrimSpace(stringify(obj["id"]))
		if id == "" {
			continue
		}
		key := strings.ToLower(id)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		name := strings.TrimSpace(stringify(obj["name"]))
		if name == "" {
			name = "Unknown"
		}
		out = append(out, InputSource{
			ID:   id,
			Name: name,
			Type: strings.TrimSpace(stringify(obj["type"])),
		})
	}
	return out
}

// NormalizeMACs accepts bare strings or {"value": ...} objects, trims them,
// and deduplicates case-insensitively keeping the first spelling seen.
func NormalizeMACs(raw any) []string {
	items, ok := raw.([]any)
	if !ok {
		return []string{}
	}

	out := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		var candidate string
		if obj, isObj := item.(map[string]any); isObj {
			candidate = stringify(obj["value"])
		} else {
			candidate = stringify(item)
		}
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		key := strings.ToUpper(candidate)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, candidate)
	}
	return out
}

// ParseProfile decodes a device object as returned by GET /ha/v1/device or
// inside the pairing response.
func ParseProfile(data map[string]any) DeviceProfile {
	profile := DeviceProfile{
		DeviceIdentity: DeviceIdentity{
			DeviceID:     strings.TrimSpace(stringify(data["deviceId"])),
			DisplayName:  strings.TrimSpace(stringify(data["displayName"])),
			MACAddresses: NormalizeMACs(data["macAddresses"]),
			ProtoVersion: strings.TrimSpace(stringify(data["protoVersion"])),
		},
		PowerState: ParsePowerState(strings.TrimSpace(stringify(data["powerState"]))),
		Sources:    NormalizeSources(data["inputSources"]),
	}
	if _, ok := data["inputSources"].([]any); ok {
		profile.HasSources = true
	}
	if selected, ok := data["selectedSourceId"]; ok && selected != nil {
		profile.HasSelection = true
		profile.SelectedSourceID = strings.TrimSpace(stringify(selected))
	}
	return profile
}

// TXTValue reads a discovery TXT key. Values may be strings or raw bytes;
// bytes are decoded leniently, dropping invalid UTF-8.
func TXTValue(txt map[string]any, key string) (string, bool) {
	value, ok := txt[key]
	if !ok || value == nil {
		return "", false
	}
	switch v := value.(type) {
	case []byte:
		return strings.ToValidUTF8(string(v), ""), true
	case string:
		return v, true
	default:
		return stringify(v), true
	}
}

// stringify renders loosely typed JSON values as text; nil becomes "".
func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	case []byte:
		return strings.ToValidUTF8(string(val), "")
	default:
		return fmt.Sprint(val)
	}
}

// CommandList decodes either a single string or a list of strings.
type CommandList []string

// UnmarshalJSON implements json.Unmarshaler.
func (l *CommandList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*l = CommandList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("%w: commands must be a string or list of strings", ErrInvalidInput)
	}
	*l = many
	return nil
}
