package mqtt

import "strings"

// DefaultTopicPrefix is used when the configured prefix is empty.
const DefaultTopicPrefix = "remoterelay"

// Topic leaf names.
const (
	leafState        = "state"
	leafAvailability = "availability"
	leafCommand      = "command"
)

// Reserved first-level segments that are never device ids.
const (
	segmentBridge = "bridge"
	segmentWOL    = "wol"
)

// Topics builds the bridge's topic hierarchy under a single prefix:
//
//	{prefix}/bridge/status           retained online/offline, LWT
//	{prefix}/{device_id}/state       retained device view (JSON)
//	{prefix}/{device_id}/availability  retained "online" / "offline"
//	{prefix}/{device_id}/command     inbound commands
//	{prefix}/wol/send                Wake-on-LAN requests for an external utility
type Topics struct {
	Prefix string
}

// NewTopics returns a builder for prefix, trimming slashes and falling back
// to DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: prefix}
}

func (t Topics) join(parts ...string) string {
	return t.Prefix + "/" + strings.Join(parts, "/")
}

// BridgeStatus is the bridge's own retained status topic.
func (t Topics) BridgeStatus() string {
	return t.join(segmentBridge, "status")
}

// DeviceState returns the retained view topic for a device.
func (t Topics) DeviceState(deviceID string) string {
	return t.join(deviceID, leafState)
}

// DeviceAvailability returns the retained availability topic for a device.
func (t Topics) DeviceAvailability(deviceID string) string {
	return t.join(deviceID, leafAvailability)
}

// DeviceCommand returns the inbound command topic for a device.
func (t Topics) DeviceCommand(deviceID string) string {
	return t.join(deviceID, leafCommand)
}

// AllDeviceCommands is the wildcard subscription covering every device.
func (t Topics) AllDeviceCommands() string {
	return t.join("+", leafCommand)
}

// WakeRequest is where Wake-on-LAN requests are handed to an external utility.
func (t Topics) WakeRequest() string {
	return t.join(segmentWOL, "send")
}

// DeviceIDFromCommandTopic extracts the device id from a command topic.
// It reports false for topics outside the prefix, other leaves, or the
// reserved bridge/wol segments.
func (t Topics) DeviceIDFromCommandTopic(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.Prefix+"/")
	if !ok {
		return "", false
	}
	deviceID, leaf, ok := strings.Cut(rest, "/")
	if !ok || leaf != leafCommand || deviceID == "" {
		return "", false
	}
	if deviceID == segmentBridge || deviceID == segmentWOL {
		return "", false
	}
	return deviceID, true
}
