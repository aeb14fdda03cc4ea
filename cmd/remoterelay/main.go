// RemoteRelay Bridge
//
// This is the main entry point for the RemoteRelay bridge. The bridge pairs
// with RemoteRelay daemons running on Windows PCs, keeps each paired device's
// state fresh, and exposes remote control over a REST/WebSocket API and MQTT.
//
// Usage:
//
//	remoterelay serve                       # run the bridge
//	remoterelay pair --host 192.168.1.20 --code 123456
//	remoterelay entries                     # list paired devices
//	remoterelay send <entry> up up ok       # send remote commands
//	remoterelay wake <entry>                # Wake-on-LAN
//	remoterelay token --role operator       # mint an API token
package main

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

func main() {
	Execute(version)
}
