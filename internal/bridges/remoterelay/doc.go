// Package remoterelay bridges RemoteRelay PC daemons onto the local network
// services of this process.
//
// A RemoteRelay daemon runs on the controlled machine and exposes a small
// HTTP API under /ha/v1. This package covers everything between that API
// and the bridge's own surfaces (REST, WebSocket, MQTT):
//
//   - Client: the daemon HTTP client and its error taxonomy (APIError with
//     transport, HTTP and invalid-response kinds; PairingError).
//   - Flow / FlowRegistry: the pairing state machine. Discovery or manual
//     entry yields a candidate address, a pairing code is exchanged for a
//     token, and the result is deduplicated by device id.
//   - Coordinator: polls the device profile, keeps the latest Snapshot and
//     writes drifted identity fields (device id, name, MACs) back to the
//     entry store one field at a time.
//   - Dispatcher: normalizes command aliases, validates the whole burst
//     before sending, applies repeats and delays, and forces a refresh after
//     power_off and source changes.
//   - TurnOn / Waker: Wake-on-LAN, either as UDP magic packets or delegated
//     over MQTT. It works while the daemon is down.
//   - View: the read-only projection used by the API and MQTT.
//   - Manager: one Runtime per entry; MQTTRelay mirrors runtimes onto MQTT.
//
// # Sessions
//
// A Session (base URL plus token) is a value. Address changes build a new
// Session and swap it into the Client atomically, so a poll and a command
// in flight never see half of an update.
//
// # Concurrency
//
// Each Coordinator runs one polling goroutine. Refreshes are serialised per
// device, as are command bursts. Polls and commands may interleave at the
// HTTP level.
package remoterelay
