// Package auth issues and verifies the bearer tokens that guard the bridge
// API.
//
// Tokens are HS256 JWTs signed with the configured secret. The bridge keeps
// no user database: an operator mints a token with the CLI for each client
// (a dashboard, a script, a home automation hub) and picks one of three
// roles:
//   - viewer: read device state and the event stream
//   - operator: viewer plus remote control and Wake-on-LAN
//   - admin: operator plus pairing and entry management
//
// Role permissions are a static table; nothing is looked up per request.
package auth
