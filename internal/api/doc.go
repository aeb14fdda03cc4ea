// Package api implements the bridge's HTTP REST API and WebSocket server.
//
// This package provides:
//   - Pairing flow endpoints that create entries
//   - Device views, Wake-on-LAN and remote commands per entry
//   - A WebSocket hub pushing device snapshots after every poll
//   - JWT bearer authentication with role permissions
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//   - Prometheus metrics on /api/v1/metrics
//
// # Lifecycle
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// # Security
//
// Every route except /health, /metrics and /ws requires an
// "Authorization: Bearer" JWT signed with security.jwt.secret. The token's
// role selects permissions (viewer, operator, admin). WebSocket clients pass
// a single-use ticket from POST /auth/ws-ticket, or the JWT itself, as a
// query parameter.
//
// Access tokens for paired daemons never appear in responses.
package api
