// Package logging provides structured logging for the RemoteRelay bridge.
//
// It wraps log/slog so every record carries the same default fields
// (service, version) regardless of which component emits it.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, file
//	  file:
//	    path: "/var/log/remoterelay.log"
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	coordLog := logger.Component("coordinator").With("entry_id", id)
//	coordLog.Warn("daemon unreachable", "error", err)
//
// Never log access tokens or pairing codes.
package logging
