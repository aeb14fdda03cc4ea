// Package database provides SQLite connectivity for the RemoteRelay bridge.
//
// The database holds one row per configured RemoteRelay entry (the persisted
// pairing: host, port, access token, device id, MACs, sources). It is small
// and written rarely, so a single connection with WAL is plenty.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are embedded by the top-level migrations package and named
// YYYYMMDD_HHMMSS_description.up.sql / .down.sql. They are additive: new
// columns must be nullable or carry a default.
package database
