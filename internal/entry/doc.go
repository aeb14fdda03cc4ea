// Package entry persists configured RemoteRelay devices.
//
// An Entry is one paired daemon: a generated id, the user-facing title and
// the PersistedConfig produced by pairing and kept current by the polling
// coordinator. Entries are unique by device id.
//
// SQLiteRepository also implements the small interfaces the bridge needs
// (remoterelay.EntryLookup, remoterelay.ConfigStore, remoterelay.CommandLog)
// so one value can be handed to pairing, polling and dispatch.
//
// Usage:
//
//	repo := entry.NewSQLiteRepository(db.DB)
//	e := &entry.Entry{Title: "Office PC", Config: cfg}
//	if err := repo.Create(ctx, e); errors.Is(err, entry.ErrEntryExists) {
//	    // already paired
//	}
package entry
