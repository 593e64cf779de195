package dedup

import (
	"ytsheets/internal/storage"
)

// OpenSQLite opens the SQLite seen store at path. A corrupt database is
// quarantined and recreated; the returned store's Recovered method reports it.
func OpenSQLite(path string) (*storage.SeenDB, error) {
	return storage.OpenSeenDB(path)
}

var _ Backend = (*storage.SeenDB)(nil)
