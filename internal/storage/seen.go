package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// SeenKey identifies a video already written to a destination tab for a channel.
type SeenKey struct {
	VideoID   string
	ChannelID string
	Tab       string
}

// SeenDB persists seen-video keys in an SQLite database.
type SeenDB struct {
	conn      *sql.DB
	path      string
	recovered error
}

// OpenSeenDB opens or creates the SQLite database at path. A file that is not
// a readable database is quarantined and recreated; see Recovered.
func OpenSeenDB(path string) (*SeenDB, error) {
	db, err := openSeen(path)
	if err == nil {
		return db, nil
	}
	if !isCorruptDB(err) {
		return nil, err
	}

	if qerr := Quarantine(path); qerr != nil {
		return nil, qerr
	}
	db, err2 := openSeen(path)
	if err2 != nil {
		return nil, err2
	}
	db.recovered = &StorageError{Op: "open", Entity: "seen", ID: path, Err: fmt.Errorf("%w: %v", ErrStorageCorrupt, err)}
	return db, nil
}

func openSeen(path string) (*SeenDB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, &StorageError{Op: "open", Entity: "seen", ID: path, Err: err}
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &StorageError{Op: "open", Entity: "seen", ID: path, Err: err}
	}
	// Enable WAL mode for better concurrency.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		conn.Close()
		return nil, &StorageError{Op: "open", Entity: "seen", ID: path, Err: err}
	}
	db := &SeenDB{conn: conn, path: path}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, &StorageError{Op: "migrate", Entity: "seen", ID: path, Err: err}
	}
	return db, nil
}

func (db *SeenDB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS seen_videos (
		video_id TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		tab TEXT NOT NULL,
		seen_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (video_id, channel_id, tab)
	);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// Recovered returns the corruption error the database recovered from at
// open time, or nil.
func (db *SeenDB) Recovered() error {
	return db.recovered
}

// LoadAll returns every stored key.
func (db *SeenDB) LoadAll(ctx context.Context) ([]SeenKey, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT video_id, channel_id, tab FROM seen_videos")
	if err != nil {
		return nil, &StorageError{Op: "read", Entity: "seen", Err: err}
	}
	defer rows.Close()

	var keys []SeenKey
	for rows.Next() {
		var k SeenKey
		if err := rows.Scan(&k.VideoID, &k.ChannelID, &k.Tab); err != nil {
			return nil, &StorageError{Op: "read", Entity: "seen", Err: err}
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "read", Entity: "seen", Err: err}
	}
	return keys, nil
}

// Insert stores keys in a single transaction. Existing keys are ignored.
func (db *SeenDB) Insert(ctx context.Context, keys []SeenKey) error {
	if len(keys) == 0 {
		return nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return &StorageError{Op: "write", Entity: "seen", Err: err}
	}
	stmt, err := tx.PrepareContext(ctx,
		"INSERT OR IGNORE INTO seen_videos (video_id, channel_id, tab) VALUES (?, ?, ?)")
	if err != nil {
		tx.Rollback()
		return &StorageError{Op: "write", Entity: "seen", Err: err}
	}
	defer stmt.Close()

	for _, k := range keys {
		if _, err := stmt.ExecContext(ctx, k.VideoID, k.ChannelID, k.Tab); err != nil {
			tx.Rollback()
			return &StorageError{Op: "write", Entity: "seen", ID: k.VideoID, Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &StorageError{Op: "write", Entity: "seen", Err: err}
	}
	return nil
}

// Count returns the number of stored keys.
func (db *SeenDB) Count(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM seen_videos").Scan(&n); err != nil {
		return 0, &StorageError{Op: "read", Entity: "seen", Err: err}
	}
	return n, nil
}

// Close closes the database connection.
func (db *SeenDB) Close() error {
	return db.conn.Close()
}

func isCorruptDB(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not a database") ||
		strings.Contains(msg, "malformed") ||
		strings.Contains(msg, "file is encrypted")
}
