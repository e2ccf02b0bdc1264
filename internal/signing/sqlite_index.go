package signing

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteIndex persists signed artifact locations so a restarted process
// reuses earlier signatures.
type SQLiteIndex struct {
	db         *sql.DB
	mu         sync.Mutex
	stmtLookup *sql.Stmt
	stmtRecord *sql.Stmt
}

// OpenSQLiteIndex opens or creates the index database at dbPath.
func OpenSQLiteIndex(dbPath string) (*SQLiteIndex, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS signed_artifacts (
		unsigned_path TEXT NOT NULL,
		alias TEXT NOT NULL,
		signed_path TEXT NOT NULL,
		unsigned_digest TEXT NOT NULL DEFAULT '',
		signed_at INTEGER NOT NULL,
		PRIMARY KEY (unsigned_path, alias)
	) WITHOUT ROWID;
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	// Indexes created before digests were recorded gain the column; their
	// rows carry no digest and are re-signed on first use.
	if _, err := db.Exec(`SELECT unsigned_digest FROM signed_artifacts LIMIT 0`); err != nil {
		if _, err := db.Exec(`ALTER TABLE signed_artifacts ADD COLUMN unsigned_digest TEXT NOT NULL DEFAULT ''`); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate schema: %w", err)
		}
	}

	idx := &SQLiteIndex{db: db}
	idx.stmtLookup, err = db.Prepare(`SELECT signed_path, unsigned_digest FROM signed_artifacts WHERE unsigned_path = ? AND alias = ?`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("prepare lookup: %w", err)
	}
	idx.stmtRecord, err = db.Prepare(`
		INSERT OR REPLACE INTO signed_artifacts (unsigned_path, alias, signed_path, unsigned_digest, signed_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		_ = idx.stmtLookup.Close()
		_ = db.Close()
		return nil, fmt.Errorf("prepare record: %w", err)
	}
	return idx, nil
}

// Lookup implements Index.
func (x *SQLiteIndex) Lookup(key Key) (Entry, bool, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	var e Entry
	err := x.stmtLookup.QueryRow(key.File, key.Alias).Scan(&e.Signed, &e.Digest)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("lookup %s: %w", key.File, err)
	}
	return e, true, nil
}

// Record implements Index.
func (x *SQLiteIndex) Record(key Key, e Entry) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if _, err := x.stmtRecord.Exec(key.File, key.Alias, e.Signed, e.Digest, time.Now().Unix()); err != nil {
		return fmt.Errorf("record %s: %w", key.File, err)
	}
	return nil
}

// Close releases the database.
func (x *SQLiteIndex) Close() error {
	_ = x.stmtLookup.Close()
	_ = x.stmtRecord.Close()
	return x.db.Close()
}
