package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

const documentSchema = `
CREATE TABLE IF NOT EXISTS slots (
    key    TEXT PRIMARY KEY,
    value  TEXT NOT NULL
);
`

// Document is a SQLite-backed SlotStore standing in for the host document's
// storage slots. The database file gets owner-only permissions; writes go
// through WAL journaling so a crash mid-write cannot corrupt earlier slots.
type Document struct {
	db   *sql.DB
	path string
}

// OpenDocument opens or creates the document slot database.
func OpenDocument(path string) (*Document, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create document directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open document store: %w", err)
	}

	if _, err := db.Exec(documentSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply document schema: %w", err)
	}

	if err := os.Chmod(path, 0600); err != nil {
		db.Close()
		return nil, fmt.Errorf("set document permissions: %w", err)
	}

	return &Document{db: db, path: path}, nil
}

// Path returns the database file location.
func (d *Document) Path() string {
	return d.path
}

func (d *Document) Get(key string) (string, bool, error) {
	var value string
	err := d.db.QueryRow(`SELECT value FROM slots WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read slot %q: %w", key, err)
	}
	return value, true, nil
}

func (d *Document) Put(key, value string) error {
	_, err := d.db.Exec(`
		INSERT INTO slots (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("write slot %q: %w", key, err)
	}
	return nil
}

func (d *Document) Delete(key string) error {
	if _, err := d.db.Exec(`DELETE FROM slots WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete slot %q: %w", key, err)
	}
	return nil
}

// Close closes the underlying database.
func (d *Document) Close() error {
	return d.db.Close()
}
