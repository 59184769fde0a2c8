// Package storage implements the encrypted SQLite store for identities,
// groups and message history. Message content and group member lists are
// sealed (XOR keystream + base64) before they are written; plaintext never
// reaches the database file.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sechat/sechat-node/pkg/crypto"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrUserExists    = errors.New("username already exists")
	ErrGroupExists   = errors.New("group already exists")
	ErrWrongPin      = errors.New("incorrect group PIN")
	ErrCorruptRecord = errors.New("corrupt record")
)

// Store manages the encrypted chat database.
type Store struct {
	db  *sql.DB
	key []byte // At-rest cipher key derived from the configured passphrase

	// Serializes read-modify-write of group member lists so a concurrent
	// join and leave cannot lose an update.
	groupMu sync.Mutex
}

// Open opens (creating if needed) the chat database at dbPath. The
// passphrase is stretched into the at-rest cipher key.
func Open(dbPath string, passphrase string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %v", err)
	}

	s := &Store{
		db:  db,
		key: crypto.DeriveStoreKey(passphrase),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// initSchema creates database tables
func (s *Store) initSchema() error {
	schema := `
	-- Identities table
	CREATE TABLE IF NOT EXISTS users (
		username TEXT PRIMARY KEY,
		password_hash TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	-- Groups table (member list sealed)
	CREATE TABLE IF NOT EXISTS groups (
		name TEXT PRIMARY KEY,
		pin_hash TEXT NOT NULL,
		creator TEXT NOT NULL,
		members TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	-- Messages table (content sealed)
	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sender TEXT NOT NULL,
		target TEXT NOT NULL,
		content TEXT NOT NULL,
		msg_type TEXT NOT NULL,
		timestamp INTEGER NOT NULL
	);

	-- Indexes for history lookups
	CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender, target, timestamp);
	CREATE INDEX IF NOT EXISTS idx_messages_target ON messages(target, timestamp);
	`

	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %v", err)
	}

	return nil
}

// seal encrypts plaintext for storage in a text column.
func (s *Store) seal(plaintext string) (string, error) {
	return crypto.Seal([]byte(plaintext), s.key)
}

// open reverses seal; a record that fails to decode is a corrupt record.
func (s *Store) open(sealed string) (string, error) {
	plaintext, err := crypto.Open(sealed, s.key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return string(plaintext), nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}
