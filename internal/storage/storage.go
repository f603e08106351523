// Package storage provides persistent storage using SQLite: the wallet's
// UTXO ledger and the completer's fee reservations.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Storage provides persistent storage for the transaction engine.
type Storage struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Config holds storage configuration.
type Config struct {
	DataDir string
}

// New creates a new Storage instance.
func New(cfg *Config) (*Storage, error) {
	dataDir := expandPath(cfg.DataDir)

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "satori.db")

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Storage{
		db:     db,
		dbPath: dbPath,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *Storage) DB() *sql.DB {
	return s.db
}

// initSchema creates all database tables.
func (s *Storage) initSchema() error {
	schema := `
	-- Settings/config table
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT,
		updated_at INTEGER
	);

	-- UTXOs table (currency and asset outputs, one row per outpoint)
	CREATE TABLE IF NOT EXISTS utxos (
		txid TEXT NOT NULL,
		vout INTEGER NOT NULL,

		-- Amount in smallest units; asset quantity for tagged outputs
		amount INTEGER NOT NULL,

		-- Empty for native currency, asset name for tagged outputs
		asset TEXT NOT NULL DEFAULT '',

		-- Locking script, hex (resolved lazily)
		script_pubkey TEXT,

		-- Status: 'unconfirmed', 'confirmed', 'pending_spend', 'spent'
		status TEXT NOT NULL DEFAULT 'unconfirmed',

		confirmations INTEGER DEFAULT 0,
		block_height INTEGER,

		-- Spending info (if spent or pending)
		spent_txid TEXT,
		spent_at INTEGER,

		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,

		PRIMARY KEY (txid, vout)
	);

	CREATE INDEX IF NOT EXISTS idx_utxos_status ON utxos(status);
	CREATE INDEX IF NOT EXISTS idx_utxos_asset ON utxos(asset, status);

	-- Fee reservations (completer side of the fee-delegation handshake):
	-- each row pins one currency UTXO, by exact value, for one originator
	CREATE TABLE IF NOT EXISTS fee_reservations (
		id TEXT PRIMARY KEY,
		txid TEXT NOT NULL,
		vout INTEGER NOT NULL,
		amount INTEGER NOT NULL,
		change_address TEXT NOT NULL,

		-- Status: 'reserved', 'spent', 'released'
		status TEXT NOT NULL DEFAULT 'reserved',

		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_fee_reservations_status ON fee_reservations(status);
	CREATE INDEX IF NOT EXISTS idx_fee_reservations_outpoint ON fee_reservations(txid, vout);
	`

	_, err := s.db.Exec(schema)
	return err
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
