package infra

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Ensure sqlcipher driver is registered.
	_ "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/eliteGoblin/focusd/power_mon/internal/domain"
)

const stateDBName = "state.db"

// EncryptedStateStore implements domain.StateStore using a SQLCipher
// encrypted SQLite database, so the pause deadline cannot be edited by hand.
type EncryptedStateStore struct {
	db     *sql.DB
	dbPath string
}

// NewEncryptedStateStore opens (or creates) the encrypted state database in dataDir.
// The key is used as the SQLCipher passphrase via PRAGMA key.
func NewEncryptedStateStore(dataDir string, key []byte) (*EncryptedStateStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, stateDBName)
	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, hex.EncodeToString(key))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}

	// A wrong key only surfaces on first access
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database: %w", err)
	}

	s := &EncryptedStateStore{db: db, dbPath: dbPath}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// createTables creates the single-row pause table if it doesn't exist.
func (s *EncryptedStateStore) createTables() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS pause_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		paused_until INTEGER,
		updated_at INTEGER NOT NULL
	);`)
	return err
}

// Path returns the database file path.
func (s *EncryptedStateStore) Path() string {
	return s.dbPath
}

// Load returns the stored pause state; no row means active.
func (s *EncryptedStateStore) Load() (domain.PauseState, error) {
	var until sql.NullInt64
	err := s.db.QueryRow(`SELECT paused_until FROM pause_state WHERE id = 1`).Scan(&until)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PauseState{}, nil
	}
	if err != nil {
		return domain.PauseState{}, fmt.Errorf("failed to read pause state: %w", err)
	}
	if !until.Valid {
		return domain.PauseState{}, nil
	}
	v := until.Int64
	return domain.PauseState{PausedUntil: &v}, nil
}

// Save replaces the stored pause state.
func (s *EncryptedStateStore) Save(state domain.PauseState) error {
	var until sql.NullInt64
	if state.PausedUntil != nil {
		until = sql.NullInt64{Int64: *state.PausedUntil, Valid: true}
	}
	_, err := s.db.Exec(`INSERT OR REPLACE INTO pause_state (id, paused_until, updated_at) VALUES (1, ?, ?)`,
		until, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to write pause state: %w", err)
	}
	return nil
}

// Close releases the database connection.
func (s *EncryptedStateStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// OpenEncryptedStateStore loads or creates the key in dataDir and opens the store.
func OpenEncryptedStateStore(dataDir string) (*EncryptedStateStore, error) {
	key, err := NewFileKeyProvider(dataDir).LoadOrCreate()
	if err != nil {
		return nil, err
	}
	return NewEncryptedStateStore(dataDir, key)
}

// Ensure EncryptedStateStore implements domain.StateStore.
var _ domain.StateStore = (*EncryptedStateStore)(nil)
