package infra

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlcipher "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/guardline/agent/internal/domain"
)

// Ensure sqlcipher driver is registered.
var _ = sqlcipher.IsEncrypted

const secretsDBName = "credentials.db"

// Secret store keys.
const (
	SecretDeviceID    = "device_id"
	SecretDeviceToken = "device_token"
	SecretParentPIN   = "parent_pin"
)

// SecretStoreImpl implements domain.SecretStore using a SQLCipher encrypted
// SQLite database. Device credentials and the parent PIN live here so a
// non-administrator user cannot read or swap them.
type SecretStoreImpl struct {
	db     *sql.DB
	dbPath string
}

// NewSecretStore opens (or creates) the encrypted credential database.
// The key is used as the SQLCipher passphrase via PRAGMA key.
func NewSecretStore(dataDir string, key []byte) (*SecretStoreImpl, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, secretsDBName)
	keyHex := hex.EncodeToString(key)

	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, keyHex)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}

	// Verify encryption works by running a query.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database: %w", err)
	}

	store := &SecretStoreImpl{db: db, dbPath: dbPath}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return store, nil
}

func (s *SecretStoreImpl) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS secrets (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// GetSecret retrieves a secret by key.
func (s *SecretStoreImpl) GetSecret(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM secrets WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("secret %q not found", key)
	}
	return value, err
}

// SetSecret stores a secret.
func (s *SecretStoreImpl) SetSecret(key, value string) error {
	now := time.Now().Unix()
	_, err := s.db.Exec(`INSERT OR REPLACE INTO secrets (key, value, updated_at) VALUES (?, ?, ?)`,
		key, value, now)
	return err
}

// Close releases the database connection.
func (s *SecretStoreImpl) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ensure SecretStoreImpl implements domain.SecretStore.
var _ domain.SecretStore = (*SecretStoreImpl)(nil)
