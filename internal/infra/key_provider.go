package infra

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/eliteGoblin/focusd/power_mon/internal/domain"
)

const (
	keyFileName = ".key"
	keySize     = 32 // SQLCipher raw key
	keyFileMode = 0600
)

// ErrKeyPermissions is returned when the key file is readable by other users.
var ErrKeyPermissions = errors.New("state key is accessible by other users")

// FileKeyProvider keeps the state database key hex-encoded in a private file
// inside the data directory.
type FileKeyProvider struct {
	keyPath string
}

// NewFileKeyProvider returns a provider for dataDir/.key.
func NewFileKeyProvider(dataDir string) *FileKeyProvider {
	return &FileKeyProvider{keyPath: filepath.Join(dataDir, keyFileName)}
}

// GetKey loads the key, refusing files other users could read.
func (p *FileKeyProvider) GetKey() ([]byte, error) {
	info, err := os.Stat(p.keyPath)
	if err != nil {
		return nil, fmt.Errorf("state key %s: %w", p.keyPath, err)
	}
	if info.Mode().Perm()&0077 != 0 {
		return nil, fmt.Errorf("%w: %s has mode %v", ErrKeyPermissions, p.keyPath, info.Mode().Perm())
	}

	data, err := os.ReadFile(p.keyPath)
	if err != nil {
		return nil, fmt.Errorf("state key %s: %w", p.keyPath, err)
	}
	return decodeKey(data)
}

// StoreKey writes key atomically, creating the data directory as 0700.
func (p *FileKeyProvider) StoreKey(key []byte) error {
	if err := checkKeySize(key); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p.keyPath), 0700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	return writeFileAtomic(p.keyPath, []byte(hex.EncodeToString(key)+"\n"), keyFileMode)
}

// KeyExists reports whether a key file is present.
func (p *FileKeyProvider) KeyExists() bool {
	_, err := os.Stat(p.keyPath)
	return err == nil
}

// LoadOrCreate returns the stored key or generates and stores one. An
// unreadable or malformed key is an error: replacing it would orphan the
// existing database.
func (p *FileKeyProvider) LoadOrCreate() ([]byte, error) {
	key, err := p.GetKey()
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	if key, err = GenerateKey(); err != nil {
		return nil, err
	}
	if err := p.StoreKey(key); err != nil {
		return nil, err
	}
	return key, nil
}

// GenerateKey returns keySize random bytes.
func GenerateKey() ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate state key: %w", err)
	}
	return key, nil
}

func decodeKey(data []byte) ([]byte, error) {
	key, err := hex.DecodeString(string(bytes.TrimSpace(data)))
	if err != nil {
		return nil, fmt.Errorf("malformed state key: %w", err)
	}
	if err := checkKeySize(key); err != nil {
		return nil, err
	}
	return key, nil
}

func checkKeySize(key []byte) error {
	if len(key) != keySize {
		return fmt.Errorf("invalid key size: got %d bytes, want %d", len(key), keySize)
	}
	return nil
}

var _ domain.KeyProvider = (*FileKeyProvider)(nil)
