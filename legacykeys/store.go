// Package legacykeys keeps the device-local private keys of legacy (random,
// salt-less) key pairs until they have been migrated to derived keys.
package legacykeys

import (
	"crypto/ecdh"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tortoisewolfe/securemsg/ccc/memzero"
)

// ErrKeyExists is returned by Save when the user already has a stored key
var ErrKeyExists = errors.New("legacy key already stored")

type Store interface {
	// Load returns the legacy private key of a user, or nil if none is stored
	Load(userID string) (*ecdh.PrivateKey, error)
	// Save stores the legacy private key of a user. It never replaces a
	// stored key and fails with ErrKeyExists instead.
	Save(userID string, key *ecdh.PrivateKey) error
	// Delete removes the legacy private key of a user; deleting a missing key is not an error
	Delete(userID string) error
}

// storedKey is the on-disk form of a legacy private key
type storedKey struct {
	UserID     string    `json:"user_id"`
	PrivateKey string    `json:"private_key"` // base64 P-256 scalar
	CreatedAt  time.Time `json:"created_at"`
}

// FileStore keeps one JSON file per user in a directory readable only by the owner
type FileStore struct {
	mu  sync.Mutex
	dir string
}

// NewFileStore creates the key directory if needed and returns a store on it
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create legacy key directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// path maps a user id onto a file name that cannot escape the directory
func (s *FileStore) path(userID string) string {
	return filepath.Join(s.dir, base64.RawURLEncoding.EncodeToString([]byte(userID))+".json")
}

func (s *FileStore) Load(userID string) (*ecdh.PrivateKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path(userID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read legacy key: %w", err)
	}
	defer memzero.Zero(b)

	var stored storedKey
	if err := json.Unmarshal(b, &stored); err != nil {
		return nil, fmt.Errorf("failed to parse legacy key file: %w", err)
	}
	if stored.UserID != userID {
		return nil, fmt.Errorf("legacy key file belongs to %q, not %q", stored.UserID, userID)
	}

	scalar, err := base64.StdEncoding.DecodeString(stored.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode legacy key: %w", err)
	}
	defer memzero.Zero(scalar)

	key, err := ecdh.P256().NewPrivateKey(scalar)
	if err != nil {
		return nil, fmt.Errorf("stored legacy key is not a P-256 key: %w", err)
	}
	return key, nil
}

func (s *FileStore) Save(userID string, key *ecdh.PrivateKey) error {
	if key == nil || key.Curve() != ecdh.P256() {
		return errors.New("legacy key must be a P-256 private key")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	scalar := key.Bytes()
	defer memzero.Zero(scalar)

	err := writeJSONExclusive(s.path(userID), storedKey{
		UserID:     userID,
		PrivateKey: base64.StdEncoding.EncodeToString(scalar),
		CreatedAt:  time.Now().UTC(),
	}, 0o600)
	if errors.Is(err, os.ErrExist) {
		return ErrKeyExists
	}
	return err
}

func (s *FileStore) Delete(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(userID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete legacy key: %w", err)
	}
	return nil
}

// writeJSONExclusive writes JSON via a temp file, then links it into place.
// The link fails with os.ErrExist if path exists, also across processes.
func writeJSONExclusive(path string, v any, mode os.FileMode) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	defer memzero.Zero(b)

	tmp, err := os.CreateTemp(filepath.Dir(path), ".legacy-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Link(tmp.Name(), path)
}
