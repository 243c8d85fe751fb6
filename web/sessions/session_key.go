package sessions

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const sessionKeyLength = 64 // 64 bytes for a strong key

// GetOrCreateSessionKey reads the cookie signing key from keyPath.
// If the file doesn't exist, it generates a new key, saves it, and returns it.
func GetOrCreateSessionKey(keyPath string) ([]byte, error) {
	// Try to read the key from the file
	key, err := os.ReadFile(keyPath)
	if err == nil {
		decodedKey, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(key)))
		if err != nil {
			return nil, fmt.Errorf("failed to decode existing session key: %w", err)
		}
		if len(decodedKey) < 32 {
			return nil, fmt.Errorf("session key in %s is too short", keyPath)
		}
		return decodedKey, nil
	}

	// If the file does not exist, create a new key
	if os.IsNotExist(err) {
		newKey := make([]byte, sessionKeyLength)
		if _, err := rand.Read(newKey); err != nil {
			return nil, fmt.Errorf("failed to generate new session key: %w", err)
		}

		if err := os.MkdirAll(filepath.Dir(keyPath), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create session key directory: %w", err)
		}

		encodedKey := base64.StdEncoding.EncodeToString(newKey)
		if err := os.WriteFile(keyPath, []byte(encodedKey), 0600); err != nil {
			return nil, fmt.Errorf("failed to save new session key: %w", err)
		}

		return newKey, nil
	}

	return nil, fmt.Errorf("failed to read session key file: %w", err)
}
