package sessions

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const agentTokenLength = 32

// GetOrCreateAgentToken reads the bearer token the host application presents
// on sign-in. If the file doesn't exist, a new token is generated and saved.
func GetOrCreateAgentToken(tokenPath string) (string, error) {
	data, err := os.ReadFile(tokenPath)
	if err == nil {
		token := strings.TrimSpace(string(data))
		raw, err := base64.RawURLEncoding.DecodeString(token)
		if err != nil {
			return "", fmt.Errorf("failed to decode agent token: %w", err)
		}
		if len(raw) < agentTokenLength {
			return "", fmt.Errorf("agent token in %s is too short", tokenPath)
		}
		return token, nil
	}

	if os.IsNotExist(err) {
		raw := make([]byte, agentTokenLength)
		if _, err := rand.Read(raw); err != nil {
			return "", fmt.Errorf("failed to generate agent token: %w", err)
		}

		if err := os.MkdirAll(filepath.Dir(tokenPath), 0o700); err != nil {
			return "", fmt.Errorf("failed to create agent token directory: %w", err)
		}

		token := base64.RawURLEncoding.EncodeToString(raw)
		if err := os.WriteFile(tokenPath, []byte(token), 0600); err != nil {
			return "", fmt.Errorf("failed to save agent token: %w", err)
		}
		return token, nil
	}

	return "", fmt.Errorf("failed to read agent token file: %w", err)
}
