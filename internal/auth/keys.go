// Package auth issues and verifies access tokens and hashes passwords.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// KeyFile is the name of the token key file in the data directory.
const KeyFile = "auth.key"

// LoadOrGenerateKey returns the hex encoded PASETO v4 key kept in
// dataDir/auth.key, creating it on first start. Rotating the file signs
// every user out.
func LoadOrGenerateKey(dataDir string) (string, error) {
	path := filepath.Join(dataDir, KeyFile)

	//#nosec G304 -- Key path is derived from the configured data directory
	if data, err := os.ReadFile(path); err == nil {
		keyHex := strings.TrimSpace(string(data))
		if len(keyHex) != keyHexSize {
			return "", fmt.Errorf("invalid auth key length: expected %d hex chars, got %d", keyHexSize, len(keyHex))
		}
		if _, err := hex.DecodeString(keyHex); err != nil {
			return "", fmt.Errorf("invalid auth key format: %w", err)
		}
		return keyHex, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("read auth key: %w", err)
	}

	key := make([]byte, keyBytesSize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("failed to generate auth key: %w", err)
	}
	keyHex := hex.EncodeToString(key)

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(keyHex), 0o600); err != nil {
		return "", fmt.Errorf("failed to save auth key: %w", err)
	}
	return keyHex, nil
}
