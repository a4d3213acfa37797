package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// TokenFile is the name of the installation token file in the data directory.
const TokenFile = "catalog.token"

// LoadOrCreateToken returns the installation token sent as the catalog
// Authorization header. It is generated once and kept in dataDir so every
// restart presents the same identity to the catalog service.
func LoadOrCreateToken(dataDir string) (string, error) {
	path := filepath.Join(dataDir, TokenFile)

	//#nosec G304 -- Token path is derived from the configured data directory
	if data, err := os.ReadFile(path); err == nil {
		if token := strings.TrimSpace(string(data)); token != "" {
			return token, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("read catalog token: %w", err)
	}

	token := uuid.NewString()

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(token), 0o600); err != nil {
		return "", fmt.Errorf("failed to save catalog token: %w", err)
	}
	return token, nil
}
