package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func tokenFilePath() string {
	return filepath.Join(filepath.Dir(configFilePath()), "token")
}

// readTokenFile reads the API token from the token file next to config.json.
func readTokenFile() (string, error) {
	data, err := os.ReadFile(tokenFilePath())
	if err != nil {
		return "", err
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("token file is empty")
	}
	return token, nil
}

// WriteTokenFile stores the API token with owner-only permissions. Used by
// the config command so tokens never land in the world-readable config file.
func WriteTokenFile(token string) error {
	path := tokenFilePath()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	return os.WriteFile(path, []byte(strings.TrimSpace(token)+"\n"), 0o600)
}
