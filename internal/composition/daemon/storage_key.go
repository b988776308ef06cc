// Package daemon wires configuration, stores, domain services and
// transports into a runnable process.
package daemon

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	storageSecretEnv = "AIRC_STORAGE_SECRET"
	environmentEnv   = "AIRC_ENV"
)

var ErrInsecureStorageKeyMode = errors.New("auto-generated storage.key is forbidden in production")

// StorageSecret resolves the at-rest encryption secret: environment
// first, then dataDir/storage.key, generating and persisting a fresh
// one on first start. Production deployments must supply the secret via
// environment.
func StorageSecret(dataDir string) (string, error) {
	if secret := strings.TrimSpace(os.Getenv(storageSecretEnv)); secret != "" {
		return secret, nil
	}
	if dataDir == "" {
		return "", nil
	}
	keyPath := filepath.Join(dataDir, "storage.key")
	existing, err := os.ReadFile(keyPath)
	if err == nil {
		if secret := strings.TrimSpace(string(existing)); secret != "" {
			return secret, nil
		}
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	if isProductionEnv() {
		return "", fmt.Errorf("%w: set %s", ErrInsecureStorageKeyMode, storageSecretEnv)
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	secret := base64.RawStdEncoding.EncodeToString(buf)
	if err := writeStorageKey(dataDir, secret); err != nil {
		return "", err
	}
	return secret, nil
}

func writeStorageKey(dataDir, secret string) error {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dataDir, "storage.key"), []byte(secret+"\n"), 0o600)
}

func isProductionEnv() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(environmentEnv))) {
	case "prod", "production":
		return true
	default:
		return false
	}
}
