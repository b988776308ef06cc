package securestore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// IsStorageConfigured reports whether encrypted persistence is
// configured. Stores with no path or secret stay in-memory.
func IsStorageConfigured(path, secret string) bool {
	return strings.TrimSpace(path) != "" && strings.TrimSpace(secret) != ""
}

// ReadDecryptedFile reads and decrypts one snapshot file.
func ReadDecryptedFile(path, secret string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decrypt(secret, raw)
}

// WriteEncryptedJSON marshals, encrypts and writes a snapshot. The write
// goes through a temp file and rename so a crash mid-write never leaves
// a truncated snapshot behind.
func WriteEncryptedJSON(path, secret string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	encrypted, err := Encrypt(secret, payload)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, encrypted, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
