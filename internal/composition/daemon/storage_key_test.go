package daemon

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStorageSecretPrefersEnvironment(t *testing.T) {
	t.Setenv(storageSecretEnv, "env-secret")
	t.Setenv(environmentEnv, "")

	dataDir := t.TempDir()
	if err := writeStorageKey(dataDir, "file-secret"); err != nil {
		t.Fatalf("write storage key failed: %v", err)
	}

	secret, err := StorageSecret(dataDir)
	if err != nil {
		t.Fatalf("resolve secret failed: %v", err)
	}
	if secret != "env-secret" {
		t.Fatalf("expected env secret, got: %s", secret)
	}
}

func TestStorageSecretReadsExistingKeyFile(t *testing.T) {
	t.Setenv(storageSecretEnv, "")
	t.Setenv(environmentEnv, "")

	dataDir := t.TempDir()
	if err := writeStorageKey(dataDir, "persisted-secret"); err != nil {
		t.Fatalf("write storage key failed: %v", err)
	}

	secret, err := StorageSecret(dataDir)
	if err != nil {
		t.Fatalf("resolve secret failed: %v", err)
	}
	if secret != "persisted-secret" {
		t.Fatalf("expected persisted secret, got: %s", secret)
	}
}

func TestStorageSecretGeneratesAndPersistsOnFirstRun(t *testing.T) {
	t.Setenv(storageSecretEnv, "")
	t.Setenv(environmentEnv, "")

	dataDir := t.TempDir()
	secret, err := StorageSecret(dataDir)
	if err != nil {
		t.Fatalf("resolve secret failed: %v", err)
	}
	if secret == "" {
		t.Fatal("expected a generated secret")
	}

	keyBytes, err := os.ReadFile(filepath.Join(dataDir, "storage.key"))
	if err != nil {
		t.Fatalf("read storage key failed: %v", err)
	}
	if strings.TrimSpace(string(keyBytes)) != secret {
		t.Fatal("generated secret must be persisted to storage.key")
	}

	again, err := StorageSecret(dataDir)
	if err != nil {
		t.Fatalf("second resolve failed: %v", err)
	}
	if again != secret {
		t.Fatal("secret must be stable across resolutions")
	}
}

func TestStorageSecretRefusesAutoGenerationInProduction(t *testing.T) {
	t.Setenv(storageSecretEnv, "")
	t.Setenv(environmentEnv, "production")

	_, err := StorageSecret(t.TempDir())
	if !errors.Is(err, ErrInsecureStorageKeyMode) {
		t.Fatalf("expected ErrInsecureStorageKeyMode, got: %v", err)
	}
}
