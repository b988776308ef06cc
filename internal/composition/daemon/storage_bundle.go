package daemon

import (
	"path/filepath"

	"airc-chat/go-backend/internal/storage"
)

// StorageBundle groups the backing stores of one daemon instance. The
// registry, audit log and outbox survive restarts; nonces, rate
// counters and quarantine records are rebuilt from the registry or age
// out on their own.
type StorageBundle struct {
	Registry   *storage.RegistryStore
	Nonces     *storage.NonceStore
	Rates      *storage.RateLimitStore
	Audit      *storage.AuditStore
	Quarantine *storage.QuarantineStore
	Outbox     *storage.OutboxStore
}

// BuildStorageBundle opens the persistent stores under dataDir when it
// is set, and falls back to purely in-memory stores otherwise.
func BuildStorageBundle(dataDir, secret string) (StorageBundle, error) {
	b := StorageBundle{
		Nonces:     storage.NewNonceStore(),
		Rates:      storage.NewRateLimitStore(),
		Quarantine: storage.NewQuarantineStore(),
	}

	if dataDir == "" {
		b.Registry = storage.NewRegistryStore()
		b.Audit = storage.NewAuditStore()
		b.Outbox = storage.NewOutboxStore()
		return b, nil
	}

	registry, err := storage.NewPersistentRegistryStore(filepath.Join(dataDir, "registry.enc"), secret)
	if err != nil {
		return StorageBundle{}, err
	}
	audit, err := storage.NewPersistentAuditStore(filepath.Join(dataDir, "audit.enc"), secret)
	if err != nil {
		return StorageBundle{}, err
	}
	outbox, err := storage.NewPersistentOutboxStore(filepath.Join(dataDir, "outbox.enc"), secret)
	if err != nil {
		return StorageBundle{}, err
	}

	b.Registry = registry
	b.Audit = audit
	b.Outbox = outbox
	return b, nil
}
