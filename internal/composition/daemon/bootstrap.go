package daemon

import "strings"

const DefaultDataDir = "data"

// ResolveStorage picks the data directory, resolves the at-rest secret
// and opens the store bundle. An empty dataDir after trimming means the
// default directory; callers that want purely in-memory stores pass the
// bundle builder an empty dir themselves.
func ResolveStorage(dataDir string) (resolvedDir, secret string, bundle StorageBundle, err error) {
	resolvedDir = strings.TrimSpace(dataDir)
	if resolvedDir == "" {
		resolvedDir = DefaultDataDir
	}

	secret, err = StorageSecret(resolvedDir)
	if err != nil {
		return "", "", StorageBundle{}, err
	}

	bundle, err = BuildStorageBundle(resolvedDir, secret)
	if err != nil {
		return "", "", StorageBundle{}, err
	}
	return resolvedDir, secret, bundle, nil
}
