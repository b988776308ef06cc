package airc

import (
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"io"
	"strings"

	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/hkdf"
)

const (
	hkdfInfoSigning  = "airc/key/signing/v1"
	hkdfInfoRecovery = "airc/key/recovery/v1"
)

var ErrInvalidMnemonic = errors.New("invalid mnemonic")

// KeyMaterial holds the two client-side keypairs of a handle: the
// operational signing key used on every message, and the recovery key
// that alone can authorize rotation and revocation.
type KeyMaterial struct {
	SigningPrivateKey  ed25519.PrivateKey
	SigningPublicKey   ed25519.PublicKey
	RecoveryPrivateKey ed25519.PrivateKey
	RecoveryPublicKey  ed25519.PublicKey
}

// NewMnemonic generates a fresh 24-word BIP-39 mnemonic.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

// DeriveKeyMaterial derives both keypairs deterministically from a
// mnemonic, so the same phrase always recovers the same keys.
func DeriveKeyMaterial(mnemonic string) (*KeyMaterial, error) {
	mnemonic = strings.TrimSpace(mnemonic)
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	seed := bip39.NewSeed(mnemonic, "")

	signingSeed, err := hkdfExpand(seed, hkdfInfoSigning, ed25519.SeedSize)
	if err != nil {
		return nil, err
	}
	recoverySeed, err := hkdfExpand(seed, hkdfInfoRecovery, ed25519.SeedSize)
	if err != nil {
		return nil, err
	}

	signingPriv := ed25519.NewKeyFromSeed(signingSeed)
	recoveryPriv := ed25519.NewKeyFromSeed(recoverySeed)
	return &KeyMaterial{
		SigningPrivateKey:  signingPriv,
		SigningPublicKey:   signingPriv.Public().(ed25519.PublicKey),
		RecoveryPrivateKey: recoveryPriv,
		RecoveryPublicKey:  recoveryPriv.Public().(ed25519.PublicKey),
	}, nil
}

func hkdfExpand(seed []byte, info string, outLen int) ([]byte, error) {
	reader := hkdf.New(sha256.New, seed, nil, []byte(info))
	out := make([]byte, outLen)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, err
	}
	return out, nil
}
