// Package securestore encrypts state snapshots at rest. The registry,
// audit, and outbox stores write through it so key-registry data never
// touches disk in the clear.
package securestore

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	envelopeVersion = 1
	kdfName         = "argon2id"
	saltSize        = 16
)

// filePrefix identifies encrypted snapshot files at a glance and stops
// a plaintext file from being fed to the decryptor.
var filePrefix = []byte("AIRCENC1\n")

var (
	ErrAuthFailed = errors.New("securestore authentication failed")
	ErrInvalid    = errors.New("securestore envelope is invalid")
)

// kdfParams are written into every envelope so future cost increases
// keep old snapshots readable.
type kdfParams struct {
	Time     uint32
	MemoryKB uint32
	Threads  uint8
}

var defaultKDF = kdfParams{Time: 2, MemoryKB: 64 * 1024, Threads: 1}

type Envelope struct {
	Version     uint32 `json:"version"`
	KDF         string `json:"kdf"`
	KDFTime     uint32 `json:"kdf_time"`
	KDFMemoryKB uint32 `json:"kdf_memory_kb"`
	KDFThreads  uint8  `json:"kdf_threads"`
	Salt        []byte `json:"salt"`
	Nonce       []byte `json:"nonce"`
	Ciphertext  []byte `json:"ciphertext"`
}

// Encrypt seals plaintext under a passphrase-derived key and returns
// the prefixed wire form.
func Encrypt(passphrase string, plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	aead, err := newAEAD(passphrase, salt, defaultKDF)
	if err != nil {
		return nil, err
	}

	env := Envelope{
		Version:     envelopeVersion,
		KDF:         kdfName,
		KDFTime:     defaultKDF.Time,
		KDFMemoryKB: defaultKDF.MemoryKB,
		KDFThreads:  defaultKDF.Threads,
		Salt:        salt,
		Nonce:       nonce,
		Ciphertext:  aead.Seal(nil, nonce, plaintext, nil),
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return append(append([]byte{}, filePrefix...), raw...), nil
}

// Decrypt opens a prefixed envelope using the KDF parameters it
// recorded at encryption time.
func Decrypt(passphrase string, data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, filePrefix) {
		return nil, ErrInvalid
	}
	var env Envelope
	if err := json.Unmarshal(data[len(filePrefix):], &env); err != nil {
		return nil, ErrInvalid
	}
	if env.Version != envelopeVersion || env.KDF != kdfName {
		return nil, ErrInvalid
	}
	if len(env.Salt) != saltSize || len(env.Nonce) != chacha20poly1305.NonceSizeX {
		return nil, ErrInvalid
	}
	if env.KDFTime == 0 || env.KDFMemoryKB == 0 || env.KDFThreads == 0 {
		return nil, ErrInvalid
	}

	aead, err := newAEAD(passphrase, env.Salt, kdfParams{
		Time:     env.KDFTime,
		MemoryKB: env.KDFMemoryKB,
		Threads:  env.KDFThreads,
	})
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

func newAEAD(passphrase string, salt []byte, p kdfParams) (cipher.AEAD, error) {
	key := argon2.IDKey([]byte(passphrase), salt, p.Time, p.MemoryKB, p.Threads, chacha20poly1305.KeySize)
	defer func() {
		for i := range key {
			key[i] = 0
		}
	}()
	return chacha20poly1305.NewX(key)
}
