// Package crypto provides the symmetric schemes used to seal files at rest.
//
// A Provider is bound to its key when it is constructed, so callers only
// ever hand it bytes. Every implementation authenticates its ciphertext:
// decrypting with the wrong key, or decrypting corrupted input, fails with
// ErrIntegrity rather than producing garbage.
package crypto

import (
	"errors"
	"fmt"
	"os"

	"github.com/mickyco94/labyrinth/internal/config"
)

var (
	ErrIntegrity  = errors.New("Ciphertext failed integrity check")
	ErrKeyMissing = errors.New("Key file is missing")
	ErrKeyInvalid = errors.New("Key is malformed")
)

// Provider seals and opens byte slices with a pre-shared key
type Provider interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// New constructs the provider for the cipher from encoded key material,
// as it is stored in a key file
func New(cipher config.Cipher, key []byte) (Provider, error) {
	if len(key) == 0 {
		return nil, ErrKeyMissing
	}

	switch cipher {
	case config.Fernet:
		return NewFernet(key)
	case config.Secretbox:
		return NewSecretbox(key)
	case config.Age:
		return NewAge(key, DefaultAgeWorkFactor)
	}

	return nil, fmt.Errorf("%w: unsupported cipher %s", ErrKeyInvalid, cipher)
}

// Load reads the key file at path and constructs the provider for it
func Load(cipher config.Cipher, path string) (Provider, error) {
	if path == "" {
		return nil, ErrKeyMissing
	}

	key, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrKeyMissing, path)
		}
		return nil, fmt.Errorf("reading key file %s: %w", path, err)
	}

	provider, err := New(cipher, key)
	if err != nil {
		return nil, fmt.Errorf("key file %s: %w", path, err)
	}

	return provider, nil
}

// Generate returns fresh key material for the cipher, encoded the way Load
// expects to find it on disk
func Generate(cipher config.Cipher) ([]byte, error) {
	switch cipher {
	case config.Fernet:
		return generateFernet()
	case config.Secretbox:
		return generateSecretbox()
	case config.Age:
		return generateAge()
	}
	return nil, fmt.Errorf("unsupported cipher %s", cipher)
}
