package crypto

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	secretboxKeySize   = 32
	secretboxNonceSize = 24
)

// SecretboxProvider seals files with NaCl secretbox. The random nonce is
// stored in front of the sealed box.
type SecretboxProvider struct {
	key [secretboxKeySize]byte
}

var _ Provider = (*SecretboxProvider)(nil)

// NewSecretbox decodes a standard base64 encoded 32 byte key
func NewSecretbox(encoded []byte) (*SecretboxProvider, error) {
	raw, err := base64.StdEncoding.DecodeString(string(bytes.TrimSpace(encoded)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyInvalid, err)
	}
	if len(raw) != secretboxKeySize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d bytes", ErrKeyInvalid, secretboxKeySize, len(raw))
	}

	p := &SecretboxProvider{}
	copy(p.key[:], raw)
	return p, nil
}

func (s *SecretboxProvider) Encrypt(plaintext []byte) ([]byte, error) {
	var nonce [secretboxNonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	return secretbox.Seal(nonce[:], plaintext, &nonce, &s.key), nil
}

func (s *SecretboxProvider) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < secretboxNonceSize+secretbox.Overhead {
		return nil, ErrIntegrity
	}

	var nonce [secretboxNonceSize]byte
	copy(nonce[:], ciphertext[:secretboxNonceSize])

	plaintext, ok := secretbox.Open(nil, ciphertext[secretboxNonceSize:], &nonce, &s.key)
	if !ok {
		return nil, ErrIntegrity
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}

func generateSecretbox() ([]byte, error) {
	key := make([]byte, secretboxKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return []byte(base64.StdEncoding.EncodeToString(key) + "\n"), nil
}
