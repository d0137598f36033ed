package crypto

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"
)

// DefaultAgeWorkFactor is the scrypt work factor age itself defaults to
const DefaultAgeWorkFactor = 18

// AgeProvider seals files with age using a passphrase (scrypt) recipient,
// which keeps the scheme symmetric: the same key file seals and opens.
type AgeProvider struct {
	passphrase string
	workFactor int
}

var _ Provider = (*AgeProvider)(nil)

// NewAge uses the first line of the key file as the passphrase.
// workFactor is the log2 scrypt cost used when sealing.
func NewAge(key []byte, workFactor int) (*AgeProvider, error) {
	passphrase, _, _ := strings.Cut(string(key), "\n")
	passphrase = strings.TrimRight(passphrase, "\r")
	if strings.TrimSpace(passphrase) == "" {
		return nil, fmt.Errorf("%w: empty passphrase", ErrKeyInvalid)
	}

	return &AgeProvider{
		passphrase: passphrase,
		workFactor: workFactor,
	}, nil
}

func (a *AgeProvider) Encrypt(plaintext []byte) ([]byte, error) {
	recipient, err := age.NewScryptRecipient(a.passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt recipient: %w", err)
	}
	if a.workFactor > 0 {
		recipient.SetWorkFactor(a.workFactor)
	}

	var out bytes.Buffer
	w, err := age.Encrypt(&out, recipient)
	if err != nil {
		return nil, fmt.Errorf("creating encrypted writer: %w", err)
	}

	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("encrypting data: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing encryption: %w", err)
	}

	return out.Bytes(), nil
}

func (a *AgeProvider) Decrypt(ciphertext []byte) ([]byte, error) {
	identity, err := age.NewScryptIdentity(a.passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}

	r, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}

	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}

	return plaintext, nil
}

func generateAge() ([]byte, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, err
	}
	return []byte(base64.RawURLEncoding.EncodeToString(raw) + "\n"), nil
}
