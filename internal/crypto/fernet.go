package crypto

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/fernet/fernet-go"
)

// Tokens are never expired, a file sealed years ago must still open.
const fernetNoExpiry = -1

// version(1) + timestamp(8) + iv(16) + one cipher block(16) + hmac(32)
var fernetMinToken = base64.URLEncoding.EncodedLen(1 + 8 + 16 + 16 + 32)

// FernetProvider seals files as Fernet tokens. Keys and tokens are
// interchangeable with any other Fernet implementation.
type FernetProvider struct {
	key *fernet.Key
}

var _ Provider = (*FernetProvider)(nil)

// NewFernet decodes a url-safe base64 Fernet key
func NewFernet(encoded []byte) (*FernetProvider, error) {
	key, err := fernet.DecodeKey(strings.TrimSpace(string(encoded)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyInvalid, err)
	}
	return &FernetProvider{key: key}, nil
}

func (f *FernetProvider) Encrypt(plaintext []byte) ([]byte, error) {
	return fernet.EncryptAndSign(plaintext, f.key)
}

func (f *FernetProvider) Decrypt(ciphertext []byte) ([]byte, error) {
	token := bytes.TrimSpace(ciphertext)
	if len(token) < fernetMinToken {
		return nil, ErrIntegrity
	}

	plaintext := fernet.VerifyAndDecrypt(token, fernetNoExpiry, []*fernet.Key{f.key})
	if plaintext == nil {
		return nil, ErrIntegrity
	}
	return plaintext, nil
}

func generateFernet() ([]byte, error) {
	var key fernet.Key
	if err := key.Generate(); err != nil {
		return nil, err
	}
	return []byte(key.Encode() + "\n"), nil
}
