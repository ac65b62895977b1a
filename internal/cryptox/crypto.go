// Package cryptox seals short secrets, such as provider authorization codes,
// for storage at rest.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"

	"github.com/dmitrijs2005/kycflow/internal/common"
	"golang.org/x/crypto/argon2"
)

const keySize = 32

var ErrEmptySecret = errors.New("sealing secret is empty")

// DeriveKey stretches secret into a 256-bit AES key using argon2id.
func DeriveKey(secret []byte, salt []byte) []byte {
	return argon2.IDKey(secret, salt, 1, 64*1024, 4, keySize)
}

// Sealer encrypts values with AES-GCM under a key derived once at
// construction. It is safe for concurrent use.
type Sealer struct {
	aead cipher.AEAD
}

func NewSealer(secret, salt string) (*Sealer, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	key := DeriveKey([]byte(secret), []byte(salt))
	defer common.WipeByteArray(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts plaintext, authenticating aad alongside it. A fresh random
// nonce is returned with the ciphertext; both are needed to Open.
func (s *Sealer) Seal(plaintext, aad []byte) (ciphertext, nonce []byte, err error) {
	nonce = common.GenerateRandByteArray(s.aead.NonceSize())
	ciphertext = s.aead.Seal(nil, nonce, plaintext, aad)
	return ciphertext, nonce, nil
}

// Open reverses Seal. It fails if ciphertext, nonce or aad were altered.
func (s *Sealer) Open(ciphertext, nonce, aad []byte) ([]byte, error) {
	if len(nonce) != s.aead.NonceSize() {
		return nil, errors.New("invalid nonce size")
	}
	return s.aead.Open(nil, nonce, ciphertext, aad)
}
