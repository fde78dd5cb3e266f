// Package crypto provides the symmetric cipher used to encrypt OAuth tokens
// at rest. The cipher is injected into the credential vault so tests can
// substitute a fake and the algorithm stays swappable.
package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

// Cipher encrypts and decrypts small secrets (tokens).
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

var (
	ErrInvalidKey         = errors.New("crypto: key must be 32 bytes, base64-encoded")
	ErrDecryptionFailed   = errors.New("crypto: decryption failed")
	ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")
)

// SecretboxCipher implements Cipher using NaCl secretbox
// (XSalsa20-Poly1305) with a random 24-byte nonce per message.
type SecretboxCipher struct {
	key [32]byte
}

// NewSecretboxCipher creates a cipher from a base64-encoded 32-byte key.
func NewSecretboxCipher(encodedKey string) (*SecretboxCipher, error) {
	raw, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(raw) != 32 {
		return nil, ErrInvalidKey
	}
	c := &SecretboxCipher{}
	copy(c.key[:], raw)
	return c, nil
}

// Encrypt seals the plaintext and returns base64(nonce || box).
func (c *SecretboxCipher) Encrypt(plaintext string) (string, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("crypto: nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &c.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens base64(nonce || box) produced by Encrypt.
func (c *SecretboxCipher) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("crypto: decode: %w", err)
	}
	if len(raw) < 24 {
		return "", ErrCiphertextTooShort
	}
	var nonce [24]byte
	copy(nonce[:], raw[:24])
	opened, ok := secretbox.Open(nil, raw[24:], &nonce, &c.key)
	if !ok {
		return "", ErrDecryptionFailed
	}
	return string(opened), nil
}
