package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) string {
	t.Helper()
	raw := make([]byte, 32)
	_, err := rand.Read(raw)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(raw)
}

func TestSecretboxCipherRoundTrip(t *testing.T) {
	cipher, err := NewSecretboxCipher(testKey(t))
	require.NoError(t, err)

	plaintext := "access-token-abc123"
	sealed, err := cipher.Encrypt(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, sealed)

	opened, err := cipher.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestSecretboxCipherNoncesDiffer(t *testing.T) {
	cipher, err := NewSecretboxCipher(testKey(t))
	require.NoError(t, err)

	a, err := cipher.Encrypt("same input")
	require.NoError(t, err)
	b, err := cipher.Encrypt("same input")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestSecretboxCipherWrongKey(t *testing.T) {
	first, err := NewSecretboxCipher(testKey(t))
	require.NoError(t, err)
	second, err := NewSecretboxCipher(testKey(t))
	require.NoError(t, err)

	sealed, err := first.Encrypt("secret")
	require.NoError(t, err)

	_, err = second.Decrypt(sealed)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestSecretboxCipherTamperedCiphertext(t *testing.T) {
	cipher, err := NewSecretboxCipher(testKey(t))
	require.NoError(t, err)

	sealed, err := cipher.Encrypt("secret")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(sealed)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	_, err = cipher.Decrypt(base64.StdEncoding.EncodeToString(raw))
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestNewSecretboxCipherInvalidKey(t *testing.T) {
	_, err := NewSecretboxCipher("not base64!!!")
	assert.ErrorIs(t, err, ErrInvalidKey)

	short := base64.StdEncoding.EncodeToString([]byte("too short"))
	_, err = NewSecretboxCipher(short)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestSecretboxCipherShortCiphertext(t *testing.T) {
	cipher, err := NewSecretboxCipher(testKey(t))
	require.NoError(t, err)

	_, err = cipher.Decrypt(base64.StdEncoding.EncodeToString([]byte("tiny")))
	assert.ErrorIs(t, err, ErrCiphertextTooShort)
}
