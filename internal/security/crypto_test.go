// Package security tests for envelope encryption and signing.
package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCipher_RoundTrip(t *testing.T) {
	cipher := NewCipher([]byte("test-key-material"))

	inputs := []string{
		"0412 555 123",
		"multi\nline\nvalue",
		"unicode: snörkel 設備",
		strings.Repeat("x", 4096),
	}

	for _, input := range inputs {
		sealed, err := cipher.Encrypt(input)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(sealed, "v1:"), "envelope must carry the version prefix")
		assert.Len(t, strings.Split(sealed, ":"), 4)
		assert.Equal(t, input, cipher.Decrypt(sealed))
	}
}

func TestCipher_EncryptEmptyInput(t *testing.T) {
	cipher := NewCipher([]byte("test-key-material"))

	sealed, err := cipher.Encrypt("")
	require.NoError(t, err)
	assert.Equal(t, "", sealed)
}

func TestCipher_EncryptIsNonDeterministic(t *testing.T) {
	cipher := NewCipher([]byte("test-key-material"))

	first, err := cipher.Encrypt("same input")
	require.NoError(t, err)
	second, err := cipher.Encrypt("same input")
	require.NoError(t, err)

	// A fresh IV per envelope means equal plaintexts never produce equal
	// ciphertexts.
	assert.NotEqual(t, first, second)
}

// Malformed envelopes decrypt to an empty string, never an error; values
// without the version prefix are legacy plaintext and pass through.
func TestCipher_DecryptTolerance(t *testing.T) {
	cipher := NewCipher([]byte("test-key-material"))

	t.Run("legacy plaintext passes through", func(t *testing.T) {
		assert.Equal(t, "0412 555 123", cipher.Decrypt("0412 555 123"))
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Equal(t, "", cipher.Decrypt(""))
	})

	t.Run("malformed envelopes yield empty string", func(t *testing.T) {
		malformed := []string{
			"v1:",
			"v1:only-two:segments",
			"v1:!!!:!!!:!!!",
			"v1:aaaa:bbbb:cccc",
			"v1:aaaa:bbbb:cccc:dddd",
		}
		for _, value := range malformed {
			assert.Equal(t, "", cipher.Decrypt(value), "input %q", value)
		}
	})

	t.Run("wrong key yields empty string", func(t *testing.T) {
		sealed, err := cipher.Encrypt("secret")
		require.NoError(t, err)

		other := NewCipher([]byte("a different key"))
		assert.Equal(t, "", other.Decrypt(sealed))
	})

	t.Run("tampered ciphertext yields empty string", func(t *testing.T) {
		sealed, err := cipher.Encrypt("secret")
		require.NoError(t, err)

		parts := strings.Split(sealed, ":")
		parts[3] = parts[3][:len(parts[3])-2] + "AA"
		assert.Equal(t, "", cipher.Decrypt(strings.Join(parts, ":")))
	})
}

func TestSigner_SignAndVerify(t *testing.T) {
	signer := NewSigner([]byte("signing-key"))

	sig := signer.Sign([]byte("payload"))
	assert.NotEmpty(t, sig)
	assert.True(t, signer.Verify([]byte("payload"), sig))
	assert.False(t, signer.Verify([]byte("other payload"), sig))
	assert.False(t, signer.Verify([]byte("payload"), "not-a-signature"))
}

func TestSigner_DifferentKeysDiffer(t *testing.T) {
	a := NewSigner([]byte("key-a"))
	b := NewSigner([]byte("key-b"))

	sig := a.Sign([]byte("payload"))
	assert.False(t, b.Verify([]byte("payload"), sig))
}

func TestGenerateSecureToken(t *testing.T) {
	first, err := GenerateSecureToken(32)
	require.NoError(t, err)
	second, err := GenerateSecureToken(32)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.NotEmpty(t, first)

	_, err = GenerateSecureToken(0)
	assert.Error(t, err)
}

func TestHashToken(t *testing.T) {
	assert.Equal(t, HashToken("abc"), HashToken("abc"))
	assert.NotEqual(t, HashToken("abc"), HashToken("abd"))
	assert.Len(t, HashToken("abc"), 64) // hex-encoded SHA-256
}
