// Package security - envelope encryption and signing primitives.
// Sensitive database columns (contact numbers, incident details) are stored as
// versioned AES-256-GCM envelopes; HMAC-SHA256 backs token signing.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// envelopeVersion prefixes every ciphertext this package produces.
// Format: v1:iv:tag:ciphertext with each segment URL-safe base64.
const envelopeVersion = "v1"

const gcmTagSize = 16

// Cipher performs AES-256-GCM field-level encryption.
//
// Decrypt is deliberately tolerant: values that do not carry the envelope
// prefix are assumed to be legacy plaintext and returned unchanged, and a
// malformed envelope yields an empty string rather than an error. Partial
// migrations must never lose data or take a page down.
type Cipher struct {
	key []byte
}

// NewCipher creates a Cipher from 32 bytes of key material.
// Shorter or longer material is normalized through SHA-256.
func NewCipher(key []byte) *Cipher {
	if len(key) != 32 {
		sum := sha256.Sum256(key)
		key = sum[:]
	}
	return &Cipher{key: key}
}

// Encrypt seals plaintext into a v1 envelope.
// An empty input is returned as-is; there is nothing to protect.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}

	iv := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}

	// Seal appends the auth tag to the ciphertext; the envelope keeps them
	// as separate segments.
	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	ct := sealed[:len(sealed)-gcmTagSize]
	tag := sealed[len(sealed)-gcmTagSize:]

	enc := base64.RawURLEncoding
	return strings.Join([]string{
		envelopeVersion,
		enc.EncodeToString(iv),
		enc.EncodeToString(tag),
		enc.EncodeToString(ct),
	}, ":"), nil
}

// Decrypt opens a v1 envelope.
//
// Returns the input unchanged when it does not look like an envelope (legacy
// plaintext rows), and an empty string when an envelope is present but cannot
// be opened. It never returns an error to callers.
func (c *Cipher) Decrypt(value string) string {
	if value == "" {
		return ""
	}
	if !strings.HasPrefix(value, envelopeVersion+":") {
		// Legacy plaintext value from before encryption was enabled.
		return value
	}

	parts := strings.Split(value, ":")
	if len(parts) != 4 {
		return ""
	}

	enc := base64.RawURLEncoding
	iv, err := enc.DecodeString(parts[1])
	if err != nil {
		return ""
	}
	tag, err := enc.DecodeString(parts[2])
	if err != nil {
		return ""
	}
	ct, err := enc.DecodeString(parts[3])
	if err != nil {
		return ""
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return ""
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return ""
	}
	if len(iv) != gcm.NonceSize() || len(tag) != gcmTagSize {
		return ""
	}

	plain, err := gcm.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return ""
	}
	return string(plain)
}

// Signer produces and verifies HMAC-SHA256 signatures over opaque payloads.
type Signer struct {
	key []byte
}

// NewSigner creates a Signer from the given key material.
func NewSigner(key []byte) *Signer {
	return &Signer{key: key}
}

// Sign returns the hex-encoded HMAC-SHA256 of data.
func (s *Signer) Sign(data []byte) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches data, in constant time.
func (s *Signer) Verify(data []byte, signature string) bool {
	expected := s.Sign(data)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// GenerateSecureToken returns a base64 URL-safe random string using the
// specified number of random bytes.
func GenerateSecureToken(byteLength int) (string, error) {
	if byteLength <= 0 {
		return "", fmt.Errorf("length must be positive")
	}

	buf := make([]byte, byteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashToken calculates a SHA-256 hash of the provided value.
// Used to avoid persisting raw session tokens in the registry.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
