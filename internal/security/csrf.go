// Package security - per-form CSRF token vault.
package security

import (
	"crypto/subtle"
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2/middleware/session"
)

// csrfSessionKey is where the vault's token table lives inside a session.
const csrfSessionKey = "csrf_vault"

// csrfEntry is one issued token. Stored JSON-encoded so it survives any
// session storage backend without gob registration.
type csrfEntry struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenVault issues and validates per-form-key CSRF tokens held in the
// session. Each form key gets an independent token so multiple forms on one
// page do not race each other, and validation consumes the entry so a
// captured token cannot be replayed.
type TokenVault struct {
	ttl time.Duration

	// now is swapped in tests to exercise expiry without sleeping.
	now func() time.Time
}

// NewTokenVault creates a vault whose tokens live for ttl.
func NewTokenVault(ttl time.Duration) *TokenVault {
	return &TokenVault{ttl: ttl, now: time.Now}
}

// Issue returns a token for formKey, reusing an unexpired token when one
// exists so a page reload does not invalidate an open form.
func (v *TokenVault) Issue(sess *session.Session, formKey string) (string, error) {
	table := v.load(sess)

	if entry, ok := table[formKey]; ok && v.now().Before(entry.ExpiresAt) {
		return entry.Value, nil
	}

	token, err := GenerateSecureToken(32)
	if err != nil {
		return "", err
	}

	table[formKey] = csrfEntry{
		Value:     token,
		ExpiresAt: v.now().Add(v.ttl),
	}
	v.store(sess, table)
	return token, nil
}

// Validate consumes the token stored under formKey and reports whether the
// presented value matches it. The entry is removed regardless of outcome:
// a failed validation must not leave a guessable token behind.
func (v *TokenVault) Validate(sess *session.Session, formKey, presented string) bool {
	table := v.load(sess)

	entry, ok := table[formKey]
	delete(table, formKey)
	v.store(sess, table)

	if !ok || presented == "" {
		return false
	}
	if v.now().After(entry.ExpiresAt) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(entry.Value), []byte(presented)) == 1
}

func (v *TokenVault) load(sess *session.Session) map[string]csrfEntry {
	table := make(map[string]csrfEntry)
	raw, ok := sess.Get(csrfSessionKey).(string)
	if !ok || raw == "" {
		return table
	}
	if err := json.Unmarshal([]byte(raw), &table); err != nil {
		// Corrupt table: start over, the worst case is a re-submitted form.
		return make(map[string]csrfEntry)
	}
	return table
}

func (v *TokenVault) store(sess *session.Session, table map[string]csrfEntry) {
	// Drop expired entries while we hold the table so it cannot grow without
	// bound on long-lived sessions.
	for key, entry := range table {
		if v.now().After(entry.ExpiresAt) {
			delete(table, key)
		}
	}

	raw, err := json.Marshal(table)
	if err != nil {
		return
	}
	sess.Set(csrfSessionKey, string(raw))
}
