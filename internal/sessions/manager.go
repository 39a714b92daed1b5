// Package sessions implements the session lifecycle for the FacilityHub
// portal: cookie-bound bootstrap, device-fingerprint integrity binding,
// periodic identifier rotation, idle-timeout eviction, and the
// single-active-session registry.
package sessions

import (
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	fsession "github.com/gofiber/fiber/v2/middleware/session"

	"github.com/openfacil/facilityhub/internal/security"
)

// Session value keys. All lifecycle state lives under these keys; handlers
// mutate session state only through Manager methods.
const (
	KeyUserID      = "user_id"
	KeyUserEmail   = "user_email"
	KeyUserName    = "user_name"
	KeyUserRole    = "user_role"
	keyFingerprint = "fingerprint"
	keyLastRotated = "last_rotated"
	keyLastSeen    = "last_seen"
	keyFlash       = "flash"
)

// Manager drives the session lifecycle. It owns every transition a session
// can make: creation, fingerprint binding, rotation, idle expiry, and full
// reset. Timeouts and mismatches are silent resets, never errors.
//
// Manager methods mutate the session in place and never call Save. Fiber
// releases a session back to its pool when Save returns, so the caller saves
// exactly once, as the last thing it does with the object, after all
// lifecycle steps have run.
type Manager struct {
	store  *fsession.Store
	logger *security.Logger

	rotateInterval time.Duration
	idleTimeout    time.Duration

	now func() time.Time
}

// NewStore builds the fiber session store with the portal's cookie policy.
func NewStore(config *security.SecurityConfig) *fsession.Store {
	return fsession.New(fsession.Config{
		Expiration:     24 * time.Hour,
		CookieSecure:   config.SessionSecure,
		CookieHTTPOnly: true,
		CookieSameSite: config.SessionSameSite,
		CookieName:     config.SessionCookieName,
		CookiePath:     "/",
	})
}

// NewManager creates a Manager over the given store.
func NewManager(store *fsession.Store, config *security.SecurityConfig, logger *security.Logger) *Manager {
	return &Manager{
		store:          store,
		logger:         logger,
		rotateInterval: config.SessionRotateInterval,
		idleTimeout:    config.SessionIdleTimeout,
		now:            time.Now,
	}
}

// Store exposes the underlying fiber session store for middleware that needs
// direct access (CSRF issuance).
func (m *Manager) Store() *fsession.Store {
	return m.store
}

// Bootstrap finds or creates the request's session.
func (m *Manager) Bootstrap(c *fiber.Ctx) (*fsession.Session, error) {
	return m.store.Get(c)
}

// CheckIntegrity binds the session to the request's device fingerprint.
//
// On first use the fingerprint is recorded, not compared. On mismatch the
// session is reset in place - destroyed, then rebound to the new
// fingerprint - and if a user had been signed in, a one-time "please sign
// in again" notice is queued so the login page can explain the reset.
// Reports whether the session survived intact.
func (m *Manager) CheckIntegrity(c *fiber.Ctx, sess *fsession.Session) (bool, error) {
	fp := security.Fingerprint(c.Get(fiber.HeaderUserAgent), c.IP())

	stored, _ := sess.Get(keyFingerprint).(string)
	if stored == "" {
		sess.Set(keyFingerprint, fp)
		return true, nil
	}
	if stored == fp {
		return true, nil
	}

	// Fingerprint changed under an existing session: treat it as hijacked.
	wasAuthenticated := sess.Get(KeyUserID) != nil
	var actorID *int
	if id, ok := sess.Get(KeyUserID).(int); ok {
		actorID = &id
	}
	m.logger.SecurityEvent(security.EventSessionMismatch, actorID, "", c.IP(), c.Get(fiber.HeaderUserAgent),
		map[string]interface{}{"path": c.Path()})

	if err := sess.Destroy(); err != nil {
		return false, err
	}
	sess.Set(keyFingerprint, fp)
	if wasAuthenticated {
		m.Flash(sess, "notice", "Your session ended unexpectedly. Please sign in again.")
	}
	return false, nil
}

// MaybeRotate regenerates the session identifier when forced or when the
// rotation interval has elapsed. Rotation keeps the state and defeats
// fixation: an attacker-planted identifier stops being valid without the
// legitimate user noticing anything.
func (m *Manager) MaybeRotate(c *fiber.Ctx, sess *fsession.Session, force bool) (bool, error) {
	now := m.now()

	last, _ := sess.Get(keyLastRotated).(int64)
	if !force && last != 0 && now.Sub(time.Unix(last, 0)) < m.rotateInterval {
		return false, nil
	}

	if err := sess.Regenerate(); err != nil {
		return false, err
	}
	sess.Set(keyLastRotated, now.Unix())

	m.logger.SecurityEvent(security.EventSessionRotated, nil, "", c.IP(), c.Get(fiber.HeaderUserAgent),
		map[string]interface{}{"forced": force})
	return true, nil
}

// EnforceIdleTimeout resets sessions idle past the configured threshold.
// Expiry is a silent reset, not an error: the session is destroyed in place
// and continues as an anonymous one. Reports whether the session expired.
func (m *Manager) EnforceIdleTimeout(c *fiber.Ctx, sess *fsession.Session) (bool, error) {
	last, _ := sess.Get(keyLastSeen).(int64)
	if last != 0 && m.now().Sub(time.Unix(last, 0)) > m.idleTimeout {
		if err := sess.Destroy(); err != nil {
			return true, err
		}
		return true, nil
	}
	return false, nil
}

// Touch refreshes the session's last-seen stamp for the idle-timeout clock.
func (m *Manager) Touch(sess *fsession.Session) {
	sess.Set(keyLastSeen, m.now().Unix())
}

// SignIn records the authenticated user on the session and forces an
// identifier rotation, since login is a privilege change.
func (m *Manager) SignIn(c *fiber.Ctx, sess *fsession.Session, userID int, email, name, role string) error {
	if _, err := m.MaybeRotate(c, sess, true); err != nil {
		return err
	}
	sess.Set(KeyUserID, userID)
	sess.Set(KeyUserEmail, email)
	sess.Set(KeyUserName, name)
	sess.Set(KeyUserRole, role)
	return nil
}

// Flash queues a one-time message under key.
func (m *Manager) Flash(sess *fsession.Session, key, message string) {
	table := m.flashTable(sess)
	table[key] = message
	if raw, err := json.Marshal(table); err == nil {
		sess.Set(keyFlash, string(raw))
	}
}

// PopFlash returns and removes the message queued under key, or "".
func (m *Manager) PopFlash(sess *fsession.Session, key string) string {
	table := m.flashTable(sess)
	message, ok := table[key]
	if !ok {
		return ""
	}
	delete(table, key)
	if raw, err := json.Marshal(table); err == nil {
		sess.Set(keyFlash, string(raw))
	}
	return message
}

func (m *Manager) flashTable(sess *fsession.Session) map[string]string {
	table := make(map[string]string)
	if raw, ok := sess.Get(keyFlash).(string); ok && raw != "" {
		_ = json.Unmarshal([]byte(raw), &table)
	}
	return table
}
