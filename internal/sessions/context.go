package sessions

import (
	"github.com/gofiber/fiber/v2"

	fsession "github.com/gofiber/fiber/v2/middleware/session"
)

// Locals keys for the request's live session. One session object serves the
// whole middleware chain: re-bootstrapping after an identifier rotation
// would resolve the stale request cookie and land on an empty session.
const (
	localsSession   = "lifecycle_session"
	localsDiscarded = "lifecycle_session_discarded"
)

// Attach publishes the request's live session for downstream components.
func Attach(c *fiber.Ctx, sess *fsession.Session) {
	c.Locals(localsSession, sess)
}

// FromContext returns the session attached by SessionGuard, or nil.
func FromContext(c *fiber.Ctx) *fsession.Session {
	sess, _ := c.Locals(localsSession).(*fsession.Session)
	return sess
}

// Acquire returns the request's live session. When the guard has already
// attached one, it is shared and the guard saves it at the end of the
// chain; otherwise a fresh session is bootstrapped and owned reports that
// the caller must save it.
func (m *Manager) Acquire(c *fiber.Ctx) (sess *fsession.Session, owned bool, err error) {
	if sess := FromContext(c); sess != nil {
		return sess, false, nil
	}
	sess, err = m.Bootstrap(c)
	return sess, true, err
}

// Discard destroys the session and marks the request so the guard's final
// save does not resurrect it.
func (m *Manager) Discard(c *fiber.Ctx, sess *fsession.Session) error {
	c.Locals(localsDiscarded, true)
	return sess.Destroy()
}

// Discarded reports whether the request's session was discarded mid-chain.
func Discarded(c *fiber.Ctx) bool {
	discarded, _ := c.Locals(localsDiscarded).(bool)
	return discarded
}
