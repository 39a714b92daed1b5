// Package middleware - session guard and capability enforcement.
package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/openfacil/facilityhub/internal/audit"
	"github.com/openfacil/facilityhub/internal/models"
	"github.com/openfacil/facilityhub/internal/security"
	"github.com/openfacil/facilityhub/internal/sessions"
)

// Gate performs session lifecycle checks and capability enforcement at
// route entry. Every protected route passes SessionGuard first and then an
// Enforce for its named capability.
type Gate struct {
	manager  *sessions.Manager
	registry *sessions.Registry
	matrix   *security.Matrix
	stepUp   *security.StepUpAuthenticator
	trail    *audit.Trail
	logger   *security.Logger
	config   *security.SecurityConfig
}

// NewGate creates a Gate.
func NewGate(
	manager *sessions.Manager,
	registry *sessions.Registry,
	matrix *security.Matrix,
	stepUp *security.StepUpAuthenticator,
	trail *audit.Trail,
	logger *security.Logger,
	config *security.SecurityConfig,
) *Gate {
	return &Gate{
		manager:  manager,
		registry: registry,
		matrix:   matrix,
		stepUp:   stepUp,
		trail:    trail,
		logger:   logger,
		config:   config,
	}
}

// SessionGuard runs the session lifecycle for every request: bootstrap,
// idle-timeout eviction, fingerprint integrity, single-active-session
// verification, and periodic identifier rotation. Timeouts and integrity
// resets are silent; only a registry mismatch redirects, because the user
// must learn they were signed out elsewhere.
//
// The whole lifecycle runs on one session object, shared with the rest of
// the chain through Locals and saved exactly once after the chain returns.
// Fiber releases a saved session back to its pool, and a re-bootstrap after
// rotation would resolve the stale request cookie, so downstream components
// must reuse this object via sessions.FromContext / Manager.Acquire.
func (g *Gate) SessionGuard() fiber.Handler {
	return func(c *fiber.Ctx) error {
		sess, err := g.manager.Bootstrap(c)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).SendString("Internal server error")
		}

		if _, err := g.manager.EnforceIdleTimeout(c, sess); err != nil {
			return c.Status(fiber.StatusInternalServerError).SendString("Internal server error")
		}

		if _, err := g.manager.CheckIntegrity(c, sess); err != nil {
			return c.Status(fiber.StatusInternalServerError).SendString("Internal server error")
		}

		userID, authenticated := sess.Get(sessions.KeyUserID).(int)
		fingerprint := security.Fingerprint(c.Get(fiber.HeaderUserAgent), c.IP())

		if authenticated {
			// Verify against the pre-rotation identifier: the registry holds
			// the token this browser presented, not the one rotation is
			// about to mint.
			ok, err := g.registry.Verify(c.Context(), userID, fingerprint, sess.ID())
			if err != nil {
				g.logger.Error("active session verify", err)
				return c.Status(fiber.StatusInternalServerError).SendString("Internal server error")
			}
			if !ok {
				if err := sess.Destroy(); err != nil {
					g.logger.Error("destroy superseded session", err)
				}
				return c.Redirect("/login?reason=signed_out_elsewhere")
			}
		}

		rotated, err := g.manager.MaybeRotate(c, sess, false)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).SendString("Internal server error")
		}
		if rotated && authenticated {
			if err := g.registry.Register(c.Context(), userID, fingerprint, sess.ID()); err != nil {
				g.logger.Error("re-register rotated session", err)
			}
		}

		if authenticated {
			c.Locals(sessions.KeyUserID, userID)
			c.Locals(sessions.KeyUserEmail, sess.Get(sessions.KeyUserEmail))
			c.Locals(sessions.KeyUserName, sess.Get(sessions.KeyUserName))
			c.Locals(sessions.KeyUserRole, sess.Get(sessions.KeyUserRole))
		}

		sessions.Attach(c, sess)
		err = c.Next()

		if !sessions.Discarded(c) {
			g.manager.Touch(sess)
			if saveErr := sess.Save(); saveErr != nil {
				// The response is already written; all we can do is shout.
				g.logger.Error("persist session", saveErr)
			}
		}
		return err
	}
}

// Enforce gates a route behind a named capability.
//
// Unauthenticated users are redirected to login with a return-path hint.
// A role not listed for the capability gets 403 plus an audit event. A
// sensitive capability additionally demands a valid step-up token. No token
// at all means the user simply has not answered the challenge yet, so they
// are sent to it with the session intact; a token that fails validation
// resets the whole session and redirects to login rather than answering
// 403 - a bad step-up token means the privileged context itself is
// untrusted, not just the one action. Unknown capabilities fail closed.
func (g *Gate) Enforce(capabilityKey string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := CurrentUser(c)
		if user == nil {
			return c.Redirect("/login?return=" + c.Path())
		}

		policy, err := g.matrix.Lookup(capabilityKey)
		if err != nil {
			g.logger.SecurityEvent(security.EventPolicyConfigError, &user.ID, user.Email, c.IP(), c.Get(fiber.HeaderUserAgent),
				map[string]interface{}{"capability": capabilityKey, "error": err.Error()})
			return c.Status(fiber.StatusInternalServerError).SendString("Internal server error")
		}

		if !policy.Allows(user.Role) {
			g.trail.Record(c.Context(), &user.ID, "CAPABILITY_DENIED", "capability", nil,
				c.IP(), c.Get(fiber.HeaderUserAgent),
				map[string]interface{}{"capability": capabilityKey, "role": user.Role})
			return c.Status(fiber.StatusForbidden).SendString("Access denied")
		}

		if policy.Sensitive {
			token := c.Cookies(g.config.StepUpCookieName)
			if token == "" {
				return c.Redirect("/stepup?return=" + c.Path())
			}
			if !g.stepUp.Validate(token, user.ID, user.Role) {
				g.logger.SecurityEvent(security.EventStepUpRejected, &user.ID, user.Email, c.IP(), c.Get(fiber.HeaderUserAgent),
					map[string]interface{}{"capability": capabilityKey})

				if sess, _, err := g.manager.Acquire(c); err == nil {
					_ = g.manager.Discard(c, sess)
				}
				c.ClearCookie(g.config.StepUpCookieName)
				return c.Redirect("/login?reason=reauth_required")
			}
		}

		if policy.LogAccess && c.Locals("audit_logged:"+capabilityKey) == nil {
			c.Locals("audit_logged:"+capabilityKey, true)
			g.trail.Record(c.Context(), &user.ID, "CAPABILITY_ACCESS", "capability", nil,
				c.IP(), c.Get(fiber.HeaderUserAgent),
				map[string]interface{}{"capability": capabilityKey})
		}

		return c.Next()
	}
}

// CurrentUser returns the authenticated identity established by
// SessionGuard, or nil for anonymous requests.
func CurrentUser(c *fiber.Ctx) *models.CurrentUser {
	id, ok := c.Locals(sessions.KeyUserID).(int)
	if !ok {
		return nil
	}
	email, _ := c.Locals(sessions.KeyUserEmail).(string)
	name, _ := c.Locals(sessions.KeyUserName).(string)
	role, _ := c.Locals(sessions.KeyUserRole).(string)
	return &models.CurrentUser{ID: id, Email: email, Name: name, Role: role}
}
