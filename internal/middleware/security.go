// Package middleware wires the security core into the request pipeline.
// Gate order per request: request filter, rate limiter, session lifecycle,
// single-active-session check, then per-route capability enforcement.
// The first gate that fails terminates the request; nothing after it runs.
package middleware

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/openfacil/facilityhub/internal/security"
	"github.com/openfacil/facilityhub/internal/sessions"
)

// SecurityMiddleware bundles the pre-authentication gates and response
// hardening: request filtering, rate limiting, CSRF, headers, request logs.
type SecurityMiddleware struct {
	logger  *security.Logger
	config  *security.SecurityConfig
	filter  *security.RequestFilter
	limiter *security.Limiter
	vault   *security.TokenVault
	manager *sessions.Manager
}

// NewSecurityMiddleware creates the middleware suite.
func NewSecurityMiddleware(
	logger *security.Logger,
	config *security.SecurityConfig,
	limiter *security.Limiter,
	manager *sessions.Manager,
) *SecurityMiddleware {
	return &SecurityMiddleware{
		logger:  logger,
		config:  config,
		filter:  security.NewRequestFilter(config),
		limiter: limiter,
		vault:   security.NewTokenVault(config.CSRFTokenTTL),
		manager: manager,
	}
}

// Vault exposes the CSRF token vault so handlers can issue tokens for
// secondary forms on one page.
func (sm *SecurityMiddleware) Vault() *security.TokenVault {
	return sm.vault
}

// RequestFilter rejects malformed or automated traffic before any other
// logic runs. Responses are fixed-status with generic bodies; the reason
// goes to the security log only.
func (sm *SecurityMiddleware) RequestFilter() fiber.Handler {
	return func(c *fiber.Ctx) error {
		violation := sm.filter.Check(
			c.Method(),
			c.OriginalURL(),
			string(c.Request().URI().QueryString()),
			c.Get(fiber.HeaderUserAgent),
			c.Body(),
		)
		if violation == nil {
			return c.Next()
		}

		sm.logger.SecurityEvent(security.EventRequestBlocked, nil, "", c.IP(), c.Get(fiber.HeaderUserAgent),
			map[string]interface{}{
				"reason": violation.Reason,
				"method": c.Method(),
				"path":   c.Path(),
			})

		return c.Status(violation.Status).SendString("Request rejected")
	}
}

// RateLimit applies the sliding-window limiter to the route it wraps.
//
// Two identity keys are counted: one derived from the client address and,
// when a session cookie is present, one derived from the session token. The
// strictest counter decides.
func (sm *SecurityMiddleware) RateLimit(bucket string, limit int) fiber.Handler {
	return func(c *fiber.Ctx) error {
		identities := []string{"ip|" + c.IP()}
		if token := c.Cookies(sm.config.SessionCookieName); token != "" {
			identities = append(identities, "sess|"+token)
		}

		decision, err := sm.limiter.CheckAndIncrement(bucket, identities, limit, sm.config.RateLimitWindow)
		if err != nil {
			// The counter store is a security gate; if it cannot answer, the
			// request does not pass.
			sm.logger.Error("rate limit store unavailable", err)
			return c.Status(fiber.StatusInternalServerError).SendString("Internal server error")
		}

		if !decision.Allowed {
			sm.logger.SecurityEvent(security.EventRateLimitExceeded, nil, "", c.IP(), c.Get(fiber.HeaderUserAgent),
				map[string]interface{}{
					"bucket": bucket,
					"count":  decision.Count,
					"limit":  decision.Limit,
				})

			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(decision.RetryAfter.Seconds())+1))
			return c.Status(fiber.StatusTooManyRequests).SendString("Rate limit exceeded, please try again later")
		}

		if decision.NearLimit {
			sm.logger.SecurityEvent(security.EventRateLimitWarning, nil, "", c.IP(), c.Get(fiber.HeaderUserAgent),
				map[string]interface{}{
					"bucket": bucket,
					"count":  decision.Count,
					"limit":  decision.Limit,
				})
		}

		return c.Next()
	}
}

// SecureHeaders sets the standard security response headers, including a
// per-response CSP nonce available to templates as Locals("csp_nonce").
// HSTS is sent only over TLS; on plain HTTP it would be cached uselessly.
func (sm *SecurityMiddleware) SecureHeaders() fiber.Handler {
	return func(c *fiber.Ctx) error {
		nonce, err := security.GenerateSecureToken(16)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).SendString("Internal server error")
		}
		c.Locals("csp_nonce", nonce)

		c.Set(fiber.HeaderContentSecurityPolicy, fmt.Sprintf(
			"default-src 'self'; script-src 'self' 'nonce-%s'; style-src 'self' 'unsafe-inline'; img-src 'self' data:; font-src 'self'; connect-src 'self'; frame-ancestors 'none'",
			nonce,
		))
		c.Set(fiber.HeaderXContentTypeOptions, "nosniff")
		c.Set(fiber.HeaderXFrameOptions, "DENY")
		c.Set(fiber.HeaderReferrerPolicy, "strict-origin-when-cross-origin")
		c.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=()")

		if c.Protocol() == "https" {
			c.Set(fiber.HeaderStrictTransportSecurity, "max-age=31536000; includeSubDomains")
		}

		return c.Next()
	}
}

// RequestLogger assigns each request a correlation identifier, logs it with
// latency, and flags 403 responses as unauthorized-access events.
func (sm *SecurityMiddleware) RequestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		requestID := uuid.NewString()
		c.Locals("request_id", requestID)
		c.Set("X-Request-ID", requestID)

		err := c.Next()

		latency := time.Since(start)
		status := c.Response().StatusCode()

		sm.logger.HTTPRequest(requestID, c.Method(), c.Path(), status, latency.Milliseconds(), c.IP(), c.Get(fiber.HeaderUserAgent))

		if status == fiber.StatusForbidden {
			var actorID *int
			if id, ok := c.Locals(sessions.KeyUserID).(int); ok {
				actorID = &id
			}
			actorEmail, _ := c.Locals(sessions.KeyUserEmail).(string)

			sm.logger.SecurityEvent(security.EventUnauthorizedAccess, actorID, actorEmail, c.IP(), c.Get(fiber.HeaderUserAgent),
				map[string]interface{}{
					"method": c.Method(),
					"path":   c.Path(),
				})
		}

		return err
	}
}

// CSRFProtection validates the per-form token on state-changing methods.
// The form key is the request path; the token arrives in the X-CSRF-Token
// header or the csrf_token form field. Validation consumes the stored token
// whatever the outcome.
func (sm *SecurityMiddleware) CSRFProtection() fiber.Handler {
	return func(c *fiber.Ctx) error {
		switch c.Method() {
		case fiber.MethodPost, fiber.MethodPut, fiber.MethodDelete, fiber.MethodPatch:
		default:
			return c.Next()
		}

		sess, owned, err := sm.manager.Acquire(c)
		if err != nil {
			return c.Status(fiber.StatusForbidden).SendString("Invalid session")
		}

		presented := c.Get("X-CSRF-Token")
		if presented == "" {
			presented = c.FormValue("csrf_token")
		}

		if !sm.vault.Validate(sess, c.Path(), presented) {
			// The consumed entry still has to persist; the guard saves a
			// shared session after this return.
			if owned {
				_ = sess.Save()
			}

			sm.logger.SecurityEvent(security.EventCSRFViolation, nil, "", c.IP(), c.Get(fiber.HeaderUserAgent),
				map[string]interface{}{
					"method": c.Method(),
					"path":   c.Path(),
				})

			return c.Status(fiber.StatusForbidden).SendString("CSRF token invalid")
		}
		if owned {
			if err := sess.Save(); err != nil {
				return err
			}
		}

		return c.Next()
	}
}

// SetCSRFToken issues (or reuses) the token for the current path and makes
// it available to templates as Locals("csrf_token").
func (sm *SecurityMiddleware) SetCSRFToken() fiber.Handler {
	return func(c *fiber.Ctx) error {
		sess, owned, err := sm.manager.Acquire(c)
		if err != nil {
			return c.Next()
		}

		token, err := sm.vault.Issue(sess, c.Path())
		if err != nil {
			return c.Next()
		}
		if owned {
			if err := sess.Save(); err != nil {
				return err
			}
		}

		c.Locals("csrf_token", token)
		return c.Next()
	}
}
