// Package handlers implements the HTTP pages of the security core: login,
// logout, and the step-up challenge. Business pages (booking, incidents,
// training) live elsewhere and consume the core through the middleware gate.
package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/openfacil/facilityhub/internal/audit"
	"github.com/openfacil/facilityhub/internal/middleware"
	"github.com/openfacil/facilityhub/internal/repository"
	"github.com/openfacil/facilityhub/internal/security"
	"github.com/openfacil/facilityhub/internal/services"
	"github.com/openfacil/facilityhub/internal/sessions"
)

// AuthHandler handles login, logout, and the step-up challenge.
type AuthHandler struct {
	manager     *sessions.Manager
	registry    *sessions.Registry
	authService *services.AuthService
	userRepo    *repository.UserRepository
	stepUp      *security.StepUpAuthenticator
	lockout     *security.AccountLockout
	trail       *audit.Trail
	logger      *security.Logger
	config      *security.SecurityConfig
}

// NewAuthHandler creates an AuthHandler with its dependencies.
func NewAuthHandler(
	manager *sessions.Manager,
	registry *sessions.Registry,
	authService *services.AuthService,
	userRepo *repository.UserRepository,
	stepUp *security.StepUpAuthenticator,
	lockout *security.AccountLockout,
	trail *audit.Trail,
	logger *security.Logger,
	config *security.SecurityConfig,
) *AuthHandler {
	return &AuthHandler{
		manager:     manager,
		registry:    registry,
		authService: authService,
		userRepo:    userRepo,
		stepUp:      stepUp,
		lockout:     lockout,
		trail:       trail,
		logger:      logger,
		config:      config,
	}
}

// ShowLogin renders the login page.
func (h *AuthHandler) ShowLogin(c *fiber.Ctx) error {
	notice := ""
	if sess, owned, err := h.manager.Acquire(c); err == nil {
		notice = h.manager.PopFlash(sess, "notice")
		if owned {
			_ = sess.Save()
		}
	}
	return c.Render("login", fiber.Map{
		"Title":  "Sign in - FacilityHub",
		"Notice": notice,
	}, "layouts/blank")
}

// Login authenticates credentials, rotates the session identifier, registers
// the session as the single active one for this device, and records the
// outcome on the audit trail.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	email := c.FormValue("email")
	password := c.FormValue("password")
	userAgent := c.Get(fiber.HeaderUserAgent)

	if h.lockout.IsLocked(email) {
		remaining := h.lockout.LockoutRemaining(email)
		h.logger.SecurityEvent(security.EventAccountLocked, nil, email, c.IP(), userAgent,
			map[string]interface{}{"locked_for": remaining.String()})
		return c.Status(fiber.StatusTooManyRequests).Render("login", fiber.Map{
			"Error": "Account temporarily locked. Try again later.",
		}, "layouts/blank")
	}

	user, err := h.authService.Authenticate(c.Context(), email, password)
	if err != nil {
		locked := h.lockout.RecordFailedAttempt(email)
		h.logger.SecurityEvent(security.EventLoginFailure, nil, email, c.IP(), userAgent,
			map[string]interface{}{"locked": locked})

		return c.Status(fiber.StatusUnauthorized).Render("login", fiber.Map{
			"Error": "Invalid email or password",
		}, "layouts/blank")
	}

	h.lockout.ResetAttempts(email)

	sess, owned, err := h.manager.Acquire(c)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).SendString("Internal server error")
	}
	if err := h.manager.SignIn(c, sess, user.ID, user.Email, user.Name, user.Role); err != nil {
		return c.Status(fiber.StatusInternalServerError).SendString("Internal server error")
	}
	sessionID := sess.ID()
	if owned {
		h.manager.Touch(sess)
		if err := sess.Save(); err != nil {
			return c.Status(fiber.StatusInternalServerError).SendString("Internal server error")
		}
	}

	fingerprint := security.Fingerprint(userAgent, c.IP())
	if err := h.registry.Register(c.Context(), user.ID, fingerprint, sessionID); err != nil {
		// A registry outage must not lock everyone out of the portal; the
		// session stands and the failure is loud in the security log.
		h.logger.Error("register active session", err)
	}

	h.logger.SecurityEvent(security.EventLoginSuccess, &user.ID, user.Email, c.IP(), userAgent,
		map[string]interface{}{"role": user.Role})
	h.trail.Record(c.Context(), &user.ID, "LOGIN", "user", &user.ID, c.IP(), userAgent, nil)

	switch user.Role {
	case security.RoleAdmin:
		return c.Redirect("/admin/dashboard")
	case security.RoleMaintenance:
		return c.Redirect("/maintenance/queue")
	default:
		return c.Redirect("/staff/dashboard")
	}
}

// Logout deregisters the device's active session, destroys the session, and
// clears the step-up cookie.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	sess, _, err := h.manager.Acquire(c)
	if err != nil {
		return c.Redirect("/login")
	}

	userID, authenticated := sess.Get(sessions.KeyUserID).(int)
	userEmail, _ := sess.Get(sessions.KeyUserEmail).(string)
	userAgent := c.Get(fiber.HeaderUserAgent)

	if authenticated {
		fingerprint := security.Fingerprint(userAgent, c.IP())
		if err := h.registry.Deregister(c.Context(), userID, fingerprint); err != nil {
			h.logger.Error("deregister active session", err)
		}

		h.logger.SecurityEvent(security.EventLogout, &userID, userEmail, c.IP(), userAgent, nil)
		h.trail.Record(c.Context(), &userID, "LOGOUT", "user", &userID, c.IP(), userAgent, nil)
	}

	if err := h.manager.Discard(c, sess); err != nil {
		h.logger.Error("destroy session on logout", err)
	}
	c.ClearCookie(h.config.StepUpCookieName)

	return c.Redirect("/login")
}

// ShowStepUp renders the step-up challenge page for a signed-in user about
// to use a sensitive capability.
func (h *AuthHandler) ShowStepUp(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)
	if user == nil {
		return c.Redirect("/login")
	}
	return c.Render("stepup", fiber.Map{
		"Title":  "Confirm your identity - FacilityHub",
		"Return": c.Query("return", "/"),
	})
}

// StepUp re-verifies the user's password and, on success, issues the
// short-lived step-up token as a SameSite=Strict cookie.
func (h *AuthHandler) StepUp(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)
	if user == nil {
		return c.Redirect("/login")
	}
	userAgent := c.Get(fiber.HeaderUserAgent)

	full, err := h.userRepo.FindByID(c.Context(), user.ID)
	if err != nil || !h.authService.VerifyPassword(full, c.FormValue("password")) {
		h.logger.SecurityEvent(security.EventStepUpRejected, &user.ID, user.Email, c.IP(), userAgent,
			map[string]interface{}{"reason": "password_mismatch"})
		return c.Status(fiber.StatusUnauthorized).Render("stepup", fiber.Map{
			"Error":  "Password incorrect",
			"Return": c.FormValue("return", "/"),
		})
	}

	token, err := h.stepUp.Issue(user.ID, user.Role)
	if err != nil {
		h.logger.Error("issue step-up token", err)
		return c.Status(fiber.StatusInternalServerError).SendString("Internal server error")
	}

	c.Cookie(&fiber.Cookie{
		Name:     h.config.StepUpCookieName,
		Value:    token,
		Expires:  time.Now().Add(h.stepUp.TTL()),
		Secure:   h.config.SessionSecure,
		HTTPOnly: true,
		SameSite: "Strict",
		Path:     "/",
	})

	h.logger.SecurityEvent(security.EventStepUpIssued, &user.ID, user.Email, c.IP(), userAgent, nil)
	h.trail.Record(c.Context(), &user.ID, "STEPUP_ISSUED", "user", &user.ID, c.IP(), userAgent, nil)

	target := c.FormValue("return", "/")
	return c.Redirect(target)
}
