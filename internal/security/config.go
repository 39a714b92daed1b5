// Package security provides the security primitives for the FacilityHub portal:
// envelope encryption, CSRF token management, rate limiting, request filtering,
// step-up authentication, device fingerprinting, and the capability matrix.
package security

import (
	"time"
)

// SecurityConfig holds all security-related configuration values.
// Defaults follow OWASP ASVS and NIST SP 800-63B recommendations.
type SecurityConfig struct {
	// Password storage
	BcryptCost int // Cost factor for bcrypt hashing (recommended: 12)

	// Session management
	SessionCookieName     string        // Name of the session cookie
	SessionIdleTimeout    time.Duration // Inactivity window before a session is destroyed
	SessionRotateInterval time.Duration // How often the session identifier is regenerated
	SessionSecure         bool          // Require HTTPS for session cookies
	SessionSameSite       string        // SameSite attribute for the session cookie

	// CSRF tokens
	CSRFTokenTTL time.Duration // Lifetime of a per-form CSRF token

	// Step-up authentication
	StepUpCookieName string        // Name of the step-up token cookie
	StepUpTokenTTL   time.Duration // Lifetime of a step-up token

	// Brute force protection
	AccountLockoutThreshold int           // Failed attempts before account lockout
	AccountLockoutDuration  time.Duration // How long an account stays locked

	// Rate limiting (sliding window)
	RateLimitWindow   time.Duration // Window length for request counters
	RateLimitGeneral  int           // Requests per window for regular pages
	RateLimitLogin    int           // Login attempts per window
	RateLimitBooking  int           // Booking mutations per window
	RateLimitIncident int           // Incident reports per window

	// Request filter
	MaxQueryStringLength int // Query strings above this are rejected with 413
	MaxBodyScanLength    int // Only the first N body bytes are pattern-scanned

	// Single-active-session registry
	RegistryStaleAfter time.Duration // Idle registry rows older than this are purged

	// Database
	QueryTimeout time.Duration
}

// DefaultSecurityConfig returns security configuration with recommended defaults.
func DefaultSecurityConfig() *SecurityConfig {
	return &SecurityConfig{
		// Bcrypt cost 12 = 2^12 rounds, per NIST SP 800-63B
		BcryptCost: 12,

		SessionCookieName:     "facilityhub_session",
		SessionIdleTimeout:    30 * time.Minute,
		SessionRotateInterval: 15 * time.Minute,
		SessionSecure:         true,
		SessionSameSite:       "Lax",

		CSRFTokenTTL: 15 * time.Minute,

		StepUpCookieName: "facilityhub_stepup",
		StepUpTokenTTL:   10 * time.Minute,

		AccountLockoutThreshold: 10,
		AccountLockoutDuration:  30 * time.Minute,

		RateLimitWindow:   time.Minute,
		RateLimitGeneral:  120,
		RateLimitLogin:    10,
		RateLimitBooking:  30,
		RateLimitIncident: 15,

		MaxQueryStringLength: 2048,
		MaxBodyScanLength:    64 * 1024,

		RegistryStaleAfter: 30 * time.Minute,

		QueryTimeout: 30 * time.Second,
	}
}
