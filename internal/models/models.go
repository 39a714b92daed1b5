// Package models defines the domain entities for the FacilityHub portal's
// security core: user accounts, the active-session registry, and the audit
// trail. Business entities (bookings, incidents, training records) live with
// the pages that own them.
package models

import "time"

// User represents a portal account with role-based access control.
//
// Database Table: users
// Security Note: PasswordHash must never appear in API responses or logs.
// Phone is stored encrypted at rest (AES-GCM envelope).
type User struct {
	ID           int       `db:"id"`            // Primary key, auto-increment
	Email        string    `db:"email"`         // Unique, used for login
	Name         string    `db:"name"`          // Display name
	Role         string    `db:"role"`          // "admin", "staff" or "maintenance"
	Phone        string    `db:"phone"`         // Contact number, encrypted at rest
	PasswordHash string    `db:"password_hash"` // bcrypt hashed password
	CreatedAt    time.Time `db:"created_at"`    // Account creation timestamp
}

// CurrentUser is the authenticated identity a passed capability check hands
// to the page. It deliberately excludes the password hash.
type CurrentUser struct {
	ID    int
	Email string
	Name  string
	Role  string
}

// ActiveSession is one row of the single-active-session registry.
// At most one row exists per (user, device fingerprint); the stored token is
// a SHA-256 hash of the session identifier, never the identifier itself.
//
// Database Table: active_sessions
type ActiveSession struct {
	UserID       int       `db:"user_id"`
	Fingerprint  string    `db:"fingerprint"`
	SessionToken string    `db:"session_token"` // hashed
	LastSeen     time.Time `db:"last_seen"`
}

// AuditEvent is one entry of the audit trail.
//
// Database Table: audit_log
// Immutability: audit rows are never updated or deleted once written.
type AuditEvent struct {
	ID         int       // Primary key
	ActorID    *int      // User who performed the action (nil for system actions)
	Action     string    // Action type (e.g. "LOGIN", "APPROVE_MAINTENANCE")
	EntityType string    // Kind of entity affected (e.g. "booking", "user")
	EntityID   *int      // ID of the affected entity (nil when not applicable)
	IPAddress  string    // Source IP address
	UserAgent  string    // Browser/client identifier
	Details    string    // Free-form JSON detail blob
	CreatedAt  time.Time // When the action occurred
}
