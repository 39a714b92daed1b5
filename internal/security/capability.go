// Package security - capability-based access control matrix.
package security

import (
	"errors"
	"fmt"
)

// Role names used by the portal. Kept as plain strings because they live in
// sessions and database rows.
const (
	RoleAdmin       = "admin"
	RoleStaff       = "staff"
	RoleMaintenance = "maintenance"
)

// CapabilityPolicy describes who may exercise one named capability and what
// extra checks apply.
type CapabilityPolicy struct {
	Roles     []string // roles allowed to use the capability
	Sensitive bool     // requires a valid step-up token
	LogAccess bool     // record an audit event on every access
}

// ErrUnknownCapability is returned when a route asks for a capability the
// matrix does not define. It fails closed: a typo must never grant access.
var ErrUnknownCapability = errors.New("unknown capability")

// ErrMisconfiguredCapability is returned for a defined capability with an
// empty role list.
var ErrMisconfiguredCapability = errors.New("capability has no allowed roles")

// Matrix is the static capability policy table. Built once at startup and
// immutable afterwards.
type Matrix struct {
	policies map[string]CapabilityPolicy
}

// DefaultMatrix returns the portal's capability table.
func DefaultMatrix() *Matrix {
	return NewMatrix(map[string]CapabilityPolicy{
		// Booking
		"booking.view":   {Roles: []string{RoleAdmin, RoleStaff, RoleMaintenance}},
		"booking.manage": {Roles: []string{RoleAdmin, RoleStaff}},

		// Incident reporting
		"incident.report": {Roles: []string{RoleAdmin, RoleStaff, RoleMaintenance}},
		"incident.triage": {Roles: []string{RoleAdmin, RoleMaintenance}, LogAccess: true},

		// Maintenance approvals require step-up: they release equipment back
		// into service.
		"maintenance.approve": {Roles: []string{RoleAdmin, RoleMaintenance}, Sensitive: true, LogAccess: true},

		// Training material
		"training.view": {Roles: []string{RoleAdmin, RoleStaff, RoleMaintenance}},

		// Administration
		"admin.core":  {Roles: []string{RoleAdmin}, Sensitive: true, LogAccess: true},
		"admin.users": {Roles: []string{RoleAdmin}, Sensitive: true, LogAccess: true},
		"audit.view":  {Roles: []string{RoleAdmin}, LogAccess: true},
	})
}

// NewMatrix builds a matrix from an explicit policy table.
func NewMatrix(policies map[string]CapabilityPolicy) *Matrix {
	copied := make(map[string]CapabilityPolicy, len(policies))
	for key, policy := range policies {
		copied[key] = policy
	}
	return &Matrix{policies: copied}
}

// Lookup returns the policy for capabilityKey. Unknown keys and empty role
// lists are configuration errors, reported so the caller can answer 500.
func (m *Matrix) Lookup(capabilityKey string) (CapabilityPolicy, error) {
	policy, ok := m.policies[capabilityKey]
	if !ok {
		return CapabilityPolicy{}, fmt.Errorf("%w: %s", ErrUnknownCapability, capabilityKey)
	}
	if len(policy.Roles) == 0 {
		return CapabilityPolicy{}, fmt.Errorf("%w: %s", ErrMisconfiguredCapability, capabilityKey)
	}
	return policy, nil
}

// Allows reports whether role is listed for the policy.
func (p CapabilityPolicy) Allows(role string) bool {
	for _, allowed := range p.Roles {
		if allowed == role {
			return true
		}
	}
	return false
}
