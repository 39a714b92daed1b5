// Package security - account lockout tracking for brute force protection.
package security

import (
	"sync"
	"time"
)

// AccountLockout tracks failed login attempts per account and locks accounts
// that exceed the threshold. State is in-process: a lockout is an extra speed
// bump on top of the shared rate limiter, not the primary defense.
type AccountLockout struct {
	lockouts map[string]*lockoutState
	mu       sync.Mutex

	threshold int
	duration  time.Duration

	now func() time.Time
}

type lockoutState struct {
	failedAttempts int
	lockedUntil    time.Time
	lastAttempt    time.Time
}

// NewAccountLockout creates a lockout tracker that locks an account for
// duration after threshold consecutive failures.
func NewAccountLockout(threshold int, duration time.Duration) *AccountLockout {
	return &AccountLockout{
		lockouts:  make(map[string]*lockoutState),
		threshold: threshold,
		duration:  duration,
		now:       time.Now,
	}
}

// RecordFailedAttempt records a failed login for identifier and reports
// whether the account is now locked. The failure counter resets on its own
// after 30 minutes of quiet.
func (al *AccountLockout) RecordFailedAttempt(identifier string) bool {
	al.mu.Lock()
	defer al.mu.Unlock()

	now := al.now()
	state, ok := al.lockouts[identifier]
	if !ok || now.Sub(state.lastAttempt) > 30*time.Minute {
		al.lockouts[identifier] = &lockoutState{failedAttempts: 1, lastAttempt: now}
		return false
	}

	state.failedAttempts++
	state.lastAttempt = now

	if state.failedAttempts >= al.threshold {
		state.lockedUntil = now.Add(al.duration)
		return true
	}
	return false
}

// IsLocked reports whether identifier is currently locked out.
func (al *AccountLockout) IsLocked(identifier string) bool {
	al.mu.Lock()
	defer al.mu.Unlock()

	state, ok := al.lockouts[identifier]
	if !ok || state.lockedUntil.IsZero() {
		return false
	}
	if al.now().After(state.lockedUntil) {
		delete(al.lockouts, identifier)
		return false
	}
	return true
}

// LockoutRemaining returns the time left on identifier's lockout, or zero.
func (al *AccountLockout) LockoutRemaining(identifier string) time.Duration {
	al.mu.Lock()
	defer al.mu.Unlock()

	state, ok := al.lockouts[identifier]
	if !ok || state.lockedUntil.IsZero() {
		return 0
	}
	remaining := state.lockedUntil.Sub(al.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ResetAttempts clears the failure counter for identifier.
// Call on successful login.
func (al *AccountLockout) ResetAttempts(identifier string) {
	al.mu.Lock()
	defer al.mu.Unlock()
	delete(al.lockouts, identifier)
}
