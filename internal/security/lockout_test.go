package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLockout_LocksAtThreshold(t *testing.T) {
	lockout := NewAccountLockout(3, 30*time.Minute)

	assert.False(t, lockout.RecordFailedAttempt("ops@facilityhub.test"))
	assert.False(t, lockout.RecordFailedAttempt("ops@facilityhub.test"))
	assert.True(t, lockout.RecordFailedAttempt("ops@facilityhub.test"), "third strike locks")
	assert.True(t, lockout.IsLocked("ops@facilityhub.test"))
}

func TestLockout_AccountsAreIndependent(t *testing.T) {
	lockout := NewAccountLockout(2, 30*time.Minute)

	lockout.RecordFailedAttempt("a@facilityhub.test")
	lockout.RecordFailedAttempt("a@facilityhub.test")

	assert.True(t, lockout.IsLocked("a@facilityhub.test"))
	assert.False(t, lockout.IsLocked("b@facilityhub.test"))
}

func TestLockout_ExpiresAfterDuration(t *testing.T) {
	lockout := NewAccountLockout(2, 30*time.Minute)

	base := time.Now()
	lockout.now = func() time.Time { return base }
	lockout.RecordFailedAttempt("ops@facilityhub.test")
	lockout.RecordFailedAttempt("ops@facilityhub.test")
	assert.True(t, lockout.IsLocked("ops@facilityhub.test"))

	lockout.now = func() time.Time { return base.Add(31 * time.Minute) }
	assert.False(t, lockout.IsLocked("ops@facilityhub.test"))
}

func TestLockout_RemainingCountsDown(t *testing.T) {
	lockout := NewAccountLockout(1, 30*time.Minute)

	base := time.Now()
	lockout.now = func() time.Time { return base }
	lockout.RecordFailedAttempt("ops@facilityhub.test")

	lockout.now = func() time.Time { return base.Add(10 * time.Minute) }
	assert.Equal(t, 20*time.Minute, lockout.LockoutRemaining("ops@facilityhub.test"))

	assert.Zero(t, lockout.LockoutRemaining("unknown@facilityhub.test"))
}

func TestLockout_QuietPeriodResetsCounter(t *testing.T) {
	lockout := NewAccountLockout(3, 30*time.Minute)

	base := time.Now()
	lockout.now = func() time.Time { return base }
	lockout.RecordFailedAttempt("ops@facilityhub.test")
	lockout.RecordFailedAttempt("ops@facilityhub.test")

	// 31 minutes of quiet wipes the old failures; the next one starts at 1.
	lockout.now = func() time.Time { return base.Add(31 * time.Minute) }
	assert.False(t, lockout.RecordFailedAttempt("ops@facilityhub.test"))
	assert.False(t, lockout.IsLocked("ops@facilityhub.test"))
}

func TestLockout_SuccessfulLoginResets(t *testing.T) {
	lockout := NewAccountLockout(3, 30*time.Minute)

	lockout.RecordFailedAttempt("ops@facilityhub.test")
	lockout.RecordFailedAttempt("ops@facilityhub.test")
	lockout.ResetAttempts("ops@facilityhub.test")

	assert.False(t, lockout.RecordFailedAttempt("ops@facilityhub.test"))
	assert.False(t, lockout.IsLocked("ops@facilityhub.test"))
}
