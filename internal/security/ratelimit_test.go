package security

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()

	limiter, err := OpenLimiter(filepath.Join(t.TempDir(), "ratelimit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { limiter.Close() })
	return limiter
}

func TestLimiter_RejectsAboveLimit(t *testing.T) {
	limiter := newTestLimiter(t)

	const limit = 120
	keys := []string{"ip|203.0.113.10"}

	for i := 1; i <= 125; i++ {
		decision, err := limiter.CheckAndIncrement("general", keys, limit, time.Minute)
		require.NoError(t, err)

		if i <= limit {
			assert.True(t, decision.Allowed, "request %d must pass", i)
		} else {
			assert.False(t, decision.Allowed, "request %d must be rejected", i)
			assert.Greater(t, decision.RetryAfter, time.Duration(0))
		}
	}
}

func TestLimiter_WindowResets(t *testing.T) {
	limiter := newTestLimiter(t)

	base := time.Now()
	limiter.now = func() time.Time { return base }

	keys := []string{"ip|203.0.113.10"}
	for i := 0; i < 5; i++ {
		decision, err := limiter.CheckAndIncrement("login", keys, 5, time.Minute)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	}

	decision, err := limiter.CheckAndIncrement("login", keys, 5, time.Minute)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)

	// Once the window has aged out the counter starts over.
	limiter.now = func() time.Time { return base.Add(61 * time.Second) }
	decision, err = limiter.CheckAndIncrement("login", keys, 5, time.Minute)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, 1, decision.Count)
}

func TestLimiter_StrictestIdentityDecides(t *testing.T) {
	limiter := newTestLimiter(t)

	// Exhaust the session-derived counter under a different IP first.
	for i := 0; i < 3; i++ {
		_, err := limiter.CheckAndIncrement("booking", []string{"ip|198.51.100.7", "sess|tok-1"}, 3, time.Minute)
		require.NoError(t, err)
	}

	// A new IP presenting the same session token is still over the limit.
	decision, err := limiter.CheckAndIncrement("booking", []string{"ip|203.0.113.99", "sess|tok-1"}, 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}

func TestLimiter_BucketsIndependent(t *testing.T) {
	limiter := newTestLimiter(t)

	keys := []string{"ip|203.0.113.10"}
	for i := 0; i < 3; i++ {
		_, err := limiter.CheckAndIncrement("login", keys, 3, time.Minute)
		require.NoError(t, err)
	}

	overLogin, err := limiter.CheckAndIncrement("login", keys, 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, overLogin.Allowed)

	general, err := limiter.CheckAndIncrement("general", keys, 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, general.Allowed, "other buckets keep their own counters")
}

func TestLimiter_NearLimitFlag(t *testing.T) {
	limiter := newTestLimiter(t)

	keys := []string{"ip|203.0.113.10"}
	var decisions []Decision
	for i := 0; i < 10; i++ {
		decision, err := limiter.CheckAndIncrement("export", keys, 10, time.Minute)
		require.NoError(t, err)
		decisions = append(decisions, decision)
	}

	assert.False(t, decisions[6].NearLimit, "7 of 10 is under the warning threshold")
	assert.True(t, decisions[7].NearLimit, "8 of 10 crosses 80%")
	assert.True(t, decisions[9].Allowed, "warning never blocks")
}

func TestLimiter_CountersSharedAcrossHandles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ratelimit.db")

	first, err := OpenLimiter(path)
	require.NoError(t, err)

	keys := []string{"ip|203.0.113.10"}
	for i := 0; i < 3; i++ {
		_, err := first.CheckAndIncrement("login", keys, 3, time.Minute)
		require.NoError(t, err)
	}
	require.NoError(t, first.Close())

	// A second handle on the same file sees the counters the first wrote,
	// as a second worker process would.
	second, err := OpenLimiter(path)
	require.NoError(t, err)
	defer second.Close()

	decision, err := second.CheckAndIncrement("login", keys, 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}

func TestLimiter_Prune(t *testing.T) {
	limiter := newTestLimiter(t)

	base := time.Now()
	limiter.now = func() time.Time { return base }
	_, err := limiter.CheckAndIncrement("login", []string{"ip|203.0.113.10"}, 5, time.Minute)
	require.NoError(t, err)

	limiter.now = func() time.Time { return base.Add(2 * time.Hour) }
	_, err = limiter.CheckAndIncrement("login", []string{"ip|203.0.113.99"}, 5, time.Minute)
	require.NoError(t, err)

	removed, err := limiter.Prune(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed, "only the aged counter is removed")
}
