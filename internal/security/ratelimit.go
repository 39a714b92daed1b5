// Package security - sliding-window rate limiting.
//
// Counters live in a shared bbolt file, not process memory, so every worker
// process serving the portal sees the same window state and concurrent
// read-modify-write cycles are serialized by the store's transactions.
package security

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// counterBucket is the single bbolt bucket holding all window counters.
var counterBucket = []byte("rate_counters")

// counterState is the persisted sliding-window record for one identity key.
type counterState struct {
	Count       int       `json:"count"`
	WindowStart time.Time `json:"window_start"`
}

// Decision is the outcome of one rate-limit check.
type Decision struct {
	Allowed    bool
	Count      int           // highest count observed across the identity keys
	Limit      int
	NearLimit  bool          // count reached 80% of the limit
	RetryAfter time.Duration // hint for the Retry-After header when rejected
}

// Limiter is a sliding-window request counter over a shared bbolt store.
//
// Each check may carry several identity keys (client-address-derived plus
// session-derived); all are incremented and the strictest one decides.
// IP-only limiting is evaded behind NAT, session-only limiting is evaded by
// re-authenticating; counting both raises the cost of either trick.
type Limiter struct {
	db *bbolt.DB

	now func() time.Time
}

// OpenLimiter opens (creating if needed) the shared counter store at path.
func OpenLimiter(path string) (*Limiter, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open rate limit store: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(counterBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init rate limit store: %w", err)
	}

	return &Limiter{db: db, now: time.Now}, nil
}

// Close releases the underlying store.
func (l *Limiter) Close() error {
	return l.db.Close()
}

// CheckAndIncrement counts the current request against every identity key in
// one store transaction and decides whether it may proceed.
//
// A counter whose window has aged out is reset before incrementing. The
// request is rejected when the highest counter exceeds limit; it is allowed
// but flagged NearLimit from 80% of limit upward.
func (l *Limiter) CheckAndIncrement(bucket string, identityKeys []string, limit int, window time.Duration) (Decision, error) {
	decision := Decision{Allowed: true, Limit: limit}
	if len(identityKeys) == 0 {
		return decision, nil
	}

	now := l.now()

	err := l.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(counterBucket)

		for _, identity := range identityKeys {
			key := []byte(bucket + "|" + HashToken(identity))

			state := counterState{WindowStart: now}
			if raw := b.Get(key); raw != nil {
				if err := json.Unmarshal(raw, &state); err != nil {
					state = counterState{WindowStart: now}
				}
			}

			if now.Sub(state.WindowStart) > window {
				state = counterState{WindowStart: now}
			}
			state.Count++

			raw, err := json.Marshal(state)
			if err != nil {
				return err
			}
			if err := b.Put(key, raw); err != nil {
				return err
			}

			if state.Count > decision.Count {
				decision.Count = state.Count
				remaining := window - now.Sub(state.WindowStart)
				if remaining < 0 {
					remaining = 0
				}
				decision.RetryAfter = remaining
			}
		}
		return nil
	})
	if err != nil {
		return Decision{Limit: limit}, fmt.Errorf("rate limit check: %w", err)
	}

	decision.Allowed = decision.Count <= limit
	decision.NearLimit = decision.Count*5 >= limit*4 // >= 80%
	return decision, nil
}

// Prune removes counters whose window started more than maxAge ago.
// Run periodically; nothing correctness-critical depends on it, stale
// counters are also reset lazily on their next hit.
func (l *Limiter) Prune(maxAge time.Duration) (int, error) {
	removed := 0
	cutoff := l.now().Add(-maxAge)

	err := l.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(counterBucket)
		c := b.Cursor()

		var stale [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var state counterState
			if err := json.Unmarshal(v, &state); err != nil || state.WindowStart.Before(cutoff) {
				stale = append(stale, append([]byte(nil), k...))
			}
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("prune rate limit store: %w", err)
	}
	return removed, nil
}
