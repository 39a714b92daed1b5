package sessions

import (
	"context"
	"errors"
	"time"

	"github.com/openfacil/facilityhub/internal/repository"
	"github.com/openfacil/facilityhub/internal/security"
)

// Registry enforces the single-active-session policy: one live session per
// (user, device fingerprint). The durable table lets every worker process
// see the same registration, which is what makes "signed out elsewhere"
// detection work.
type Registry struct {
	repo   *repository.ActiveSessionRepository
	logger *security.Logger

	staleAfter time.Duration
}

// NewRegistry creates a Registry over the active-session repository.
func NewRegistry(repo *repository.ActiveSessionRepository, config *security.SecurityConfig, logger *security.Logger) *Registry {
	return &Registry{
		repo:       repo,
		logger:     logger,
		staleAfter: config.RegistryStaleAfter,
	}
}

// Register records sessionToken as the user's current session on this
// device. Any registration for the same fingerprint held by a different user
// is evicted first: a shared terminal handed to a new account must not keep
// the previous owner signed in. The raw token is hashed before storage.
func (r *Registry) Register(ctx context.Context, userID int, fingerprint, sessionToken string) error {
	evicted, err := r.repo.DeleteOtherUsers(ctx, fingerprint, userID)
	if err != nil {
		return err
	}
	if evicted > 0 {
		r.logger.SecurityEvent(security.EventSessionEvicted, &userID, "", "", "",
			map[string]interface{}{"evicted_rows": evicted, "reason": "device_reassigned"})
	}

	return r.repo.Upsert(ctx, userID, fingerprint, security.HashToken(sessionToken))
}

// Verify checks the session against the device's registration on every
// authenticated request.
//
// Missing registration: the session is (re-)registered and accepted - the
// row may have been purged for staleness. Device owned by another user: the
// device was handed to a different account and this session lost it. Token
// mismatch: the same account logged in elsewhere on this device, or the
// registration was rotated out from under this browser. In both of the
// latter cases the caller must destroy the session and force
// re-authentication.
func (r *Registry) Verify(ctx context.Context, userID int, fingerprint, sessionToken string) (bool, error) {
	row, err := r.repo.FindByFingerprint(ctx, fingerprint)
	if errors.Is(err, repository.ErrNoActiveSession) {
		if err := r.repo.Upsert(ctx, userID, fingerprint, security.HashToken(sessionToken)); err != nil {
			return false, err
		}
		return true, nil
	}
	if err != nil {
		return false, err
	}

	if row.UserID != userID {
		r.logger.SecurityEvent(security.EventSessionEvicted, &userID, "", "", "",
			map[string]interface{}{"reason": "device_owned_by_other_user"})
		return false, nil
	}
	if row.SessionToken != security.HashToken(sessionToken) {
		r.logger.SecurityEvent(security.EventSessionEvicted, &userID, "", "", "",
			map[string]interface{}{"reason": "token_mismatch"})
		return false, nil
	}

	// Liveness for stale-row pruning; failure here is not worth failing the
	// request over.
	if err := r.repo.Touch(ctx, userID, fingerprint); err != nil {
		r.logger.Error("touch active session", err)
	}
	return true, nil
}

// Deregister removes the user's registration for the device. Used on logout.
func (r *Registry) Deregister(ctx context.Context, userID int, fingerprint string) error {
	return r.repo.Delete(ctx, userID, fingerprint)
}

// PurgeStale removes registrations idle past the configured threshold.
func (r *Registry) PurgeStale(ctx context.Context) (int64, error) {
	return r.repo.PurgeStale(ctx, r.staleAfter)
}
