package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/openfacil/facilityhub/internal/database"
	"github.com/openfacil/facilityhub/internal/models"
)

// ErrNoActiveSession is returned when no registry row exists for a
// (user, fingerprint) pair.
var ErrNoActiveSession = errors.New("no active session registered")

// ActiveSessionRepository handles the single-active-session registry table.
// The table holds at most one row per (user, device fingerprint); the stored
// token is a hash of the session identifier.
type ActiveSessionRepository struct{}

// NewActiveSessionRepository creates a new ActiveSessionRepository instance.
func NewActiveSessionRepository() *ActiveSessionRepository {
	return &ActiveSessionRepository{}
}

// FindByFingerprint returns the registry row currently holding the device.
// Register keeps at most one owner per fingerprint, so a single row answers
// both "who owns this device" and "which session token is current".
// Returns ErrNoActiveSession when the device has no registration.
func (r *ActiveSessionRepository) FindByFingerprint(ctx context.Context, fingerprint string) (*models.ActiveSession, error) {
	query := `
        SELECT user_id, fingerprint, session_token, last_seen
        FROM active_sessions
        WHERE fingerprint = $1
        ORDER BY last_seen DESC
        LIMIT 1
    `

	var row models.ActiveSession
	err := database.DB.QueryRow(ctx, query, fingerprint).Scan(
		&row.UserID, &row.Fingerprint, &row.SessionToken, &row.LastSeen,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoActiveSession
	}
	if err != nil {
		return nil, fmt.Errorf("find active session: %w", err)
	}
	return &row, nil
}

// Upsert records sessionToken as the current session for (user, fingerprint),
// replacing any previous token for the pair.
func (r *ActiveSessionRepository) Upsert(ctx context.Context, userID int, fingerprint, sessionToken string) error {
	query := `
        INSERT INTO active_sessions (user_id, fingerprint, session_token, last_seen)
        VALUES ($1, $2, $3, now())
        ON CONFLICT (user_id, fingerprint)
        DO UPDATE SET session_token = EXCLUDED.session_token, last_seen = now()
    `

	if _, err := database.DB.Exec(ctx, query, userID, fingerprint, sessionToken); err != nil {
		return fmt.Errorf("upsert active session: %w", err)
	}
	return nil
}

// DeleteOtherUsers evicts registry rows for the same fingerprint owned by a
// different user. This is how a device reassigned to a new account forces the
// previous owner's session out.
func (r *ActiveSessionRepository) DeleteOtherUsers(ctx context.Context, fingerprint string, keepUserID int) (int64, error) {
	query := `DELETE FROM active_sessions WHERE fingerprint = $1 AND user_id <> $2`

	tag, err := database.DB.Exec(ctx, query, fingerprint, keepUserID)
	if err != nil {
		return 0, fmt.Errorf("evict other users: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Delete removes the registry row for (user, fingerprint). Used on logout.
func (r *ActiveSessionRepository) Delete(ctx context.Context, userID int, fingerprint string) error {
	query := `DELETE FROM active_sessions WHERE user_id = $1 AND fingerprint = $2`

	if _, err := database.DB.Exec(ctx, query, userID, fingerprint); err != nil {
		return fmt.Errorf("delete active session: %w", err)
	}
	return nil
}

// Touch updates last_seen for liveness pruning.
func (r *ActiveSessionRepository) Touch(ctx context.Context, userID int, fingerprint string) error {
	query := `UPDATE active_sessions SET last_seen = now() WHERE user_id = $1 AND fingerprint = $2`

	if _, err := database.DB.Exec(ctx, query, userID, fingerprint); err != nil {
		return fmt.Errorf("touch active session: %w", err)
	}
	return nil
}

// PurgeStale deletes rows idle since before the cutoff and returns how many
// were removed.
func (r *ActiveSessionRepository) PurgeStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `DELETE FROM active_sessions WHERE last_seen < $1`

	tag, err := database.DB.Exec(ctx, query, time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("purge stale sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
