// Package repository implements the data access layer for the FacilityHub
// security core: users, the active-session registry, and the audit trail.
package repository

import (
	"context"

	"github.com/openfacil/facilityhub/internal/database"
	"github.com/openfacil/facilityhub/internal/models"
)

// AuditRepository handles database operations for the audit trail.
//
// Immutability Note: audit rows are append-only. There is deliberately no
// update or delete method on this type.
type AuditRepository struct{}

// NewAuditRepository creates a new AuditRepository instance.
func NewAuditRepository() *AuditRepository {
	return &AuditRepository{}
}

// Log inserts one audit event and fills in its generated ID and timestamp.
//
// Callers treating the audit trail as best-effort must swallow the returned
// error themselves; the repository reports failures honestly.
func (r *AuditRepository) Log(ctx context.Context, event *models.AuditEvent) error {
	query := `
        INSERT INTO audit_log (actor_id, action, entity_type, entity_id, ip_address, user_agent, details)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING id, created_at
    `

	return database.DB.QueryRow(ctx, query,
		event.ActorID, event.Action, event.EntityType, event.EntityID,
		event.IPAddress, event.UserAgent, event.Details,
	).Scan(&event.ID, &event.CreatedAt)
}

// ListRecent retrieves the most recent audit events, newest first.
// Used by the admin audit viewer.
func (r *AuditRepository) ListRecent(ctx context.Context, limit int) ([]models.AuditEvent, error) {
	query := `
        SELECT
            id, actor_id, action, entity_type, entity_id,
            ip_address, user_agent, details, created_at
        FROM audit_log
        ORDER BY created_at DESC
        LIMIT $1
    `

	rows, err := database.DB.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.AuditEvent
	for rows.Next() {
		var event models.AuditEvent
		if err := rows.Scan(
			&event.ID,
			&event.ActorID, // nullable, nil for system actions
			&event.Action,
			&event.EntityType,
			&event.EntityID, // nullable
			&event.IPAddress,
			&event.UserAgent,
			&event.Details,
			&event.CreatedAt,
		); err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	return events, rows.Err()
}
