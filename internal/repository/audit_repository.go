package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opsbridge/cmdb/internal/domain"
)

type auditRepository struct {
	pool *pgxpool.Pool
}

// NewAuditRepository creates the audit-log sink backed by the audit_events
// table.
func NewAuditRepository(pool *pgxpool.Pool) AuditRepository {
	return &auditRepository{pool: pool}
}

func (r *auditRepository) Record(ctx context.Context, event domain.AuditEvent) error {
	details, err := json.Marshal(event.Details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO audit_events (id, action, entity_kind, entity_id, actor, details)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New(), event.Action, event.EntityKind, event.EntityID, event.Actor, details)
	if err != nil {
		return fmt.Errorf("record audit event: %w", err)
	}
	return nil
}
