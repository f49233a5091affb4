package models

import (
	"time"

	"github.com/uptrace/bun"
)

type AdminAuditLog struct {
	bun.BaseModel `bun:"table:admin_audit_logs,alias:al"`

	ID            int64     `bun:"id,pk,autoincrement" json:"id"`
	CorrelationID string    `bun:"correlation_id,notnull,unique" json:"correlationId"`
	ActorUserID   string    `bun:"actor_user_id,notnull" json:"actorUserId"`
	Action        string    `bun:"action,notnull" json:"action"`
	EntityType    string    `bun:"entity_type,notnull" json:"entityType"`
	EntityID      string    `bun:"entity_id,notnull" json:"entityId"`
	Details       string    `bun:"details" json:"details,omitempty"`
	CreatedAt     time.Time `bun:"created_at,notnull" json:"createdAt"`
}
