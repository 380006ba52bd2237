// Package models - audit_entry.go defines AuditEntry, the immutable record of one
// consequential action with the acting principal and before/after snapshots.
package models

import (
	"encoding/json"
	"time"
)

// AuditEntry represents a row of audit_logs
type AuditEntry struct {
	ID         int64           `json:"id"`
	ActorID    *int64          `json:"actor_id"`   // nil for system actions
	ActorType  string          `json:"actor_type"` // client, operator, administrator, system
	Action     string          `json:"action"`
	EntityType string          `json:"entity_type"`
	EntityID   *int64          `json:"entity_id"`
	Before     json.RawMessage `json:"before_snapshot"`
	After      json.RawMessage `json:"after_snapshot"`
	Metadata   map[string]any  `json:"metadata,omitempty"`
	SourceIP   string          `json:"source_ip"`
	UserAgent  string          `json:"user_agent"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Actor types recorded on audit entries.
const (
	ActorClient        = "client"
	ActorOperator      = "operator"
	ActorAdministrator = "administrator"
	ActorSystem        = "system"
)

// ActorTypeForRole maps a usuarios.rol value to the actor type it acts as.
func ActorTypeForRole(rol string) string {
	switch rol {
	case RoleAdministrator:
		return ActorAdministrator
	case RoleOperator:
		return ActorOperator
	default:
		return ActorClient
	}
}
