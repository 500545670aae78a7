package pg

import (
	"context"
	"encoding/json"
	"fmt"

	"gatehouse.org/internal/identity"
)

type auditStore struct {
	q querier
}

// Append writes one immutable audit row. There is no read path on purpose.
func (s *auditStore) Append(ctx context.Context, e *identity.AuditEntry) error {
	payload := []byte("{}")
	if len(e.Payload) > 0 {
		bytes, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		payload = bytes
	}
	_, err := s.q.ExecContext(ctx, `
		insert into audit_log (id, tenant_id, actor_id, action, resource_type, resource_id, payload, ip_address, user_agent, occurred_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, e.ID, nullStr(e.TenantID), nullStr(e.ActorID), e.Action, e.ResourceType, e.ResourceID, payload, e.IPAddress, e.UserAgent, e.OccurredAt)
	return err
}
