// Package audit records mutating actions durably and mirrors them to the
// structured log. Entries are append-only; nothing in the platform reads
// them back.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"gatehouse.org/internal/identity"
	"gatehouse.org/internal/ids"
	"gatehouse.org/internal/obs"
)

// Recorder writes audit entries through the store's append-only sink.
type Recorder struct {
	store identity.Store
	now   func() time.Time
}

// NewRecorder constructs a recorder over the given store.
func NewRecorder(store identity.Store) (*Recorder, error) {
	if store == nil {
		return nil, errors.New("audit: store is required")
	}
	return &Recorder{store: store, now: time.Now}, nil
}

// Event describes one mutating action.
type Event struct {
	Actor        identity.Principal
	Action       string
	ResourceType string
	ResourceID   string
	Payload      map[string]any
	Meta         identity.RequestMeta
}

// Record persists the event and emits a matching log line. A store failure is
// returned to the caller; audit rows are not best-effort.
func (r *Recorder) Record(ctx context.Context, ev Event) error {
	action := strings.TrimSpace(ev.Action)
	if action == "" {
		return errors.New("audit: action is required")
	}
	entry := &identity.AuditEntry{
		ID:           ids.New(),
		Action:       action,
		ResourceType: ev.ResourceType,
		ResourceID:   ev.ResourceID,
		Payload:      ev.Payload,
		IPAddress:    ev.Meta.IPAddress,
		UserAgent:    ev.Meta.UserAgent,
		OccurredAt:   r.now().UTC(),
	}
	if ev.Actor.User != nil {
		entry.ActorID = &ev.Actor.User.ID
		entry.TenantID = ev.Actor.User.TenantID
	}
	if err := r.store.Audit().Append(ctx, entry); err != nil {
		return err
	}
	logLine(entry)
	return nil
}

func logLine(entry *identity.AuditEntry) {
	line := map[string]any{
		"ts":            entry.OccurredAt.Format(time.RFC3339Nano),
		"type":          "audit",
		"action":        entry.Action,
		"resource_type": entry.ResourceType,
	}
	if entry.ResourceID != "" {
		line["resource_id"] = entry.ResourceID
	}
	if entry.ActorID != nil {
		line["actor_id"] = *entry.ActorID
	}
	if entry.TenantID != nil {
		line["tenant_id"] = *entry.TenantID
	}
	data, err := json.Marshal(line)
	if err != nil {
		return
	}
	obs.Logger().Println(string(data))
}
