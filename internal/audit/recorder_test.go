package audit

import (
	"context"
	"testing"

	"gatehouse.org/internal/identity"
	"gatehouse.org/internal/identity/identitytest"
)

func TestRecordPersistsEntry(t *testing.T) {
	store := identitytest.New()
	rec, err := NewRecorder(store)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}

	tenantID := "t1"
	actor := identity.NewPrincipal(
		&identity.User{ID: "u1", TenantID: &tenantID},
		&identity.Role{ID: "r1", Name: "admin"},
		nil,
	)
	err = rec.Record(context.Background(), Event{
		Actor:        actor,
		Action:       "role.create",
		ResourceType: "role",
		ResourceID:   "r2",
		Payload:      map[string]any{"name": "editor"},
		Meta:         identity.RequestMeta{IPAddress: "10.0.0.1", UserAgent: "curl"},
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	entries := store.AuditEntries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	got := entries[0]
	if got.Action != "role.create" || got.ResourceType != "role" || got.ResourceID != "r2" {
		t.Fatalf("unexpected entry: %+v", got)
	}
	if got.ActorID == nil || *got.ActorID != "u1" {
		t.Fatalf("expected actor id, got %+v", got.ActorID)
	}
	if got.TenantID == nil || *got.TenantID != tenantID {
		t.Fatalf("expected tenant id, got %+v", got.TenantID)
	}
	if got.ID == "" || got.OccurredAt.IsZero() {
		t.Fatalf("entry missing id or timestamp: %+v", got)
	}
}

func TestRecordRequiresAction(t *testing.T) {
	store := identitytest.New()
	rec, err := NewRecorder(store)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	if err := rec.Record(context.Background(), Event{Action: "   "}); err == nil {
		t.Fatalf("expected error for blank action")
	}
	if len(store.AuditEntries()) != 0 {
		t.Fatalf("nothing may be written on validation failure")
	}
}
