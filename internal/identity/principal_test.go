package identity

import "testing"

func TestSlugsAllow(t *testing.T) {
	granted := map[string]struct{}{
		"users:create": {},
		"users:*":      {},
		"*:*":          {},
	}

	cases := []struct {
		required string
		want     bool
	}{
		{"users:create", true},
		{"users:delete", true}, // via users:*
		{"users:view", true},   // via users:*
		{"billing:view", false},
		{"billing:*", false},
		{"users", false},
		{"", false},
		{"*:anything", false}, // *:* is not a grant-everything slug
	}
	for _, tc := range cases {
		if got := SlugsAllow(granted, tc.required); got != tc.want {
			t.Errorf("SlugsAllow(%q) = %v, want %v", tc.required, got, tc.want)
		}
	}
}

func TestSlugsAllowExactOnly(t *testing.T) {
	granted := map[string]struct{}{"users:view": {}}

	if !SlugsAllow(granted, "users:view") {
		t.Fatalf("exact grant must match")
	}
	if SlugsAllow(granted, "users:create") {
		t.Fatalf("users:view must not satisfy users:create")
	}
}

func TestPrincipalScope(t *testing.T) {
	tenantID := "t1"
	system := NewPrincipal(&User{ID: "u1"}, &Role{ID: "r1"}, nil)
	scoped := NewPrincipal(&User{ID: "u2", TenantID: &tenantID}, &Role{ID: "r2"}, nil)

	if !system.IsSystem() || system.TenantID() != nil {
		t.Fatalf("nil tenant user must read as system")
	}
	if scoped.IsSystem() {
		t.Fatalf("tenant user must not read as system")
	}
	if got := scoped.TenantID(); got == nil || *got != tenantID {
		t.Fatalf("unexpected tenant id: %v", got)
	}
}

func TestPrincipalHasPermission(t *testing.T) {
	p := NewPrincipal(&User{ID: "u1"}, &Role{ID: "r1"}, []Permission{
		{ID: "p1", Slug: "roles:read"},
		{ID: "p2", Slug: "tenants:*"},
	})
	if !p.HasPermission("roles:read") {
		t.Fatalf("expected roles:read")
	}
	if !p.HasPermission("tenants:deactivate") {
		t.Fatalf("expected tenants:* to cover tenants:deactivate")
	}
	if p.HasPermission("roles:create") {
		t.Fatalf("roles:create was never granted")
	}
}
