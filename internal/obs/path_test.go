package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                              "/",
		"/metrics":                      "/metrics",
		"/v1/auth/login":                "/v1/auth/login",
		"/v1/roles":                     "/v1/roles",
		"/v1/roles/01ABC":               "/v1/roles/:id",
		"/v1/roles/01ABC/deactivate":    "/v1/roles/:id/deactivate",
		"/v1/roles/01ABC/permissions":   "/v1/roles/:id/permissions",
		"/v1/roles/a/permissions/b":     "/v1/roles/:id/permissions/:permission_id",
		"/v1/users/01XYZ":               "/v1/users/:id",
		"/v1/tenants/01XYZ/deactivate":  "/v1/tenants/:id/deactivate",
		"/v1/permissions":               "/v1/permissions",
		"/v1/users/01XYZ?page=2":        "/v1/users/:id",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
