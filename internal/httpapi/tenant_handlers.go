package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"gatehouse.org/internal/rbac"
)

type createTenantRequest struct {
	Name string `json:"name"`
}

func (a *API) handleTenants(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		principal, ok := a.ensurePermission(w, r, rbac.PermTenantsRead)
		if !ok {
			return
		}
		tenants, err := a.directory.ListTenants(r.Context(), principal)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tenants": tenants})
	case http.MethodPost:
		principal, ok := a.ensurePermission(w, r, rbac.PermTenantsCreate)
		if !ok {
			return
		}
		var req createTenantRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		tenant, err := a.directory.CreateTenant(r.Context(), principal, req.Name)
		if err != nil {
			handleError(w, r, err)
			return
		}
		a.audit(r, "tenant.create", "tenant", tenant.ID, map[string]any{"name": tenant.Name})
		w.Header().Set("Location", fmt.Sprintf("/v1/tenants/%s", tenant.ID))
		writeJSON(w, http.StatusCreated, tenant)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleTenantResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/tenants/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	tenantID := parts[0]

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		principal, ok := a.ensurePermission(w, r, rbac.PermTenantsRead)
		if !ok {
			return
		}
		tenant, err := a.directory.GetTenant(r.Context(), principal, tenantID)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, tenant)
	case len(parts) == 2 && parts[1] == "deactivate":
		a.handleTenantStatus(w, r, tenantID, false)
	case len(parts) == 2 && parts[1] == "reactivate":
		a.handleTenantStatus(w, r, tenantID, true)
	case len(parts) == 2 && parts[1] == "sessions":
		a.handleTenantSessions(w, r, tenantID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleTenantStatus(w http.ResponseWriter, r *http.Request, tenantID string, activate bool) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := a.ensurePermission(w, r, rbac.PermTenantsUpdate)
	if !ok {
		return
	}
	if activate {
		tenant, err := a.directory.ReactivateTenant(r.Context(), principal, tenantID)
		if err != nil {
			handleError(w, r, err)
			return
		}
		a.audit(r, "tenant.reactivate", "tenant", tenantID, nil)
		writeJSON(w, http.StatusOK, tenant)
		return
	}
	tenant, err := a.directory.DeactivateTenant(r.Context(), principal, tenantID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	// A disabled tenant keeps no live sessions.
	if err := a.sessions.RevokeTenantSessions(r.Context(), tenantID); err != nil {
		handleError(w, r, err)
		return
	}
	a.audit(r, "tenant.deactivate", "tenant", tenantID, nil)
	writeJSON(w, http.StatusOK, tenant)
}

func (a *API) handleTenantSessions(w http.ResponseWriter, r *http.Request, tenantID string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	principal, ok := a.ensurePermission(w, r, rbac.PermSessionsRevoke)
	if !ok {
		return
	}
	if _, err := a.directory.GetTenant(r.Context(), principal, tenantID); err != nil {
		handleError(w, r, err)
		return
	}
	if err := a.sessions.RevokeTenantSessions(r.Context(), tenantID); err != nil {
		handleError(w, r, err)
		return
	}
	a.audit(r, "tenant.sessions.revoke", "tenant", tenantID, nil)
	w.WriteHeader(http.StatusNoContent)
}
