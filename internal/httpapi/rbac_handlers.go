package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"gatehouse.org/internal/rbac"
)

type createRoleRequest struct {
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	TenantID      *string  `json:"tenant_id"`
	PermissionIDs []string `json:"permission_ids"`
}

type updateRoleRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

type attachPermissionsRequest struct {
	PermissionIDs []string `json:"permission_ids"`
}

func (a *API) handleRoles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		principal, ok := a.ensurePermission(w, r, rbac.PermRolesRead)
		if !ok {
			return
		}
		roles, err := a.rbac.VisibleRoles(r.Context(), principal)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
	case http.MethodPost:
		principal, ok := a.ensurePermission(w, r, rbac.PermRolesCreate)
		if !ok {
			return
		}
		var req createRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role, err := a.rbac.CreateRole(r.Context(), principal, rbac.CreateRoleInput{
			Name:          req.Name,
			Description:   req.Description,
			TenantID:      req.TenantID,
			PermissionIDs: req.PermissionIDs,
		})
		if err != nil {
			handleError(w, r, err)
			return
		}
		a.audit(r, "role.create", "role", role.ID, map[string]any{"name": role.Name})
		w.Header().Set("Location", fmt.Sprintf("/v1/roles/%s", role.ID))
		writeJSON(w, http.StatusCreated, role)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleRoleResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/roles/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	roleID := parts[0]

	switch {
	case len(parts) == 1:
		a.handleRole(w, r, roleID)
	case len(parts) == 2 && parts[1] == "deactivate":
		a.handleRoleStatus(w, r, roleID, false)
	case len(parts) == 2 && parts[1] == "reactivate":
		a.handleRoleStatus(w, r, roleID, true)
	case len(parts) == 2 && parts[1] == "permissions":
		a.handleRolePermissions(w, r, roleID)
	case len(parts) == 3 && parts[1] == "permissions":
		a.handleRolePermission(w, r, roleID, parts[2])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleRole(w http.ResponseWriter, r *http.Request, roleID string) {
	switch r.Method {
	case http.MethodGet:
		principal, ok := a.ensurePermission(w, r, rbac.PermRolesRead)
		if !ok {
			return
		}
		role, err := a.rbac.GetRole(r.Context(), principal, roleID)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, role)
	case http.MethodPatch:
		principal, ok := a.ensurePermission(w, r, rbac.PermRolesUpdate)
		if !ok {
			return
		}
		var req updateRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role, err := a.rbac.UpdateRole(r.Context(), principal, roleID, rbac.RoleUpdate{
			Name:        req.Name,
			Description: req.Description,
		})
		if err != nil {
			handleError(w, r, err)
			return
		}
		a.audit(r, "role.update", "role", roleID, nil)
		writeJSON(w, http.StatusOK, role)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch)
	}
}

func (a *API) handleRoleStatus(w http.ResponseWriter, r *http.Request, roleID string, activate bool) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := a.ensurePermission(w, r, rbac.PermRolesUpdate)
	if !ok {
		return
	}
	if activate {
		role, err := a.rbac.ReactivateRole(r.Context(), principal, roleID)
		if err != nil {
			handleError(w, r, err)
			return
		}
		a.audit(r, "role.reactivate", "role", roleID, nil)
		writeJSON(w, http.StatusOK, role)
		return
	}
	role, err := a.rbac.DeactivateRole(r.Context(), principal, roleID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.audit(r, "role.deactivate", "role", roleID, nil)
	writeJSON(w, http.StatusOK, role)
}

func (a *API) handleRolePermissions(w http.ResponseWriter, r *http.Request, roleID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := a.ensurePermission(w, r, rbac.PermRolesUpdate)
	if !ok {
		return
	}
	var req attachPermissionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.rbac.AttachPermissions(r.Context(), principal, roleID, req.PermissionIDs); err != nil {
		handleError(w, r, err)
		return
	}
	a.audit(r, "role.permissions.attach", "role", roleID, map[string]any{"permission_ids": req.PermissionIDs})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRolePermission(w http.ResponseWriter, r *http.Request, roleID, permissionID string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	principal, ok := a.ensurePermission(w, r, rbac.PermRolesUpdate)
	if !ok {
		return
	}
	if err := a.rbac.DetachPermission(r.Context(), principal, roleID, permissionID); err != nil {
		handleError(w, r, err)
		return
	}
	a.audit(r, "role.permissions.detach", "role", roleID, map[string]any{"permission_id": permissionID})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.ensurePermission(w, r, rbac.PermPermissionsRead); !ok {
		return
	}
	perms, err := a.rbac.ListPermissions(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": perms})
}
