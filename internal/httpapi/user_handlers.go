package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"gatehouse.org/internal/identity"
	"gatehouse.org/internal/rbac"
)

type createUserRequest struct {
	Email     string  `json:"email"`
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
	TenantID  *string `json:"tenant_id"`
	RoleID    string  `json:"role_id"`
	Password  string  `json:"password"`
}

type updateUserRequest struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Status    *string `json:"status"`
	RoleID    *string `json:"role_id"`
}

type setPasswordRequest struct {
	Password string `json:"password"`
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		principal, ok := a.ensurePermission(w, r, rbac.PermUsersRead)
		if !ok {
			return
		}
		users, err := a.directory.ListUsers(r.Context(), principal)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"users": users})
	case http.MethodPost:
		principal, ok := a.ensurePermission(w, r, rbac.PermUsersCreate)
		if !ok {
			return
		}
		var req createUserRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		user, err := a.directory.CreateUser(r.Context(), principal, identity.CreateUserInput{
			Email:     req.Email,
			FirstName: req.FirstName,
			LastName:  req.LastName,
			TenantID:  req.TenantID,
			RoleID:    req.RoleID,
			Password:  req.Password,
		})
		if err != nil {
			handleError(w, r, err)
			return
		}
		a.audit(r, "user.create", "user", user.ID, map[string]any{"email": user.Email})
		w.Header().Set("Location", fmt.Sprintf("/v1/users/%s", user.ID))
		writeJSON(w, http.StatusCreated, user)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/users/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	userID := parts[0]

	switch {
	case len(parts) == 1:
		a.handleUser(w, r, userID)
	case len(parts) == 2 && parts[1] == "deactivate":
		a.handleUserDeactivate(w, r, userID)
	case len(parts) == 2 && parts[1] == "password":
		a.handleUserPassword(w, r, userID)
	case len(parts) == 2 && parts[1] == "totp":
		a.handleUserTOTP(w, r, userID)
	case len(parts) == 2 && parts[1] == "sessions":
		a.handleUserSessions(w, r, userID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleUser(w http.ResponseWriter, r *http.Request, userID string) {
	switch r.Method {
	case http.MethodGet:
		principal, ok := a.ensurePermission(w, r, rbac.PermUsersRead)
		if !ok {
			return
		}
		user, err := a.directory.GetUser(r.Context(), principal, userID)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	case http.MethodPatch:
		principal, ok := a.ensurePermission(w, r, rbac.PermUsersUpdate)
		if !ok {
			return
		}
		var req updateUserRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		user, err := a.directory.UpdateUser(r.Context(), principal, userID, identity.UserUpdate{
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Status:    req.Status,
			RoleID:    req.RoleID,
		})
		if err != nil {
			handleError(w, r, err)
			return
		}
		a.audit(r, "user.update", "user", userID, nil)
		writeJSON(w, http.StatusOK, user)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch)
	}
}

func (a *API) handleUserDeactivate(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := a.ensurePermission(w, r, rbac.PermUsersUpdate)
	if !ok {
		return
	}
	user, err := a.directory.DeactivateUser(r.Context(), principal, userID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	// A deactivated user keeps no live sessions.
	if err := a.sessions.RevokeUserSessions(r.Context(), userID); err != nil {
		handleError(w, r, err)
		return
	}
	a.audit(r, "user.deactivate", "user", userID, nil)
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleUserPassword(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	principal, ok := a.ensurePermission(w, r, rbac.PermUsersUpdate)
	if !ok {
		return
	}
	var req setPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.directory.SetPassword(r.Context(), principal, userID, req.Password); err != nil {
		handleError(w, r, err)
		return
	}
	// Credential changes invalidate existing sessions.
	if err := a.sessions.RevokeUserSessions(r.Context(), userID); err != nil {
		handleError(w, r, err)
		return
	}
	a.audit(r, "user.password.set", "user", userID, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleUserTOTP(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := a.ensurePermission(w, r, rbac.PermUsersUpdate)
	if !ok {
		return
	}
	url, err := a.directory.EnrollTOTP(r.Context(), principal, userID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.audit(r, "user.totp.enroll", "user", userID, nil)
	writeJSON(w, http.StatusCreated, map[string]any{"otpauth_url": url})
}

func (a *API) handleUserSessions(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	principal, ok := a.ensurePermission(w, r, rbac.PermSessionsRevoke)
	if !ok {
		return
	}
	if _, err := a.directory.GetUser(r.Context(), principal, userID); err != nil {
		handleError(w, r, err)
		return
	}
	if err := a.sessions.RevokeUserSessions(r.Context(), userID); err != nil {
		handleError(w, r, err)
		return
	}
	a.audit(r, "user.sessions.revoke", "user", userID, nil)
	w.WriteHeader(http.StatusNoContent)
}
