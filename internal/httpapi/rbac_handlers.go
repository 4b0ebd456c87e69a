package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"authhub/internal/auth"
	"authhub/internal/rbac"
)

type roleIDsRequest struct {
	RoleIDs []string `json:"roleIds"`
}

type permissionsResponse struct {
	UserID      string   `json:"userId"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

func (a *API) handleUserPermissions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	claims, _ := auth.ClaimsFromContext(r.Context())
	if userID == "me" {
		userID = claims.UserID
	}
	if userID != claims.UserID {
		if err := requirePermission(r, rbac.PermPermissionsRead, rbac.PermRBACManage); err != nil {
			a.fail(w, r, err)
			return
		}
	}
	grants, err := a.rbac.ResolvePermissionsForUser(r.Context(), userID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, permissionsResponse{UserID: userID, Roles: grants.Roles, Permissions: grants.Permissions})
}

func (a *API) decodeRoleIDs(r *http.Request) ([]string, error) {
	var req roleIDsRequest
	if err := decodeJSON(r, &req); err != nil {
		return nil, err
	}
	if len(req.RoleIDs) == 0 {
		return nil, invalid("roleIds must not be empty")
	}
	return req.RoleIDs, nil
}

func (a *API) handleAssignRoles(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	roleIDs, err := a.decodeRoleIDs(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.rbac.AssignRoles(r.Context(), userID, roleIDs); err != nil {
		a.fail(w, r, err)
		return
	}
	_ = a.audit.LogEvent(r.Context(), "rbac.user.roles.assign",
		zap.String("user_id", userID), zap.String("role_ids", strings.Join(roleIDs, ",")))
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRevokeRoles(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	roleIDs, err := a.decodeRoleIDs(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.rbac.RevokeRoles(r.Context(), userID, roleIDs); err != nil {
		a.fail(w, r, err)
		return
	}
	_ = a.audit.LogEvent(r.Context(), "rbac.user.roles.revoke",
		zap.String("user_id", userID), zap.String("role_ids", strings.Join(roleIDs, ",")))
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleGrantPermission(w http.ResponseWriter, r *http.Request) {
	roleID, permID := chi.URLParam(r, "id"), chi.URLParam(r, "permissionID")
	if err := a.rbac.GrantPermission(r.Context(), roleID, permID); err != nil {
		a.fail(w, r, err)
		return
	}
	_ = a.audit.LogEvent(r.Context(), "rbac.role.permission.grant",
		zap.String("role_id", roleID), zap.String("permission_id", permID))
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRevokePermission(w http.ResponseWriter, r *http.Request) {
	roleID, permID := chi.URLParam(r, "id"), chi.URLParam(r, "permissionID")
	if err := a.rbac.RevokePermission(r.Context(), roleID, permID); err != nil {
		a.fail(w, r, err)
		return
	}
	_ = a.audit.LogEvent(r.Context(), "rbac.role.permission.revoke",
		zap.String("role_id", roleID), zap.String("permission_id", permID))
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	roleID := chi.URLParam(r, "id")
	if err := a.rbac.DeleteRole(r.Context(), roleID); err != nil {
		a.fail(w, r, err)
		return
	}
	_ = a.audit.LogEvent(r.Context(), "rbac.role.delete", zap.String("role_id", roleID))
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleDeletePermission(w http.ResponseWriter, r *http.Request) {
	permID := chi.URLParam(r, "id")
	if err := a.rbac.DeletePermission(r.Context(), permID); err != nil {
		a.fail(w, r, err)
		return
	}
	_ = a.audit.LogEvent(r.Context(), "rbac.permission.delete", zap.String("permission_id", permID))
	w.WriteHeader(http.StatusNoContent)
}
