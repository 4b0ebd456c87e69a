package httpapi

import (
	"net/http"

	"go.uber.org/zap"

	"authhub/internal/apperr"
	"authhub/internal/audit"
	"authhub/internal/auth"
)

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type jwksResponse struct {
	Keys []auth.JWK `json:"keys"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	pair, err := a.sessions.Login(r.Context(), req.Identifier, req.Password)
	if err != nil {
		if apperr.IsKind(err, apperr.InvalidCredentials) || apperr.IsKind(err, apperr.InvalidUserState) {
			_ = a.audit.LogEvent(r.Context(), "auth.login.rejected", zap.String("reason", apperr.KindOf(err).String()))
		}
		a.fail(w, r, err)
		return
	}
	if claims, err := a.tokens.Verify(pair.AccessToken); err == nil {
		ctx := audit.WithActor(r.Context(), claims.UserID)
		_ = a.audit.LogEvent(ctx, "auth.login", zap.String("tenant_id", claims.TenantID))
	}
	writeJSON(w, http.StatusOK, pair)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	pair, err := a.sessions.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	if err := a.sessions.Logout(r.Context(), claims.UserID); err != nil {
		a.fail(w, r, err)
		return
	}
	_ = a.audit.LogEvent(r.Context(), "auth.logout")
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSON(w, http.StatusOK, jwksResponse{Keys: a.sessions.JWKS()})
}
