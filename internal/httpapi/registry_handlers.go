package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"authhub/internal/authz"
	"authhub/internal/endpoints"
	"authhub/internal/onboarding"
)

const idempotencyHeader = "Idempotency-Key"

type endpointView struct {
	ID                  string    `json:"id"`
	ServiceName         string    `json:"serviceName"`
	Path                string    `json:"path"`
	Method              string    `json:"method"`
	Description         string    `json:"description"`
	IsPublic            bool      `json:"isPublic"`
	RequiredPermissions []string  `json:"requiredPermissions"`
	RequiredRoles       []string  `json:"requiredRoles"`
	Version             int       `json:"version"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

func viewOf(e endpoints.Endpoint) endpointView {
	spec := e.Spec()
	return endpointView{
		ID:                  e.ID,
		ServiceName:         e.ServiceName,
		Path:                e.Path,
		Method:              e.Method,
		Description:         e.Description,
		IsPublic:            e.IsPublic,
		RequiredPermissions: spec.RequiredPermissions,
		RequiredRoles:       spec.RequiredRoles,
		Version:             e.Version,
		CreatedAt:           e.CreatedAt,
		UpdatedAt:           e.UpdatedAt,
	}
}

type specResponse struct {
	Endpoints []endpoints.Spec `json:"endpoints"`
}

func (a *API) handleExportSpec(w http.ResponseWriter, r *http.Request) {
	specs, err := a.endpoints.ExportSpec(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, specResponse{Endpoints: specs})
}

func (a *API) handleRegisterEndpoint(w http.ResponseWriter, r *http.Request) {
	var reg endpoints.Registration
	if err := decodeJSON(r, &reg); err != nil {
		a.fail(w, r, err)
		return
	}
	ep, err := a.endpoints.Register(r.Context(), reg)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	_ = a.audit.LogEvent(r.Context(), "endpoint.register",
		zap.String("endpoint_id", ep.ID), zap.String("service", ep.ServiceName),
		zap.String("method", ep.Method), zap.String("path", ep.Path))
	w.Header().Set("Location", fmt.Sprintf("/v1/endpoints/%s", ep.ID))
	writeJSON(w, http.StatusCreated, viewOf(ep))
}

func (a *API) handleUpdateEndpoint(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var patch endpoints.Patch
	if err := decodeJSON(r, &patch); err != nil {
		a.fail(w, r, err)
		return
	}
	ep, err := a.endpoints.Update(r.Context(), id, patch)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	_ = a.audit.LogEvent(r.Context(), "endpoint.update", zap.String("endpoint_id", ep.ID), zap.Int("version", ep.Version))
	writeJSON(w, http.StatusOK, viewOf(ep))
}

func (a *API) handleDeleteEndpoint(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.endpoints.Delete(r.Context(), id); err != nil {
		a.fail(w, r, err)
		return
	}
	_ = a.audit.LogEvent(r.Context(), "endpoint.delete", zap.String("endpoint_id", id))
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleDecision(w http.ResponseWriter, r *http.Request) {
	var req authz.Request
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if strings.TrimSpace(req.Path) == "" || strings.TrimSpace(req.Method) == "" {
		a.fail(w, r, invalid("path and method are required"))
		return
	}
	decision, err := a.authz.Decide(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func (a *API) handleOnboarding(w http.ResponseWriter, r *http.Request) {
	var req onboarding.Request
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	req.IdempotencyKey = strings.TrimSpace(r.Header.Get(idempotencyHeader))
	res, err := a.onboarding.Execute(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	_ = a.audit.LogEvent(r.Context(), "tenant.onboard",
		zap.String("tenant_id", res.TenantID), zap.String("user_id", res.UserID))
	writeJSON(w, http.StatusCreated, res)
}
