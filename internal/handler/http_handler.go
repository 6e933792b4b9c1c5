package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"strconv"

	"github.com/pesio-ai/be-contracts-access/internal/approval"
	apperrors "github.com/pesio-ai/be-contracts-access/internal/errors"
	"github.com/pesio-ai/be-contracts-access/internal/identity"
	"github.com/pesio-ai/be-contracts-access/internal/logger"
	"github.com/pesio-ai/be-contracts-access/internal/policy"
	"github.com/pesio-ai/be-contracts-access/internal/rbac"
	"github.com/pesio-ai/be-contracts-access/internal/repository"
	"github.com/pesio-ai/be-contracts-access/internal/service"
	"github.com/pesio-ai/be-contracts-access/internal/terms"
)

// Deps are the collaborators the HTTP handler serves.
type Deps struct {
	Contracts *service.ContractService
	Approvals *approval.Engine
	Access    *rbac.Resolver
	Policy    *policy.Authorizer
	Roles     repository.RoleStore
	Terms     *terms.Service
	Paths     Paths
	// Ping reports store health; nil means always healthy.
	Ping func(ctx context.Context) error
}

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	contracts *service.ContractService
	approvals *approval.Engine
	access    *rbac.Resolver
	policy    *policy.Authorizer
	roles     repository.RoleStore
	terms     *terms.Service
	paths     Paths
	ping      func(ctx context.Context) error
	log       *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(deps Deps, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		contracts: deps.Contracts,
		approvals: deps.Approvals,
		access:    deps.Access,
		policy:    deps.Policy,
		roles:     deps.Roles,
		terms:     deps.Terms,
		paths:     deps.Paths,
		ping:      deps.Ping,
		log:       log.Component("http"),
	}
}

// Register installs every route on mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /api/v1/me/access", h.MyAccess)

	mux.HandleFunc("GET /api/v1/contracts", h.ListContracts)
	mux.HandleFunc("POST /api/v1/contracts", h.CreateContract)
	mux.HandleFunc("GET /api/v1/contracts/{id}", h.GetContract)
	mux.HandleFunc("PATCH /api/v1/contracts/{id}", h.UpdateContract)
	mux.HandleFunc("DELETE /api/v1/contracts/{id}", h.DeleteContract)
	mux.HandleFunc("GET /api/v1/contracts/{id}/approvals", h.ContractHistory)

	mux.HandleFunc("GET /api/v1/approvals/pending", h.PendingApprovals)
	mux.HandleFunc("POST /api/v1/approvals/{id}/approve", h.Approve)
	mux.HandleFunc("POST /api/v1/approvals/{id}/reject", h.Reject)

	mux.Handle("GET /api/v1/approval-rules", h.requirePolicy(policy.ObjectApprovalRules, policy.ActionRead, h.ListRules))
	mux.Handle("POST /api/v1/approval-rules", h.requirePolicy(policy.ObjectApprovalRules, policy.ActionWrite, h.CreateRule))
	mux.Handle("DELETE /api/v1/approval-rules/{id}", h.requirePolicy(policy.ObjectApprovalRules, policy.ActionWrite, h.DeactivateRule))

	mux.HandleFunc("GET /api/v1/terms", h.Terms)
	mux.HandleFunc("GET /admin/organisation", h.OrganisationAdmin)
}

// Health reports liveness and store reachability.
func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.ping != nil {
		if err := h.ping(r.Context()); err != nil {
			h.log.Warn().Err(err).Msg("health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// MyAccess returns the caller's access profile.
func (h *HTTPHandler) MyAccess(w http.ResponseWriter, r *http.Request) {
	profile, err := h.access.Profile(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// ── contracts ────────────────────────────────────────────────────────────────

// ListContracts handles list contracts HTTP requests
func (h *HTTPHandler) ListContracts(w http.ResponseWriter, r *http.Request) {
	contracts, err := h.contracts.ListContracts(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"contracts": contracts,
		"total":     len(contracts),
	})
}

// CreateContract handles create contract HTTP requests
func (h *HTTPHandler) CreateContract(w http.ResponseWriter, r *http.Request) {
	var req service.CreateContractRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.contracts.CreateContract(r.Context(), &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, mutationStatus(res, http.StatusCreated), res)
}

// GetContract handles get contract HTTP requests
func (h *HTTPHandler) GetContract(w http.ResponseWriter, r *http.Request) {
	contract, err := h.contracts.GetContract(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, contract)
}

// UpdateContract handles update contract HTTP requests
func (h *HTTPHandler) UpdateContract(w http.ResponseWriter, r *http.Request) {
	var req service.UpdateContractRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.contracts.UpdateContract(r.Context(), r.PathValue("id"), &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, mutationStatus(res, http.StatusOK), res)
}

// DeleteContract handles delete contract HTTP requests
func (h *HTTPHandler) DeleteContract(w http.ResponseWriter, r *http.Request) {
	res, err := h.contracts.DeleteContract(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, mutationStatus(res, http.StatusOK), res)
}

// ContractHistory returns the audit trail of one contract.
func (h *HTTPHandler) ContractHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.contracts.ContractHistory(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

// mutationStatus is 202 when any part of the change awaits approval.
func mutationStatus(res *service.MutationResult, applied int) int {
	if res.Held() {
		return http.StatusAccepted
	}
	return applied
}

// ── approvals ────────────────────────────────────────────────────────────────

// PendingApprovals returns the caller's reviewer inbox.
func (h *HTTPHandler) PendingApprovals(w http.ResponseWriter, r *http.Request) {
	pending, err := h.approvals.ListPendingForReviewer(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if pending == nil {
		pending = []repository.PendingApproval{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": pending})
}

// Approve handles approve request HTTP requests
func (h *HTTPHandler) Approve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Notes *string `json:"notes"`
	}
	if !decodeOptional(w, r, &req) {
		return
	}
	res, err := h.approvals.Approve(r.Context(), r.PathValue("id"), req.Notes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Reject handles reject request HTTP requests
func (h *HTTPHandler) Reject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if !decode(w, r, &req) {
		return
	}
	res, err := h.approvals.Reject(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ── approval rules ───────────────────────────────────────────────────────────

// requirePolicy gates a route on the casbin policy for the caller's roles.
// In shadow mode a refusal is logged and the request continues.
func (h *HTTPHandler) requirePolicy(object, action string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := identity.FromContext(r.Context())
		if !id.IsAuthenticated() {
			writeError(w, r, apperrors.AuthenticationRequired())
			return
		}
		roles, err := h.roles.RoleNamesForUser(r.Context(), id.UserID, id.OrganisationID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		allowed, enforced, err := h.policy.Authorize(roles, object, action)
		if err != nil {
			writeError(w, r, apperrors.Wrap(err, apperrors.ErrCodeInternal, "authorization failed"))
			return
		}
		if !allowed {
			h.log.Warn().
				Str("user_id", id.UserID).
				Str("object", object).
				Str("action", action).
				Bool("enforced", enforced).
				Msg("policy denied request")
			if enforced {
				writeError(w, r, apperrors.AccessDenied(fmt.Sprintf("%s on %s is not permitted", action, object)))
				return
			}
		}
		next(w, r)
	})
}

// ListRules returns the organisation's approval rules. Pass ?active=false
// to include deactivated rules.
func (h *HTTPHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	activeOnly := true
	if raw := r.URL.Query().Get("active"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, r, apperrors.InvalidInput("active", "active must be true or false"))
			return
		}
		activeOnly = v
	}
	rules, err := h.approvals.Catalog().ListRules(r.Context(), identity.FromContext(r.Context()).OrganisationID, activeOnly)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

// CreateRule adds an approval rule.
func (h *HTTPHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var in approval.RuleInput
	if !decode(w, r, &in) {
		return
	}
	id := identity.FromContext(r.Context())
	rule, err := h.approvals.Catalog().CreateRule(r.Context(), id.OrganisationID, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.log.Info().Str("rule_id", rule.ID).Str("created_by", id.UserID).Msg("approval rule created")
	writeJSON(w, http.StatusCreated, rule)
}

// DeactivateRule retires an approval rule. Requests it already raised stay open.
func (h *HTTPHandler) DeactivateRule(w http.ResponseWriter, r *http.Request) {
	id := identity.FromContext(r.Context())
	if err := h.approvals.Catalog().DeactivateRule(r.Context(), id.OrganisationID, r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── terms and admin ──────────────────────────────────────────────────────────

// Terms returns the organisation's naming preferences merged over defaults.
func (h *HTTPHandler) Terms(w http.ResponseWriter, r *http.Request) {
	id := identity.FromContext(r.Context())
	if !id.IsAuthenticated() {
		writeError(w, r, apperrors.AuthenticationRequired())
		return
	}
	t, err := h.terms.ForOrganisation(r.Context(), id.OrganisationID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"terms": t})
}

// OrganisationAdmin is the organisation administration landing page.
func (h *HTTPHandler) OrganisationAdmin(w http.ResponseWriter, r *http.Request) {
	d, err := h.access.RequireOrganisationAdmin(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !d.Allowed() {
		h.writeDecision(w, r, d)
		return
	}
	id := identity.FromContext(r.Context())
	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, map[string]string{"organisation_id": id.OrganisationID})
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprintf(w, "<!doctype html><html><body><h1>Organisation %s</h1></body></html>", html.EscapeString(id.OrganisationID))
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	return decodeBody(w, r, v, false)
}

// decodeOptional accepts an empty body, chunked or not, and leaves v unchanged.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	return decodeBody(w, r, v, true)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		writeError(w, r, apperrors.InvalidInput("body", "invalid request body: "+err.Error()))
		return false
	}
	return true
}
