package approval

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/agentguard/internal/auth"
	"github.com/wisbric/agentguard/internal/httpserver"
	"github.com/wisbric/agentguard/internal/telemetry"
	"github.com/wisbric/agentguard/pkg/policy"
)

type decisionRequest struct {
	Reason string `json:"reason"`
}

type requestResponse struct {
	ApprovalID     string         `json:"approval_id"`
	AgentID        string         `json:"agent_id"`
	AgentName      string         `json:"agent_name,omitempty"`
	Status         Status         `json:"status"`
	Action         string         `json:"action"`
	Resource       string         `json:"resource,omitempty"`
	Context        map[string]any `json:"context,omitempty"`
	CreatedAt      string         `json:"created_at"`
	DecisionAt     *string        `json:"decision_at,omitempty"`
	DecisionBy     string         `json:"decision_by,omitempty"`
	DecisionReason string         `json:"decision_reason,omitempty"`
}

func toResponse(r Request) requestResponse {
	resp := requestResponse{
		ApprovalID: r.ApprovalID, AgentID: r.AgentID, AgentName: r.AgentName,
		Status: r.Status, Action: r.Action, Resource: r.Resource, Context: r.Context,
		CreatedAt: r.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		DecisionBy: r.DecisionBy, DecisionReason: r.DecisionReason,
	}
	if r.DecisionAt != nil {
		s := r.DecisionAt.Format("2006-01-02T15:04:05Z07:00")
		resp.DecisionAt = &s
	}
	return resp
}

type listResponse struct {
	Items        []requestResponse `json:"items"`
	Total        int                `json:"total"`
	PendingCount int                `json:"pending_count"`
	Limit        int                `json:"limit"`
	Offset       int                `json:"offset"`
}

// Handler exposes the approval state machine's HTTP surface.
type Handler struct {
	logger   *slog.Logger
	store    *Store
	webhooks policy.WebhookDispatcher
	resolver *auth.Resolver
}

// NewHandler builds the approval HTTP handler.
func NewHandler(logger *slog.Logger, store *Store, webhooks policy.WebhookDispatcher, resolver *auth.Resolver) *Handler {
	return &Handler{logger: logger, store: store, webhooks: webhooks, resolver: resolver}
}

// Mount attaches every approval route to r.
func (h *Handler) Mount(r chi.Router) {
	r.With(h.resolver.RequireRole(auth.RoleApprover)).Get("/approvals", h.handleList)
	r.With(h.resolver.RequireRole(auth.RoleApprover)).Get("/approvals/{id}", h.handleGet)
	r.With(h.resolver.RequireRole(auth.RoleApprover)).Post("/approvals/{id}/approve", h.handleApprove)
	r.With(h.resolver.RequireRole(auth.RoleApprover)).Post("/approvals/{id}/deny", h.handleDeny)
	r.With(h.resolver.RequireRole(auth.RoleAdmin)).Delete("/approvals/{id}", h.handleCancel)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondBadRequest(w, err.Error())
		return
	}

	statusFilter := Status(r.URL.Query().Get("status"))
	if statusFilter != "" && statusFilter != StatusPending && statusFilter != StatusApproved && statusFilter != StatusDenied {
		httpserver.RespondBadRequest(w, "status must be one of: pending, approved, denied")
		return
	}

	admin := auth.AdminFromContext(r.Context())
	team := ""
	if admin.Team != nil {
		team = *admin.Team
	}

	result, err := h.store.List(r.Context(), ListFilter{
		Status: statusFilter, AgentID: r.URL.Query().Get("agent_id"),
		Team: team, Limit: params.Limit, Offset: params.Offset,
	})
	if err != nil {
		h.logger.Error("listing approvals", "error", err)
		httpserver.RespondInternal(w)
		return
	}

	items := make([]requestResponse, 0, len(result.Items))
	for _, r := range result.Items {
		items = append(items, toResponse(r))
	}

	httpserver.Respond(w, http.StatusOK, listResponse{
		Items: items, Total: result.Total, PendingCount: result.PendingCount,
		Limit: params.Limit, Offset: params.Offset,
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	req, err := h.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.logger.Error("loading approval", "error", err)
		httpserver.RespondInternal(w)
		return
	}
	if req == nil {
		httpserver.RespondNotFound(w, "approval not found")
		return
	}
	httpserver.Respond(w, http.StatusOK, toResponse(*req))
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, StatusApproved, "Approved by admin", "approval.approved")
}

func (h *Handler) handleDeny(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, StatusDenied, "Denied by admin", "approval.denied")
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, newStatus Status, defaultReason, event string) {
	approvalID := chi.URLParam(r, "id")

	var body decisionRequest
	if !httpserver.DecodeAndValidate(w, r, &body) {
		return
	}
	reason := body.Reason
	if reason == "" {
		reason = defaultReason
	}

	admin := auth.AdminFromContext(r.Context())

	updated, err := h.store.Decide(r.Context(), approvalID, newStatus, admin.Sub, reason)
	switch {
	case errors.Is(err, ErrNotFound):
		httpserver.RespondNotFound(w, "approval not found")
		return
	case errors.Is(err, ErrNotPending):
		httpserver.RespondConflict(w, "approval is no longer pending")
		return
	case err != nil:
		h.logger.Error("deciding approval", "error", err)
		httpserver.RespondInternal(w)
		return
	}

	h.logger.Info("approval decided", "approval_id", approvalID, "status", string(newStatus), "decided_by", admin.Sub)
	telemetry.ApprovalsTotal.WithLabelValues(string(newStatus)).Inc()

	h.webhooks.Dispatch(event, map[string]any{
		"approval_id":     updated.ApprovalID,
		"agent_id":        updated.AgentID,
		"agent_name":      updated.AgentName,
		"action":          updated.Action,
		"resource":        updated.Resource,
		"decision_reason": updated.DecisionReason,
		"decision_by":     updated.DecisionBy,
	})

	httpserver.Respond(w, http.StatusOK, toResponse(*updated))
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	approvalID := chi.URLParam(r, "id")

	err := h.store.Cancel(r.Context(), approvalID)
	switch {
	case errors.Is(err, ErrNotFound):
		httpserver.RespondNotFound(w, "approval not found")
		return
	case errors.Is(err, ErrNotPending):
		httpserver.RespondConflict(w, "only pending approvals can be cancelled")
		return
	case err != nil:
		h.logger.Error("cancelling approval", "error", err)
		httpserver.RespondInternal(w)
		return
	}

	h.logger.Info("approval cancelled", "approval_id", approvalID)
	telemetry.ApprovalsTotal.WithLabelValues("cancelled").Inc()
	w.WriteHeader(http.StatusNoContent)
}
