package policy

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/agentguard/internal/auth"
	"github.com/wisbric/agentguard/internal/httpserver"
	"github.com/wisbric/agentguard/internal/telemetry"
)

// AgentExistenceChecker verifies an agent_id refers to an agent before a
// policy is attached to it.
type AgentExistenceChecker interface {
	AgentExists(ctx context.Context, agentID string) (bool, error)
}

// ApprovalFetcher looks up an approval owned by a specific agent, for the
// agent's own-approval polling endpoint.
type ApprovalFetcher interface {
	GetOwnApproval(ctx context.Context, agentID, approvalID string) (*OwnApprovalView, error)
}

// OwnApprovalView is the subset of an ApprovalRequest an agent may poll.
type OwnApprovalView struct {
	ApprovalID     string     `json:"approval_id"`
	Status         string     `json:"status"`
	DecisionReason string     `json:"decision_reason,omitempty"`
	DecisionBy     string     `json:"decision_by,omitempty"`
	DecisionAt     *time.Time `json:"decision_at,omitempty"`
}

type ruleRequest struct {
	Action     string         `json:"action" validate:"required"`
	Resource   string         `json:"resource"`
	Conditions map[string]any `json:"conditions"`
}

type policyRequest struct {
	Allow           []ruleRequest `json:"allow"`
	Deny            []ruleRequest `json:"deny"`
	RequireApproval []ruleRequest `json:"require_approval"`
}

type policyResponse struct {
	AgentID         string    `json:"agent_id,omitempty"`
	Team            string    `json:"team,omitempty"`
	Allow           []Rule    `json:"allow"`
	Deny            []Rule    `json:"deny"`
	RequireApproval []Rule    `json:"require_approval"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func toRules(reqs []ruleRequest) []Rule {
	rules := make([]Rule, 0, len(reqs))
	for _, r := range reqs {
		rules = append(rules, Rule{Action: r.Action, Resource: r.Resource, Conditions: r.Conditions})
	}
	return rules
}

type enforceRequest struct {
	Action   string         `json:"action" validate:"required"`
	Resource string         `json:"resource"`
	Context  map[string]any `json:"context"`
}

type enforceResponse struct {
	Allowed    bool   `json:"allowed"`
	Status     string `json:"status"`
	Reason     string `json:"reason"`
	ApprovalID string `json:"approval_id,omitempty"`
}

// Handler exposes the enforcement endpoint and policy/team-policy CRUD.
type Handler struct {
	logger    *slog.Logger
	store     *Store
	engine    *Engine
	agents    AgentExistenceChecker
	approvals ApprovalFetcher
	resolver  *auth.Resolver
}

// NewHandler builds the policy HTTP handler.
func NewHandler(logger *slog.Logger, store *Store, engine *Engine, agents AgentExistenceChecker, approvals ApprovalFetcher, resolver *auth.Resolver) *Handler {
	return &Handler{logger: logger, store: store, engine: engine, agents: agents, approvals: approvals, resolver: resolver}
}

// Mount attaches every policy-related route to r.
func (h *Handler) Mount(r chi.Router) {
	r.With(h.resolver.RequireAgent).Post("/enforce", h.handleEnforce)
	r.With(h.resolver.RequireAgent).Get("/enforce/approval/{approvalID}", h.handleOwnApproval)

	r.With(h.resolver.RequireRole(auth.RoleAdmin)).Put("/agents/{agentID}/policy", h.handleSetPolicy)
	r.With(h.resolver.RequireRole(auth.RoleAdmin)).Get("/agents/{agentID}/policy", h.handleGetPolicy)

	r.With(h.resolver.RequireRole(auth.RoleAdmin)).Put("/teams/{team}/policy", h.handleSetTeamPolicy)
	r.With(h.resolver.RequireRole(auth.RoleAdmin)).Get("/teams/{team}/policy", h.handleGetTeamPolicy)
}

func (h *Handler) handleEnforce(w http.ResponseWriter, r *http.Request) {
	var req enforceRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	agent := auth.AgentFromContext(r.Context())

	start := time.Now()
	decision, err := h.engine.Enforce(r.Context(), agent, req.Action, req.Resource, req.Context, start)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		h.logger.Error("enforcing policy", "error", err, "agent_id", agent.AgentID)
		telemetry.EnforceDecisionsTotal.WithLabelValues("error").Inc()
		telemetry.EnforceDuration.WithLabelValues("error").Observe(elapsed)
		httpserver.RespondInternal(w)
		return
	}

	telemetry.EnforceDecisionsTotal.WithLabelValues(string(decision.Outcome)).Inc()
	telemetry.EnforceDuration.WithLabelValues(string(decision.Outcome)).Observe(elapsed)

	h.logger.Info("enforcement check",
		"agent_id", agent.AgentID,
		"action", req.Action,
		"resource", req.Resource,
		"status", string(decision.Outcome),
	)

	httpserver.Respond(w, http.StatusOK, enforceResponse{
		Allowed:    decision.Outcome == OutcomeAllowed,
		Status:     string(decision.Outcome),
		Reason:     decision.Reason,
		ApprovalID: decision.ApprovalID,
	})
}

func (h *Handler) handleOwnApproval(w http.ResponseWriter, r *http.Request) {
	agent := auth.AgentFromContext(r.Context())
	approvalID := chi.URLParam(r, "approvalID")

	view, err := h.approvals.GetOwnApproval(r.Context(), agent.AgentID, approvalID)
	if err != nil {
		h.logger.Error("fetching own approval", "error", err)
		httpserver.RespondInternal(w)
		return
	}
	if view == nil {
		httpserver.RespondNotFound(w, "approval not found for this agent")
		return
	}

	httpserver.Respond(w, http.StatusOK, view)
}

func (h *Handler) handleSetPolicy(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")

	exists, err := h.agents.AgentExists(r.Context(), agentID)
	if err != nil {
		h.logger.Error("checking agent existence", "error", err)
		httpserver.RespondInternal(w)
		return
	}
	if !exists {
		httpserver.RespondNotFound(w, "agent not found")
		return
	}

	var req policyRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	pol, err := h.store.SetPolicy(r.Context(), agentID, toRules(req.Allow), toRules(req.Deny), toRules(req.RequireApproval))
	if err != nil {
		h.logger.Error("setting policy", "error", err)
		httpserver.RespondInternal(w)
		return
	}

	httpserver.Respond(w, http.StatusOK, policyResponse{
		AgentID: pol.AgentID, Allow: pol.Allow, Deny: pol.Deny, RequireApproval: pol.RequireApproval,
		CreatedAt: pol.CreatedAt, UpdatedAt: pol.UpdatedAt,
	})
}

func (h *Handler) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")

	pol, err := h.store.GetPolicy(r.Context(), agentID)
	if err != nil {
		h.logger.Error("loading policy", "error", err)
		httpserver.RespondInternal(w)
		return
	}
	if pol == nil {
		httpserver.RespondNotFound(w, "no policy found for agent")
		return
	}

	httpserver.Respond(w, http.StatusOK, policyResponse{
		AgentID: pol.AgentID, Allow: pol.Allow, Deny: pol.Deny, RequireApproval: pol.RequireApproval,
		CreatedAt: pol.CreatedAt, UpdatedAt: pol.UpdatedAt,
	})
}

func (h *Handler) handleSetTeamPolicy(w http.ResponseWriter, r *http.Request) {
	team := chi.URLParam(r, "team")

	var req policyRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	tp, err := h.store.SetTeamPolicy(r.Context(), team, toRules(req.Allow), toRules(req.Deny), toRules(req.RequireApproval))
	if err != nil {
		h.logger.Error("setting team policy", "error", err)
		httpserver.RespondInternal(w)
		return
	}

	httpserver.Respond(w, http.StatusOK, policyResponse{
		Team: tp.Team, Allow: tp.Allow, Deny: tp.Deny, RequireApproval: tp.RequireApproval,
		CreatedAt: tp.CreatedAt, UpdatedAt: tp.UpdatedAt,
	})
}

func (h *Handler) handleGetTeamPolicy(w http.ResponseWriter, r *http.Request) {
	team := chi.URLParam(r, "team")

	tp, err := h.store.GetTeamPolicy(r.Context(), team)
	if err != nil {
		h.logger.Error("loading team policy", "error", err)
		httpserver.RespondInternal(w)
		return
	}
	if tp == nil {
		httpserver.RespondNotFound(w, "no policy found for team")
		return
	}

	httpserver.Respond(w, http.StatusOK, policyResponse{
		Team: tp.Team, Allow: tp.Allow, Deny: tp.Deny, RequireApproval: tp.RequireApproval,
		CreatedAt: tp.CreatedAt, UpdatedAt: tp.UpdatedAt,
	})
}
