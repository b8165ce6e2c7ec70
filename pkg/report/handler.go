package report

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/agentguard/internal/auth"
	"github.com/wisbric/agentguard/internal/httpserver"
)

const (
	defaultDays = 30
	minDays     = 1
	maxDays     = 365
)

type overviewResponse struct {
	TotalActions int     `json:"total_actions"`
	Allowed      int     `json:"allowed"`
	Denied       int     `json:"denied"`
	AllowRate    float64 `json:"allow_rate"`
	DenyRate     float64 `json:"deny_rate"`
}

type approvalsResponse struct {
	Total        int     `json:"total"`
	Pending      int     `json:"pending"`
	Approved     int     `json:"approved"`
	Denied       int     `json:"denied"`
	ApprovalRate float64 `json:"approval_rate"`
}

type agentActivityResponse struct {
	AgentID      string `json:"agent_id"`
	AgentName    string `json:"agent_name"`
	TotalActions int    `json:"total_actions"`
	Allowed      int    `json:"allowed"`
	Denied       int    `json:"denied"`
}

type deniedActionResponse struct {
	Action string `json:"action"`
	Count  int    `json:"count"`
}

type dailyCountResponse struct {
	Date    string `json:"date"`
	Total   int    `json:"total"`
	Allowed int    `json:"allowed"`
	Denied  int    `json:"denied"`
}

type summaryResponse struct {
	PeriodDays       int                     `json:"period_days"`
	GeneratedAt      string                  `json:"generated_at"`
	Overview         overviewResponse        `json:"overview"`
	Approvals        approvalsResponse       `json:"approvals"`
	TopAgents        []agentActivityResponse `json:"top_agents"`
	TopDeniedActions []deniedActionResponse  `json:"top_denied_actions"`
	DailyBreakdown   []dailyCountResponse    `json:"daily_breakdown"`
}

func toResponse(s Summary) summaryResponse {
	topAgents := make([]agentActivityResponse, 0, len(s.TopAgents))
	for _, a := range s.TopAgents {
		topAgents = append(topAgents, agentActivityResponse{
			AgentID: a.AgentID, AgentName: a.AgentName, TotalActions: a.TotalActions, Allowed: a.Allowed, Denied: a.Denied,
		})
	}
	topDenied := make([]deniedActionResponse, 0, len(s.TopDeniedActions))
	for _, d := range s.TopDeniedActions {
		topDenied = append(topDenied, deniedActionResponse{Action: d.Action, Count: d.Count})
	}
	daily := make([]dailyCountResponse, 0, len(s.DailyBreakdown))
	for _, d := range s.DailyBreakdown {
		daily = append(daily, dailyCountResponse{
			Date: d.Date.Format("2006-01-02"), Total: d.Total, Allowed: d.Allowed, Denied: d.Denied,
		})
	}

	return summaryResponse{
		PeriodDays:  s.PeriodDays,
		GeneratedAt: s.GeneratedAt.Format("2006-01-02T15:04:05Z07:00"),
		Overview: overviewResponse{
			TotalActions: s.Overview.TotalActions, Allowed: s.Overview.Allowed, Denied: s.Overview.Denied,
			AllowRate: s.Overview.AllowRate, DenyRate: s.Overview.DenyRate,
		},
		Approvals: approvalsResponse{
			Total: s.Approvals.Total, Pending: s.Approvals.Pending, Approved: s.Approvals.Approved,
			Denied: s.Approvals.Denied, ApprovalRate: s.Approvals.ApprovalRate,
		},
		TopAgents: topAgents, TopDeniedActions: topDenied, DailyBreakdown: daily,
	}
}

// Handler exposes the auditor-facing compliance summary endpoint.
type Handler struct {
	logger   *slog.Logger
	store    *Store
	resolver *auth.Resolver
}

// NewHandler builds the report HTTP handler.
func NewHandler(logger *slog.Logger, store *Store, resolver *auth.Resolver) *Handler {
	return &Handler{logger: logger, store: store, resolver: resolver}
}

// Mount attaches the summary route to r.
func (h *Handler) Mount(r chi.Router) {
	r.With(h.resolver.RequireRole(auth.RoleAuditor)).Get("/reports/summary", h.handleSummary)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	days := defaultDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < minDays || n > maxDays {
			httpserver.RespondBadRequest(w, "days must be an integer between 1 and 365")
			return
		}
		days = n
	}

	admin := auth.AdminFromContext(r.Context())
	team := ""
	if admin.Team != nil {
		team = *admin.Team
	}

	summary, err := h.store.Summarize(r.Context(), team, days)
	if err != nil {
		h.logger.Error("building compliance summary", "error", err)
		httpserver.RespondInternal(w)
		return
	}

	httpserver.Respond(w, http.StatusOK, toResponse(summary))
}
