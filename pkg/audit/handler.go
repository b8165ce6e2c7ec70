package audit

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/agentguard/internal/auth"
	"github.com/wisbric/agentguard/internal/httpserver"
)

type createRequest struct {
	Action    string         `json:"action" validate:"required"`
	Resource  string         `json:"resource"`
	Context   map[string]any `json:"context"`
	Allowed   bool           `json:"allowed"`
	Result    Result         `json:"result" validate:"required,oneof=success error"`
	Metadata  map[string]any `json:"metadata"`
	RequestID string         `json:"request_id"`
}

type entryResponse struct {
	LogID        string         `json:"log_id"`
	AgentID      string         `json:"agent_id"`
	Timestamp    string         `json:"timestamp"`
	Action       string         `json:"action"`
	Resource     string         `json:"resource,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
	Allowed      bool           `json:"allowed"`
	Result       Result         `json:"result"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	RequestID    string         `json:"request_id,omitempty"`
	PreviousHash string         `json:"previous_hash"`
}

func toResponse(e Entry) entryResponse {
	return entryResponse{
		LogID: e.LogID, AgentID: e.AgentID, Timestamp: e.Timestamp.Format(time.RFC3339Nano),
		Action: e.Action, Resource: e.Resource, Context: e.Context, Allowed: e.Allowed,
		Result: e.Result, Metadata: e.Metadata, RequestID: e.RequestID, PreviousHash: e.PreviousHash,
	}
}

type verifyResponse struct {
	AgentID      string `json:"agent_id"`
	Valid        bool   `json:"valid"`
	TotalEntries int    `json:"total_entries"`
	BrokenAt     string `json:"broken_at,omitempty"`
}

// Handler exposes the audit log's append, query, and verify endpoints.
type Handler struct {
	logger   *slog.Logger
	store    *Store
	resolver *auth.Resolver
}

// NewHandler builds the audit HTTP handler.
func NewHandler(logger *slog.Logger, store *Store, resolver *auth.Resolver) *Handler {
	return &Handler{logger: logger, store: store, resolver: resolver}
}

// Mount attaches every audit route to r.
func (h *Handler) Mount(r chi.Router) {
	r.With(h.resolver.RequireAgent).Post("/logs", h.handleCreate)
	r.With(h.resolver.RequireAdminOrAgent).Get("/logs", h.handleQuery)
	r.With(h.resolver.RequireAdminOrAgent).Get("/logs/verify", h.handleVerify)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	agent := auth.AgentFromContext(r.Context())

	entry, err := h.store.Append(r.Context(), agent.AgentID, NewEntry{
		Action: req.Action, Resource: req.Resource, Context: req.Context,
		Allowed: req.Allowed, Result: req.Result, Metadata: req.Metadata, RequestID: req.RequestID,
	})
	if err != nil {
		h.logger.Error("appending audit log", "error", err, "agent_id", agent.AgentID)
		httpserver.RespondInternal(w)
		return
	}

	httpserver.Respond(w, http.StatusCreated, toResponse(*entry))
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondBadRequest(w, err.Error())
		return
	}

	f := QueryFilter{
		Action: r.URL.Query().Get("action"),
		Limit:  params.Limit, Offset: params.Offset,
	}

	if agent := auth.AgentFromContext(r.Context()); agent != nil {
		f.AgentID = agent.AgentID
	} else {
		f.AgentID = r.URL.Query().Get("agent_id")
	}

	if v := r.URL.Query().Get("allowed"); v != "" {
		allowed := v == "true"
		f.Allowed = &allowed
	}
	if v := r.URL.Query().Get("start_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.StartTime = &t
		}
	}
	if v := r.URL.Query().Get("end_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.EndTime = &t
		}
	}

	entries, err := h.store.List(r.Context(), f)
	if err != nil {
		h.logger.Error("querying audit logs", "error", err)
		httpserver.RespondInternal(w)
		return
	}

	items := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		items = append(items, toResponse(e))
	}

	httpserver.Respond(w, http.StatusOK, httpserver.NewOffsetPage(items, params, len(items)))
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent_id")

	if agent := auth.AgentFromContext(r.Context()); agent != nil {
		agentID = agent.AgentID
	}
	if agentID == "" {
		httpserver.RespondBadRequest(w, "agent_id is required")
		return
	}

	result, err := h.store.Verify(r.Context(), agentID)
	if err != nil {
		h.logger.Error("verifying audit chain", "error", err, "agent_id", agentID)
		httpserver.RespondInternal(w)
		return
	}

	httpserver.Respond(w, http.StatusOK, verifyResponse{
		AgentID: result.AgentID, Valid: result.Valid,
		TotalEntries: result.TotalEntries, BrokenAt: result.BrokenAt,
	})
}
