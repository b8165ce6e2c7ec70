package agent

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/agentguard/internal/auth"
	"github.com/wisbric/agentguard/internal/httpserver"
)

type createRequest struct {
	Name        string `json:"name" validate:"required"`
	OwnerTeam   string `json:"owner_team" validate:"required"`
	Environment string `json:"environment" validate:"required"`
}

type response struct {
	AgentID     string `json:"agent_id"`
	Name        string `json:"name"`
	OwnerTeam   string `json:"owner_team"`
	Environment string `json:"environment"`
	IsActive    bool   `json:"is_active"`
	KeyPrefix   string `json:"key_prefix,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

type createResponse struct {
	response
	APIKey string `json:"api_key"`
}

const timeLayout = "2006-01-02T15:04:05Z07:00"

func toResponse(r Record) response {
	return response{
		AgentID: r.AgentID, Name: r.Name, OwnerTeam: r.OwnerTeam, Environment: r.Environment,
		IsActive: r.IsActive, KeyPrefix: r.KeyPrefix,
		CreatedAt: r.CreatedAt.Format(timeLayout), UpdatedAt: r.UpdatedAt.Format(timeLayout),
	}
}

// Handler exposes admin-facing agent CRUD.
type Handler struct {
	logger   *slog.Logger
	store    *Store
	resolver *auth.Resolver
}

// NewHandler builds the agent HTTP handler.
func NewHandler(logger *slog.Logger, store *Store, resolver *auth.Resolver) *Handler {
	return &Handler{logger: logger, store: store, resolver: resolver}
}

// Mount attaches every agent route to r.
func (h *Handler) Mount(r chi.Router) {
	r.With(h.resolver.RequireAdmin).Post("/agents", h.handleCreate)
	r.With(h.resolver.RequireAdmin).Get("/agents", h.handleList)
	r.With(h.resolver.RequireAdmin).Get("/agents/{id}", h.handleGet)
	r.With(h.resolver.RequireAdmin).Delete("/agents/{id}", h.handleDelete)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	rec, rawKey, err := h.store.Create(r.Context(), CreateParams{
		Name: req.Name, OwnerTeam: req.OwnerTeam, Environment: req.Environment,
	})
	if err != nil {
		h.logger.Error("creating agent", "error", err)
		httpserver.RespondInternal(w)
		return
	}

	h.logger.Info("agent created", "agent_id", rec.AgentID, "owner_team", rec.OwnerTeam)

	httpserver.Respond(w, http.StatusCreated, createResponse{response: toResponse(*rec), APIKey: rawKey})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondBadRequest(w, err.Error())
		return
	}

	admin := auth.AdminFromContext(r.Context())
	team := ""
	if admin.Team != nil {
		team = *admin.Team
	}

	records, err := h.store.List(r.Context(), ListFilter{
		Environment: r.URL.Query().Get("environment"), Team: team,
		Limit: params.Limit, Offset: params.Offset,
	})
	if err != nil {
		h.logger.Error("listing agents", "error", err)
		httpserver.RespondInternal(w)
		return
	}

	items := make([]response, 0, len(records))
	for _, rec := range records {
		items = append(items, toResponse(rec))
	}

	httpserver.Respond(w, http.StatusOK, httpserver.NewOffsetPage(items, params, len(items)))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := h.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.logger.Error("loading agent", "error", err)
		httpserver.RespondInternal(w)
		return
	}
	if rec == nil {
		httpserver.RespondNotFound(w, "agent not found")
		return
	}
	httpserver.Respond(w, http.StatusOK, toResponse(*rec))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")

	err := h.store.Delete(r.Context(), agentID)
	if errors.Is(err, ErrNotFound) {
		httpserver.RespondNotFound(w, "agent not found")
		return
	}
	if err != nil {
		h.logger.Error("deleting agent", "error", err)
		httpserver.RespondInternal(w)
		return
	}

	h.logger.Info("agent deleted", "agent_id", agentID)
	w.WriteHeader(http.StatusNoContent)
}
