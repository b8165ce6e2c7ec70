package admin

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/agentguard/internal/auth"
	"github.com/wisbric/agentguard/internal/httpserver"
)

var validRoles = map[string]bool{auth.RoleAdmin: true, auth.RoleAuditor: true, auth.RoleApprover: true}

type createRequest struct {
	Name string  `json:"name" validate:"required"`
	Role string  `json:"role" validate:"required"`
	Team *string `json:"team"`
}

type response struct {
	AdminID   string  `json:"admin_id"`
	Name      string  `json:"name"`
	Role      string  `json:"role"`
	Team      *string `json:"team"`
	IsActive  bool    `json:"is_active"`
	CreatedAt string  `json:"created_at"`
}

type createResponse struct {
	response
	APIKey string `json:"api_key"`
}

const timeLayout = "2006-01-02T15:04:05Z07:00"

func toResponse(u User) response {
	return response{
		AdminID: u.AdminID, Name: u.Name, Role: u.Role, Team: u.Team,
		IsActive: u.IsActive, CreatedAt: u.CreatedAt.Format(timeLayout),
	}
}

// Handler exposes super-admin-only CRUD over named admin users.
type Handler struct {
	logger   *slog.Logger
	store    *Store
	resolver *auth.Resolver
}

// NewHandler builds the admin-user HTTP handler.
func NewHandler(logger *slog.Logger, store *Store, resolver *auth.Resolver) *Handler {
	return &Handler{logger: logger, store: store, resolver: resolver}
}

// Mount attaches every admin-user route to r. Every route requires
// super-admin: RequireRole's top role admits nothing above it, so this is
// effectively "super-admin only" (spec.md §4.1: role reserved for the
// bootstrap key and named super-admin rows).
func (h *Handler) Mount(r chi.Router) {
	r.With(h.resolver.RequireRole(auth.RoleSuperAdmin)).Post("/admin/users", h.handleCreate)
	r.With(h.resolver.RequireRole(auth.RoleSuperAdmin)).Get("/admin/users", h.handleList)
	r.With(h.resolver.RequireRole(auth.RoleSuperAdmin)).Delete("/admin/users/{id}", h.handleDeactivate)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	if !validRoles[req.Role] {
		httpserver.RespondBadRequest(w, "role must be one of: admin, auditor, approver")
		return
	}

	user, rawKey, err := h.store.Create(r.Context(), CreateParams{Name: req.Name, Role: req.Role, Team: req.Team})
	if err != nil {
		h.logger.Error("creating admin user", "error", err)
		httpserver.RespondInternal(w)
		return
	}

	h.logger.Info("admin user created", "admin_id", user.AdminID, "role", user.Role)

	httpserver.Respond(w, http.StatusCreated, createResponse{response: toResponse(*user), APIKey: rawKey})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.List(r.Context())
	if err != nil {
		h.logger.Error("listing admin users", "error", err)
		httpserver.RespondInternal(w)
		return
	}

	items := make([]response, 0, len(users))
	for _, u := range users {
		items = append(items, toResponse(u))
	}
	httpserver.Respond(w, http.StatusOK, items)
}

func (h *Handler) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	adminID := chi.URLParam(r, "id")

	err := h.store.Deactivate(r.Context(), adminID)
	if errors.Is(err, ErrNotFound) {
		httpserver.RespondNotFound(w, "admin user not found")
		return
	}
	if err != nil {
		h.logger.Error("deactivating admin user", "error", err)
		httpserver.RespondInternal(w)
		return
	}

	h.logger.Info("admin user deactivated", "admin_id", adminID)
	w.WriteHeader(http.StatusNoContent)
}
