// Package token implements the static-credential-for-JWT exchange (spec.md
// §4.2, §6: "POST /token", "POST /token/revoke") and the unauthenticated
// JWKS endpoint consumed by third-party verifiers.
package token

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/agentguard/internal/auth"
	"github.com/wisbric/agentguard/internal/httpserver"
	"github.com/wisbric/agentguard/internal/telemetry"
)

// AgentLookup resolves an agent key hash to its owning agent. Implemented by
// pkg/agent's store.
type AgentLookup interface {
	GetActiveAgentByKeyHash(ctx context.Context, keyHash string) (*auth.Agent, error)
}

// AdminLookup resolves an admin key hash to its named admin user.
// Implemented by an adapter over pkg/admin's store in internal/app.
type AdminLookup interface {
	GetActiveByKeyHash(ctx context.Context, keyHash string) (*AdminUser, error)
}

// AdminUser is the subset of pkg/admin.User the token exchange needs. Kept
// local so this package never imports pkg/admin.
type AdminUser struct {
	AdminID string
	Role    string
	Team    *string
}

type request struct {
	AgentKey string `json:"agent_key"`
	AdminKey string `json:"admin_key"`
}

type response struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type revokeResponse struct {
	Revoked bool `json:"revoked"`
}

// Handler exposes the credential-exchange and revocation endpoints.
type Handler struct {
	logger      *slog.Logger
	tokens      *auth.TokenService
	agents      AgentLookup
	admins      AdminLookup
	adminAPIKey string
}

// NewHandler builds the token exchange handler. adminAPIKey is the legacy
// bootstrap secret (config.Config.AdminAPIKey); presenting it mints an
// implicit super-admin token when no AdminUser row matches.
func NewHandler(logger *slog.Logger, tokens *auth.TokenService, agents AgentLookup, admins AdminLookup, adminAPIKey string) *Handler {
	return &Handler{logger: logger, tokens: tokens, agents: agents, admins: admins, adminAPIKey: adminAPIKey}
}

// Mount attaches /token, /token/revoke, and the JWKS well-known route to r.
// All three are unauthenticated at the router level: /token authenticates
// via the submitted credential itself, jwks.json is public, and
// /token/revoke reads its own bearer token rather than relying on middleware.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/token", h.handleIssue)
	r.Post("/token/revoke", h.handleRevoke)
	r.Get("/.well-known/jwks.json", h.handleJWKS)
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	var req request
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	switch {
	case req.AgentKey != "":
		h.issueAgentToken(w, r, req.AgentKey)
	case req.AdminKey != "":
		h.issueAdminToken(w, r, req.AdminKey)
	default:
		httpserver.RespondBadRequest(w, "provide either 'agent_key' or 'admin_key'")
	}
}

func (h *Handler) issueAgentToken(w http.ResponseWriter, r *http.Request, rawKey string) {
	agent, err := h.agents.GetActiveAgentByKeyHash(r.Context(), auth.HashKey(rawKey))
	if err != nil {
		h.logger.Error("looking up agent key", "error", err)
		httpserver.RespondInternal(w)
		return
	}
	if agent == nil {
		httpserver.RespondUnauthorized(w, "invalid or inactive agent key")
		return
	}

	tok, expiresIn, err := h.tokens.IssueAgentToken(agent.AgentID, agent.Environment, agent.OwnerTeam)
	if err != nil {
		h.logger.Error("issuing agent token", "error", err)
		httpserver.RespondInternal(w)
		return
	}

	telemetry.TokensIssuedTotal.WithLabelValues("agent").Inc()
	h.logger.Info("issued agent token", "agent_id", agent.AgentID)
	httpserver.Respond(w, http.StatusOK, response{AccessToken: tok, TokenType: "bearer", ExpiresIn: expiresIn})
}

func (h *Handler) issueAdminToken(w http.ResponseWriter, r *http.Request, rawKey string) {
	admin, err := h.admins.GetActiveByKeyHash(r.Context(), auth.HashKey(rawKey))
	if err != nil {
		h.logger.Error("looking up admin key", "error", err)
		httpserver.RespondInternal(w)
		return
	}

	if admin != nil {
		tok, expiresIn, err := h.tokens.IssueAdminToken(admin.AdminID, admin.Role, admin.Team)
		if err != nil {
			h.logger.Error("issuing admin token", "error", err)
			httpserver.RespondInternal(w)
			return
		}
		telemetry.TokensIssuedTotal.WithLabelValues("admin").Inc()
		h.logger.Info("issued admin token", "admin_id", admin.AdminID, "role", admin.Role)
		httpserver.Respond(w, http.StatusOK, response{AccessToken: tok, TokenType: "bearer", ExpiresIn: expiresIn})
		return
	}

	// Fallback: legacy bootstrap key maps to an implicit super-admin.
	if h.adminAPIKey == "" || subtle.ConstantTimeCompare([]byte(rawKey), []byte(h.adminAPIKey)) != 1 {
		httpserver.RespondUnauthorized(w, "invalid admin key")
		return
	}

	tok, expiresIn, err := h.tokens.IssueAdminToken("admin", auth.RoleSuperAdmin, nil)
	if err != nil {
		h.logger.Error("issuing super-admin token", "error", err)
		httpserver.RespondInternal(w)
		return
	}

	telemetry.TokensIssuedTotal.WithLabelValues("admin").Inc()
	h.logger.Info("issued super-admin token via bootstrap key")
	httpserver.Respond(w, http.StatusOK, response{AccessToken: tok, TokenType: "bearer", ExpiresIn: expiresIn})
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	raw, ok := bearerToken(r)
	if !ok {
		w.Header().Set("WWW-Authenticate", "Bearer")
		httpserver.RespondUnauthorized(w, "Authorization: Bearer <token> header required")
		return
	}

	jti, err := h.tokens.Revoke(raw)
	if err != nil {
		httpserver.RespondUnauthorized(w, "invalid or expired token")
		return
	}

	telemetry.TokensRevokedTotal.Inc()
	h.logger.Info("revoked token", "jti", jti)
	httpserver.Respond(w, http.StatusOK, revokeResponse{Revoked: true})
}

func (h *Handler) handleJWKS(w http.ResponseWriter, r *http.Request) {
	httpserver.Respond(w, http.StatusOK, h.tokens.JWKS())
}

func bearerToken(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) <= len(prefix) || h[:len(prefix)] != prefix {
		return "", false
	}
	return h[len(prefix):], true
}
