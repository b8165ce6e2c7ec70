package auth

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/wisbric/agentguard/internal/httpserver"
)

// AgentLookup resolves agent identities for the auth resolver. Implemented
// by pkg/agent's store so internal/auth never imports the CRUD package.
type AgentLookup interface {
	GetActiveAgentByID(ctx context.Context, agentID string) (*Agent, error)
	GetActiveAgentByKeyHash(ctx context.Context, keyHash string) (*Agent, error)
}

// Resolver maps an inbound request to an Agent or AdminContext identity,
// preferring a Bearer token and falling back to the legacy static headers
// (original_source/backend/app/api/deps.py).
type Resolver struct {
	tokens      *TokenService
	agents      AgentLookup
	adminAPIKey string
	agentHeader string
	adminHeader string
}

// NewResolver builds a Resolver. adminAPIKey is the legacy static admin
// secret (config.Config.AdminAPIKey); it is accepted as a super-admin
// credential in the X-Admin-Key header when no Bearer token is presented.
func NewResolver(tokens *TokenService, agents AgentLookup, adminAPIKey string) *Resolver {
	return &Resolver{
		tokens:      tokens,
		agents:      agents,
		adminAPIKey: adminAPIKey,
		agentHeader: "X-Agent-Key",
		adminHeader: "X-Admin-Key",
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || h[:len(prefix)] != prefix {
		return "", false
	}
	return h[len(prefix):], true
}

// resolveAdminContext implements the JWT-preferred / legacy-fallback
// dual-mode resolution. A JWT token missing the "admin" type is rejected
// outright rather than falling through to the legacy header, matching
// deps.py's _resolve_admin_context.
func (res *Resolver) resolveAdminContext(r *http.Request) (*AdminContext, bool) {
	if raw, ok := bearerToken(r); ok {
		claims, err := res.tokens.Verify(raw)
		if err != nil || claims.Type != TokenTypeAdmin {
			return nil, false
		}
		role := claims.Role
		if role == "" {
			role = RoleSuperAdmin // backward compatible default
		}
		var team *string
		if claims.Team != "" {
			team = &claims.Team
		}
		return &AdminContext{Sub: claims.Subject, Role: role, Team: team}, true
	}

	if key := r.Header.Get(res.adminHeader); key != "" {
		if res.adminAPIKey != "" && subtle.ConstantTimeCompare([]byte(key), []byte(res.adminAPIKey)) == 1 {
			return &AdminContext{Sub: "admin", Role: RoleSuperAdmin}, true
		}
	}

	return nil, false
}

// resolveAgent implements Bearer-preferred / legacy-key-fallback agent
// resolution, always re-checking active status against the store
// (deps.py's require_agent).
func (res *Resolver) resolveAgent(r *http.Request) (*Agent, int, bool) {
	if raw, ok := bearerToken(r); ok {
		claims, err := res.tokens.Verify(raw)
		if err != nil {
			return nil, http.StatusUnauthorized, false
		}
		if claims.Type != TokenTypeAgent {
			return nil, http.StatusUnauthorized, false
		}
		agent, err := res.agents.GetActiveAgentByID(r.Context(), claims.Subject)
		if err != nil || agent == nil {
			return nil, http.StatusNotFound, false
		}
		return agent, 0, true
	}

	if key := r.Header.Get(res.agentHeader); key != "" {
		agent, err := res.agents.GetActiveAgentByKeyHash(r.Context(), HashKey(key))
		if err != nil || agent == nil {
			return nil, http.StatusForbidden, false
		}
		return agent, 0, true
	}

	return nil, http.StatusUnauthorized, false
}

// RequireAdmin resolves an AdminContext and stores it, or responds 401.
func (res *Resolver) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		admin, ok := res.resolveAdminContext(r)
		if !ok {
			httpserver.RespondUnauthorized(w, "invalid or missing admin credentials")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithAdmin(r.Context(), admin)))
	})
}

// RequireRole returns middleware rejecting admin contexts below minRole's
// privilege level with 403 (deps.py's require_role factory).
func (res *Resolver) RequireRole(minRole string) func(http.Handler) http.Handler {
	minLevel := RoleLevel(minRole)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			admin, ok := res.resolveAdminContext(r)
			if !ok {
				httpserver.RespondUnauthorized(w, "invalid or missing admin credentials")
				return
			}
			if RoleLevel(admin.Role) < minLevel {
				httpserver.RespondForbidden(w, "insufficient role")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAdmin(r.Context(), admin)))
		})
	}
}

// RequireAgent resolves an active Agent identity and stores it, or responds
// with the status the resolution step produced (401/403/404).
func (res *Resolver) RequireAgent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent, status, ok := res.resolveAgent(r)
		if !ok {
			writeAuthFailure(w, status)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithAgent(r.Context(), agent)))
	})
}

// RequireAdminOrAgent accepts either identity, dispatching on whichever
// resolves first, admin before agent (deps.py's require_admin_or_agent).
func (res *Resolver) RequireAdminOrAgent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if admin, ok := res.resolveAdminContext(r); ok {
			next.ServeHTTP(w, r.WithContext(WithAdmin(r.Context(), admin)))
			return
		}
		agent, status, ok := res.resolveAgent(r)
		if !ok {
			writeAuthFailure(w, status)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithAgent(r.Context(), agent)))
	})
}

func writeAuthFailure(w http.ResponseWriter, status int) {
	switch status {
	case http.StatusForbidden:
		httpserver.RespondForbidden(w, "invalid credentials")
	case http.StatusNotFound:
		httpserver.RespondNotFound(w, "agent not found or inactive")
	default:
		httpserver.RespondUnauthorized(w, "invalid or missing credentials")
	}
}
