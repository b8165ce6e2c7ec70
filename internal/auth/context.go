// Package auth implements the credential store, token service, and auth
// resolver subsystems: hashing and verifying static keys, issuing and
// verifying asymmetric-signed bearer tokens, and mapping an inbound request
// to an Agent or AdminContext identity.
package auth

import (
	"context"
	"time"
)

// Role hierarchy, strictly ordered super-admin > admin > auditor > approver.
const (
	RoleSuperAdmin = "super-admin"
	RoleAdmin      = "admin"
	RoleAuditor    = "auditor"
	RoleApprover   = "approver"
)

var roleLevel = map[string]int{
	RoleSuperAdmin: 4,
	RoleAdmin:      3,
	RoleAuditor:    2,
	RoleApprover:   1,
}

// RoleLevel returns the numeric privilege level of role, or 0 if unknown.
func RoleLevel(role string) int {
	return roleLevel[role]
}

// Agent is the identity resolved for agent-authenticated requests. It
// mirrors the Agent entity's identity-relevant fields (spec.md §3); the full
// CRUD-facing record is pkg/agent's separate Record type.
type Agent struct {
	AgentID     string
	Name        string
	OwnerTeam   string
	Environment string
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AdminContext is the identity resolved for admin-authenticated requests.
// Team == nil denotes all-teams scope (spec.md §4.3).
type AdminContext struct {
	Sub  string
	Role string
	Team *string
}

type agentCtxKey struct{}
type adminCtxKey struct{}

// WithAgent returns a context carrying the resolved Agent.
func WithAgent(ctx context.Context, a *Agent) context.Context {
	return context.WithValue(ctx, agentCtxKey{}, a)
}

// AgentFromContext returns the Agent stored by WithAgent, or nil.
func AgentFromContext(ctx context.Context) *Agent {
	a, _ := ctx.Value(agentCtxKey{}).(*Agent)
	return a
}

// WithAdmin returns a context carrying the resolved AdminContext.
func WithAdmin(ctx context.Context, a *AdminContext) context.Context {
	return context.WithValue(ctx, adminCtxKey{}, a)
}

// AdminFromContext returns the AdminContext stored by WithAdmin, or nil.
func AdminFromContext(ctx context.Context) *AdminContext {
	a, _ := ctx.Value(adminCtxKey{}).(*AdminContext)
	return a
}
