// Package policy implements the conditional policy decision engine: rule
// normalization, glob matching, condition evaluation, and the team-merge
// enforcement algorithm at the heart of AgentGuard.
package policy

import "time"

// Rule is a single allow/deny/require_approval entry. Resource and
// Conditions are optional; a missing Resource matches everything.
type Rule struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource,omitempty"`
	Conditions map[string]any `json:"conditions,omitempty"`
}

// Policy is an agent's own rule set (spec.md §3 Policy entity).
type Policy struct {
	AgentID         string    `json:"agent_id"`
	Allow           []Rule    `json:"allow"`
	Deny            []Rule    `json:"deny"`
	RequireApproval []Rule    `json:"require_approval"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TeamPolicy is the base-level policy shared by every agent in a team.
type TeamPolicy struct {
	Team            string    `json:"team"`
	Allow           []Rule    `json:"allow"`
	Deny            []Rule    `json:"deny"`
	RequireApproval []Rule    `json:"require_approval"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Outcome is one of the three enforcement decisions (spec.md §4.4).
type Outcome string

const (
	OutcomeAllowed Outcome = "allowed"
	OutcomeDenied  Outcome = "denied"
	OutcomePending Outcome = "pending"
)

// Decision is the result of evaluating an enforcement request.
type Decision struct {
	Outcome    Outcome
	Reason     string
	ApprovalID string // set only when Outcome == OutcomePending
}
