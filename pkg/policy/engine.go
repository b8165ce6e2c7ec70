package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/wisbric/agentguard/internal/auth"
)

// PolicyLookup fetches an agent's own policy. A nil Policy with a nil error
// means no policy row exists for that agent.
type PolicyLookup interface {
	GetPolicy(ctx context.Context, agentID string) (*Policy, error)
}

// TeamPolicyLookup fetches the base policy shared by a team. A nil
// TeamPolicy with a nil error means the team has no base policy.
type TeamPolicyLookup interface {
	GetTeamPolicy(ctx context.Context, team string) (*TeamPolicy, error)
}

// ApprovalCreator records a new pending approval request and returns its ID.
type ApprovalCreator interface {
	CreateApproval(ctx context.Context, agentID, action, resource string, reqContext map[string]any) (approvalID string, err error)
}

// WebhookDispatcher fires an outbound notification without blocking the
// caller (C9).
type WebhookDispatcher interface {
	Dispatch(eventType string, payload map[string]any)
}

// Engine evaluates enforcement requests against merged agent/team policies
// (spec.md §4.4, grounded on the enforcement algorithm in
// original_source/backend/app/api/enforce.py).
type Engine struct {
	policies     PolicyLookup
	teamPolicies TeamPolicyLookup
	approvals    ApprovalCreator
	webhooks     WebhookDispatcher
}

// NewEngine builds a policy decision engine.
func NewEngine(policies PolicyLookup, teamPolicies TeamPolicyLookup, approvals ApprovalCreator, webhooks WebhookDispatcher) *Engine {
	return &Engine{policies: policies, teamPolicies: teamPolicies, approvals: approvals, webhooks: webhooks}
}

// Enforce evaluates action/resource for agent and returns a Decision. The
// clock parameter lets tests pin "now"; production callers pass time.Now().
func (e *Engine) Enforce(ctx context.Context, agent *auth.Agent, action, resource string, reqContext map[string]any, clock time.Time) (Decision, error) {
	pol, err := e.policies.GetPolicy(ctx, agent.AgentID)
	if err != nil {
		return Decision{}, fmt.Errorf("loading policy for %s: %w", agent.AgentID, err)
	}
	if pol == nil {
		return Decision{Outcome: OutcomeDenied, Reason: "No policy defined for agent (default deny)"}, nil
	}

	var team *TeamPolicy
	if agent.OwnerTeam != "" {
		team, err = e.teamPolicies.GetTeamPolicy(ctx, agent.OwnerTeam)
		if err != nil {
			return Decision{}, fmt.Errorf("loading team policy for %s: %w", agent.OwnerTeam, err)
		}
	}

	mergedRequireApproval := append(append([]Rule{}, pol.RequireApproval...), teamRules(team, func(t *TeamPolicy) []Rule { return t.RequireApproval })...)
	mergedDeny := append(append([]Rule{}, teamRules(team, func(t *TeamPolicy) []Rule { return t.Deny })...), pol.Deny...)
	mergedAllow := append(append([]Rule{}, pol.Allow...), teamRules(team, func(t *TeamPolicy) []Rule { return t.Allow })...)

	for _, rule := range mergedRequireApproval {
		if MatchesRule(action, resource, rule, agent, clock) {
			approvalID, err := e.approvals.CreateApproval(ctx, agent.AgentID, action, resource, reqContext)
			if err != nil {
				return Decision{}, fmt.Errorf("creating approval request: %w", err)
			}

			e.webhooks.Dispatch("approval.created", map[string]any{
				"approval_id": approvalID,
				"agent_id":    agent.AgentID,
				"agent_name":  agent.Name,
				"action":      action,
				"resource":    resource,
				"context":     reqContext,
			})

			return Decision{
				Outcome:    OutcomePending,
				Reason:     fmt.Sprintf("Requires human approval: %s on %s", ruleAction(rule), ruleResource(rule)),
				ApprovalID: approvalID,
			}, nil
		}
	}

	for _, rule := range mergedDeny {
		if MatchesRule(action, resource, rule, agent, clock) {
			return Decision{Outcome: OutcomeDenied, Reason: fmt.Sprintf("Denied by rule: %s on %s", ruleAction(rule), ruleResource(rule))}, nil
		}
	}

	for _, rule := range mergedAllow {
		if MatchesRule(action, resource, rule, agent, clock) {
			return Decision{Outcome: OutcomeAllowed, Reason: fmt.Sprintf("Allowed by rule: %s on %s", ruleAction(rule), ruleResource(rule))}, nil
		}
	}

	if len(mergedAllow) > 0 {
		return Decision{Outcome: OutcomeDenied, Reason: "No matching allow rule (default deny)"}, nil
	}
	return Decision{Outcome: OutcomeAllowed, Reason: "No deny rule matched (default allow — deny-list mode)"}, nil
}

func teamRules(team *TeamPolicy, pick func(*TeamPolicy) []Rule) []Rule {
	if team == nil {
		return nil
	}
	return pick(team)
}

func ruleAction(r Rule) string {
	return r.Action
}

func ruleResource(r Rule) string {
	if r.Resource == "" {
		return "*"
	}
	return r.Resource
}
