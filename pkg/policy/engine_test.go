package policy

import (
	"context"
	"testing"
	"time"

	"github.com/wisbric/agentguard/internal/auth"
)

type fakePolicyLookup struct {
	policies map[string]*Policy
}

func (f *fakePolicyLookup) GetPolicy(_ context.Context, agentID string) (*Policy, error) {
	return f.policies[agentID], nil
}

type fakeTeamPolicyLookup struct {
	teams map[string]*TeamPolicy
}

func (f *fakeTeamPolicyLookup) GetTeamPolicy(_ context.Context, team string) (*TeamPolicy, error) {
	return f.teams[team], nil
}

type fakeApprovalCreator struct {
	nextID string
	calls  int
}

func (f *fakeApprovalCreator) CreateApproval(_ context.Context, _, _, _ string, _ map[string]any) (string, error) {
	f.calls++
	return f.nextID, nil
}

type fakeWebhookDispatcher struct {
	events []string
}

func (f *fakeWebhookDispatcher) Dispatch(eventType string, _ map[string]any) {
	f.events = append(f.events, eventType)
}

func newTestEngine(policies map[string]*Policy, teams map[string]*TeamPolicy) (*Engine, *fakeApprovalCreator, *fakeWebhookDispatcher) {
	approvals := &fakeApprovalCreator{nextID: "apr_test123"}
	webhooks := &fakeWebhookDispatcher{}
	e := NewEngine(&fakePolicyLookup{policies: policies}, &fakeTeamPolicyLookup{teams: teams}, approvals, webhooks)
	return e, approvals, webhooks
}

func TestEnforceNoPolicyDeniesByDefault(t *testing.T) {
	e, _, _ := newTestEngine(nil, nil)
	agent := &auth.Agent{AgentID: "agt_1", Environment: "production"}

	d, err := e.Enforce(context.Background(), agent, "read:file", "x", nil, time.Now())
	if err != nil {
		t.Fatalf("Enforce() error = %v", err)
	}
	if d.Outcome != OutcomeDenied {
		t.Errorf("Outcome = %v, want denied", d.Outcome)
	}
}

func TestEnforceAllowListMode(t *testing.T) {
	policies := map[string]*Policy{
		"agt_1": {AgentID: "agt_1", Allow: []Rule{{Action: "read:*"}}},
	}
	e, _, _ := newTestEngine(policies, nil)
	agent := &auth.Agent{AgentID: "agt_1", Environment: "production"}

	allowed, err := e.Enforce(context.Background(), agent, "read:file", "x", nil, time.Now())
	if err != nil {
		t.Fatalf("Enforce() error = %v", err)
	}
	if allowed.Outcome != OutcomeAllowed {
		t.Errorf("Outcome = %v, want allowed", allowed.Outcome)
	}

	denied, err := e.Enforce(context.Background(), agent, "write:file", "x", nil, time.Now())
	if err != nil {
		t.Fatalf("Enforce() error = %v", err)
	}
	if denied.Outcome != OutcomeDenied {
		t.Errorf("Outcome = %v, want denied (allow-list mode, no matching rule)", denied.Outcome)
	}
}

func TestEnforceDenyListMode(t *testing.T) {
	policies := map[string]*Policy{
		"agt_1": {AgentID: "agt_1", Deny: []Rule{{Action: "delete:*"}}},
	}
	e, _, _ := newTestEngine(policies, nil)
	agent := &auth.Agent{AgentID: "agt_1", Environment: "production"}

	d, err := e.Enforce(context.Background(), agent, "read:file", "x", nil, time.Now())
	if err != nil {
		t.Fatalf("Enforce() error = %v", err)
	}
	if d.Outcome != OutcomeAllowed {
		t.Errorf("Outcome = %v, want allowed (deny-list mode, no deny rule matched)", d.Outcome)
	}

	d2, err := e.Enforce(context.Background(), agent, "delete:file", "x", nil, time.Now())
	if err != nil {
		t.Fatalf("Enforce() error = %v", err)
	}
	if d2.Outcome != OutcomeDenied {
		t.Errorf("Outcome = %v, want denied", d2.Outcome)
	}
}

func TestEnforceRequireApprovalTakesPriority(t *testing.T) {
	policies := map[string]*Policy{
		"agt_1": {
			AgentID:         "agt_1",
			Allow:           []Rule{{Action: "deploy:*"}},
			RequireApproval: []Rule{{Action: "deploy:production"}},
		},
	}
	e, approvals, webhooks := newTestEngine(policies, nil)
	agent := &auth.Agent{AgentID: "agt_1", Environment: "production"}

	d, err := e.Enforce(context.Background(), agent, "deploy:production", "x", nil, time.Now())
	if err != nil {
		t.Fatalf("Enforce() error = %v", err)
	}
	if d.Outcome != OutcomePending {
		t.Fatalf("Outcome = %v, want pending", d.Outcome)
	}
	if d.ApprovalID != "apr_test123" {
		t.Errorf("ApprovalID = %q, want apr_test123", d.ApprovalID)
	}
	if approvals.calls != 1 {
		t.Errorf("CreateApproval calls = %d, want 1", approvals.calls)
	}
	if len(webhooks.events) != 1 || webhooks.events[0] != "approval.created" {
		t.Errorf("webhook events = %v, want [approval.created]", webhooks.events)
	}
}

func TestEnforceTeamMergeSemantics(t *testing.T) {
	policies := map[string]*Policy{
		"agt_1": {AgentID: "agt_1", Allow: []Rule{{Action: "deploy:staging"}}},
	}
	teams := map[string]*TeamPolicy{
		"platform": {Team: "platform", Deny: []Rule{{Action: "deploy:production"}}},
	}
	e, _, _ := newTestEngine(policies, teams)
	agent := &auth.Agent{AgentID: "agt_1", Environment: "production", OwnerTeam: "platform"}

	denied, err := e.Enforce(context.Background(), agent, "deploy:production", "x", nil, time.Now())
	if err != nil {
		t.Fatalf("Enforce() error = %v", err)
	}
	if denied.Outcome != OutcomeDenied {
		t.Errorf("Outcome = %v, want denied (team deny overrides)", denied.Outcome)
	}

	allowed, err := e.Enforce(context.Background(), agent, "deploy:staging", "x", nil, time.Now())
	if err != nil {
		t.Fatalf("Enforce() error = %v", err)
	}
	if allowed.Outcome != OutcomeAllowed {
		t.Errorf("Outcome = %v, want allowed (agent allow rule)", allowed.Outcome)
	}
}
