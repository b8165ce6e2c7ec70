package policy

import (
	"testing"
	"time"

	"github.com/wisbric/agentguard/internal/auth"
)

func TestMatchesRuleActionAndResource(t *testing.T) {
	agent := &auth.Agent{Environment: "production"}
	now := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC) // Monday

	tests := []struct {
		name     string
		action   string
		resource string
		rule     Rule
		want     bool
	}{
		{"exact match", "read:file", "report.pdf", Rule{Action: "read:file"}, true},
		{"wildcard noun", "delete:anything", "x", Rule{Action: "delete:*"}, true},
		{"resource glob spans slash", "read:file", "s3://bucket/sub/report.pdf", Rule{Action: "read:file", Resource: "s3://bucket/*"}, true},
		{"resource mismatch", "read:file", "other.pdf", Rule{Action: "read:file", Resource: "report.pdf"}, false},
		{"single token verb fallback", "deploy", "", Rule{Action: "deploy:*"}, true},
		{"no action match", "write:file", "x", Rule{Action: "read:file"}, false},
		{"case insensitive resource", "read:file", "Report.PDF", Rule{Action: "read:file", Resource: "report.pdf"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchesRule(tt.action, tt.resource, tt.rule, agent, now); got != tt.want {
				t.Errorf("MatchesRule() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatchesRuleFailingConditionDemotesMatch(t *testing.T) {
	agent := &auth.Agent{Environment: "staging"}
	now := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)

	rule := Rule{
		Action:     "deploy:*",
		Conditions: map[string]any{"env": []any{"production"}},
	}

	if MatchesRule("deploy:app", "", rule, agent, now) {
		t.Error("expected condition mismatch to demote the match to false")
	}
}
