package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeAgentLookup struct {
	byID      map[string]*Agent
	byKeyHash map[string]*Agent
}

func newFakeAgentLookup() *fakeAgentLookup {
	return &fakeAgentLookup{byID: make(map[string]*Agent), byKeyHash: make(map[string]*Agent)}
}

func (f *fakeAgentLookup) GetActiveAgentByID(_ context.Context, agentID string) (*Agent, error) {
	return f.byID[agentID], nil
}

func (f *fakeAgentLookup) GetActiveAgentByKeyHash(_ context.Context, keyHash string) (*Agent, error) {
	return f.byKeyHash[keyHash], nil
}

func newTestResolver(t *testing.T) (*Resolver, *fakeAgentLookup, *TokenService) {
	t.Helper()
	svc, _ := newTestTokenService(t)
	agents := newFakeAgentLookup()
	return NewResolver(svc, agents, "static-admin-secret"), agents, svc
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireAdminLegacyHeader(t *testing.T) {
	res, _, _ := newTestResolver(t)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Admin-Key", "static-admin-secret")
	w := httptest.NewRecorder()

	res.RequireAdmin(okHandler()).ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestRequireAdminRejectsWrongLegacyKey(t *testing.T) {
	res, _, _ := newTestResolver(t)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Admin-Key", "wrong-secret")
	w := httptest.NewRecorder()

	res.RequireAdmin(okHandler()).ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestRequireAdminBearerToken(t *testing.T) {
	res, _, tokens := newTestResolver(t)

	raw, _, err := tokens.IssueAdminToken("alice", RoleAdmin, nil)
	if err != nil {
		t.Fatalf("IssueAdminToken() error = %v", err)
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+raw)
	w := httptest.NewRecorder()

	var captured *AdminContext
	handler := http.HandlerFunc(func(_ http.ResponseWriter, req *http.Request) {
		captured = AdminFromContext(req.Context())
	})
	res.RequireAdmin(handler).ServeHTTP(w, r)

	if captured == nil || captured.Sub != "alice" || captured.Role != RoleAdmin {
		t.Fatalf("captured admin context = %+v", captured)
	}
}

func TestRequireRoleRejectsInsufficientPrivilege(t *testing.T) {
	res, _, tokens := newTestResolver(t)

	raw, _, err := tokens.IssueAdminToken("bob", RoleApprover, nil)
	if err != nil {
		t.Fatalf("IssueAdminToken() error = %v", err)
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+raw)
	w := httptest.NewRecorder()

	res.RequireRole(RoleAdmin)(okHandler()).ServeHTTP(w, r)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}

func TestRequireAgentBearerToken(t *testing.T) {
	res, agents, tokens := newTestResolver(t)
	agents.byID["agt_1"] = &Agent{AgentID: "agt_1", Name: "builder", Environment: "production", IsActive: true}

	raw, _, err := tokens.IssueAgentToken("agt_1", "production", "platform")
	if err != nil {
		t.Fatalf("IssueAgentToken() error = %v", err)
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+raw)
	w := httptest.NewRecorder()

	var captured *Agent
	handler := http.HandlerFunc(func(_ http.ResponseWriter, req *http.Request) {
		captured = AgentFromContext(req.Context())
	})
	res.RequireAgent(handler).ServeHTTP(w, r)

	if captured == nil || captured.AgentID != "agt_1" {
		t.Fatalf("captured agent = %+v", captured)
	}
}

func TestRequireAgentNotFoundReturns404(t *testing.T) {
	res, _, tokens := newTestResolver(t)

	raw, _, err := tokens.IssueAgentToken("agt_missing", "production", "platform")
	if err != nil {
		t.Fatalf("IssueAgentToken() error = %v", err)
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+raw)
	w := httptest.NewRecorder()

	res.RequireAgent(okHandler()).ServeHTTP(w, r)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestRequireAgentLegacyKey(t *testing.T) {
	res, agents, _ := newTestResolver(t)
	agent := &Agent{AgentID: "agt_2", Name: "deployer", Environment: "staging", IsActive: true}
	agents.byKeyHash[HashKey("agk_rawkey")] = agent

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Agent-Key", "agk_rawkey")
	w := httptest.NewRecorder()

	var captured *Agent
	handler := http.HandlerFunc(func(_ http.ResponseWriter, req *http.Request) {
		captured = AgentFromContext(req.Context())
	})
	res.RequireAgent(handler).ServeHTTP(w, r)

	if captured == nil || captured.AgentID != "agt_2" {
		t.Fatalf("captured agent = %+v", captured)
	}
}

func TestRequireAdminOrAgentPrefersAdmin(t *testing.T) {
	res, _, _ := newTestResolver(t)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Admin-Key", "static-admin-secret")
	r.Header.Set("X-Agent-Key", "agk_rawkey")
	w := httptest.NewRecorder()

	var sawAdmin, sawAgent bool
	handler := http.HandlerFunc(func(_ http.ResponseWriter, req *http.Request) {
		sawAdmin = AdminFromContext(req.Context()) != nil
		sawAgent = AgentFromContext(req.Context()) != nil
	})
	res.RequireAdminOrAgent(handler).ServeHTTP(w, r)

	if !sawAdmin || sawAgent {
		t.Errorf("sawAdmin=%v sawAgent=%v, want admin only", sawAdmin, sawAgent)
	}
}

func TestRequireAdminOrAgentRejectsNeither(t *testing.T) {
	res, _, _ := newTestResolver(t)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()

	res.RequireAdminOrAgent(okHandler()).ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}
