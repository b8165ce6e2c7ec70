package auth

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

type fakeRevoker struct {
	revoked map[string]bool
}

func newFakeRevoker() *fakeRevoker {
	return &fakeRevoker{revoked: make(map[string]bool)}
}

func (f *fakeRevoker) IsRevoked(jti string) (bool, error) {
	return f.revoked[jti], nil
}

func (f *fakeRevoker) Revoke(jti string, _ time.Time) error {
	f.revoked[jti] = true
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestTokenService(t *testing.T) (*TokenService, *fakeRevoker) {
	t.Helper()
	revoker := newFakeRevoker()
	svc, err := NewTokenService("", "", time.Hour, 8*time.Hour, revoker, testLogger())
	if err != nil {
		t.Fatalf("NewTokenService() error = %v", err)
	}
	return svc, revoker
}

func TestIssueAndVerifyAgentToken(t *testing.T) {
	svc, _ := newTestTokenService(t)
	team := "platform"

	raw, expiresIn, err := svc.IssueAgentToken("agt_abc123", "production", team)
	if err != nil {
		t.Fatalf("IssueAgentToken() error = %v", err)
	}
	if expiresIn != 3600 {
		t.Errorf("expiresIn = %d, want 3600", expiresIn)
	}

	claims, err := svc.Verify(raw)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.Subject != "agt_abc123" {
		t.Errorf("Subject = %q, want agt_abc123", claims.Subject)
	}
	if claims.Type != TokenTypeAgent {
		t.Errorf("Type = %q, want %q", claims.Type, TokenTypeAgent)
	}
	if claims.Env != "production" {
		t.Errorf("Env = %q, want production", claims.Env)
	}
	if claims.Team != "platform" {
		t.Errorf("Team = %q, want platform", claims.Team)
	}
	if claims.JTI == "" {
		t.Error("JTI is empty")
	}
}

func TestIssueAndVerifyAdminToken(t *testing.T) {
	svc, _ := newTestTokenService(t)

	raw, expiresIn, err := svc.IssueAdminToken("alice", RoleAuditor, nil)
	if err != nil {
		t.Fatalf("IssueAdminToken() error = %v", err)
	}
	if expiresIn != 28800 {
		t.Errorf("expiresIn = %d, want 28800", expiresIn)
	}

	claims, err := svc.Verify(raw)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.Type != TokenTypeAdmin {
		t.Errorf("Type = %q, want %q", claims.Type, TokenTypeAdmin)
	}
	if claims.Role != RoleAuditor {
		t.Errorf("Role = %q, want %q", claims.Role, RoleAuditor)
	}
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	svc, _ := newTestTokenService(t)

	raw, _, err := svc.IssueAgentToken("agt_abc123", "production", "platform")
	if err != nil {
		t.Fatalf("IssueAgentToken() error = %v", err)
	}

	tampered := raw[:len(raw)-1] + "x"
	if _, err := svc.Verify(tampered); err == nil {
		t.Error("Verify() accepted a tampered token")
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	svc1, _ := newTestTokenService(t)
	svc2, _ := newTestTokenService(t)

	raw, _, err := svc1.IssueAgentToken("agt_abc123", "production", "platform")
	if err != nil {
		t.Fatalf("IssueAgentToken() error = %v", err)
	}

	if _, err := svc2.Verify(raw); err == nil {
		t.Error("Verify() accepted a token signed by a different key")
	}
}

func TestRevokeThenVerifyFails(t *testing.T) {
	svc, revoker := newTestTokenService(t)

	raw, _, err := svc.IssueAgentToken("agt_abc123", "production", "platform")
	if err != nil {
		t.Fatalf("IssueAgentToken() error = %v", err)
	}

	jti, err := svc.Revoke(raw)
	if err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if !revoker.revoked[jti] {
		t.Fatal("Revoke() did not record the jti")
	}

	if _, err := svc.Verify(raw); err == nil {
		t.Error("Verify() accepted a revoked token")
	}
}

func TestJWKSExposesPublicKey(t *testing.T) {
	svc, _ := newTestTokenService(t)

	jwks := svc.JWKS()
	keys, ok := jwks["keys"].([]map[string]any)
	if !ok || len(keys) != 1 {
		t.Fatalf("JWKS() keys = %v, want one key entry", jwks["keys"])
	}

	key := keys[0]
	if key["kty"] != "RSA" {
		t.Errorf("kty = %v, want RSA", key["kty"])
	}
	if key["alg"] != "RS256" {
		t.Errorf("alg = %v, want RS256", key["alg"])
	}
	if key["n"] == "" || key["e"] == "" {
		t.Error("JWKS() missing n or e")
	}
}
