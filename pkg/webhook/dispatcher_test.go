package webhook

import (
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatchDisabledIsNoop(t *testing.T) {
	d := NewDispatcher("", "", testLogger())
	if d.IsEnabled() {
		t.Fatal("expected disabled dispatcher with empty URL")
	}
	d.Dispatch("approval.created", map[string]any{"agent_id": "agt_1"})
}

func TestDispatchDeliversJSONWithSignature(t *testing.T) {
	received := make(chan []byte, 1)
	var signatureHeader string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		signatureHeader = r.Header.Get("X-AgentGuard-Signature")
		received <- body
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher(srv.URL, "shh-secret", testLogger())
	if !d.IsEnabled() {
		t.Fatal("expected dispatcher with URL to be enabled")
	}

	d.Dispatch("approval.approved", map[string]any{
		"approval_id": "apr_1",
		"agent_id":    "agt_1",
		"action":      "read:file",
	})

	select {
	case body := <-received:
		if len(body) == 0 {
			t.Fatal("expected a non-empty body")
		}
		if signatureHeader == "" {
			t.Fatal("expected X-AgentGuard-Signature header to be set")
		}
		want := "sha256=" + signBody("shh-secret", body)
		if signatureHeader != want {
			t.Errorf("signature = %q, want %q", signatureHeader, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for webhook delivery")
	}
}

func TestSignBodyIsDeterministicHex(t *testing.T) {
	sig := signBody("secret", []byte("payload"))
	if _, err := hex.DecodeString(sig); err != nil {
		t.Fatalf("signature is not valid hex: %v", err)
	}
	if sig != signBody("secret", []byte("payload")) {
		t.Fatal("signBody is not deterministic")
	}
	if sig == signBody("other-secret", []byte("payload")) {
		t.Fatal("signBody did not change with a different secret")
	}
}
