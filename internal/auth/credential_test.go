package auth

import "testing"

func TestGenerateKey(t *testing.T) {
	raw, hash, prefix := GenerateKey("agk_")

	if len(raw) <= len("agk_") {
		t.Fatalf("raw key too short: %q", raw)
	}
	if raw[:4] != "agk_" {
		t.Errorf("raw key missing literal prefix: %q", raw)
	}
	if hash != HashKey(raw) {
		t.Errorf("hash mismatch: got %q, want %q", hash, HashKey(raw))
	}
	if len(prefix) != 12 {
		t.Errorf("prefix length = %d, want 12", len(prefix))
	}
	if prefix != raw[:12] {
		t.Errorf("prefix = %q, want %q", prefix, raw[:12])
	}
}

func TestGenerateKeyUnique(t *testing.T) {
	raw1, _, _ := GenerateKey("agk_")
	raw2, _, _ := GenerateKey("agk_")

	if raw1 == raw2 {
		t.Error("two generated keys collided")
	}
}

func TestHashKeyDeterministic(t *testing.T) {
	h1 := HashKey("some-key")
	h2 := HashKey("some-key")

	if h1 != h2 {
		t.Errorf("HashKey not deterministic: %q != %q", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("hash length = %d, want 64 (SHA-256 hex)", len(h1))
	}
}

func TestKeyPrefixShortInput(t *testing.T) {
	short := "abc"
	if got := keyPrefix(short); got != short {
		t.Errorf("keyPrefix(%q) = %q, want %q", short, got, short)
	}
}
