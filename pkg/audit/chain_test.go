package audit

import (
	"testing"
	"time"
)

func TestGenesisHashIsDeterministic(t *testing.T) {
	if genesisHash() != genesisHash() {
		t.Fatal("genesisHash is not deterministic")
	}
	if len(genesisHash()) != 64 {
		t.Fatalf("genesisHash length = %d, want 64", len(genesisHash()))
	}
}

func TestComputeHashDependsOnAllInputs(t *testing.T) {
	ts := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	base := computeHash("log-1", ts, "log-2", "read:file")

	if got := computeHash("log-X", ts, "log-2", "read:file"); got == base {
		t.Error("hash did not change when prevLogID changed")
	}
	if got := computeHash("log-1", ts.Add(time.Second), "log-2", "read:file"); got == base {
		t.Error("hash did not change when prevTimestamp changed")
	}
	if got := computeHash("log-1", ts, "log-3", "read:file"); got == base {
		t.Error("hash did not change when newLogID changed")
	}
	if got := computeHash("log-1", ts, "log-2", "write:file"); got == base {
		t.Error("hash did not change when newAction changed")
	}
}

func TestComputeHashIsReproducible(t *testing.T) {
	ts := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	a := computeHash("log-1", ts, "log-2", "read:file")
	b := computeHash("log-1", ts, "log-2", "read:file")
	if a != b {
		t.Fatal("computeHash is not reproducible for identical inputs")
	}
}
