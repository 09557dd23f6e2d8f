package password

import (
	"strings"
	"testing"
)

func TestHashVerifyRoundtrip(t *testing.T) {
	h, err := New(4)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	hash, err := h.Hash("correct-horse")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if hash == "correct-horse" || !strings.HasPrefix(hash, "$2") {
		t.Fatalf("unexpected hash %q", hash)
	}

	if !h.Verify("correct-horse", hash) {
		t.Fatal("right secret rejected")
	}
	if h.Verify("wrong-horse", hash) {
		t.Fatal("wrong secret accepted")
	}
	if h.Verify("correct-horse", "not-a-hash") {
		t.Fatal("malformed hash verified")
	}
}

func TestHashesAreSalted(t *testing.T) {
	h, err := New(4)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	a, err := h.Hash("correct-horse")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	b, err := h.Hash("correct-horse")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if a == b {
		t.Fatal("identical hashes for the same secret")
	}
}

func TestNewCostBounds(t *testing.T) {
	if _, err := New(0); err != nil {
		t.Fatalf("cost 0 must select the default, got %v", err)
	}
	if _, err := New(3); err == nil {
		t.Fatal("cost below minimum accepted")
	}
	if _, err := New(32); err == nil {
		t.Fatal("cost above maximum accepted")
	}
}
