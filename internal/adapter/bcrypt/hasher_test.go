package bcrypt

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHashAndVerify(t *testing.T) {
	h := New(bcrypt.MinCost)

	hash, err := h.Hash("correct horse")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(hash, "$2a$04$") {
		t.Errorf("unexpected hash format %q", hash)
	}
	if !h.Verify(hash, "correct horse") {
		t.Error("expected password to verify")
	}
	if h.Verify(hash, "wrong horse") {
		t.Error("expected wrong password to fail")
	}
	if h.Verify("not-a-hash", "correct horse") {
		t.Error("expected malformed hash to fail")
	}
}

func TestNewClampsCost(t *testing.T) {
	for _, cost := range []int{0, 1, 99} {
		if got := New(cost).cost; got != bcrypt.DefaultCost {
			t.Errorf("New(%d).cost = %d, want %d", cost, got, bcrypt.DefaultCost)
		}
	}
	if got := New(12).cost; got != 12 {
		t.Errorf("New(12).cost = %d", got)
	}
}
