package auth

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestArgon2HashRoundTrip(t *testing.T) {
	h := NewArgon2Hasher()
	encoded, err := h.Hash("correct horse")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$v=19$m=65536,t=2,p=1$") {
		t.Fatalf("unexpected encoding %q", encoded)
	}
	if !h.Matches("correct horse", encoded) {
		t.Fatal("Matches() = false for the right password")
	}
	if h.Matches("wrong horse", encoded) {
		t.Fatal("Matches() = true for a wrong password")
	}

	again, _ := h.Hash("correct horse")
	if again == encoded {
		t.Fatal("hashes share a salt")
	}
}

func TestMatchesLegacyBcrypt(t *testing.T) {
	legacy, err := bcrypt.GenerateFromPassword([]byte("old-secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	h := NewArgon2Hasher()
	if !h.Matches("old-secret", string(legacy)) {
		t.Fatal("bcrypt hash not accepted")
	}
	if h.Matches("new-secret", string(legacy)) {
		t.Fatal("bcrypt hash accepted a wrong password")
	}
}

func TestMatchesRejectsGarbage(t *testing.T) {
	h := NewArgon2Hasher()
	for _, encoded := range []string{
		"",
		"plaintext",
		"$argon2i$v=19$m=65536,t=2,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=18$m=65536,t=2,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=65536,t=2,p=1$!!!$aGFzaA",
	} {
		if h.Matches("anything", encoded) {
			t.Fatalf("Matches() accepted %q", encoded)
		}
	}
	if _, err := h.Hash(""); err == nil {
		t.Fatal("Hash(\"\") error = nil")
	}
}
