package helpers

import (
	"strings"
	"testing"
)

func TestGenerateCredential(t *testing.T) {
	if cred := GenerateCredential("vless"); !IsValidUUID(cred) {
		t.Errorf("vless credential %q is not a UUID", cred)
	}
	if cred := GenerateCredential("vmess"); !IsValidUUID(cred) {
		t.Errorf("vmess credential %q is not a UUID", cred)
	}

	cred := GenerateCredential("trojan")
	if len(cred) != 16 {
		t.Errorf("trojan password length = %d, want 16", len(cred))
	}
	if IsValidUUID(cred) {
		t.Errorf("trojan credential %q should not be a UUID", cred)
	}
}

func TestGenerateTokenLengthAndAlphabet(t *testing.T) {
	token := GenerateToken(30)
	if len(token) != 30 {
		t.Fatalf("token length = %d, want 30", len(token))
	}
	for _, r := range token {
		if !strings.ContainsRune(tokenAlphabet, r) {
			t.Errorf("token %q contains %q outside the alphabet", token, r)
		}
	}
}

func TestGenerateTokenUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token := GenerateToken(16)
		if seen[token] {
			t.Fatalf("duplicate token %q", token)
		}
		seen[token] = true
	}
}

func TestGeneratePasswordOddLength(t *testing.T) {
	if pw := GeneratePassword(7); len(pw) != 7 {
		t.Errorf("password length = %d, want 7", len(pw))
	}
}

func TestGenerateConfigName(t *testing.T) {
	name := GenerateConfigName("mb")
	if !strings.HasPrefix(name, "mb-") {
		t.Errorf("name %q missing prefix", name)
	}
	if len(name) != len("mb-")+8 {
		t.Errorf("name %q has unexpected length", name)
	}
	if name != strings.ToLower(name) {
		t.Errorf("name %q is not lowercase", name)
	}

	if name := GenerateConfigName(""); !strings.HasPrefix(name, "mb-") {
		t.Errorf("empty prefix should default to mb, got %q", name)
	}
}
