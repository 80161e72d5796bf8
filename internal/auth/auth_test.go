package auth

import (
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	token, err := m.Generate("key-123", "Alice")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	claims, err := m.Parse(token)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if claims.HumanKey != "key-123" || claims.Name != "Alice" {
		t.Errorf("claims mismatch: %+v", claims)
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	token, _ := m.Generate("key", "A")
	other := NewJWTManager("different", time.Hour)
	if _, err := other.Parse(token); err == nil {
		t.Fatalf("expected parse failure with wrong secret")
	}
}

func TestParseRejectsExpired(t *testing.T) {
	m := NewJWTManager("secret", -time.Minute)
	token, _ := m.Generate("key", "A")
	if _, err := m.Parse(token); err == nil {
		t.Fatalf("expected parse failure for expired token")
	}
}

func TestPasscodeHashing(t *testing.T) {
	hash, err := HashPasscode("sesame")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	if err := CheckPasscode(hash, "sesame"); err != nil {
		t.Errorf("correct passcode rejected: %v", err)
	}
	if err := CheckPasscode(hash, "wrong"); err == nil {
		t.Errorf("wrong passcode accepted")
	}
}
