package auth

import (
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestSignAndParseAdminToken(t *testing.T) {
	token, err := SignAdminToken("secret", "admin")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims, err := ParseAdminToken("secret", token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Login != "admin" || claims.Subject != "admin" {
		t.Errorf("claims = %+v", claims)
	}

	if _, err := ParseAdminToken("other-secret", token); err == nil {
		t.Error("token accepted with wrong secret")
	}
	if _, err := ParseAdminToken("secret", token+"x"); err == nil {
		t.Error("tampered token accepted")
	}
}

func TestCheckPassword(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	if !CheckPassword(string(hash), "", "correct horse") {
		t.Error("valid password rejected against hash")
	}
	if CheckPassword(string(hash), "", "wrong") {
		t.Error("wrong password accepted against hash")
	}
	// Hash takes precedence over a configured plain password.
	if CheckPassword(string(hash), "plain", "plain") {
		t.Error("plain fallback used despite configured hash")
	}
	if !CheckPassword("", "plain", "plain") {
		t.Error("plain password rejected")
	}
	if CheckPassword("", "", "anything") {
		t.Error("empty config accepted a password")
	}
}
