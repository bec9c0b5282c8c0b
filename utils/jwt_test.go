package utils

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tnqbao/gau-music-dispatch/config"
)

func TestIssueAndParseAdminToken(t *testing.T) {
	cfg := &config.EnvConfig{}
	cfg.JWT.SecretKey = "test-secret"
	cfg.JWT.Expire = 60

	token, err := IssueAdminToken("ops", cfg)
	if err != nil {
		t.Fatalf("IssueAdminToken: %v", err)
	}

	parsed, err := ParseToken(token, cfg)
	if err != nil || !parsed.Valid {
		t.Fatalf("ParseToken: %v", err)
	}
	claims := parsed.Claims.(jwt.MapClaims)
	if claims["permission"] != "admin" || claims["sub"] != "ops" {
		t.Fatalf("claims = %v", claims)
	}

	other := &config.EnvConfig{}
	other.JWT.SecretKey = "different"
	if _, err := ParseToken(token, other); err == nil {
		t.Fatalf("token verified with the wrong secret")
	}
}

func TestIssueAdminTokenRequiresSecret(t *testing.T) {
	if _, err := IssueAdminToken("ops", &config.EnvConfig{}); err == nil {
		t.Fatalf("expected error without a secret")
	}
}
