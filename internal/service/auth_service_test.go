package service_test

import (
	"errors"
	"testing"
	"time"

	"github.com/quizforge/quizforge-backend/internal/config"
	"github.com/quizforge/quizforge-backend/internal/service"
)

func TestValidateTokenRoundTrip(t *testing.T) {
	auth := service.NewAuthService(&config.Config{JWTSecret: "test-secret"})

	token, err := auth.GenerateStudentToken(42, time.Hour)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	claims, err := auth.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if claims.UserID != 42 || claims.TokenType != service.TokenTypeStudent {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	issuer := service.NewAuthService(&config.Config{JWTSecret: "secret-a"})
	verifier := service.NewAuthService(&config.Config{JWTSecret: "secret-b"})

	token, err := issuer.GenerateAdminToken(1, time.Hour)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if _, err := verifier.ValidateToken(token); !errors.Is(err, service.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	auth := service.NewAuthService(&config.Config{JWTSecret: "test-secret"})

	token, err := auth.GenerateStudentToken(42, -time.Minute)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if _, err := auth.ValidateToken(token); !errors.Is(err, service.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	auth := service.NewAuthService(&config.Config{JWTSecret: "test-secret"})
	if _, err := auth.ValidateToken("not.a.jwt"); !errors.Is(err, service.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}
