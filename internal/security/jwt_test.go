package security_test

import (
	"testing"
	"time"

	"github.com/escuelachat/chat-api/internal/security"
	"github.com/google/uuid"
)

func TestTokenVerifier_SignAndVerify(t *testing.T) {
	verifier := security.NewTokenVerifier("test-secret-key-with-32-chars!!")

	userID := uuid.New()
	email := "test@example.com"

	token, err := verifier.Sign(userID, email, 15*time.Minute)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	if token == "" {
		t.Error("token is empty")
	}

	claims, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("failed to verify token: %v", err)
	}

	if claims.UserID != userID {
		t.Errorf("user ID mismatch: got %v, want %v", claims.UserID, userID)
	}

	if claims.Email != email {
		t.Errorf("email mismatch: got %v, want %v", claims.Email, email)
	}
}

func TestTokenVerifier_RejectsExpired(t *testing.T) {
	verifier := security.NewTokenVerifier("test-secret-key-with-32-chars!!")

	token, err := verifier.Sign(uuid.New(), "test@example.com", -time.Minute)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	if _, err := verifier.Verify(token); err == nil {
		t.Error("expected expired token to be rejected")
	}
}

func TestTokenVerifier_RejectsWrongSecret(t *testing.T) {
	signer := security.NewTokenVerifier("secret-one-with-enough-length!!!")
	verifier := security.NewTokenVerifier("secret-two-with-enough-length!!!")

	token, err := signer.Sign(uuid.New(), "", 15*time.Minute)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	if _, err := verifier.Verify(token); err == nil {
		t.Error("expected token signed with different secret to be rejected")
	}
}
