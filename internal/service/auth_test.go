package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/magicliang/tiny-twitter/internal/model"
)

func newAuthFixture() (*AuthService, *fakeTokenRepo) {
	repo := newFakeTokenRepo()
	svc := NewAuthService(repo, "test-secret", 15*time.Minute, 30*24*time.Hour)
	return svc, repo
}

func TestAuthService_GenerateTokenPair(t *testing.T) {
	svc, repo := newAuthFixture()

	pair, err := svc.GenerateTokenPair(context.Background(), 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected both tokens")
	}
	if pair.ExpiresIn != int((15 * time.Minute).Seconds()) {
		t.Errorf("expires_in = %d, want %d", pair.ExpiresIn, 900)
	}

	// The access token validates and carries the user id.
	userID, err := svc.ValidateAccessToken(pair.AccessToken)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if userID != 42 {
		t.Errorf("user id = %d, want 42", userID)
	}

	// Only a hash of the refresh token is persisted.
	if _, ok := repo.tokens[pair.RefreshToken]; ok {
		t.Error("raw refresh token must not be stored")
	}
	if _, ok := repo.tokens[hashToken(pair.RefreshToken)]; !ok {
		t.Error("hashed refresh token should be stored")
	}
}

func TestAuthService_ValidateAccessToken_WrongSecret(t *testing.T) {
	svc, _ := newAuthFixture()
	pair, err := svc.GenerateTokenPair(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}

	other := NewAuthService(newFakeTokenRepo(), "different-secret", time.Minute, time.Hour)
	if _, err := other.ValidateAccessToken(pair.AccessToken); err == nil {
		t.Error("token signed with another secret should not validate")
	}
}

func TestAuthService_RefreshTokens_Rotation(t *testing.T) {
	svc, repo := newAuthFixture()
	ctx := context.Background()

	pair, err := svc.GenerateTokenPair(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}

	rotated, err := svc.RefreshTokens(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rotated.RefreshToken == pair.RefreshToken {
		t.Error("rotation should issue a fresh refresh token")
	}

	// The old record is revoked and points at its replacement.
	old := repo.tokens[hashToken(pair.RefreshToken)]
	if old.RevokedAt == nil {
		t.Error("rotated-out token should be revoked")
	}
	if old.ReplacedBy == nil || *old.ReplacedBy != hashToken(rotated.RefreshToken) {
		t.Error("rotated-out token should record its replacement")
	}
}

func TestAuthService_RefreshTokens_ReuseRevokesFamily(t *testing.T) {
	svc, repo := newAuthFixture()
	ctx := context.Background()

	pair, err := svc.GenerateTokenPair(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	rotated, err := svc.RefreshTokens(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatal(err)
	}

	// Replaying the rotated-out token trips reuse detection.
	_, err = svc.RefreshTokens(ctx, pair.RefreshToken)
	if !errors.Is(err, model.ErrRefreshTokenReused) {
		t.Fatalf("error = %v, want %v", err, model.ErrRefreshTokenReused)
	}

	// Every live token of the user is revoked, including the current one.
	current := repo.tokens[hashToken(rotated.RefreshToken)]
	if current.RevokedAt == nil {
		t.Error("reuse should revoke the whole token family")
	}
}

func TestAuthService_RefreshTokens_Expired(t *testing.T) {
	repo := newFakeTokenRepo()
	svc := NewAuthService(repo, "test-secret", time.Minute, -time.Hour) // already expired
	ctx := context.Background()

	pair, err := svc.GenerateTokenPair(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}

	_, err = svc.RefreshTokens(ctx, pair.RefreshToken)
	if !errors.Is(err, model.ErrRefreshTokenExpired) {
		t.Errorf("error = %v, want %v", err, model.ErrRefreshTokenExpired)
	}
}

func TestAuthService_RefreshTokens_Unknown(t *testing.T) {
	svc, _ := newAuthFixture()
	_, err := svc.RefreshTokens(context.Background(), "never-issued")
	if !errors.Is(err, model.ErrRefreshTokenNotFound) {
		t.Errorf("error = %v, want %v", err, model.ErrRefreshTokenNotFound)
	}
}

func TestAuthService_RevokeRefreshToken(t *testing.T) {
	svc, repo := newAuthFixture()
	ctx := context.Background()

	pair, err := svc.GenerateTokenPair(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.RevokeRefreshToken(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.tokens[hashToken(pair.RefreshToken)].RevokedAt == nil {
		t.Error("token should be revoked")
	}

	// Logout with an unknown token is a no-op, not an error.
	if err := svc.RevokeRefreshToken(ctx, "already-gone"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
