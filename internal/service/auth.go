package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/magicliang/tiny-twitter/internal/model"
	"github.com/magicliang/tiny-twitter/internal/repository"
)

// AuthService issues JWT access tokens and manages the rotating refresh
// tokens persisted alongside them. Refresh tokens are stored hashed; on
// rotation the old token records which token replaced it, so presenting a
// rotated-out token is detectable as reuse.
type AuthService struct {
	tokenRepo       repository.RefreshTokenRepository
	jwtSecret       []byte
	accessTokenTTL  time.Duration
	refreshTokenTTL time.Duration
}

func NewAuthService(
	tokenRepo repository.RefreshTokenRepository,
	jwtSecret string,
	accessTokenTTL, refreshTokenTTL time.Duration,
) *AuthService {
	return &AuthService{
		tokenRepo:       tokenRepo,
		jwtSecret:       []byte(jwtSecret),
		accessTokenTTL:  accessTokenTTL,
		refreshTokenTTL: refreshTokenTTL,
	}
}

// GenerateTokenPair creates a short-lived access token and a persisted
// refresh token for the user.
func (s *AuthService) GenerateTokenPair(ctx context.Context, userID int64) (*model.TokenPair, error) {
	accessToken, err := s.generateAccessToken(userID)
	if err != nil {
		return nil, fmt.Errorf("generate access token: %w", err)
	}

	rawRefresh, err := generateRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}

	record := &model.RefreshToken{
		UserID:    userID,
		TokenHash: hashToken(rawRefresh),
		ExpiresAt: time.Now().Add(s.refreshTokenTTL),
	}
	if err := s.tokenRepo.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("persist refresh token: %w", err)
	}

	return &model.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: rawRefresh,
		ExpiresIn:    int(s.accessTokenTTL.Seconds()),
	}, nil
}

// RefreshTokens rotates a refresh token: the presented token is revoked and
// a fresh pair is issued. Presenting an already-revoked token means it
// leaked or was replayed, so every live token of that user is revoked.
func (s *AuthService) RefreshTokens(ctx context.Context, rawToken string) (*model.TokenPair, error) {
	record, err := s.tokenRepo.FindByTokenHash(ctx, hashToken(rawToken))
	if err != nil {
		return nil, err
	}

	if record.IsRevoked() {
		log.Printf("[AuthService] refresh token reuse detected: user=%d token=%s", record.UserID, record.ID)
		if err := s.tokenRepo.RevokeAllForUser(ctx, record.UserID); err != nil {
			log.Printf("[AuthService] failed to revoke token family: user=%d err=%v", record.UserID, err)
		}
		return nil, model.ErrRefreshTokenReused
	}
	if record.IsExpired() {
		return nil, model.ErrRefreshTokenExpired
	}

	pair, err := s.GenerateTokenPair(ctx, record.UserID)
	if err != nil {
		return nil, err
	}

	replacedBy := hashToken(pair.RefreshToken)
	if err := s.tokenRepo.Revoke(ctx, record.ID, &replacedBy); err != nil {
		return nil, fmt.Errorf("revoke rotated token: %w", err)
	}

	return pair, nil
}

// RevokeRefreshToken revokes a single refresh token, for logout.
func (s *AuthService) RevokeRefreshToken(ctx context.Context, rawToken string) error {
	record, err := s.tokenRepo.FindByTokenHash(ctx, hashToken(rawToken))
	if err != nil {
		if err == model.ErrRefreshTokenNotFound {
			return nil // already gone, logout is idempotent
		}
		return err
	}
	return s.tokenRepo.Revoke(ctx, record.ID, nil)
}

// RevokeAllUserTokens revokes every live refresh token of a user.
func (s *AuthService) RevokeAllUserTokens(ctx context.Context, userID int64) error {
	return s.tokenRepo.RevokeAllForUser(ctx, userID)
}

// ValidateAccessToken parses and verifies a JWT access token, returning the
// user id it was issued for.
func (s *AuthService) ValidateAccessToken(tokenString string) (int64, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return 0, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return 0, fmt.Errorf("invalid token claims")
	}

	userID, ok := claims["user_id"].(float64)
	if !ok {
		return 0, fmt.Errorf("missing user_id claim")
	}
	return int64(userID), nil
}

// PruneExpiredTokens deletes refresh tokens that expired more than olderThan
// ago, for periodic housekeeping.
func (s *AuthService) PruneExpiredTokens(ctx context.Context, olderThan time.Duration) (int64, error) {
	return s.tokenRepo.DeleteExpired(ctx, olderThan)
}

func (s *AuthService) generateAccessToken(userID int64) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id": userID,
		"iat":     now.Unix(),
		"exp":     now.Add(s.accessTokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// generateRefreshToken returns 32 bytes of randomness, base64-encoded.
func generateRefreshToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// hashToken is how refresh tokens are stored at rest; the raw value never
// touches the database.
func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
