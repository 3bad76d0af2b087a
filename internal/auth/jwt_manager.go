// Package auth issues and validates the bearer tokens that protect the API.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrMissingSecret is returned when no signing secret is configured
var ErrMissingSecret = errors.New("jwt signing secret is required")

// Issuer is stamped on every token this service signs
const Issuer = "dev-orchestrator"

// RoleDeveloper may start sessions; any authenticated user may read and search
const RoleDeveloper = "developer"

// JWTManager manages JWT token creation and validation
type JWTManager struct {
	signingKey []byte
	algorithm  string
	keyID      string
	tracer     trace.Tracer
}

// Claims represents JWT claims for the orchestrator API
type Claims struct {
	UserID   string   `json:"user_id"`
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
	jwt.RegisteredClaims
}

// HasRole reports whether the claims carry role
func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// NewJWTManager creates a JWT manager signing with HMAC-SHA256
func NewJWTManager(secret string) (*JWTManager, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	return &JWTManager{
		signingKey: []byte(secret),
		algorithm:  jwt.SigningMethodHS256.Alg(),
		keyID:      "default",
		tracer:     otel.Tracer("jwt-manager"),
	}, nil
}

// GenerateToken generates a new JWT token
func (jm *JWTManager) GenerateToken(ctx context.Context, userID, username string, roles []string, duration time.Duration) (string, error) {
	_, span := jm.tracer.Start(ctx, "jwt.generate_token")
	defer span.End()

	span.SetAttributes(
		attribute.String("user.id", userID),
		attribute.String("user.username", username),
	)

	now := time.Now()
	claims := &Claims{
		UserID:   userID,
		Username: username,
		Roles:    roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(duration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    Issuer,
			Subject:   userID,
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.GetSigningMethod(jm.algorithm), claims)
	token.Header["kid"] = jm.keyID

	tokenString, err := token.SignedString(jm.signingKey)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	span.SetAttributes(
		attribute.String("jwt.id", claims.ID),
		attribute.String("jwt.expires_at", claims.ExpiresAt.String()),
	)
	return tokenString, nil
}

// ValidateToken validates a JWT token and returns its claims
func (jm *JWTManager) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	_, span := jm.tracer.Start(ctx, "jwt.validate_token")
	defer span.End()

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != jm.algorithm {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		if kid, ok := token.Header["kid"].(string); ok && kid != jm.keyID {
			span.SetAttributes(attribute.String("jwt.kid_mismatch", kid))
		}
		return jm.signingKey, nil
	}, jwt.WithIssuer(Issuer))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	span.SetAttributes(
		attribute.String("user.id", claims.UserID),
		attribute.String("jwt.id", claims.ID),
	)
	return claims, nil
}
