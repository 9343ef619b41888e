// Package auth verifies bearer credentials issued by the account service.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pawpal/conversation-service/internal/apperr"
	"github.com/pawpal/conversation-service/internal/model"
	"github.com/pawpal/conversation-service/internal/users"
)

// Verifier turns a credential into an authenticated identity.
type Verifier interface {
	Verify(ctx context.Context, credential string) (*model.UserIdentity, error)
}

// Claims are the JWT claims issued by the account service.
type Claims struct {
	jwt.RegisteredClaims
	UserID   string `json:"userId"`
	Email    string `json:"email"`
	UserType string `json:"userType"`
}

// JWTVerifier checks HS256 tokens and resolves the subject's profile.
type JWTVerifier struct {
	secret    []byte
	directory users.Directory
}

var _ Verifier = (*JWTVerifier)(nil)

// NewJWTVerifier creates a verifier for tokens signed with secret.
func NewJWTVerifier(secret string, directory users.Directory) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), directory: directory}
}

// Verify validates the token signature and expiry, then loads the user.
// A token for a user that no longer exists is rejected.
func (v *JWTVerifier) Verify(ctx context.Context, credential string) (*model.UserIdentity, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, apperr.Unauthenticated("authentication required", nil)
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(credential, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperr.Unauthenticated("token has expired", err)
		}
		return nil, apperr.Unauthenticated("invalid token", err)
	}
	if !token.Valid || !model.ValidUserID(claims.UserID) {
		return nil, apperr.Unauthenticated("invalid token", nil)
	}

	profile, err := v.directory.FindUser(ctx, claims.UserID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, apperr.Unauthenticated("invalid token", err)
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	return &model.UserIdentity{
		ID:          profile.ID,
		DisplayName: profile.Name,
		AvatarURL:   profile.ProfilePicture,
		Role:        profile.UserType,
	}, nil
}

// IssueToken signs a token for userID the way the account service does.
// Used by tests and local tooling.
func IssueToken(secret, userID string, userType model.UserType, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		UserID:   userID,
		UserType: string(userType),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}
