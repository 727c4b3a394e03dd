// Package auth mints and verifies the short-TTL, stateless access tokens
// (HS256 JWTs) derived from refresh-token claims. Access tokens are never
// persisted; revocation is propagated through the denylist instead.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/toolchainlabs/tokensvc/internal/common"
	"github.com/toolchainlabs/tokensvc/internal/token"
)

// Claims is the access-token claim set. Audience is carried as a bit mask in
// a private claim; jwt's own Audience list stays unused.
type Claims struct {
	jwt.RegisteredClaims
	UserID       string         `json:"uid"`
	CustomerID   string         `json:"cid"`
	AudienceMask token.Audience `json:"aud_mask"`
	// RefreshTokenID links the access token back to the refresh token it was
	// minted from, so revocation can reach tokens already in flight.
	RefreshTokenID string `json:"rti"`
	// ActingUserID is set only on impersonated tokens: UserID is then the
	// target user, ActingUserID the admin who requested it.
	ActingUserID string `json:"act,omitempty"`
}

// GenerateAccessToken signs a new access token with the given claims and TTL.
// Each token gets a unique jti so individual access tokens can be told apart
// in logs and audit trails.
func GenerateAccessToken(c Claims, secretKey []byte, validity time.Duration) (string, error) {
	now := time.Now()
	c.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
		IssuedAt:  jwt.NewNumericDate(now),
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(secretKey)
}

// ParseAccessToken verifies signature and expiry and returns the claims.
// Expired tokens yield common.ErrTokenExpired, everything else that fails
// verification yields common.ErrInvalidToken.
func ParseAccessToken(tokenString string, secretKey []byte) (*Claims, error) {
	claims := &Claims{}

	tok, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, common.ErrInvalidToken
		}
		return secretKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, common.ErrInvalidToken
	}

	if !tok.Valid {
		return nil, common.ErrInvalidToken
	}

	return claims, nil
}
